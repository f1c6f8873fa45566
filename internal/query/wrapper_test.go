package query

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/hostscan/pkg/models"
)

type fakeSource struct {
	mu       sync.Mutex
	requests []Request
	query    func(ctx context.Context, req Request) (Payload, error)
	count    func(ctx context.Context, source string) (int, error)
}

func (f *fakeSource) Query(ctx context.Context, req Request) (Payload, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.query(ctx, req)
}

func (f *fakeSource) Count(ctx context.Context, source string) (int, error) {
	if f.count == nil {
		return 0, errors.New("count not supported")
	}
	return f.count(ctx, source)
}

func (f *fakeSource) calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.MinTimeout = 10 * time.Millisecond
	opts.DefaultTimeout = time.Second
	opts.Retry.InitialBackoff = time.Millisecond
	return opts
}

func returns(count int) func(context.Context, Request) (Payload, error) {
	return func(context.Context, Request) (Payload, error) {
		return Payload{Data: make([]Event, count), Count: count}, nil
	}
}

func fails(err error) func(context.Context, Request) (Payload, error) {
	return func(context.Context, Request) (Payload, error) {
		return Payload{}, err
	}
}

func TestNullStartBehavesLikeOmittedStart(t *testing.T) {
	end := time.Now().Add(-time.Hour)

	withNil := &fakeSource{query: returns(3)}
	omitted := &fakeSource{query: returns(3)}

	r1 := NewWrapper(withNil, testOptions(), nil).Query(context.Background(), "System", Filter{Start: nil, End: &end}, 0)
	r2 := NewWrapper(omitted, testOptions(), nil).Query(context.Background(), "System", Filter{End: &end}, 0)

	assert.Equal(t, r1, r2)
	assert.True(t, r1.Success)
	assert.Equal(t, withNil.calls(), omitted.calls())
	assert.Nil(t, withNil.calls()[0].Start)
	require.NotNil(t, withNil.calls()[0].End)
}

func TestInvalidStartIsOmitted(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	end := now.Add(-2 * time.Hour)
	afterEnd := now.Add(-time.Hour)
	var zero time.Time

	tests := []struct {
		name   string
		filter Filter
	}{
		{"future start", Filter{Start: &future}},
		{"start after end", Filter{Start: &afterEnd, End: &end}},
		{"zero start", Filter{Start: &zero}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{query: returns(1)}
			res := NewWrapper(src, testOptions(), nil).Query(context.Background(), "System", tt.filter, 0)
			require.True(t, res.Success)
			assert.Nil(t, src.calls()[0].Start)
		})
	}
}

func TestAccessDeniedFallsBackToSummary(t *testing.T) {
	src := &fakeSource{
		query: fails(fmt.Errorf("%w: Access is denied.", ErrAccessDenied)),
		count: func(context.Context, string) (int, error) { return 42, nil },
	}

	res := NewWrapper(src, testOptions(), nil).Query(context.Background(), "Security", Filter{}, 0)
	assert.Equal(t, models.QueryResult{
		Success: false,
		Count:   42,
		Reason:  models.ReasonAccessDenied,
		Note:    "summary only",
	}, res)
	assert.Len(t, src.calls(), 1, "access denied must not be retried")
}

func TestAccessDeniedFallbackFailure(t *testing.T) {
	src := &fakeSource{
		query: fails(os.ErrPermission),
		count: func(context.Context, string) (int, error) { return 0, errors.New("metadata locked") },
	}

	res := NewWrapper(src, testOptions(), nil).Query(context.Background(), "Security", Filter{}, 0)
	assert.False(t, res.Success)
	assert.Equal(t, models.ReasonAccessDenied, res.Reason)
	assert.Zero(t, res.Count)
	assert.Equal(t, "access denied; summary fallback failed: metadata locked", res.Note)
}

func TestTimeoutAbandonsBlockingSource(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	src := &fakeSource{query: func(context.Context, Request) (Payload, error) {
		<-release // ignores ctx on purpose
		return Payload{}, nil
	}}

	timeout := 50 * time.Millisecond
	start := time.Now()
	res := NewWrapper(src, testOptions(), nil).Query(context.Background(), "System", Filter{}, timeout)
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.Equal(t, models.ReasonTimeout, res.Reason)
	assert.Less(t, elapsed, timeout+time.Second)
}

func TestCooperativeSourceTimeout(t *testing.T) {
	src := &fakeSource{query: func(ctx context.Context, _ Request) (Payload, error) {
		<-ctx.Done()
		return Payload{}, ctx.Err()
	}}

	res := NewWrapper(src, testOptions(), nil).Query(context.Background(), "System", Filter{}, 20*time.Millisecond)
	assert.Equal(t, models.ReasonTimeout, res.Reason)
}

func TestErrorsMapToReasons(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason models.Reason
	}{
		{"generic", errors.New("wevtutil exploded"), models.ReasonOtherError},
		{"not found sentinel", fmt.Errorf("wrap: %w", ErrNotFound), models.ReasonNotFound},
		{"not found message", errors.New("The specified channel could not be found."), models.ReasonNotFound},
		{"missing file", os.ErrNotExist, models.ReasonNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{query: fails(tt.err)}
			res := NewWrapper(src, testOptions(), nil).Query(context.Background(), "System", Filter{}, 0)
			assert.False(t, res.Success)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Contains(t, res.Note, tt.err.Error())
		})
	}
}

func TestPanicsAreContained(t *testing.T) {
	t.Run("query panics", func(t *testing.T) {
		src := &fakeSource{query: func(context.Context, Request) (Payload, error) { panic("boom") }}
		var res models.QueryResult
		require.NotPanics(t, func() {
			res = NewWrapper(src, testOptions(), nil).Query(context.Background(), "System", Filter{}, 0)
		})
		assert.Equal(t, models.ReasonOtherError, res.Reason)
		assert.Contains(t, res.Note, "boom")
	})

	t.Run("summary panics", func(t *testing.T) {
		src := &fakeSource{
			query: fails(ErrAccessDenied),
			count: func(context.Context, string) (int, error) { panic("count boom") },
		}
		res := NewWrapper(src, testOptions(), nil).Query(context.Background(), "Security", Filter{}, 0)
		assert.Equal(t, models.ReasonAccessDenied, res.Reason)
		assert.True(t, strings.HasPrefix(res.Note, "access denied; summary fallback failed:"))
	})
}

func TestNarrowedRetry(t *testing.T) {
	t.Run("narrowed window has data", func(t *testing.T) {
		src := &fakeSource{}
		src.query = func(_ context.Context, req Request) (Payload, error) {
			if req.Start == nil {
				return Payload{Count: 0}, nil
			}
			return Payload{Data: []Event{{ID: 41}}, Count: 1}, nil
		}

		res := NewWrapper(src, testOptions(), nil).Query(context.Background(), "System", Filter{}, 0)
		require.True(t, res.Success)
		assert.Equal(t, 1, res.Count)
		assert.Equal(t, "narrowed to last 168h0m0s", res.Note)

		calls := src.calls()
		require.Len(t, calls, 2)
		require.NotNil(t, calls[1].Start)
		assert.Nil(t, calls[1].End)
		assert.WithinDuration(t, time.Now().Add(-7*24*time.Hour), *calls[1].Start, time.Minute)
	})

	t.Run("both windows empty", func(t *testing.T) {
		src := &fakeSource{query: returns(0)}
		res := NewWrapper(src, testOptions(), nil).Query(context.Background(), "System", Filter{}, 0)
		assert.True(t, res.Success)
		assert.Zero(t, res.Count)
		assert.Equal(t, "no data (narrowed retry also empty)", res.Note)
	})

	t.Run("window already narrow", func(t *testing.T) {
		start := time.Now().Add(-time.Hour)
		src := &fakeSource{query: returns(0)}
		res := NewWrapper(src, testOptions(), nil).Query(context.Background(), "System", Filter{Start: &start}, 0)
		assert.True(t, res.Success)
		assert.Empty(t, res.Note)
		assert.Len(t, src.calls(), 1)
	})
}

func TestNarrowedRetryStaysInsideRequestedWindow(t *testing.T) {
	base := time.Now()
	week := 7 * 24 * time.Hour

	t.Run("start exactly one window back", func(t *testing.T) {
		src := &fakeSource{query: returns(0)}
		w := NewWrapper(src, testOptions(), nil)
		w.now = func() time.Time { return base.Add(30 * time.Microsecond) }
		start := base.Add(-week)

		res := w.Query(context.Background(), "Application", Filter{Start: &start}, 0)
		assert.True(t, res.Success)
		assert.Empty(t, res.Note)
		assert.Len(t, src.calls(), 1)
	})

	t.Run("window ended before the narrow window", func(t *testing.T) {
		src := &fakeSource{}
		src.query = func(_ context.Context, req Request) (Payload, error) {
			if req.End != nil {
				return Payload{}, nil
			}
			return Payload{Count: 5}, nil
		}
		w := NewWrapper(src, testOptions(), nil)
		w.now = func() time.Time { return base }
		end := base.Add(-30 * 24 * time.Hour)

		res := w.Query(context.Background(), "System", Filter{End: &end}, 0)
		assert.True(t, res.Success)
		assert.Zero(t, res.Count)
		assert.Empty(t, res.Note)
		assert.Len(t, src.calls(), 1)
	})

	t.Run("end inside the narrow window is kept", func(t *testing.T) {
		start := base.Add(-60 * 24 * time.Hour)
		end := base.Add(-24 * time.Hour)
		src := &fakeSource{}
		src.query = func(_ context.Context, req Request) (Payload, error) {
			if req.Start.Equal(start) {
				return Payload{}, nil
			}
			return Payload{Count: 2}, nil
		}
		w := NewWrapper(src, testOptions(), nil)
		w.now = func() time.Time { return base }

		res := w.Query(context.Background(), "System", Filter{Start: &start, End: &end}, 0)
		assert.Equal(t, 2, res.Count)
		assert.Equal(t, "narrowed to last 168h0m0s", res.Note)

		calls := src.calls()
		require.Len(t, calls, 2)
		require.NotNil(t, calls[1].Start)
		require.NotNil(t, calls[1].End)
		assert.Equal(t, base.Add(-week), *calls[1].Start)
		assert.Equal(t, end, *calls[1].End)
	})
}

func TestZeroOptionsTakeDefaults(t *testing.T) {
	src := &fakeSource{query: returns(1)}
	w := NewWrapper(src, Options{}, nil)

	opts := w.Options()
	assert.Equal(t, 10*time.Second, opts.DefaultTimeout)
	assert.Equal(t, 5*time.Second, opts.MinTimeout)
	assert.Equal(t, 300*time.Second, opts.MaxTimeout)
	assert.Equal(t, 7*24*time.Hour, opts.NarrowWindow)

	res := w.Query(context.Background(), "System", Filter{}, 0)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Count)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	src := &fakeSource{}
	attempts := 0
	src.query = func(context.Context, Request) (Payload, error) {
		attempts++
		if attempts == 1 {
			return Payload{}, errors.New("The RPC server is unavailable.")
		}
		return Payload{Count: 2}, nil
	}

	res := NewWrapper(src, testOptions(), nil).Query(context.Background(), "System", Filter{}, 0)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 2, attempts)
}

func TestClampTimeout(t *testing.T) {
	opts := DefaultOptions()
	tests := []struct {
		in, want time.Duration
	}{
		{0, 10 * time.Second},
		{-time.Second, 10 * time.Second},
		{time.Second, 5 * time.Second},
		{30 * time.Second, 30 * time.Second},
		{time.Hour, 300 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, opts.ClampTimeout(tt.in), "input %s", tt.in)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindOther},
		{context.DeadlineExceeded, KindTimeout},
		{&SourceError{Source: "Security", Op: "query", Err: ErrAccessDenied}, KindAccessDenied},
		{errors.New("open: permission denied"), KindAccessDenied},
		{errors.New("channel does not exist"), KindNotFound},
		{errors.New("resource temporarily unavailable"), KindTransient},
		{errors.New("bad xml"), KindOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}
