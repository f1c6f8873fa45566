package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/hostscan/internal/checks"
	"github.com/psantana5/hostscan/internal/observe"
	"github.com/psantana5/hostscan/pkg/logging"
	"github.com/psantana5/hostscan/pkg/models"
)

func findingCheck(id string) checks.Check {
	return checks.Check{ID: id, Category: "Test", Run: func(ctx context.Context, tier models.Tier) (*models.Finding, error) {
		return models.NewFinding(models.FindingSpec{ID: id, Tier: tier, Category: "Test", Impact: 5, Confidence: 5, Effort: 1})
	}}
}

func newController(t *testing.T, cs []checks.Check, m checks.Membership, logger *logging.Logger) *Controller {
	t.Helper()
	reg, err := checks.NewRegistry(cs, m)
	require.NoError(t, err)
	return New(Config{Registry: reg, Logger: logger})
}

func ids(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s.%02d", prefix, i)
	}
	return out
}

func findingIDs(r *models.ScanResult) []string {
	var out []string
	for _, f := range r.Findings {
		out = append(out, f.ID)
	}
	sort.Strings(out)
	return out
}

func TestConcurrencyBound(t *testing.T) {
	var active, maxActive int32
	names := ids("slow", 12)
	var cs []checks.Check
	for _, id := range names {
		id := id
		cs = append(cs, checks.Check{ID: id, Run: func(ctx context.Context, tier models.Tier) (*models.Finding, error) {
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil, nil
		}})
	}

	c := newController(t, cs, checks.Membership{Standard: names}, nil)
	res, err := c.RunTier(context.Background(), Request{Tier: models.TierStandard})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Concurrency)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(4))
	assert.Equal(t, 12, res.Counts()[models.CheckStateCompleted])
}

func TestSequentialAndParallelAgree(t *testing.T) {
	names := ids("f", 6)
	var cs []checks.Check
	for i, id := range names {
		if i%2 == 0 {
			cs = append(cs, findingCheck(id))
		} else {
			cs = append(cs, checks.Check{ID: id, Run: func(context.Context, models.Tier) (*models.Finding, error) { return nil, nil }})
		}
	}
	c := newController(t, cs, checks.Membership{Quick: names}, nil)

	par, err := c.RunTier(context.Background(), Request{Tier: models.TierQuick})
	require.NoError(t, err)
	seq, err := c.RunTier(context.Background(), Request{Tier: models.TierQuick, Sequential: true})
	require.NoError(t, err)

	assert.Equal(t, findingIDs(par), findingIDs(seq))
	assert.Len(t, par.Findings, 3)
	assert.True(t, seq.Sequential)
	assert.Equal(t, 1, seq.Concurrency)
	assert.NotEqual(t, par.ScanID, seq.ScanID)
}

func TestFailureIsolation(t *testing.T) {
	cs := []checks.Check{
		findingCheck("a"),
		findingCheck("b"),
		{ID: "boom", Category: "Test", Run: func(context.Context, models.Tier) (*models.Finding, error) {
			return nil, errors.New("wmi exploded")
		}},
		findingCheck("c"),
		findingCheck("d"),
	}
	c := newController(t, cs, checks.Membership{Standard: []string{"a", "b", "boom", "c", "d"}}, nil)

	res, err := c.RunTier(context.Background(), Request{Tier: models.TierStandard})
	require.NoError(t, err)

	assert.Len(t, res.Findings, 4)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "boom", res.Failures[0].CheckID)
	assert.Equal(t, models.CheckStateFailed, res.Failures[0].State)
	assert.Equal(t, "wmi exploded", res.Failures[0].Error)
	assert.Len(t, res.Verdicts, 5)
}

func TestPanickingCheckIsFailed(t *testing.T) {
	cs := []checks.Check{
		findingCheck("ok"),
		{ID: "panics", Run: func(context.Context, models.Tier) (*models.Finding, error) { panic("nil map") }},
	}
	c := newController(t, cs, checks.Membership{Quick: []string{"ok", "panics"}}, nil)

	res, err := c.RunTier(context.Background(), Request{Tier: models.TierQuick})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, models.CheckStateFailed, res.Failures[0].State)
	assert.Contains(t, res.Failures[0].Error, "nil map")
	assert.Len(t, res.Findings, 1)
}

func TestTimedOutCheckIsAbandoned(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	cs := []checks.Check{
		findingCheck("fast"),
		{ID: "hung", Run: func(context.Context, models.Tier) (*models.Finding, error) {
			<-release // ignores its context
			return nil, nil
		}},
	}
	c := newController(t, cs, checks.Membership{Quick: []string{"fast", "hung"}}, nil)

	timeout := 50 * time.Millisecond
	start := time.Now()
	res, err := c.RunTier(context.Background(), Request{Tier: models.TierQuick, PerCheckTimeout: timeout})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), timeout+time.Second)
	require.Len(t, res.Failures, 1)
	hung := res.Failures[0]
	assert.Equal(t, models.CheckStateTimedOut, hung.State)
	assert.GreaterOrEqual(t, hung.ElapsedSeconds, timeout.Seconds())
	assert.Equal(t, "hung", hung.Verdict.CheckName)
	assert.Len(t, res.Findings, 1)
}

func TestCooperativeCheckTimeout(t *testing.T) {
	cs := []checks.Check{{ID: "waits", Run: func(ctx context.Context, _ models.Tier) (*models.Finding, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}}
	c := newController(t, cs, checks.Membership{Quick: []string{"waits"}}, nil)

	res, err := c.RunTier(context.Background(), Request{Tier: models.TierQuick, PerCheckTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, models.CheckStateTimedOut, res.Outcomes[0].State)
}

func TestFindingReturnedAtDeadlineIsDropped(t *testing.T) {
	late := func(ctx context.Context, tier models.Tier) (*models.Finding, error) {
		<-ctx.Done()
		return models.NewFinding(models.FindingSpec{ID: "late", Tier: tier, Impact: 5, Confidence: 5})
	}
	c := newController(t, []checks.Check{{ID: "late", Run: late}}, checks.Membership{Quick: []string{"late"}}, nil)

	for i := 0; i < 20; i++ {
		res, err := c.RunTier(context.Background(), Request{Tier: models.TierQuick, PerCheckTimeout: 5 * time.Millisecond})
		require.NoError(t, err)
		assert.Equal(t, models.CheckStateTimedOut, res.Outcomes[0].State)
		assert.Nil(t, res.Outcomes[0].Finding)
		assert.Empty(t, res.Findings)
	}
}

func TestOutcomesFollowRegistryOrder(t *testing.T) {
	names := ids("o", 5)
	var cs []checks.Check
	for i, id := range names {
		delay := time.Duration(len(names)-i) * 10 * time.Millisecond
		id := id
		cs = append(cs, checks.Check{ID: id, Run: func(context.Context, models.Tier) (*models.Finding, error) {
			time.Sleep(delay)
			return nil, nil
		}})
	}
	c := newController(t, cs, checks.Membership{Deep: names}, nil)

	res, err := c.RunTier(context.Background(), Request{Tier: models.TierDeep})
	require.NoError(t, err)
	for i, o := range res.Outcomes {
		assert.Equal(t, names[i], o.CheckID)
		assert.Equal(t, names[i], res.Verdicts[i].CheckName)
	}
}

func TestOverallVerdict(t *testing.T) {
	c := newController(t, []checks.Check{findingCheck("a")}, checks.Membership{Quick: []string{"a"}}, nil)
	res, err := c.RunTier(context.Background(), Request{Tier: models.TierQuick})
	require.NoError(t, err)

	assert.Equal(t, "tier:quick", res.Overall.CheckName)
	assert.Equal(t, models.TierQuick, res.Overall.Tier)
	assert.Equal(t, 30.0, res.Overall.BudgetSeconds)
	assert.Equal(t, models.SeverityNone, res.Overall.Severity)
	assert.False(t, res.CompletedAt.Before(res.StartedAt))
}

func TestProgrammerErrors(t *testing.T) {
	var ran atomic.Bool
	cs := []checks.Check{{ID: "a", Run: func(context.Context, models.Tier) (*models.Finding, error) {
		ran.Store(true)
		return nil, nil
	}}}
	c := newController(t, cs, checks.Membership{Quick: []string{"a"}}, nil)

	_, err := c.RunTier(context.Background(), Request{Tier: models.Tier("extreme")})
	assert.ErrorIs(t, err, ErrInvalidTier)

	_, err = c.RunTier(context.Background(), Request{Tier: models.TierQuick, Checks: []string{"a", "ghost"}})
	assert.ErrorIs(t, err, ErrUnknownCheck)

	_, err = c.RunTier(context.Background(), Request{Tier: models.TierQuick, MaxConcurrency: -1})
	assert.ErrorIs(t, err, ErrInvalidConcurrency)

	assert.False(t, ran.Load(), "no check may run when the request is rejected")
}

func TestExplicitCheckList(t *testing.T) {
	cs := []checks.Check{findingCheck("a"), findingCheck("b"), findingCheck("c")}
	c := newController(t, cs, checks.Membership{Quick: []string{"a", "b", "c"}}, nil)

	res, err := c.RunTier(context.Background(), Request{Tier: models.TierQuick, Checks: []string{"c", "a", "c"}})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, "c", res.Outcomes[0].CheckID)
	assert.Equal(t, "a", res.Outcomes[1].CheckID)
}

func TestCanceledScan(t *testing.T) {
	var ran atomic.Int32
	names := ids("c", 3)
	var cs []checks.Check
	for _, id := range names {
		cs = append(cs, checks.Check{ID: id, Run: func(context.Context, models.Tier) (*models.Finding, error) {
			ran.Add(1)
			return nil, nil
		}})
	}
	c := newController(t, cs, checks.Membership{Quick: names}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := c.RunTier(ctx, Request{Tier: models.TierQuick})
	require.NoError(t, err)

	assert.Zero(t, ran.Load())
	require.Len(t, res.Failures, 3)
	for _, f := range res.Failures {
		assert.Equal(t, models.CheckStateFailed, f.State)
		assert.Equal(t, "scan canceled", f.Error)
	}
}

type panicWriter struct{}

func (panicWriter) Write([]byte) (int, error) { panic("log sink down") }

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func TestLoggingNeverBreaksTheScan(t *testing.T) {
	cs := []checks.Check{
		findingCheck("a"),
		{ID: "fails", Run: func(context.Context, models.Tier) (*models.Finding, error) { return nil, errors.New("x") }},
	}
	m := checks.Membership{Quick: []string{"a", "fails"}}

	t.Run("nil logger", func(t *testing.T) {
		res, err := newController(t, cs, m, nil).RunTier(context.Background(), Request{Tier: models.TierQuick})
		require.NoError(t, err)
		assert.Len(t, res.Outcomes, 2)
	})

	t.Run("panicking sink", func(t *testing.T) {
		l := logging.NewLogger(logging.DEBUG, true)
		l.SetOutput(panicWriter{})
		res, err := newController(t, cs, m, l).RunTier(context.Background(), Request{Tier: models.TierQuick})
		require.NoError(t, err)
		assert.Len(t, res.Findings, 1)
	})

	t.Run("entries carry the scan id", func(t *testing.T) {
		var buf syncBuffer
		l := logging.NewLogger(logging.DEBUG, true)
		l.SetOutput(&buf)
		res, err := newController(t, cs, m, l).RunTier(context.Background(), Request{Tier: models.TierQuick})
		require.NoError(t, err)
		assert.Contains(t, buf.String(), res.ScanID)
		assert.Contains(t, buf.String(), "Check fails failed")
	})
}

func TestMetricsPassedByReference(t *testing.T) {
	cs := []checks.Check{findingCheck("a")}
	c := newController(t, cs, checks.Membership{Quick: []string{"a"}}, nil)

	metrics := observe.NewMetricsCollector()
	for i := 0; i < 2; i++ {
		_, err := c.RunTier(context.Background(), Request{Tier: models.TierQuick, Metrics: metrics})
		require.NoError(t, err)
	}

	families, err := metrics.Families()
	require.NoError(t, err)
	var scans float64
	for _, mf := range families {
		if mf.GetName() == "hostscan_scans_total" {
			for _, m := range mf.GetMetric() {
				scans += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, scans)

	n, err := testutil.GatherAndCount(metrics.Registry(), "hostscan_finding_score")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
