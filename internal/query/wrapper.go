package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psantana5/hostscan/pkg/logging"
	"github.com/psantana5/hostscan/pkg/models"
	"github.com/psantana5/hostscan/pkg/retry"
)

// Wrapper guards a Source with a hard deadline, an access-denied summary fallback,
// a narrowed retry for empty windows and transient-error retries.
// Query never panics and never returns an error.
type Wrapper struct {
	src    Source
	opts   Options
	logger *logging.Logger
	now    func() time.Time
}

// narrowSlack is how much earlier than the narrow window a start must be
// before the window counts as wide
const narrowSlack = time.Second

// NewWrapper creates a wrapper around src. Zero options take their defaults;
// a negative NarrowWindow turns the narrowed retry off.
func NewWrapper(src Source, opts Options, logger *logging.Logger) *Wrapper {
	def := DefaultOptions()
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = def.DefaultTimeout
	}
	if opts.MinTimeout <= 0 {
		opts.MinTimeout = def.MinTimeout
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = def.MaxTimeout
	}
	if opts.NarrowWindow == 0 {
		opts.NarrowWindow = def.NarrowWindow
	}
	if opts.Retry.ShouldRetry == nil {
		opts.Retry.ShouldRetry = IsTransient
	}
	return &Wrapper{
		src:    src,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Options returns the wrapper's effective options
func (w *Wrapper) Options() Options {
	return w.opts
}

// Query runs source through the protections above. timeout <= 0 uses the default;
// values outside the configured bounds are clamped.
func (w *Wrapper) Query(ctx context.Context, source string, filter Filter, timeout time.Duration) (result models.QueryResult) {
	defer func() {
		if r := recover(); r != nil {
			result = models.QueryFailed(models.ReasonOtherError, 0, fmt.Sprintf("query %s panicked: %v", source, r))
		}
	}()

	timeout = w.opts.ClampTimeout(timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan models.QueryResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- models.QueryFailed(models.ReasonOtherError, 0, fmt.Sprintf("query %s panicked: %v", source, r))
			}
		}()
		done <- w.run(ctx, source, w.normalize(source, filter))
	}()

	select {
	case result = <-done:
	case <-ctx.Done():
		// the source may not be cooperative; leave it behind
		result = w.expired(ctx, source, timeout)
	}

	if result.Degraded() {
		w.logger.Debug(fmt.Sprintf("Query %s degraded: %s (%s)", source, result.Reason, result.Note))
	}
	return result
}

func (w *Wrapper) expired(ctx context.Context, source string, timeout time.Duration) models.QueryResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if timeout <= 0 {
			return models.QueryFailed(models.ReasonTimeout, 0, fmt.Sprintf("query %s exceeded its deadline", source))
		}
		return models.QueryFailed(models.ReasonTimeout, 0, fmt.Sprintf("query %s exceeded %s", source, timeout))
	}
	return models.QueryFailed(models.ReasonOtherError, 0, fmt.Sprintf("query %s canceled", source))
}

// normalize drops nil, zero and invalid bounds. A start in the future or after
// the end is omitted and the end kept.
func (w *Wrapper) normalize(source string, f Filter) Request {
	req := Request{Source: source, Level: f.Level, EventIDs: f.EventIDs, MaxEvents: f.MaxEvents}

	if f.End != nil && !f.End.IsZero() {
		end := *f.End
		req.End = &end
	}
	if f.Start != nil && !f.Start.IsZero() {
		start := *f.Start
		switch {
		case start.After(w.now()):
			w.logger.Debug(fmt.Sprintf("Query %s: start %s is in the future, ignoring", source, start.Format(time.RFC3339)))
		case req.End != nil && start.After(*req.End):
			w.logger.Debug(fmt.Sprintf("Query %s: start after end, ignoring start", source))
		default:
			req.Start = &start
		}
	}
	return req
}

func (w *Wrapper) run(ctx context.Context, source string, req Request) models.QueryResult {
	var payload Payload
	err := retry.Do(ctx, w.opts.Retry, func(ctx context.Context) error {
		p, err := w.query(ctx, req)
		if err != nil {
			return err
		}
		payload = p
		return nil
	})
	if err != nil {
		return w.degrade(ctx, source, err)
	}

	if payload.Count == 0 {
		if nreq, ok := w.narrow(req); ok {
			return w.narrowed(ctx, nreq, payload)
		}
	}
	return models.QueryOK(payload.Data, payload.Count, "")
}

func (w *Wrapper) degrade(ctx context.Context, source string, err error) models.QueryResult {
	if ctx.Err() != nil {
		return w.expired(ctx, source, 0)
	}

	kind := Classify(err)
	switch kind {
	case KindAccessDenied:
		n, cerr := w.count(ctx, source)
		if cerr != nil {
			return models.QueryFailed(models.ReasonAccessDenied, 0, "access denied; summary fallback failed: "+cerr.Error())
		}
		return models.QueryFailed(models.ReasonAccessDenied, n, "summary only")
	default:
		return models.QueryFailed(kind.Reason(), 0, err.Error())
	}
}

// narrow returns the part of req's window that falls inside the last NarrowWindow.
// It reports false when that part is empty or no smaller than req itself.
func (w *Wrapper) narrow(req Request) (Request, bool) {
	if w.opts.NarrowWindow <= 0 {
		return req, false
	}
	start := w.now().Add(-w.opts.NarrowWindow)
	if req.End != nil && !req.End.After(start) {
		return req, false
	}
	if req.Start != nil && !start.After(req.Start.Add(narrowSlack)) {
		return req, false
	}
	nreq := req
	nreq.Start = &start
	return nreq, true
}

func (w *Wrapper) narrowed(ctx context.Context, nreq Request, original Payload) models.QueryResult {
	p, err := w.query(ctx, nreq)
	if err != nil || p.Count == 0 {
		if err != nil {
			w.logger.Debug(fmt.Sprintf("Narrowed query %s failed: %v", nreq.Source, err))
		}
		return models.QueryOK(original.Data, 0, "no data (narrowed retry also empty)")
	}
	return models.QueryOK(p.Data, p.Count, "narrowed to last "+w.opts.NarrowWindow.String())
}

func (w *Wrapper) query(ctx context.Context, req Request) (p Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SourceError{Source: req.Source, Op: "query", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return w.src.Query(ctx, req)
}

func (w *Wrapper) count(ctx context.Context, source string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SourceError{Source: source, Op: "count", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return w.src.Count(ctx, source)
}
