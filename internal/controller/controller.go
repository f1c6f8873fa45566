// Package controller runs a tier of checks on a bounded worker pool.
// Individual check failures never fail the run: they are recorded as
// soft-failure outcomes and the remaining checks keep going.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/psantana5/hostscan/internal/budget"
	"github.com/psantana5/hostscan/internal/checks"
	"github.com/psantana5/hostscan/internal/observe"
	"github.com/psantana5/hostscan/pkg/logging"
	"github.com/psantana5/hostscan/pkg/models"
	"github.com/psantana5/hostscan/pkg/tracing"
)

var (
	ErrInvalidTier        = errors.New("invalid tier")
	ErrUnknownCheck       = errors.New("unknown check")
	ErrInvalidConcurrency = errors.New("invalid concurrency")
)

const canceledNote = "scan canceled"

// Registry is the part of *checks.Registry the controller needs
type Registry interface {
	GetChecks(tier models.Tier) ([]string, error)
	Resolve(id string) (checks.Check, bool)
}

// Request describes one tier run
type Request struct {
	Tier            models.Tier
	Checks          []string // empty: the tier's registry list
	Sequential      bool
	MaxConcurrency  int           // 0: tier default
	PerCheckTimeout time.Duration // 0: configured default
	Metrics         *observe.MetricsCollector
}

// Config wires the controller's collaborators and policy defaults
type Config struct {
	Registry        Registry
	Budget          *budget.Evaluator
	Concurrency     map[models.Tier]int
	PerCheckTimeout time.Duration
	Logger          *logging.Logger
	Tracer          *tracing.Provider
}

// DefaultConcurrency returns the worker count per tier
func DefaultConcurrency() map[models.Tier]int {
	return map[models.Tier]int{
		models.TierQuick:    2,
		models.TierStandard: 4,
		models.TierDeep:     6,
	}
}

// DefaultPerCheckTimeout bounds a single check
const DefaultPerCheckTimeout = 120 * time.Second

// Controller is stateless between runs and safe for concurrent use
type Controller struct {
	registry    Registry
	budget      *budget.Evaluator
	concurrency map[models.Tier]int
	timeout     time.Duration
	logger      *logging.Logger
	tracer      *tracing.Provider
	now         func() time.Time
}

// New creates a controller. Missing policy values fall back to the defaults.
func New(cfg Config) *Controller {
	conc := DefaultConcurrency()
	for tier, n := range cfg.Concurrency {
		if n > 0 {
			conc[tier] = n
		}
	}
	timeout := cfg.PerCheckTimeout
	if timeout <= 0 {
		timeout = DefaultPerCheckTimeout
	}
	ev := cfg.Budget
	if ev == nil {
		ev = budget.Default()
	}
	return &Controller{
		registry:    cfg.Registry,
		budget:      ev,
		concurrency: conc,
		timeout:     timeout,
		logger:      cfg.Logger,
		tracer:      cfg.Tracer,
		now:         time.Now,
	}
}

type plan struct {
	tier        models.Tier
	checks      []checks.Check
	concurrency int
	timeout     time.Duration
	metrics     *observe.MetricsCollector
}

func (c *Controller) plan(req Request) (*plan, error) {
	if !req.Tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, req.Tier)
	}
	if req.MaxConcurrency < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidConcurrency, req.MaxConcurrency)
	}

	ids := req.Checks
	if len(ids) == 0 {
		var err error
		if ids, err = c.registry.GetChecks(req.Tier); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTier, err)
		}
	}

	p := &plan{tier: req.Tier, concurrency: req.MaxConcurrency, timeout: req.PerCheckTimeout, metrics: req.Metrics}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		chk, ok := c.registry.Resolve(id)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCheck, id)
		}
		p.checks = append(p.checks, chk)
	}

	if p.concurrency == 0 {
		p.concurrency = c.concurrency[req.Tier]
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if req.Sequential {
		p.concurrency = 1
	}
	if p.timeout <= 0 {
		p.timeout = c.timeout
	}
	if p.metrics == nil {
		p.metrics = observe.NewMetricsCollector()
	}
	return p, nil
}

// RunTier runs every check of req.Tier and returns once each one is terminal.
// Only programmer errors (bad tier, unknown check id, negative concurrency) are returned.
func (c *Controller) RunTier(ctx context.Context, req Request) (*models.ScanResult, error) {
	p, err := c.plan(req)
	if err != nil {
		return nil, err
	}

	scanID := uuid.NewString()
	log := c.logger.WithField("scan_id", scanID)
	timing := observe.NewTimingWithClock(c.now)

	ctx, span := c.tracer.StartSpan(ctx, "hostscan.RunTier",
		attribute.String("scan.id", scanID),
		attribute.String("scan.tier", string(p.tier)),
		attribute.Int("scan.checks", len(p.checks)),
		attribute.Bool("scan.sequential", req.Sequential),
	)
	defer span.End()

	c.log(log, logging.INFO, fmt.Sprintf("Starting %s scan: %d checks, concurrency %d", p.tier, len(p.checks), p.concurrency))

	outcomes := make([]models.CheckOutcome, len(p.checks))
	if req.Sequential {
		for i, chk := range p.checks {
			outcomes[i] = c.execute(ctx, p, chk, log)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(p.concurrency)
		for i, chk := range p.checks {
			i, chk := i, chk
			// Go blocks while the pool is full, so dispatch is FIFO
			g.Go(func() error {
				outcomes[i] = c.execute(ctx, p, chk, log)
				return nil
			})
		}
		_ = g.Wait()
	}

	result := &models.ScanResult{
		ScanID:      scanID,
		Tier:        p.tier,
		Sequential:  req.Sequential,
		Concurrency: p.concurrency,
		StartedAt:   timing.StartedAt,
		Findings:    []*models.Finding{},
		Verdicts:    make([]models.BudgetVerdict, 0, len(outcomes)),
		Outcomes:    outcomes,
		Failures:    []models.CheckOutcome{},
	}
	for _, o := range outcomes {
		result.Verdicts = append(result.Verdicts, o.Verdict)
		if o.Finding != nil {
			result.Findings = append(result.Findings, o.Finding)
		}
		if models.IsSoftFailure(o.State) {
			result.Failures = append(result.Failures, o)
		}
		p.metrics.ObserveCheck(p.tier, o)
	}

	elapsed := timing.Complete()
	result.CompletedAt = timing.CompletedAt
	result.ElapsedSeconds = elapsed.Seconds()
	result.Overall, err = c.budget.Evaluate("tier:"+string(p.tier), elapsed, p.tier)
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveScan(result)

	span.SetAttributes(
		attribute.Int("scan.findings", len(result.Findings)),
		attribute.Int("scan.failures", len(result.Failures)),
		attribute.String("scan.severity", string(result.Overall.Severity)),
	)
	level := logging.INFO
	if result.Overall.Exceeded {
		level = logging.WARN
	}
	c.log(log, level, fmt.Sprintf("Finished %s scan in %.2fs: %d findings, %d soft failures, budget %s",
		p.tier, result.ElapsedSeconds, len(result.Findings), len(result.Failures), result.Overall.Severity))

	return result, nil
}

type runResult struct {
	finding *models.Finding
	err     error
}

// execute drives one check through pending -> running -> terminal
func (c *Controller) execute(ctx context.Context, p *plan, chk checks.Check, log *logging.Logger) models.CheckOutcome {
	out := models.CheckOutcome{
		CheckID:  chk.ID,
		Category: chk.Category,
		State:    models.CheckStatePending,
	}
	timing := observe.NewTimingWithClock(c.now)
	out.StartedAt = timing.StartedAt

	if ctx.Err() != nil {
		c.transition(&out, models.CheckStateFailed, log)
		out.Error = canceledNote
		c.finish(&out, p.tier, timing, log)
		return out
	}
	c.transition(&out, models.CheckStateRunning, log)

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	cctx, span := c.tracer.StartSpan(cctx, "hostscan.check", attribute.String("check.id", chk.ID))
	defer span.End()

	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{err: fmt.Errorf("check panicked: %v", r)}
			}
		}()
		f, err := chk.Run(cctx, p.tier)
		done <- runResult{finding: f, err: err}
	}()

	select {
	case r := <-done:
		switch {
		case cctx.Err() != nil:
			// a result delivered at or after the deadline does not count
			c.expire(ctx, cctx, &out, p.timeout, log)
		case r.err != nil:
			c.transition(&out, models.CheckStateFailed, log)
			out.Error = r.err.Error()
		default:
			c.transition(&out, models.CheckStateCompleted, log)
			out.Finding = r.finding
		}
	case <-cctx.Done():
		// abandoned: the goroutine may still be running and its result is dropped
		c.expire(ctx, cctx, &out, p.timeout, log)
	}

	if out.Error != "" {
		tracing.SetError(cctx, errors.New(out.Error))
	}
	c.finish(&out, p.tier, timing, log)
	return out
}

func (c *Controller) expire(parent, cctx context.Context, out *models.CheckOutcome, timeout time.Duration, log *logging.Logger) {
	if parent.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		c.transition(out, models.CheckStateTimedOut, log)
		out.Error = fmt.Sprintf("exceeded per-check timeout of %s", timeout)
		return
	}
	c.transition(out, models.CheckStateFailed, log)
	out.Error = canceledNote
}

func (c *Controller) finish(out *models.CheckOutcome, tier models.Tier, timing *observe.Timing, log *logging.Logger) {
	elapsed := timing.Complete()
	out.ElapsedSeconds = elapsed.Seconds()
	if v, err := c.budget.Evaluate(out.CheckID, elapsed, tier); err == nil {
		out.Verdict = v
	}

	switch {
	case out.State == models.CheckStateCompleted && out.Finding != nil:
		c.log(log, logging.DEBUG, fmt.Sprintf("Check %s completed in %.2fs: %s (score %.2f)",
			out.CheckID, out.ElapsedSeconds, out.Finding.Message, out.Finding.Score))
	case out.State == models.CheckStateCompleted:
		c.log(log, logging.DEBUG, fmt.Sprintf("Check %s completed in %.2fs: no issue", out.CheckID, out.ElapsedSeconds))
	default:
		c.log(log, logging.WARN, fmt.Sprintf("Check %s %s after %.2fs: %s", out.CheckID, out.State, out.ElapsedSeconds, out.Error))
	}
	if out.Verdict.Exceeded {
		c.log(log, logging.WARN, fmt.Sprintf("Check %s used %.1fs of the %.0fs %s budget (%s)",
			out.CheckID, out.Verdict.ElapsedSeconds, out.Verdict.BudgetSeconds, tier, out.Verdict.Severity))
	}
}

func (c *Controller) transition(out *models.CheckOutcome, to models.CheckState, log *logging.Logger) {
	if err := models.ValidateTransition(out.State, to); err != nil {
		c.log(log, logging.ERROR, fmt.Sprintf("Check %s: %v", out.CheckID, err))
	}
	out.State = to
}

// log never lets a failing sink reach the scan
func (c *Controller) log(log *logging.Logger, level logging.Level, msg string) {
	defer func() { _ = recover() }()
	log.Log(level, msg)
}
