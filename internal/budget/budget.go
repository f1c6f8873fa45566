// Package budget grades elapsed time against per-tier time budgets.
package budget

import (
	"errors"
	"fmt"
	"time"

	"github.com/psantana5/hostscan/pkg/models"
)

// ErrUnknownTier is returned for tiers missing from the budget table
var ErrUnknownTier = errors.New("unknown tier")

// DefaultWarnRatio is the fraction of the budget after which a run is flagged
const DefaultWarnRatio = 0.8

// DefaultBudgets returns the built-in budget per tier
func DefaultBudgets() map[models.Tier]time.Duration {
	return map[models.Tier]time.Duration{
		models.TierQuick:    30 * time.Second,
		models.TierStandard: 45 * time.Second,
		models.TierDeep:     75 * time.Second,
	}
}

// Evaluator is a pure, stateless budget table
type Evaluator struct {
	budgets   map[models.Tier]time.Duration
	warnRatio float64
}

// New builds an evaluator. Nil budgets use the defaults; a ratio outside (0,1) uses DefaultWarnRatio.
func New(budgets map[models.Tier]time.Duration, warnRatio float64) *Evaluator {
	table := DefaultBudgets()
	for tier, d := range budgets {
		if d > 0 {
			table[tier] = d
		}
	}
	if warnRatio <= 0 || warnRatio >= 1 {
		warnRatio = DefaultWarnRatio
	}
	return &Evaluator{budgets: table, warnRatio: warnRatio}
}

// Default returns an evaluator with the built-in table
func Default() *Evaluator {
	return New(nil, DefaultWarnRatio)
}

// Budget returns the budget for tier
func (e *Evaluator) Budget(tier models.Tier) (time.Duration, error) {
	b, ok := e.budgets[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return b, nil
}

// Evaluate grades elapsed against the tier budget:
// elapsed > budget is critical, elapsed > budget*ratio a warning.
// Negative elapsed counts as zero.
func (e *Evaluator) Evaluate(checkName string, elapsed time.Duration, tier models.Tier) (models.BudgetVerdict, error) {
	b, err := e.Budget(tier)
	if err != nil {
		return models.BudgetVerdict{}, err
	}
	if elapsed < 0 {
		elapsed = 0
	}

	// warn threshold rounded to whole nanoseconds so 0.8*45s is exactly 36s
	warnAt := time.Duration(float64(b)*e.warnRatio + 0.5)

	severity := models.SeverityNone
	switch {
	case elapsed > b:
		severity = models.SeverityCritical
	case elapsed > warnAt:
		severity = models.SeverityWarning
	}

	return models.BudgetVerdict{
		CheckName:      checkName,
		Tier:           tier,
		ElapsedSeconds: elapsed.Seconds(),
		BudgetSeconds:  b.Seconds(),
		Exceeded:       severity != models.SeverityNone,
		Severity:       severity,
	}, nil
}
