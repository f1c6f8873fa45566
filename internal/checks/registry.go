package checks

import (
	"context"
	"errors"
	"fmt"

	"github.com/psantana5/hostscan/pkg/models"
)

var (
	ErrUnknownCheck   = errors.New("unknown check")
	ErrDuplicateCheck = errors.New("duplicate check")
)

// CheckFunc runs one diagnostic. A nil Finding with a nil error means no issue.
type CheckFunc func(ctx context.Context, tier models.Tier) (*models.Finding, error)

// Check is a named, self-contained diagnostic
type Check struct {
	ID          string
	Category    string
	Description string
	Run         CheckFunc
}

// Membership lists the checks each tier adds on top of the shallower tiers
type Membership struct {
	Quick    []string `mapstructure:"quick" yaml:"quick"`
	Standard []string `mapstructure:"standard" yaml:"standard"`
	Deep     []string `mapstructure:"deep" yaml:"deep"`
}

// Registry resolves check ids to implementations and tiers to ordered id lists.
// Immutable once built.
type Registry struct {
	checks map[string]Check
	order  []string
	tiers  map[models.Tier][]string
}

// NewRegistry validates checks and membership and precomputes each tier's list
func NewRegistry(checks []Check, m Membership) (*Registry, error) {
	r := &Registry{
		checks: make(map[string]Check, len(checks)),
		tiers:  make(map[models.Tier][]string, len(models.Tiers)),
	}

	for _, c := range checks {
		if c.ID == "" {
			return nil, errors.New("check with empty id")
		}
		if c.Run == nil {
			return nil, fmt.Errorf("check %s: nil run function", c.ID)
		}
		if _, dup := r.checks[c.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCheck, c.ID)
		}
		r.checks[c.ID] = c
		r.order = append(r.order, c.ID)
	}

	layers := [][]string{m.Quick, m.Standard, m.Deep}
	var acc []string
	seen := make(map[string]bool)
	for i, tier := range models.Tiers {
		for _, id := range layers[i] {
			if _, ok := r.checks[id]; !ok {
				return nil, fmt.Errorf("%w: %q in %s membership", ErrUnknownCheck, id, tier)
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			acc = append(acc, id)
		}
		r.tiers[tier] = append([]string(nil), acc...)
	}

	return r, nil
}

// Resolve returns the check registered under id
func (r *Registry) Resolve(id string) (Check, bool) {
	c, ok := r.checks[id]
	return c, ok
}

// GetChecks returns the ordered ids run by tier. The slice is a copy.
func (r *Registry) GetChecks(tier models.Tier) ([]string, error) {
	ids, ok := r.tiers[tier]
	if !ok {
		return nil, fmt.Errorf("unknown tier %q", tier)
	}
	return append([]string(nil), ids...), nil
}

// TierOf returns the shallowest tier that runs id
func (r *Registry) TierOf(id string) (models.Tier, bool) {
	for _, tier := range models.Tiers {
		for _, c := range r.tiers[tier] {
			if c == id {
				return tier, true
			}
		}
	}
	return "", false
}

// All returns every registered check in registration order
func (r *Registry) All() []Check {
	out := make([]Check, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.checks[id])
	}
	return out
}
