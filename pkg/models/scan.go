package models

import (
	"sort"
	"time"
)

// CheckOutcome is the terminal record of one check execution.
// Failed and timed out checks keep their error here instead of producing a Finding.
type CheckOutcome struct {
	CheckID        string        `json:"check_id" yaml:"check_id"`
	Category       string        `json:"category" yaml:"category"`
	State          CheckState    `json:"state" yaml:"state"`
	Finding        *Finding      `json:"finding,omitempty" yaml:"finding,omitempty"`
	Error          string        `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt      time.Time     `json:"started_at" yaml:"started_at"`
	ElapsedSeconds float64       `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	Verdict        BudgetVerdict `json:"verdict" yaml:"verdict"`
}

// ScanResult is everything a single tier run hands to reporting
type ScanResult struct {
	ScanID         string          `json:"scan_id" yaml:"scan_id"`
	Tier           Tier            `json:"tier" yaml:"tier"`
	Sequential     bool            `json:"sequential" yaml:"sequential"`
	Concurrency    int             `json:"concurrency" yaml:"concurrency"`
	StartedAt      time.Time       `json:"started_at" yaml:"started_at"`
	CompletedAt    time.Time       `json:"completed_at" yaml:"completed_at"`
	Findings       []*Finding      `json:"findings" yaml:"findings"`
	Verdicts       []BudgetVerdict `json:"verdicts" yaml:"verdicts"`
	Outcomes       []CheckOutcome  `json:"outcomes" yaml:"outcomes"`
	Failures       []CheckOutcome  `json:"failures" yaml:"failures"`
	Overall        BudgetVerdict   `json:"overall" yaml:"overall"`
	ElapsedSeconds float64         `json:"elapsed_seconds" yaml:"elapsed_seconds"`
}

// Counts returns the number of outcomes per terminal state
func (r *ScanResult) Counts() map[CheckState]int {
	counts := make(map[CheckState]int)
	for _, o := range r.Outcomes {
		counts[o.State]++
	}
	return counts
}

// TopFindings returns up to n findings ordered by score (highest first), then id.
// n <= 0 returns all of them.
func (r *ScanResult) TopFindings(n int) []*Finding {
	sorted := make([]*Finding, len(r.Findings))
	copy(sorted, r.Findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ID < sorted[j].ID
	})
	if n > 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// SlowChecks returns per-check verdicts whose severity is not none
func (r *ScanResult) SlowChecks() []BudgetVerdict {
	var slow []BudgetVerdict
	for _, v := range r.Verdicts {
		if v.Exceeded {
			slow = append(slow, v)
		}
	}
	return slow
}
