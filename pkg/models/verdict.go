package models

// Severity grades how far an operation ran over its time budget
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// BudgetVerdict records elapsed time against the tier budget.
// Exceeded is always Severity != SeverityNone.
type BudgetVerdict struct {
	CheckName      string   `json:"check_name" yaml:"check_name"`
	Tier           Tier     `json:"tier" yaml:"tier"`
	ElapsedSeconds float64  `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	BudgetSeconds  float64  `json:"budget_seconds" yaml:"budget_seconds"`
	Exceeded       bool     `json:"exceeded" yaml:"exceeded"`
	Severity       Severity `json:"severity" yaml:"severity"`
}
