package models

import "fmt"

// CheckState is the lifecycle state of one check within a run
type CheckState string

const (
	CheckStatePending   CheckState = "pending"   // Waiting for a worker slot
	CheckStateRunning   CheckState = "running"   // Dispatched to a worker
	CheckStateCompleted CheckState = "completed" // Returned, with or without a finding
	CheckStateFailed    CheckState = "failed"    // Returned an error or panicked
	CheckStateTimedOut  CheckState = "timed_out" // Abandoned after the per-check timeout
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[CheckState]map[CheckState]bool{
	CheckStatePending: {
		CheckStateRunning: true, // Pending → Running (worker slot freed)
		CheckStateFailed:  true, // Pending → Failed (scan canceled before dispatch)
	},
	CheckStateRunning: {
		CheckStateCompleted: true,
		CheckStateFailed:    true,
		CheckStateTimedOut:  true,
	},
	// Terminal states
	CheckStateCompleted: {},
	CheckStateFailed:    {},
	CheckStateTimedOut:  {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to CheckState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if no further transitions are possible
func IsTerminal(state CheckState) bool {
	return state == CheckStateCompleted || state == CheckStateFailed || state == CheckStateTimedOut
}

// IsSoftFailure returns true for terminal states that produced no finding because the check broke
func IsSoftFailure(state CheckState) bool {
	return state == CheckStateFailed || state == CheckStateTimedOut
}
