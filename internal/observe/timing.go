package observe

import "time"

// Timing records start/end timestamps of a run or a single check
type Timing struct {
	StartedAt   time.Time
	CompletedAt time.Time
	now         func() time.Time
}

// NewTiming starts a timing at the current time
func NewTiming() *Timing {
	return NewTimingWithClock(time.Now)
}

// NewTimingWithClock starts a timing driven by now
func NewTimingWithClock(now func() time.Time) *Timing {
	return &Timing{StartedAt: now(), now: now}
}

// Complete records completion time. Later calls are ignored.
func (t *Timing) Complete() time.Duration {
	if t.CompletedAt.IsZero() {
		t.CompletedAt = t.now()
	}
	return t.Duration()
}

// Duration returns elapsed time so far, or the final duration once completed
func (t *Timing) Duration() time.Duration {
	end := t.CompletedAt
	if end.IsZero() {
		end = t.now()
	}
	if d := end.Sub(t.StartedAt); d > 0 {
		return d
	}
	return 0
}
