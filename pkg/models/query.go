package models

// Reason explains why a query did or did not return its full payload
type Reason string

const (
	ReasonOK           Reason = "ok"
	ReasonAccessDenied Reason = "access_denied"
	ReasonTimeout      Reason = "timeout"
	ReasonNotFound     Reason = "not_found"
	ReasonOtherError   Reason = "other_error"
)

func (r Reason) defaultNote() string {
	switch r {
	case ReasonAccessDenied:
		return "access denied"
	case ReasonTimeout:
		return "query timed out"
	case ReasonNotFound:
		return "source not found"
	default:
		return "query failed"
	}
}

// QueryResult is the outcome of a resilient query.
// Success implies ReasonOK; a failure always carries a non-OK reason and a note.
type QueryResult struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Count   int         `json:"count"`
	Reason  Reason      `json:"reason"`
	Note    string      `json:"note,omitempty"`
}

// QueryOK builds a successful result
func QueryOK(data interface{}, count int, note string) QueryResult {
	return QueryResult{
		Success: true,
		Data:    data,
		Count:   count,
		Reason:  ReasonOK,
		Note:    note,
	}
}

// QueryFailed builds a degraded result. ReasonOK is coerced to ReasonOtherError
// and an empty note is replaced with the reason's default text.
func QueryFailed(reason Reason, count int, note string) QueryResult {
	if reason == ReasonOK || reason == "" {
		reason = ReasonOtherError
	}
	if note == "" {
		note = reason.defaultNote()
	}
	return QueryResult{
		Success: false,
		Count:   count,
		Reason:  reason,
		Note:    note,
	}
}

// Degraded reports whether the result is a fallback rather than the full payload
func (q QueryResult) Degraded() bool {
	return !q.Success
}
