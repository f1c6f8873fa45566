package query

import (
	"context"
	"time"
)

// Filter narrows a query. Nil or zero times are ignored.
type Filter struct {
	Start     *time.Time
	End       *time.Time
	Level     []int
	EventIDs  []int
	MaxEvents int
}

// Request is a normalized query handed to a Source
type Request struct {
	Source    string
	Start     *time.Time
	End       *time.Time
	Level     []int
	EventIDs  []int
	MaxEvents int
}

// Payload is what a Source returns for a successful query
type Payload struct {
	Data  interface{}
	Count int
}

// Source is an OS data source the wrapper can protect.
// Implementations must honour ctx cancellation where they can.
type Source interface {
	Query(ctx context.Context, req Request) (Payload, error)
	Count(ctx context.Context, source string) (int, error)
}
