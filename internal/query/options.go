package query

import (
	"time"

	"github.com/psantana5/hostscan/pkg/retry"
)

// Options controls timeout bounds, the narrowed retry window and transient retries
type Options struct {
	DefaultTimeout time.Duration
	MinTimeout     time.Duration
	MaxTimeout     time.Duration
	NarrowWindow   time.Duration
	Retry          retry.Config
}

// DefaultOptions returns a 10s default timeout inside 5s..300s and a 7 day narrow window
func DefaultOptions() Options {
	rc := retry.DefaultConfig()
	rc.ShouldRetry = IsTransient
	return Options{
		DefaultTimeout: 10 * time.Second,
		MinTimeout:     5 * time.Second,
		MaxTimeout:     300 * time.Second,
		NarrowWindow:   7 * 24 * time.Hour,
		Retry:          rc,
	}
}

// ClampTimeout applies the default to non-positive values and bounds the rest
func (o Options) ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		d = o.DefaultTimeout
	case o.MinTimeout > 0 && d < o.MinTimeout:
		d = o.MinTimeout
	case o.MaxTimeout > 0 && d > o.MaxTimeout:
		d = o.MaxTimeout
	}
	return d
}
