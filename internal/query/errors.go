package query

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/psantana5/hostscan/pkg/models"
	"github.com/psantana5/hostscan/pkg/retry"
)

var (
	ErrAccessDenied = errors.New("access denied")
	ErrNotFound     = errors.New("not found")
	ErrTimeout      = errors.New("query timed out")
)

// ErrorKind categorizes source errors for the fallback strategy
type ErrorKind int

const (
	KindOther        ErrorKind = iota
	KindAccessDenied           // summary fallback
	KindNotFound               // source missing, no fallback
	KindTimeout                // deadline hit inside the source
	KindTransient              // retried with backoff
)

func (k ErrorKind) String() string {
	switch k {
	case KindAccessDenied:
		return "access_denied"
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	default:
		return "other"
	}
}

// Reason maps the kind onto a QueryResult reason
func (k ErrorKind) Reason() models.Reason {
	switch k {
	case KindAccessDenied:
		return models.ReasonAccessDenied
	case KindNotFound:
		return models.ReasonNotFound
	case KindTimeout:
		return models.ReasonTimeout
	default:
		return models.ReasonOtherError
	}
}

// SourceError wraps a failure from a Source with the operation that produced it
type SourceError struct {
	Source string
	Op     string // "query" or "count"
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

var (
	deniedPatterns = []string{
		"access is denied",
		"permission denied",
		"unauthorized",
	}
	notFoundPatterns = []string{
		"could not be found",
		"does not exist",
		"cannot find",
	}
)

// Classify determines the error kind from sentinels first, then message content
func Classify(err error) ErrorKind {
	if err == nil {
		return KindOther
	}

	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrAccessDenied), errors.Is(err, fs.ErrPermission):
		return KindAccessDenied
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, deniedPatterns) {
		return KindAccessDenied
	}
	if containsAny(msg, notFoundPatterns) {
		return KindNotFound
	}
	if retry.IsRetryable(err) {
		return KindTransient
	}
	return KindOther
}

// IsTransient reports whether err is worth retrying inside the query deadline
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
