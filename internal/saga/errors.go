// Package saga provides the building blocks shared by every saga in the
// system: the error taxonomy that decides what gets retried, the backoff
// policy applied to each step, and the compensation stack that unwinds
// completed steps in reverse order when a later step fails.
package saga

import (
	"errors"
	"fmt"
)

// Sentinel errors that must never be retried. They mirror the failure classes
// a gateway or store can report: retrying them cannot change the outcome.
var (
	ErrBillingKeyNotFound = errors.New("billing key not found")
	ErrResourceNotFound   = errors.New("resource not found")
	ErrInvalidArgument    = errors.New("invalid argument")
)

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks err so the retry policy fails fast instead of backing
// off. Use it for domain failures where a retry is pointless.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// NonRetryablef is NonRetryable over a formatted error.
func NonRetryablef(format string, args ...any) error {
	return NonRetryable(fmt.Errorf(format, args...))
}

// IsNonRetryable reports whether err belongs to the do-not-retry class,
// either by explicit marking or by matching one of the sentinel errors.
func IsNonRetryable(err error) bool {
	var nr *nonRetryableError
	if errors.As(err, &nr) {
		return true
	}
	return errors.Is(err, ErrBillingKeyNotFound) ||
		errors.Is(err, ErrResourceNotFound) ||
		errors.Is(err, ErrInvalidArgument)
}
