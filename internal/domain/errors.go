package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies API failures so callers can decide between retrying
// with backoff and giving up for the cycle.
type ErrorKind int

const (
	// ErrKindTransient covers timeouts and temporary network failures.
	ErrKindTransient ErrorKind = iota
	// ErrKindRateLimited marks an explicit rate-limit rejection.
	ErrKindRateLimited
	// ErrKindRejected marks a terminal exchange-side rejection
	// (bad request, insufficient funds, unknown order).
	ErrKindRejected
)

// APIError is a normalized exchange failure.
type APIError struct {
	Exchange string
	Kind     ErrorKind
	Message  string
	Err      error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Exchange, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Exchange, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == ErrKindRateLimited
}

// IsRetryable reports whether err is worth retrying with backoff.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == ErrKindRateLimited || apiErr.Kind == ErrKindTransient
	}
	return false
}

// ErrUnsupported is returned by exchange operations the venue does not
// offer (e.g. recent public trades on BitMart). Callers degrade gracefully.
var ErrUnsupported = errors.New("operation not supported by exchange")
