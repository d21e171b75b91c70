// Package tracking is the engine core: session lifecycle, the point
// ingestion pipeline, trip-summary computation and history reads.
package tracking

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to adapters. Wrapped with context where raised;
// match with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrBadRequest      = errors.New("bad request")
	ErrTooManyRequests = errors.New("too many requests")
)

// RateLimitError carries the current window count alongside the
// rejection. Current is -1 when the counter backend was unavailable.
type RateLimitError struct {
	Current int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, current window count %d", e.Current)
}

func (e *RateLimitError) Unwrap() error {
	return ErrTooManyRequests
}
