package provider

import (
	"context"
	"errors"
	"time"
)

// ErrNoProviderAvailable is returned by Select when the candidate list is
// empty. Callers must not invoke execution in that case.
var ErrNoProviderAvailable = errors.New("no provider available")

// Invocation is one unit of work handed to a backend.
type Invocation struct {
	RequestID string         `json:"request_id"`
	Task      string         `json:"task"`
	Payload   any            `json:"payload,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// Provider is an opaque execution backend.
//
// Invoke must honor ctx cancellation and deadlines; beyond that the
// dispatcher makes no assumption about what a call does.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, inv Invocation) (any, error)
}

// ---- Error classification ----
//
// Backends can mark errors to steer the retry decision: NoRetry fails the
// request terminally regardless of remaining budget, RetryAfter overrides
// the computed backoff before the next attempt.

type noRetryError struct{ err error }

func (e *noRetryError) Error() string { return e.err.Error() }
func (e *noRetryError) Unwrap() error { return e.err }

// NoRetry marks err as not worth retrying (e.g. a 4xx response).
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &noRetryError{err: err}
}

// IsNoRetry reports whether err (or anything it wraps) was marked NoRetry.
func IsNoRetry(err error) bool {
	var nr *noRetryError
	return errors.As(err, &nr)
}

type retryAfterError struct {
	err   error
	delay time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

// RetryAfter marks err as retryable no earlier than d from now.
func RetryAfter(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	if d < 0 {
		d = 0
	}
	return &retryAfterError{err: err, delay: d}
}

// RetryDelay extracts a RetryAfter override from err, if any.
func RetryDelay(err error) (time.Duration, bool) {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		return ra.delay, true
	}
	return 0, false
}
