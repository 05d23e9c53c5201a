package sef

import (
	"errors"
	"fmt"
)

// ErrMaintenance marks responses sent while the exchange is inside a
// scheduled maintenance window. It is retryable, but callers should
// reschedule instead of burning local retries against a platform that is
// known to be down.
var ErrMaintenance = errors.New("exchange unavailable: scheduled maintenance window")

// ErrRetriesExhausted wraps the last transient error once the attempt cap is
// reached. The submission is then marked failed_permanent.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrSubmissionInFlight is returned when a second submission is requested for
// an invoice that already has a non-terminal lineage.
var ErrSubmissionInFlight = errors.New("submission already in flight for invoice")

// TransientError covers HTTP 429, 5xx and connection-level failures. These
// are retried with backoff.
type TransientError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient exchange error: %v", e.Err)
	}
	return fmt.Sprintf("transient exchange error: status=%d body=%s", e.StatusCode, truncate(e.Body, 200))
}

func (e *TransientError) Unwrap() error { return e.Err }

// RejectionError covers 4xx responses other than 429. The exchange rejected
// the request; retrying the same payload cannot succeed.
type RejectionError struct {
	StatusCode int
	Body       string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("exchange rejected request: status=%d body=%s", e.StatusCode, truncate(e.Body, 200))
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t) || errors.Is(err, ErrMaintenance)
}

// IsPermanent reports whether err is a definitive rejection.
func IsPermanent(err error) bool {
	var r *RejectionError
	return errors.As(err, &r)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
