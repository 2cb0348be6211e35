package jobapi

import (
	"errors"
	"fmt"
)

// TransportError reports a failure reaching or being served by the
// remote: network faults, request timeouts and 5xx responses. These are
// retryable.
type TransportError struct {
	Op     string // "submit", "poll", "report", "cancel"
	Status int    // HTTP status, 0 for network-level failures
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("jobapi %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("jobapi %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RejectedError reports a 4xx refusal. The template (or job ID) is bad
// and retrying would reproduce the refusal.
type RejectedError struct {
	Op     string
	Status int
	Body   string // remote response, truncated
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("jobapi %s: rejected with status %d: %s", e.Op, e.Status, e.Body)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejected reports whether err is (or wraps) a RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
