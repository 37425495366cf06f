package retry

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/maia-bench/maia/pkg/api"
)

// Class labels a failed attempt. Every class is retried.
type Class string

const (
	// ClassMalformed is a request the service rejected as invalid.
	ClassMalformed Class = "malformed"
	// ClassInvalidOutput is a response that could not be used, such as
	// non-JSON content in structured-output mode.
	ClassInvalidOutput Class = "invalid_output"
	// ClassTimeout is a per-attempt timeout or a network timeout.
	ClassTimeout Class = "timeout"
	// ClassCanceled is a parent-context cancellation; it stops retrying.
	ClassCanceled Class = "canceled"
	// ClassTransient is everything else.
	ClassTransient Class = "transient"
)

// Classify labels err for logging and metrics.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) || api.IsType(err, api.ErrorTypeTimeout) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	if api.IsType(err, api.ErrorTypeInvalidRequest) {
		return ClassMalformed
	}
	if api.IsType(err, api.ErrorTypeModelError) {
		return ClassInvalidOutput
	}
	return ClassTransient
}

// TransientCallError is one failed attempt of a call that may succeed on
// retry.
type TransientCallError struct {
	Attempt int
	Class   Class
	Err     error
}

func (e *TransientCallError) Error() string {
	return fmt.Sprintf("attempt %d (%s): %v", e.Attempt, e.Class, e.Err)
}

func (e *TransientCallError) Unwrap() error { return e.Err }
