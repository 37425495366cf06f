package capability

import (
	"fmt"
	"strings"
)

// SchemaError reports a malformed or colliding capability descriptor. It is
// fatal at Registry construction.
type SchemaError struct {
	// Names lists the descriptor names involved. Collisions carry both.
	Names  []string
	Reason string
}

func (e *SchemaError) Error() string {
	if len(e.Names) == 0 {
		return "capability schema: " + e.Reason
	}
	quoted := make([]string, len(e.Names))
	for i, n := range e.Names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return fmt.Sprintf("capability schema: %s: %s", strings.Join(quoted, ", "), e.Reason)
}

// DispatchError reports a dispatch ID with no bound implementation. It is a
// contract violation and aborts an orchestration run.
type DispatchError struct {
	DispatchID string
	Reason     string
}

func (e *DispatchError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "no implementation registered"
	}
	return fmt.Sprintf("capability dispatch %q: %s", e.DispatchID, reason)
}

// CapabilityError is a capability's own failure. It is recoverable: the
// orchestrator reports it back to the model as an error payload.
type CapabilityError struct {
	DispatchID string
	Message    string
	Err        error
}

// NewCapabilityError builds a CapabilityError with a formatted message.
func NewCapabilityError(dispatchID, format string, args ...any) *CapabilityError {
	return &CapabilityError{DispatchID: dispatchID, Message: fmt.Sprintf(format, args...)}
}

func (e *CapabilityError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.DispatchID == "" {
		return "capability failed: " + msg
	}
	return fmt.Sprintf("capability %s failed: %s", e.DispatchID, msg)
}

func (e *CapabilityError) Unwrap() error { return e.Err }
