package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maia-bench/maia/pkg/observability"
)

// Implementation executes one capability. Arguments arrive as the raw JSON
// object emitted by the model; the result must be JSON-encodable. A failure
// should be returned as an error, never as a partial result.
type Implementation interface {
	Invoke(ctx context.Context, args json.RawMessage) (any, error)
}

// Func adapts a function to the Implementation interface.
type Func func(ctx context.Context, args json.RawMessage) (any, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	return f(ctx, args)
}

// Typed adapts a function taking a decoded argument struct.
func Typed[In any](fn func(ctx context.Context, in In) (any, error)) Implementation {
	return Func(func(ctx context.Context, args json.RawMessage) (any, error) {
		var in In
		if len(bytes.TrimSpace(args)) > 0 {
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, &CapabilityError{Message: fmt.Sprintf("decoding arguments: %v", err), Err: err}
			}
		}
		return fn(ctx, in)
	})
}

// Table maps dispatch IDs to implementations. It is immutable after
// construction and safe for concurrent use.
type Table struct {
	registry *Registry
	impls    map[string]Implementation
}

// NewTable binds implementations to the capabilities of reg. Keys may be
// either the original descriptor name or the dispatch ID. Every capability
// of reg must be bound, and every key must name a capability of reg;
// otherwise NewTable returns a *DispatchError.
func NewTable(reg *Registry, impls map[string]Implementation) (*Table, error) {
	t := &Table{registry: reg, impls: make(map[string]Implementation, reg.Len())}

	for key, impl := range impls {
		id, ok := reg.resolve(key)
		if !ok {
			return nil, &DispatchError{DispatchID: key, Reason: "implementation names no registered capability"}
		}
		if _, dup := t.impls[id]; dup {
			return nil, &DispatchError{DispatchID: id, Reason: "bound more than once"}
		}
		if impl == nil {
			return nil, &DispatchError{DispatchID: id, Reason: "nil implementation"}
		}
		t.impls[id] = impl
	}

	for _, id := range reg.DispatchIDs() {
		if _, ok := t.impls[id]; !ok {
			return nil, &DispatchError{DispatchID: id}
		}
	}
	return t, nil
}

// resolve maps an implementation key to a dispatch ID.
func (r *Registry) resolve(key string) (string, bool) {
	if _, ok := r.byID[key]; ok {
		return key, true
	}
	id, err := Normalize(key)
	if err != nil {
		return "", false
	}
	if name, ok := r.OriginalName(id); ok && name == key {
		return id, true
	}
	return "", false
}

// Registry returns the registry the table was built from.
func (t *Table) Registry() *Registry { return t.registry }

// Lookup returns the implementation for a dispatch ID, or a *DispatchError.
func (t *Table) Lookup(dispatchID string) (Implementation, error) {
	impl, ok := t.impls[dispatchID]
	if !ok {
		return nil, &DispatchError{DispatchID: dispatchID}
	}
	return impl, nil
}

// Invoke validates args against the capability's parameter schema and runs
// its implementation. An unknown dispatch ID yields a *DispatchError; every
// other failure, including a panic inside the implementation, yields a
// *CapabilityError.
func (t *Table) Invoke(ctx context.Context, dispatchID string, args json.RawMessage) (result any, err error) {
	impl, err := t.Lookup(dispatchID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("capability panicked", "capability", dispatchID, "panic", rec)
			result = nil
			err = NewCapabilityError(dispatchID, "internal error: panic: %v", rec)
		}
		status := "success"
		if err != nil {
			status = "error"
		}
		observability.CapabilityInvocationsTotal.WithLabelValues(dispatchID, status).Inc()
		observability.CapabilityDuration.WithLabelValues(dispatchID).Observe(time.Since(start).Seconds())
	}()

	args, err = t.validate(dispatchID, args)
	if err != nil {
		return nil, err
	}

	result, err = impl.Invoke(ctx, args)
	if err != nil {
		var ce *CapabilityError
		if errors.As(err, &ce) {
			if ce.DispatchID == "" {
				ce.DispatchID = dispatchID
			}
			return nil, ce
		}
		return nil, &CapabilityError{DispatchID: dispatchID, Err: err}
	}
	return result, nil
}

func (t *Table) validate(dispatchID string, args json.RawMessage) (json.RawMessage, error) {
	args = bytes.TrimSpace(args)
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return nil, &CapabilityError{DispatchID: dispatchID, Message: fmt.Sprintf("arguments are not valid JSON: %v", err), Err: err}
	}
	schema := t.registry.schema(dispatchID)
	if schema == nil {
		return args, nil
	}
	if res := schema.Validate(decoded); !res.IsValid() {
		return nil, &CapabilityError{DispatchID: dispatchID, Message: fmt.Sprintf("arguments do not match schema: %s", res.Error())}
	}
	return args, nil
}
