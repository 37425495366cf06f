// Package capability normalizes capability descriptors into dispatch-safe
// canonical form and routes invocation requests to local implementations.
//
// A Registry is built once from a list of descriptor inputs and is immutable
// afterwards. A Table binds every dispatch ID of a Registry to an
// Implementation. Both are safe for concurrent read-only use.
package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Shape identifies which of the two accepted descriptor layouts an Input used.
type Shape int

const (
	// ShapePlain is {"name": ..., "description": ..., "parameters": ...}.
	ShapePlain Shape = iota
	// ShapeWrapped is {"type": "function", "function": {...plain...}}.
	ShapeWrapped
)

// String returns the shape name.
func (s Shape) String() string {
	switch s {
	case ShapePlain:
		return "plain"
	case ShapeWrapped:
		return "wrapped"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Descriptor describes one externally invocable operation.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Input is a descriptor in one of the two accepted shapes. The shape is
// resolved when the Input is built or decoded, never later.
type Input struct {
	Shape      Shape
	Descriptor Descriptor

	// wrapperType is the "type" field of a wrapped input. NewRegistry
	// rejects anything but "function".
	wrapperType string
}

// Plain returns an Input in the unwrapped shape.
func Plain(d Descriptor) Input {
	return Input{Shape: ShapePlain, Descriptor: d}
}

// Wrapped returns an Input in the {"type":"function"} shape.
func Wrapped(d Descriptor) Input {
	return Input{Shape: ShapeWrapped, Descriptor: d, wrapperType: "function"}
}

type wrappedJSON struct {
	Type     string      `json:"type"`
	Function *Descriptor `json:"function"`
}

// UnmarshalJSON decodes either shape. The presence of a top-level "type"
// key selects the wrapped shape.
func (in *Input) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("capability descriptor: %w", err)
	}

	if _, ok := probe["type"]; !ok {
		var d Descriptor
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("capability descriptor: %w", err)
		}
		*in = Plain(d)
		return nil
	}

	var w wrappedJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("capability descriptor: %w", err)
	}
	*in = Input{Shape: ShapeWrapped, wrapperType: w.Type}
	if w.Function != nil {
		in.Descriptor = *w.Function
	}
	return nil
}

// MarshalJSON encodes the Input in the shape it was built with.
func (in Input) MarshalJSON() ([]byte, error) {
	if in.Shape == ShapeWrapped {
		typ := in.wrapperType
		if typ == "" {
			typ = "function"
		}
		d := in.Descriptor
		return json.Marshal(wrappedJSON{Type: typ, Function: &d})
	}
	return json.Marshal(in.Descriptor)
}

// ParseInputs decodes a JSON array of descriptors in either shape.
func ParseInputs(data []byte) ([]Input, error) {
	var inputs []Input
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&inputs); err != nil {
		return nil, fmt.Errorf("decoding capability descriptors: %w", err)
	}
	return inputs, nil
}
