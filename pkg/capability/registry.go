package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonschema"
)

var dispatchIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// defaultParameters is used when a descriptor declares no parameters.
var defaultParameters = json.RawMessage(`{"type":"object","properties":{}}`)

// Normalize derives the dispatch ID for a capability name: every character
// outside [A-Za-z0-9_-] becomes '_'. It fails with a SchemaError when the
// result is not a valid dispatch ID (the empty name).
func Normalize(name string) (string, error) {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if isDispatchSafe(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	id := b.String()
	if !dispatchIDPattern.MatchString(id) {
		return "", &SchemaError{Names: []string{name}, Reason: "name does not normalize to a valid dispatch id"}
	}
	return id, nil
}

func isDispatchSafe(r rune) bool {
	return r >= 'a' && r <= 'z' ||
		r >= 'A' && r <= 'Z' ||
		r >= '0' && r <= '9' ||
		r == '_' || r == '-'
}

// Canonical is the dispatch-ready form of a descriptor.
type Canonical struct {
	DispatchID   string
	OriginalName string
	Description  string
	Parameters   json.RawMessage
}

// Registry holds the canonical capabilities derived from a descriptor list.
// It is immutable after construction.
type Registry struct {
	caps    []Canonical
	byID    map[string]int
	schemas map[string]*jsonschema.Schema
}

// NewRegistry normalizes the inputs. Construction fails with a *SchemaError
// when a descriptor is malformed, when a name repeats, or when two names
// normalize to the same dispatch ID.
func NewRegistry(inputs ...Input) (*Registry, error) {
	r := &Registry{
		caps:    make([]Canonical, 0, len(inputs)),
		byID:    make(map[string]int, len(inputs)),
		schemas: make(map[string]*jsonschema.Schema, len(inputs)),
	}
	seenNames := make(map[string]bool, len(inputs))

	for _, in := range inputs {
		d := in.Descriptor
		if in.Shape == ShapeWrapped && in.wrapperType != "function" {
			return nil, &SchemaError{
				Names:  []string{d.Name},
				Reason: fmt.Sprintf("unsupported descriptor type %q", in.wrapperType),
			}
		}
		if seenNames[d.Name] {
			return nil, &SchemaError{Names: []string{d.Name, d.Name}, Reason: "duplicate capability name"}
		}
		seenNames[d.Name] = true

		id, err := Normalize(d.Name)
		if err != nil {
			return nil, err
		}
		if idx, ok := r.byID[id]; ok {
			return nil, &SchemaError{
				Names:  []string{r.caps[idx].OriginalName, d.Name},
				Reason: fmt.Sprintf("both normalize to dispatch id %q", id),
			}
		}

		params, err := normalizeParameters(d)
		if err != nil {
			return nil, err
		}
		schema, err := jsonschema.NewCompiler().Compile(params)
		if err != nil {
			return nil, &SchemaError{Names: []string{d.Name}, Reason: fmt.Sprintf("parameters do not compile: %v", err)}
		}

		r.byID[id] = len(r.caps)
		r.schemas[id] = schema
		r.caps = append(r.caps, Canonical{
			DispatchID:   id,
			OriginalName: d.Name,
			Description:  d.Description,
			Parameters:   params,
		})
	}
	return r, nil
}

func normalizeParameters(d Descriptor) (json.RawMessage, error) {
	raw := bytes.TrimSpace(d.Parameters)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return append(json.RawMessage(nil), defaultParameters...), nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &SchemaError{Names: []string{d.Name}, Reason: "parameters must be a JSON object"}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, &SchemaError{Names: []string{d.Name}, Reason: fmt.Sprintf("parameters: %v", err)}
	}
	return buf.Bytes(), nil
}

// Capabilities returns the canonical capabilities in input order.
func (r *Registry) Capabilities() []Canonical {
	out := make([]Canonical, len(r.caps))
	for i, c := range r.caps {
		c.Parameters = append(json.RawMessage(nil), c.Parameters...)
		out[i] = c
	}
	return out
}

// Len returns the number of capabilities.
func (r *Registry) Len() int { return len(r.caps) }

// Get returns the canonical capability for a dispatch ID.
func (r *Registry) Get(dispatchID string) (Canonical, bool) {
	idx, ok := r.byID[dispatchID]
	if !ok {
		return Canonical{}, false
	}
	c := r.caps[idx]
	c.Parameters = append(json.RawMessage(nil), c.Parameters...)
	return c, true
}

// OriginalName maps a dispatch ID back to the descriptor name it came from.
func (r *Registry) OriginalName(dispatchID string) (string, bool) {
	c, ok := r.Get(dispatchID)
	return c.OriginalName, ok
}

// DispatchIDs returns the dispatch IDs in input order.
func (r *Registry) DispatchIDs() []string {
	ids := make([]string, len(r.caps))
	for i, c := range r.caps {
		ids[i] = c.DispatchID
	}
	return ids
}

// Inputs re-expresses the canonical capabilities as plain inputs named by
// dispatch ID. Feeding them back into NewRegistry yields the same IDs.
func (r *Registry) Inputs() []Input {
	out := make([]Input, len(r.caps))
	for i, c := range r.caps {
		out[i] = Plain(Descriptor{
			Name:        c.DispatchID,
			Description: c.Description,
			Parameters:  append(json.RawMessage(nil), c.Parameters...),
		})
	}
	return out
}

func (r *Registry) schema(dispatchID string) *jsonschema.Schema {
	return r.schemas[dispatchID]
}
