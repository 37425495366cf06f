package capability

import (
	"encoding/json"
	"fmt"
	"log/slog"

	invopop "github.com/invopop/jsonschema"
)

// Binding pairs a descriptor with the implementation that serves it.
type Binding struct {
	Input Input
	Impl  Implementation
}

// Source contributes a set of capabilities. Builtin adapters, MCP servers
// and NATS services all implement it.
type Source interface {
	// Name identifies the source in logs (e.g., "umls", "mcp:pubmed").
	Name() string

	// Bindings returns the capabilities this source serves.
	Bindings() []Binding

	// Close releases any resources held by the source.
	Close() error
}

// Assemble builds one Registry and Table from several sources. Descriptor
// collisions across sources fail the same way they do within one source.
func Assemble(sources ...Source) (*Registry, *Table, error) {
	var inputs []Input
	impls := make(map[string]Implementation)

	for _, src := range sources {
		bindings := src.Bindings()
		for _, b := range bindings {
			name := b.Input.Descriptor.Name
			if _, dup := impls[name]; dup {
				return nil, nil, &SchemaError{Names: []string{name, name}, Reason: fmt.Sprintf("duplicate capability name from source %s", src.Name())}
			}
			inputs = append(inputs, b.Input)
			impls[name] = b.Impl
		}
		slog.Info("registered capability source", "source", src.Name(), "capabilities", len(bindings))
	}

	reg, err := NewRegistry(inputs...)
	if err != nil {
		return nil, nil, err
	}
	table, err := NewTable(reg, impls)
	if err != nil {
		return nil, nil, err
	}
	return reg, table, nil
}

// ParametersFor reflects a JSON Schema from an argument struct. Field
// descriptions come from `jsonschema:"description=..."` tags.
func ParametersFor[T any]() json.RawMessage {
	r := &invopop.Reflector{
		DoNotReference:             true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
	}
	var zero T
	s := r.Reflect(&zero)
	s.Version = ""
	b, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("capability: reflecting parameters for %T: %v", zero, err))
	}
	return b
}
