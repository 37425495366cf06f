package capability

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "dotted", input: "umls.get_related", want: "umls_get_related"},
		{name: "already safe", input: "ctgov_search", want: "ctgov_search"},
		{name: "dash kept", input: "open-targets.safety", want: "open-targets_safety"},
		{name: "spaces and slashes", input: "a b/c", want: "a_b_c"},
		{name: "multibyte rune", input: "café", want: "caf_"},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr {
				var se *SchemaError
				if !errors.As(err, &se) {
					t.Fatalf("expected SchemaError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	names := []string{"pubmed.search", "opentargets.tractability", "x-y.z", "oncology.path_query", "ünïcode.name"}
	for _, n := range names {
		once, err := Normalize(n)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", n, err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", once, err)
		}
		if once != twice {
			t.Errorf("not idempotent: %q -> %q -> %q", n, once, twice)
		}
	}
}

func TestNewRegistry_MixedShapes(t *testing.T) {
	data := []byte(`[
		{"name": "pubmed.search", "description": "Search PubMed", "parameters": {"type":"object","properties":{"query":{"type":"string"}}}},
		{"type": "function", "function": {"name": "umls.get_related", "parameters": {"type":"object","properties":{"cui":{"type":"string"}},"required":["cui"]}}}
	]`)
	inputs, err := ParseInputs(data)
	if err != nil {
		t.Fatalf("ParseInputs: %v", err)
	}
	if inputs[0].Shape != ShapePlain || inputs[1].Shape != ShapeWrapped {
		t.Fatalf("shapes = %v, %v", inputs[0].Shape, inputs[1].Shape)
	}

	reg, err := NewRegistry(inputs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	caps := reg.Capabilities()
	if len(caps) != 2 {
		t.Fatalf("expected 2 capabilities, got %d", len(caps))
	}
	if caps[0].DispatchID != "pubmed_search" || caps[1].DispatchID != "umls_get_related" {
		t.Errorf("dispatch ids = %q, %q", caps[0].DispatchID, caps[1].DispatchID)
	}
	if name, ok := reg.OriginalName("umls_get_related"); !ok || name != "umls.get_related" {
		t.Errorf("OriginalName = %q, %v", name, ok)
	}
	if caps[0].Description != "Search PubMed" {
		t.Errorf("description = %q", caps[0].Description)
	}
}

func TestNewRegistry_Collision(t *testing.T) {
	_, err := NewRegistry(
		Plain(Descriptor{Name: "a.b"}),
		Plain(Descriptor{Name: "a_b"}),
	)
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if len(se.Names) != 2 || se.Names[0] != "a.b" || se.Names[1] != "a_b" {
		t.Errorf("names = %v", se.Names)
	}
	if !strings.Contains(err.Error(), `"a.b"`) || !strings.Contains(err.Error(), `"a_b"`) {
		t.Errorf("error should name both descriptors: %v", err)
	}
}

func TestNewRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input []Input
	}{
		{
			name:  "duplicate name",
			input: []Input{Plain(Descriptor{Name: "x"}), Wrapped(Descriptor{Name: "x"})},
		},
		{
			name:  "empty name",
			input: []Input{Plain(Descriptor{Name: ""})},
		},
		{
			name:  "non-object parameters",
			input: []Input{Plain(Descriptor{Name: "x", Parameters: json.RawMessage(`[1,2]`)})},
		},
		{
			name:  "wrapper type not function",
			input: []Input{{Shape: ShapeWrapped, Descriptor: Descriptor{Name: "x"}, wrapperType: "retrieval"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.input...)
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("expected SchemaError, got %v", err)
			}
		})
	}
}

func TestNewRegistry_DefaultParameters(t *testing.T) {
	reg, err := NewRegistry(Plain(Descriptor{Name: "ping"}))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	c, _ := reg.Get("ping")
	if string(c.Parameters) != `{"type":"object","properties":{}}` {
		t.Errorf("parameters = %s", c.Parameters)
	}
}

func TestRegistry_InputsRoundTrip(t *testing.T) {
	reg, err := NewRegistry(
		Plain(Descriptor{Name: "pubmed.search"}),
		Wrapped(Descriptor{Name: "opentargets.safety"}),
		Plain(Descriptor{Name: "ctgov_search"}),
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	again, err := NewRegistry(reg.Inputs()...)
	if err != nil {
		t.Fatalf("NewRegistry(Inputs()): %v", err)
	}
	a, b := reg.DispatchIDs(), again.DispatchIDs()
	if strings.Join(a, ",") != strings.Join(b, ",") {
		t.Errorf("dispatch ids changed: %v -> %v", a, b)
	}
}

func TestRegistry_CapabilitiesAreCopies(t *testing.T) {
	reg, err := NewRegistry(Plain(Descriptor{Name: "x", Parameters: json.RawMessage(`{"type":"object"}`)}))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	caps := reg.Capabilities()
	caps[0].DispatchID = "mutated"
	caps[0].Parameters[0] = '['

	again := reg.Capabilities()
	if again[0].DispatchID != "x" || again[0].Parameters[0] != '{' {
		t.Errorf("registry state leaked through Capabilities(): %+v", again[0])
	}
}

func TestInput_MarshalKeepsShape(t *testing.T) {
	in := Wrapped(Descriptor{Name: "umls.concept_lookup"})
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"type":"function"`) {
		t.Errorf("wrapped shape lost: %s", b)
	}

	var back Input
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Shape != ShapeWrapped || back.Descriptor.Name != "umls.concept_lookup" {
		t.Errorf("decoded = %+v", back)
	}
}
