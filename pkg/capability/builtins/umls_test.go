package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/terminology"
)

func fixtureStore() *terminology.MemoryStore {
	return terminology.NewMemoryStore(terminology.Fixture{
		Concepts: []terminology.Concept{
			{CUI: "C0011849", PreferredTerm: "Diabetes mellitus", Synonyms: []string{"DM"}},
			{CUI: "C0011860", PreferredTerm: "Diabetes mellitus type 2"},
			{CUI: "C0012634", PreferredTerm: "Disease"},
			{CUI: "C0025598", PreferredTerm: "Metformin"},
			{CUI: "C0006826", PreferredTerm: "Malignant neoplastic disease"},
			{CUI: "C0007097", PreferredTerm: "Carcinoma"},
			{CUI: "C0024623", PreferredTerm: "Malignant neoplasm of stomach"},
			{CUI: "C0012984", PreferredTerm: "Imatinib"},
		},
		Relations: []terminology.Relation{
			{SourceCUI: "C0011849", Relation: "PAR", RelationSubtype: "inverse_isa", TargetCUI: "C0012634", Source: "SNOMEDCT_US"},
			{SourceCUI: "C0011860", Relation: "PAR", RelationSubtype: "inverse_isa", TargetCUI: "C0011849", Source: "SNOMEDCT_US"},
			{SourceCUI: "C0025598", Relation: "RO", RelationSubtype: "may_treat", TargetCUI: "C0011860", Source: "MED-RT"},
			{SourceCUI: "C0012984", Relation: "RO", RelationSubtype: "may_treat", TargetCUI: "C0006826", Source: "MED-RT"},
			{SourceCUI: "C0007097", Relation: "PAR", RelationSubtype: "inverse_isa", TargetCUI: "C0006826", Source: "SNOMEDCT_US"},
			{SourceCUI: "C0024623", Relation: "PAR", RelationSubtype: "inverse_isa", TargetCUI: "C0007097", Source: "SNOMEDCT_US"},
		},
	})
}

func assemble(t *testing.T, sources ...capability.Source) *capability.Table {
	t.Helper()
	_, table, err := capability.Assemble(sources...)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return table
}

func invoke(t *testing.T, table *capability.Table, id, args string) any {
	t.Helper()
	res, err := table.Invoke(context.Background(), id, json.RawMessage(args))
	if err != nil {
		t.Fatalf("Invoke(%s): %v", id, err)
	}
	return res
}

func TestUMLS_Bindings(t *testing.T) {
	table := assemble(t, NewUMLS(fixtureStore()))
	want := []string{
		"umls_concept_lookup", "umls_get_related", "umls_get_parents", "umls_get_children",
		"umls_get_treatments", "umls_get_manifestations", "umls_get_associated_findings", "umls_get_tradenames",
	}
	for _, id := range want {
		if _, err := table.Lookup(id); err != nil {
			t.Errorf("Lookup(%s): %v", id, err)
		}
	}
}

func TestUMLS_ConceptLookup(t *testing.T) {
	table := assemble(t, NewUMLS(fixtureStore()))

	res := invoke(t, table, "umls_concept_lookup", `{"term":"diabetes","max_concepts":1}`).(map[string]any)
	concepts := res["concepts"].([]*terminology.Concept)
	if len(concepts) != 1 || concepts[0].CUI != "C0011849" {
		t.Errorf("concepts = %+v", concepts)
	}

	_, err := table.Invoke(context.Background(), "umls_concept_lookup", json.RawMessage(`{"term":"aspirin"}`))
	var ce *capability.CapabilityError
	if !errors.As(err, &ce) || !strings.Contains(ce.Error(), "no UMLS concept") {
		t.Errorf("expected not-found capability error, got %v", err)
	}

	_, err = table.Invoke(context.Background(), "umls_concept_lookup", json.RawMessage(`{}`))
	if !errors.As(err, &ce) {
		t.Errorf("missing term should fail schema validation, got %v", err)
	}
}

func TestUMLS_Relations(t *testing.T) {
	table := assemble(t, NewUMLS(fixtureStore()))

	tests := []struct {
		id     string
		args   string
		target string
	}{
		{id: "umls_get_parents", args: `{"cui":"C0011849"}`, target: "C0012634"},
		{id: "umls_get_children", args: `{"cui":"C0011849"}`, target: "C0011849"},
		{id: "umls_get_treatments", args: `{"cui":"C0025598"}`, target: "C0011860"},
		{id: "umls_get_related", args: `{"cui":"C0025598"}`, target: "C0011860"},
		{id: "umls_get_related", args: `{"cui":"C0011849","relation":"inverse_isa"}`, target: "C0012634"},
	}
	for _, tt := range tests {
		t.Run(tt.id+" "+tt.args, func(t *testing.T) {
			res := invoke(t, table, tt.id, tt.args).(map[string]any)
			rels := res["relations"].([]terminology.Relation)
			if len(rels) != 1 || rels[0].TargetCUI != tt.target {
				t.Errorf("relations = %+v", rels)
			}
		})
	}
}

func TestOncology_ShortestPath(t *testing.T) {
	o := NewOncology(fixtureStore())
	ctx := context.Background()

	res, err := o.ShortestPath(ctx, "C0012984", "C0024623", 3)
	if err != nil {
		t.Fatalf("ShortestPath: %v", err)
	}
	if !res.Found || res.Hops != 3 {
		t.Fatalf("result = %+v", res)
	}
	if res.Path[0].From != "C0012984" || res.Path[0].Relation != "may_treat" {
		t.Errorf("first step = %+v", res.Path[0])
	}
	last := res.Path[len(res.Path)-1]
	if last.To != "C0024623" || !strings.HasPrefix(last.Relation, "inverse_of:") {
		t.Errorf("last step = %+v", last)
	}

	res, err = o.ShortestPath(ctx, "C0012984", "C0024623", 2)
	if err != nil {
		t.Fatalf("ShortestPath: %v", err)
	}
	if res.Found || len(res.Path) != 0 {
		t.Errorf("expected no path within 2 hops, got %+v", res)
	}

	res, _ = o.ShortestPath(ctx, "C0012984", "C0012984", 0)
	if !res.Found || res.Hops != 0 {
		t.Errorf("self path = %+v", res)
	}
}

func TestOncology_ViaTable(t *testing.T) {
	table := assemble(t, NewOncology(fixtureStore()))
	res := invoke(t, table, "oncology_path_query", `{"source_cui":"C0025598","target_cui":"C0011849"}`).(*PathResult)
	if !res.Found || res.Hops != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestOncology_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewOncology(fixtureStore()).ShortestPath(ctx, "C0012984", "C0024623", 3); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
