package builtins

import (
	"context"
	"errors"
	"fmt"

	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/terminology"
)

const (
	maxLookupConcepts = 10
	maxRelations      = 100
)

// UMLS serves terminology capabilities from a terminology.Store.
type UMLS struct {
	store terminology.Store
}

// NewUMLS wraps store. The caller keeps ownership of store.
func NewUMLS(store terminology.Store) *UMLS {
	return &UMLS{store: store}
}

type conceptLookupArgs struct {
	Term        string `json:"term" jsonschema:"required,description=Medical term to resolve to UMLS concepts"`
	MaxConcepts int    `json:"max_concepts,omitempty" jsonschema:"description=Maximum number of concepts to return (default 5)"`
}

type relatedArgs struct {
	CUI      string `json:"cui" jsonschema:"required,description=UMLS concept identifier such as C0011849"`
	Relation string `json:"relation,omitempty" jsonschema:"description=Optional relation subtype (RELA) such as may_treat or isa"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Maximum number of relations (default 50)"`
}

type cuiArgs struct {
	CUI   string `json:"cui" jsonschema:"required,description=UMLS concept identifier such as C0011849"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of relations (default 50)"`
}

// Name implements capability.Source.
func (u *UMLS) Name() string { return "umls" }

// Close implements capability.Source.
func (u *UMLS) Close() error { return nil }

// Bindings implements capability.Source.
func (u *UMLS) Bindings() []capability.Binding {
	bindings := []capability.Binding{
		{
			Input: capability.Plain(capability.Descriptor{
				Name:        "umls.concept_lookup",
				Description: "Resolve a medical term to UMLS concepts with preferred term, synonyms, definitions and semantic types.",
				Parameters:  capability.ParametersFor[conceptLookupArgs](),
			}),
			Impl: capability.Typed(u.conceptLookup),
		},
		{
			Input: capability.Plain(capability.Descriptor{
				Name:        "umls.get_related",
				Description: "List relations of a UMLS concept, optionally restricted to one relation subtype.",
				Parameters:  capability.ParametersFor[relatedArgs](),
			}),
			Impl: capability.Typed(u.related),
		},
	}

	canned := []struct {
		name, query, description string
	}{
		{"umls.get_parents", "parents", "List SNOMED CT parent concepts (is-a) of a UMLS concept."},
		{"umls.get_children", "children", "List SNOMED CT child concepts (is-a) of a UMLS concept."},
		{"umls.get_treatments", "treatments", "List treatments linked to a UMLS concept by may_treat."},
		{"umls.get_manifestations", "manifestations", "List SNOMED CT manifestations of a UMLS concept."},
		{"umls.get_associated_findings", "associated_findings", "List SNOMED CT findings and interpretations associated with a UMLS concept."},
		{"umls.get_tradenames", "tradenames", "List trade names of a drug concept."},
	}
	for _, c := range canned {
		q, _ := terminology.Named(c.query)
		bindings = append(bindings, capability.Binding{
			Input: capability.Plain(capability.Descriptor{
				Name:        c.name,
				Description: c.description,
				Parameters:  capability.ParametersFor[cuiArgs](),
			}),
			Impl: capability.Typed(func(ctx context.Context, in cuiArgs) (any, error) {
				return u.relations(ctx, in.CUI, q, in.Limit)
			}),
		})
	}
	return bindings
}

func (u *UMLS) conceptLookup(ctx context.Context, in conceptLookupArgs) (any, error) {
	cuis, err := u.store.LookupCUIs(ctx, in.Term)
	if errors.Is(err, terminology.ErrNotFound) {
		return nil, &capability.CapabilityError{Message: fmt.Sprintf("no UMLS concept found for term %q", in.Term)}
	}
	if err != nil {
		return nil, err
	}

	n := clamp(in.MaxConcepts, 5, maxLookupConcepts)
	if len(cuis) > n {
		cuis = cuis[:n]
	}
	concepts := make([]*terminology.Concept, 0, len(cuis))
	for _, cui := range cuis {
		c, err := u.store.Concept(ctx, cui)
		if errors.Is(err, terminology.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		concepts = append(concepts, c)
	}
	return map[string]any{"term": in.Term, "concepts": concepts}, nil
}

func (u *UMLS) related(ctx context.Context, in relatedArgs) (any, error) {
	q := terminology.RelatedQuery
	if in.Relation != "" {
		// A subtype filter widens the search beyond "RO" edges.
		q = terminology.RelationQuery{Direction: terminology.Outgoing, Subtypes: []string{in.Relation}}
	}
	return u.relations(ctx, in.CUI, q, in.Limit)
}

func (u *UMLS) relations(ctx context.Context, cui string, q terminology.RelationQuery, limit int) (any, error) {
	q.Limit = clamp(limit, 50, maxRelations)
	rels, err := u.store.Relations(ctx, cui, q)
	if err != nil {
		return nil, err
	}
	return map[string]any{"cui": cui, "count": len(rels), "relations": rels}, nil
}
