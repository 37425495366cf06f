// Package terminology defines the terminology collaborator used by the
// UMLS capabilities: point lookups by concept identifier (CUI) returning
// preferred terms, synonyms, definitions, semantic types and typed
// relationship edges.
package terminology

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a term or concept is unknown.
var ErrNotFound = errors.New("terminology: not found")

// Definition is one source definition of a concept.
type Definition struct {
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Text   string `json:"text" yaml:"text"`
}

// SemanticType is a UMLS semantic type assignment.
type SemanticType struct {
	TUI  string `json:"tui" yaml:"tui"`
	Name string `json:"name" yaml:"name"`
}

// Concept is the point-lookup view of one CUI.
type Concept struct {
	CUI           string         `json:"cui" yaml:"cui"`
	PreferredTerm string         `json:"preferred_term" yaml:"preferred_term"`
	Synonyms      []string       `json:"synonyms,omitempty" yaml:"synonyms,omitempty"`
	Definitions   []Definition   `json:"definitions,omitempty" yaml:"definitions,omitempty"`
	SemanticTypes []SemanticType `json:"semantic_types,omitempty" yaml:"semantic_types,omitempty"`
}

// Relation is a typed relationship edge between two concepts.
type Relation struct {
	SourceCUI       string `json:"source_cui" yaml:"source_cui"`
	SourceTerm      string `json:"source_term,omitempty" yaml:"source_term,omitempty"`
	Relation        string `json:"relation" yaml:"relation"`
	RelationSubtype string `json:"relation_subtype,omitempty" yaml:"relation_subtype,omitempty"`
	TargetCUI       string `json:"target_cui" yaml:"target_cui"`
	TargetTerm      string `json:"target_term,omitempty" yaml:"target_term,omitempty"`
	Source          string `json:"source" yaml:"source"`
}

// Direction selects which end of an edge must match the queried CUI.
type Direction int

const (
	// Outgoing matches edges whose source is the queried CUI.
	Outgoing Direction = iota
	// Incoming matches edges whose target is the queried CUI.
	Incoming
	// Both matches either end.
	Both
)

// RelationQuery filters relationship edges. Zero fields do not filter.
type RelationQuery struct {
	Direction Direction

	// Relation is the REL column, e.g. "PAR" or "RO".
	Relation string

	// Subtypes restricts the RELA column to any of these values.
	Subtypes []string

	// Source restricts the edge and both concept names to one vocabulary
	// (SAB), e.g. "SNOMEDCT_US".
	Source string

	// ExcludeSources drops edges from these vocabularies.
	ExcludeSources []string

	// Limit caps the number of edges; zero means DefaultRelationLimit.
	Limit int
}

// DefaultRelationLimit bounds relation lookups that set no Limit.
const DefaultRelationLimit = 200

// EffectiveLimit returns the limit to apply.
func (q RelationQuery) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultRelationLimit
	}
	return q.Limit
}

// Store is the terminology lookup contract. Implementations must be safe
// for concurrent use.
type Store interface {
	// LookupCUIs returns the CUIs whose preferred English term equals or
	// starts with term. It returns ErrNotFound when nothing matches.
	LookupCUIs(ctx context.Context, term string) ([]string, error)

	// Concept returns the concept summary. It returns ErrNotFound for an
	// unknown CUI.
	Concept(ctx context.Context, cui string) (*Concept, error)

	// Relations returns the edges touching cui that match q. An empty
	// result is not an error.
	Relations(ctx context.Context, cui string, q RelationQuery) ([]Relation, error)

	// Close releases resources.
	Close() error
}

// Canned relation queries over SNOMED CT and the UMLS relation subtypes.
var (
	// RelatedQuery returns "other" relations, excluding NCI.
	RelatedQuery = RelationQuery{Direction: Outgoing, Relation: "RO", ExcludeSources: []string{"NCI"}}

	// ParentsQuery returns SNOMED CT parents.
	ParentsQuery = RelationQuery{Direction: Outgoing, Relation: "PAR", Subtypes: []string{"inverse_isa"}, Source: "SNOMEDCT_US"}

	// ChildrenQuery returns SNOMED CT children.
	ChildrenQuery = RelationQuery{Direction: Incoming, Relation: "PAR", Subtypes: []string{"inverse_isa"}, Source: "SNOMEDCT_US"}

	// TreatmentsQuery returns may_treat edges.
	TreatmentsQuery = RelationQuery{Direction: Outgoing, Subtypes: []string{"may_treat"}}

	// ManifestationsQuery returns SNOMED CT manifestation edges.
	ManifestationsQuery = RelationQuery{Direction: Outgoing, Subtypes: []string{"has_manifestation", "manifestation_of"}, Source: "SNOMEDCT_US"}

	// AssociatedFindingsQuery returns SNOMED CT finding and interpretation edges.
	AssociatedFindingsQuery = RelationQuery{
		Direction: Outgoing,
		Subtypes:  []string{"has_associated_finding", "associated_finding_of", "see_from", "see", "interprets", "is_interpreted_by"},
		Source:    "SNOMEDCT_US",
	}

	// TradenamesQuery returns tradename_of edges.
	TradenamesQuery = RelationQuery{Direction: Outgoing, Subtypes: []string{"tradename_of"}}
)

// Named returns a canned query by its short name ("related", "parents",
// "children", "treatments", "manifestations", "associated_findings",
// "tradenames").
func Named(name string) (RelationQuery, bool) {
	q, ok := namedQueries[name]
	return q, ok
}

var namedQueries = map[string]RelationQuery{
	"related":             RelatedQuery,
	"parents":             ParentsQuery,
	"children":            ChildrenQuery,
	"treatments":          TreatmentsQuery,
	"manifestations":      ManifestationsQuery,
	"associated_findings": AssociatedFindingsQuery,
	"tradenames":          TradenamesQuery,
}
