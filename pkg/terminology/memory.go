package terminology

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Fixture seeds a MemoryStore. Relation terms are filled from Concepts
// when left empty.
type Fixture struct {
	Concepts  []Concept  `json:"concepts" yaml:"concepts"`
	Relations []Relation `json:"relations" yaml:"relations"`
}

// MemoryStore is an in-process Store over a fixed fixture. It serves
// tests and offline development.
type MemoryStore struct {
	mu        sync.RWMutex
	concepts  map[string]Concept
	order     []string
	relations []Relation
}

// NewMemoryStore indexes the fixture. Later concepts with the same CUI
// replace earlier ones.
func NewMemoryStore(f Fixture) *MemoryStore {
	s := &MemoryStore{concepts: make(map[string]Concept, len(f.Concepts))}
	for _, c := range f.Concepts {
		if _, ok := s.concepts[c.CUI]; !ok {
			s.order = append(s.order, c.CUI)
		}
		s.concepts[c.CUI] = c
	}
	for _, r := range f.Relations {
		if r.SourceTerm == "" {
			r.SourceTerm = s.concepts[r.SourceCUI].PreferredTerm
		}
		if r.TargetTerm == "" {
			r.TargetTerm = s.concepts[r.TargetCUI].PreferredTerm
		}
		s.relations = append(s.relations, r)
	}
	return s
}

// LookupCUIs matches preferred terms case-insensitively, exact or prefix.
func (s *MemoryStore) LookupCUIs(_ context.Context, term string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return nil, ErrNotFound
	}
	var cuis []string
	for _, cui := range s.order {
		if strings.HasPrefix(strings.ToLower(s.concepts[cui].PreferredTerm), needle) {
			cuis = append(cuis, cui)
		}
	}
	if len(cuis) == 0 {
		return nil, ErrNotFound
	}
	return cuis, nil
}

// Concept returns a copy of the stored concept.
func (s *MemoryStore) Concept(_ context.Context, cui string) (*Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.concepts[cui]
	if !ok {
		return nil, ErrNotFound
	}
	c.Synonyms = slices.Clone(c.Synonyms)
	c.Definitions = slices.Clone(c.Definitions)
	c.SemanticTypes = slices.Clone(c.SemanticTypes)
	return &c, nil
}

// Relations filters the stored edges with q.
func (s *MemoryStore) Relations(_ context.Context, cui string, q RelationQuery) ([]Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.EffectiveLimit()
	out := []Relation{}
	for _, r := range s.relations {
		if !Matches(r, cui, q) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Add appends edges. It exists for dev fixtures assembled incrementally.
func (s *MemoryStore) Add(rels ...Relation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relations = append(s.relations, rels...)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Matches reports whether edge r touches cui and satisfies q.
func Matches(r Relation, cui string, q RelationQuery) bool {
	switch q.Direction {
	case Outgoing:
		if r.SourceCUI != cui {
			return false
		}
	case Incoming:
		if r.TargetCUI != cui {
			return false
		}
	default:
		if r.SourceCUI != cui && r.TargetCUI != cui {
			return false
		}
	}
	if q.Relation != "" && r.Relation != q.Relation {
		return false
	}
	if len(q.Subtypes) > 0 && !slices.Contains(q.Subtypes, r.RelationSubtype) {
		return false
	}
	if q.Source != "" && r.Source != q.Source {
		return false
	}
	return !slices.Contains(q.ExcludeSources, r.Source)
}

var _ Store = (*MemoryStore)(nil)
