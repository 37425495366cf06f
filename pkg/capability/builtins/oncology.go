package builtins

import (
	"context"
	"fmt"

	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/terminology"
)

const (
	defaultMaxHops = 3
	maxHopsLimit   = 5

	// Per-node fan-out and total expansion bounds keep a search over a
	// dense vocabulary from walking the whole graph.
	pathFanOut      = 50
	pathExpandLimit = 2000
)

// Oncology answers path questions between concepts with a bounded
// breadth-first search over terminology relations.
type Oncology struct {
	store terminology.Store
}

// NewOncology wraps store.
func NewOncology(store terminology.Store) *Oncology {
	return &Oncology{store: store}
}

type pathQueryArgs struct {
	SourceCUI string `json:"source_cui" jsonschema:"required,description=Start concept CUI"`
	TargetCUI string `json:"target_cui" jsonschema:"required,description=Goal concept CUI"`
	MaxHops   int    `json:"max_hops,omitempty" jsonschema:"description=Maximum path length in edges (default 3)"`
}

// PathStep is one edge on a found path.
type PathStep struct {
	From     string `json:"from"`
	FromTerm string `json:"from_term,omitempty"`
	Relation string `json:"relation"`
	To       string `json:"to"`
	ToTerm   string `json:"to_term,omitempty"`
	Source   string `json:"source,omitempty"`
}

// PathResult is the outcome of a path query.
type PathResult struct {
	Found    bool       `json:"found"`
	Hops     int        `json:"hops"`
	Path     []PathStep `json:"path"`
	Expanded int        `json:"expanded"`
}

// Name implements capability.Source.
func (o *Oncology) Name() string { return "oncology" }

// Close implements capability.Source.
func (o *Oncology) Close() error { return nil }

// Bindings implements capability.Source.
func (o *Oncology) Bindings() []capability.Binding {
	return []capability.Binding{{
		Input: capability.Plain(capability.Descriptor{
			Name:        "oncology.path_query",
			Description: "Find the shortest relation path between two UMLS concepts, for example a drug and a tumour type.",
			Parameters:  capability.ParametersFor[pathQueryArgs](),
		}),
		Impl: capability.Typed(func(ctx context.Context, in pathQueryArgs) (any, error) {
			return o.ShortestPath(ctx, in.SourceCUI, in.TargetCUI, in.MaxHops)
		}),
	}}
}

// ShortestPath searches outgoing and incoming edges from source until
// target is reached or maxHops is exhausted.
func (o *Oncology) ShortestPath(ctx context.Context, source, target string, maxHops int) (*PathResult, error) {
	maxHops = clamp(maxHops, defaultMaxHops, maxHopsLimit)
	res := &PathResult{Path: []PathStep{}}
	if source == target {
		res.Found = true
		return res, nil
	}

	type visit struct {
		prev string
		step PathStep
	}
	seen := map[string]visit{source: {}}
	frontier := []string{source}

	for depth := 0; depth < maxHops && len(frontier) > 0; depth++ {
		var next []string
		for _, cui := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if res.Expanded >= pathExpandLimit {
				return res, nil
			}
			res.Expanded++

			rels, err := o.store.Relations(ctx, cui, terminology.RelationQuery{Direction: terminology.Both, Limit: pathFanOut})
			if err != nil {
				return nil, fmt.Errorf("expanding %s: %w", cui, err)
			}
			for _, r := range rels {
				step, neighbor := orient(r, cui)
				if _, ok := seen[neighbor]; ok {
					continue
				}
				seen[neighbor] = visit{prev: cui, step: step}
				if neighbor == target {
					for at := target; at != source; at = seen[at].prev {
						res.Path = append([]PathStep{seen[at].step}, res.Path...)
					}
					res.Found = true
					res.Hops = len(res.Path)
					return res, nil
				}
				next = append(next, neighbor)
			}
		}
		frontier = next
	}
	return res, nil
}

// orient returns r as a step leaving from and the concept it reaches.
func orient(r terminology.Relation, from string) (PathStep, string) {
	label := r.RelationSubtype
	if label == "" {
		label = r.Relation
	}
	if r.SourceCUI == from {
		return PathStep{From: r.SourceCUI, FromTerm: r.SourceTerm, Relation: label, To: r.TargetCUI, ToTerm: r.TargetTerm, Source: r.Source}, r.TargetCUI
	}
	return PathStep{From: r.TargetCUI, FromTerm: r.TargetTerm, Relation: "inverse_of:" + label, To: r.SourceCUI, ToTerm: r.SourceTerm, Source: r.Source}, r.SourceCUI
}
