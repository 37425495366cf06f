package builtins

import (
	"context"
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"

	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/debug"
)

// DefaultOpenTargetsURL is the Open Targets Platform API.
const DefaultOpenTargetsURL = "https://api.platform.opentargets.org/api/v4"

var ensemblIDRe = regexp.MustCompile(`^ENSG\d{11}$`)

// OpenTargets queries target-disease evidence from the Open Targets
// Platform GraphQL API.
type OpenTargets struct {
	f *fetcher
}

// NewOpenTargets creates the Open Targets source.
func NewOpenTargets(cfg HTTPConfig) *OpenTargets {
	return &OpenTargets{f: newFetcher("opentargets", DefaultOpenTargetsURL, cfg)}
}

type targetSearchArgs struct {
	Target     string `json:"target" jsonschema:"required,description=Gene symbol or Ensembl gene ID such as EGFR or ENSG00000146648"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of associated diseases (default 10)"`
}

type targetArgs struct {
	Target string `json:"target" jsonschema:"required,description=Gene symbol or Ensembl gene ID"`
}

const (
	searchTargetQuery = `query SearchTarget($q: String!) {
  search(queryString: $q, entityNames: ["target"], page: {index: 0, size: 1}) {
    hits { id name }
  }
}`

	associatedDiseasesQuery = `query AssociatedDiseases($id: String!, $size: Int!) {
  target(ensemblId: $id) {
    id
    approvedSymbol
    associatedDiseases(page: {index: 0, size: $size}) {
      count
      rows { score disease { id name } }
    }
  }
}`

	tractabilityQuery = `query Tractability($id: String!) {
  target(ensemblId: $id) {
    id
    approvedSymbol
    tractability { label modality value }
  }
}`

	safetyQuery = `query Safety($id: String!) {
  target(ensemblId: $id) {
    id
    approvedSymbol
    safetyLiabilities {
      event
      datasource
      effects { direction dosing }
      biosamples { tissueLabel }
    }
  }
}`
)

// Name implements capability.Source.
func (o *OpenTargets) Name() string { return "opentargets" }

// Close implements capability.Source.
func (o *OpenTargets) Close() error { return nil }

// Bindings implements capability.Source.
func (o *OpenTargets) Bindings() []capability.Binding {
	return []capability.Binding{
		{
			Input: capability.Plain(capability.Descriptor{
				Name:        "opentargets.search",
				Description: "List diseases associated with a drug target, ranked by Open Targets association score.",
				Parameters:  capability.ParametersFor[targetSearchArgs](),
			}),
			Impl: capability.Typed(func(ctx context.Context, in targetSearchArgs) (any, error) {
				return o.AssociatedDiseases(ctx, in.Target, in.MaxResults)
			}),
		},
		{
			Input: capability.Plain(capability.Descriptor{
				Name:        "opentargets.tractability",
				Description: "Report small-molecule, antibody and other modality tractability of a target.",
				Parameters:  capability.ParametersFor[targetArgs](),
			}),
			Impl: capability.Typed(func(ctx context.Context, in targetArgs) (any, error) {
				return o.Tractability(ctx, in.Target)
			}),
		},
		{
			Input: capability.Plain(capability.Descriptor{
				Name:        "opentargets.safety",
				Description: "Report known safety liabilities of a target.",
				Parameters:  capability.ParametersFor[targetArgs](),
			}),
			Impl: capability.Typed(func(ctx context.Context, in targetArgs) (any, error) {
				return o.Safety(ctx, in.Target)
			}),
		},
	}
}

// AssociatedDiseases returns the top associated diseases of target.
func (o *OpenTargets) AssociatedDiseases(ctx context.Context, target string, maxResults int) (map[string]any, error) {
	t, err := o.target(ctx, associatedDiseasesQuery, target, map[string]any{"size": clamp(maxResults, 10, 50)})
	if err != nil {
		return nil, err
	}
	var diseases []map[string]any
	t.Get("associatedDiseases.rows").ForEach(func(_, row gjson.Result) bool {
		diseases = append(diseases, map[string]any{
			"id":    row.Get("disease.id").String(),
			"name":  row.Get("disease.name").String(),
			"score": row.Get("score").Float(),
		})
		return true
	})
	return map[string]any{
		"target":   t.Get("id").String(),
		"symbol":   t.Get("approvedSymbol").String(),
		"total":    t.Get("associatedDiseases.count").Int(),
		"diseases": diseases,
	}, nil
}

// Tractability returns the positive tractability assessments of target.
func (o *OpenTargets) Tractability(ctx context.Context, target string) (map[string]any, error) {
	t, err := o.target(ctx, tractabilityQuery, target, nil)
	if err != nil {
		return nil, err
	}
	byModality := map[string][]string{}
	t.Get("tractability").ForEach(func(_, tr gjson.Result) bool {
		if tr.Get("value").Bool() {
			m := tr.Get("modality").String()
			byModality[m] = append(byModality[m], tr.Get("label").String())
		}
		return true
	})
	return map[string]any{
		"target":       t.Get("id").String(),
		"symbol":       t.Get("approvedSymbol").String(),
		"tractability": byModality,
	}, nil
}

// Safety returns the safety liabilities of target.
func (o *OpenTargets) Safety(ctx context.Context, target string) (map[string]any, error) {
	t, err := o.target(ctx, safetyQuery, target, nil)
	if err != nil {
		return nil, err
	}
	var liabilities []map[string]any
	t.Get("safetyLiabilities").ForEach(func(_, l gjson.Result) bool {
		liabilities = append(liabilities, map[string]any{
			"event":      l.Get("event").String(),
			"datasource": l.Get("datasource").String(),
			"effects":    stringSlice(l.Get("effects.#.direction")),
			"tissues":    stringSlice(l.Get("biosamples.#.tissueLabel")),
		})
		return true
	})
	return map[string]any{
		"target":      t.Get("id").String(),
		"symbol":      t.Get("approvedSymbol").String(),
		"liabilities": liabilities,
	}, nil
}

// target resolves target to an Ensembl ID and runs query against it.
func (o *OpenTargets) target(ctx context.Context, query, target string, vars map[string]any) (gjson.Result, error) {
	id, err := o.resolve(ctx, target)
	if err != nil {
		return gjson.Result{}, err
	}
	if vars == nil {
		vars = map[string]any{}
	}
	vars["id"] = id
	data, err := o.graphql(ctx, query, vars)
	if err != nil {
		return gjson.Result{}, err
	}
	t := data.Get("target")
	if !t.Exists() || t.Type == gjson.Null {
		return gjson.Result{}, &capability.CapabilityError{Message: fmt.Sprintf("target %s not found in Open Targets", id)}
	}
	return t, nil
}

func (o *OpenTargets) resolve(ctx context.Context, target string) (string, error) {
	if ensemblIDRe.MatchString(target) {
		return target, nil
	}
	data, err := o.graphql(ctx, searchTargetQuery, map[string]any{"q": target})
	if err != nil {
		return "", err
	}
	id := data.Get("search.hits.0.id").String()
	if id == "" {
		return "", &capability.CapabilityError{Message: fmt.Sprintf("no Open Targets target matches %q", target)}
	}
	return id, nil
}

// graphql posts one query and returns its data object.
func (o *OpenTargets) graphql(ctx context.Context, query string, vars map[string]any) (gjson.Result, error) {
	body, err := o.f.postJSON(ctx, "/graphql", map[string]any{"query": query, "variables": vars}, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("opentargets returned invalid JSON: %s", debug.Truncate(string(body), 200))
	}
	res := gjson.ParseBytes(body)
	if errs := res.Get("errors"); errs.IsArray() && len(errs.Array()) > 0 {
		return gjson.Result{}, fmt.Errorf("opentargets: %s", errs.Get("0.message").String())
	}
	return res.Get("data"), nil
}
