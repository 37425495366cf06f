package builtins

import (
	"context"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/maia-bench/maia/pkg/capability"
)

// DefaultClinicalTrialsURL is the ClinicalTrials.gov v2 API.
const DefaultClinicalTrialsURL = "https://clinicaltrials.gov/api/v2"

// ClinicalTrials searches registered studies.
type ClinicalTrials struct {
	f *fetcher
}

// NewClinicalTrials creates the ClinicalTrials.gov source.
func NewClinicalTrials(cfg HTTPConfig) *ClinicalTrials {
	return &ClinicalTrials{f: newFetcher("ctgov", DefaultClinicalTrialsURL, cfg)}
}

type ctgovArgs struct {
	Condition    string `json:"condition,omitempty" jsonschema:"description=Condition or disease"`
	Intervention string `json:"intervention,omitempty" jsonschema:"description=Drug or other intervention"`
	Status       string `json:"status,omitempty" jsonschema:"description=Overall status filter such as RECRUITING or COMPLETED"`
	MaxResults   int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of studies (default 5)"`
}

// Study is one trial summary.
type Study struct {
	NCTID         string   `json:"nct_id"`
	Title         string   `json:"title"`
	Status        string   `json:"status,omitempty"`
	Phases        []string `json:"phases,omitempty"`
	Conditions    []string `json:"conditions,omitempty"`
	Interventions []string `json:"interventions,omitempty"`
	Sponsor       string   `json:"sponsor,omitempty"`
	StartDate     string   `json:"start_date,omitempty"`
	URL           string   `json:"url"`
}

// Name implements capability.Source.
func (c *ClinicalTrials) Name() string { return "ctgov" }

// Close implements capability.Source.
func (c *ClinicalTrials) Close() error { return nil }

// Bindings implements capability.Source.
func (c *ClinicalTrials) Bindings() []capability.Binding {
	return []capability.Binding{{
		Input: capability.Plain(capability.Descriptor{
			Name:        "ctgov_search",
			Description: "Search ClinicalTrials.gov by condition and intervention.",
			Parameters:  capability.ParametersFor[ctgovArgs](),
		}),
		Impl: capability.Typed(func(ctx context.Context, in ctgovArgs) (any, error) {
			if in.Condition == "" && in.Intervention == "" {
				return nil, &capability.CapabilityError{Message: "one of condition or intervention is required"}
			}
			studies, err := c.Search(ctx, in.Condition, in.Intervention, in.Status, in.MaxResults)
			if err != nil {
				return nil, err
			}
			return map[string]any{"count": len(studies), "studies": studies}, nil
		}),
	}}
}

// Search returns up to maxResults studies.
func (c *ClinicalTrials) Search(ctx context.Context, condition, intervention, status string, maxResults int) ([]Study, error) {
	q := url.Values{"format": {"json"}, "pageSize": {strconv.Itoa(clamp(maxResults, 5, 50))}}
	if condition != "" {
		q.Set("query.cond", condition)
	}
	if intervention != "" {
		q.Set("query.intr", intervention)
	}
	if status != "" {
		q.Set("filter.overallStatus", status)
	}
	res, err := c.f.getJSON(ctx, "/studies", q)
	if err != nil {
		return nil, err
	}

	studies := []Study{}
	res.Get("studies").ForEach(func(_, s gjson.Result) bool {
		p := s.Get("protocolSection")
		st := Study{
			NCTID:      p.Get("identificationModule.nctId").String(),
			Title:      p.Get("identificationModule.briefTitle").String(),
			Status:     p.Get("statusModule.overallStatus").String(),
			Phases:     stringSlice(p.Get("designModule.phases")),
			Conditions: stringSlice(p.Get("conditionsModule.conditions")),
			Sponsor:    p.Get("sponsorCollaboratorsModule.leadSponsor.name").String(),
			StartDate:  p.Get("statusModule.startDateStruct.date").String(),
		}
		st.Interventions = stringSlice(p.Get("armsInterventionsModule.interventions.#.name"))
		st.URL = "https://clinicaltrials.gov/study/" + st.NCTID
		studies = append(studies, st)
		return true
	})
	return studies, nil
}

// stringSlice collects a gjson array of strings.
func stringSlice(r gjson.Result) []string {
	var out []string
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}
