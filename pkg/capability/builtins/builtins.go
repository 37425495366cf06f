package builtins

import (
	"fmt"

	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/terminology"
)

// Source family names accepted by Options.Enabled.
const (
	FamilyUMLS        = "umls"
	FamilyOncology    = "oncology"
	FamilyPubMed      = "pubmed"
	FamilyCTGov       = "ctgov"
	FamilyOpenTargets = "opentargets"
	FamilyGateway     = "gateway"
)

// Families lists every builtin family in registration order.
var Families = []string{FamilyUMLS, FamilyOncology, FamilyPubMed, FamilyCTGov, FamilyOpenTargets, FamilyGateway}

// Options selects and configures builtin sources.
type Options struct {
	// Enabled lists families to build. Empty enables every family whose
	// dependencies are present.
	Enabled []string

	// Terminology backs the umls and oncology families.
	Terminology terminology.Store

	PubMed         PubMedConfig
	ClinicalTrials HTTPConfig
	OpenTargets    HTTPConfig
	Gateway        GatewayConfig
}

// Sources builds the selected builtin sources. An explicitly enabled
// family with missing dependencies is an error; an implicitly enabled one
// is skipped.
func Sources(opts Options) ([]capability.Source, error) {
	explicit := len(opts.Enabled) > 0
	enabled := opts.Enabled
	if !explicit {
		enabled = Families
	}

	var sources []capability.Source
	for _, family := range enabled {
		switch family {
		case FamilyUMLS, FamilyOncology:
			if opts.Terminology == nil {
				if explicit {
					return nil, fmt.Errorf("builtin %q requires a terminology store", family)
				}
				continue
			}
			if family == FamilyUMLS {
				sources = append(sources, NewUMLS(opts.Terminology))
			} else {
				sources = append(sources, NewOncology(opts.Terminology))
			}
		case FamilyPubMed:
			sources = append(sources, NewPubMed(opts.PubMed))
		case FamilyCTGov:
			sources = append(sources, NewClinicalTrials(opts.ClinicalTrials))
		case FamilyOpenTargets:
			sources = append(sources, NewOpenTargets(opts.OpenTargets))
		case FamilyGateway:
			if opts.Gateway.BaseURL == "" && !explicit {
				continue
			}
			g, err := NewGateway(opts.Gateway)
			if err != nil {
				return nil, err
			}
			sources = append(sources, g)
		default:
			return nil, fmt.Errorf("unknown builtin family %q", family)
		}
	}
	return sources, nil
}
