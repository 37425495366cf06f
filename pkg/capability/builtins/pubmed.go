package builtins

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/maia-bench/maia/pkg/capability"
)

// DefaultPubMedURL is the NCBI E-utilities endpoint.
const DefaultPubMedURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMedConfig configures the PubMed source.
type PubMedConfig struct {
	HTTPConfig

	// APIKey is an optional NCBI API key raising the request quota.
	APIKey string
}

// PubMed searches PubMed through esearch followed by esummary.
type PubMed struct {
	f      *fetcher
	apiKey string
}

// NewPubMed creates the PubMed source.
func NewPubMed(cfg PubMedConfig) *PubMed {
	return &PubMed{f: newFetcher("pubmed", DefaultPubMedURL, cfg.HTTPConfig), apiKey: cfg.APIKey}
}

type pubmedArgs struct {
	Query      string `json:"query" jsonschema:"required,description=PubMed query string"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of articles (default 5)"`
}

// Article is one PubMed summary.
type Article struct {
	PMID    string   `json:"pmid"`
	Title   string   `json:"title"`
	Journal string   `json:"journal,omitempty"`
	PubDate string   `json:"pub_date,omitempty"`
	Authors []string `json:"authors,omitempty"`
	DOI     string   `json:"doi,omitempty"`
	URL     string   `json:"url"`
}

// Name implements capability.Source.
func (p *PubMed) Name() string { return "pubmed" }

// Close implements capability.Source.
func (p *PubMed) Close() error { return nil }

// Bindings implements capability.Source.
func (p *PubMed) Bindings() []capability.Binding {
	return []capability.Binding{{
		Input: capability.Plain(capability.Descriptor{
			Name:        "pubmed.search",
			Description: "Search PubMed and return article titles, journals, dates and authors.",
			Parameters:  capability.ParametersFor[pubmedArgs](),
		}),
		Impl: capability.Typed(func(ctx context.Context, in pubmedArgs) (any, error) {
			articles, total, err := p.Search(ctx, in.Query, in.MaxResults)
			if err != nil {
				return nil, err
			}
			return map[string]any{"query": in.Query, "total": total, "articles": articles}, nil
		}),
	}}
}

// Search returns up to maxResults article summaries and the total hit count.
func (p *PubMed) Search(ctx context.Context, query string, maxResults int) ([]Article, int, error) {
	n := clamp(maxResults, 5, 50)

	q := p.params()
	q.Set("term", query)
	q.Set("retmax", strconv.Itoa(n))
	q.Set("sort", "relevance")
	search, err := p.f.getJSON(ctx, "/esearch.fcgi", q)
	if err != nil {
		return nil, 0, err
	}
	total := int(search.Get("esearchresult.count").Int())

	var ids []string
	for _, id := range search.Get("esearchresult.idlist").Array() {
		ids = append(ids, id.String())
	}
	if len(ids) == 0 {
		return []Article{}, total, nil
	}

	q = p.params()
	q.Set("id", strings.Join(ids, ","))
	summary, err := p.f.getJSON(ctx, "/esummary.fcgi", q)
	if err != nil {
		return nil, 0, err
	}

	articles := make([]Article, 0, len(ids))
	for _, id := range ids {
		doc := summary.Get("result." + id)
		if !doc.Exists() {
			continue
		}
		a := Article{
			PMID:    id,
			Title:   doc.Get("title").String(),
			Journal: doc.Get("fulljournalname").String(),
			PubDate: doc.Get("pubdate").String(),
			URL:     "https://pubmed.ncbi.nlm.nih.gov/" + id + "/",
		}
		if a.Journal == "" {
			a.Journal = doc.Get("source").String()
		}
		for _, name := range doc.Get("authors.#.name").Array() {
			a.Authors = append(a.Authors, name.String())
		}
		for _, aid := range doc.Get("articleids").Array() {
			if aid.Get("idtype").String() == "doi" {
				a.DOI = aid.Get("value").String()
			}
		}
		articles = append(articles, a)
	}
	return articles, total, nil
}

func (p *PubMed) params() url.Values {
	q := url.Values{"db": {"pubmed"}, "retmode": {"json"}}
	if p.apiKey != "" {
		q.Set("api_key", p.apiKey)
	}
	return q
}
