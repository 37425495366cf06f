package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maia-bench/maia/pkg/capability"
)

func TestPubMed_Search(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		q := r.URL.Query()
		if q.Get("db") != "pubmed" || q.Get("retmode") != "json" || q.Get("api_key") != "ncbi-key" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		switch r.URL.Path {
		case "/esearch.fcgi":
			if q.Get("term") != "metformin cancer" || q.Get("retmax") != "2" {
				t.Errorf("esearch query: %s", r.URL.RawQuery)
			}
			io.WriteString(w, `{"esearchresult":{"count":"120","idlist":["111","222"]}}`)
		case "/esummary.fcgi":
			if q.Get("id") != "111,222" {
				t.Errorf("esummary ids: %s", q.Get("id"))
			}
			io.WriteString(w, `{"result":{"uids":["111","222"],
				"111":{"title":"Metformin and cancer risk","fulljournalname":"Diabetes Care","pubdate":"2020 Jan",
					"authors":[{"name":"Smith J"},{"name":"Lee K"}],"articleids":[{"idtype":"doi","value":"10.1/abc"}]},
				"222":{"title":"Second","source":"Lancet","pubdate":"2021"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewPubMed(PubMedConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL}, APIKey: "ncbi-key"})
	articles, total, err := p.Search(context.Background(), "metformin cancer", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 120 || len(articles) != 2 {
		t.Fatalf("total=%d articles=%+v", total, articles)
	}
	a := articles[0]
	if a.PMID != "111" || a.Journal != "Diabetes Care" || len(a.Authors) != 2 || a.DOI != "10.1/abc" {
		t.Errorf("article = %+v", a)
	}
	if articles[1].Journal != "Lancet" {
		t.Errorf("journal fallback = %q", articles[1].Journal)
	}
	if len(paths) != 2 {
		t.Errorf("paths = %v", paths)
	}
}

func TestPubMed_NoHits(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		io.WriteString(w, `{"esearchresult":{"count":"0","idlist":[]}}`)
	}))
	defer srv.Close()

	articles, _, err := NewPubMed(PubMedConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL}}).Search(context.Background(), "zzz", 0)
	if err != nil || articles == nil || len(articles) != 0 {
		t.Errorf("articles = %#v, err = %v", articles, err)
	}
	if calls != 1 {
		t.Errorf("expected esummary to be skipped, got %d calls", calls)
	}
}

func TestFetcher_Failures(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		maxBody  int64
		contains string
	}{
		{
			name: "http error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				io.WriteString(w, "upstream down")
			},
			contains: "HTTP 503",
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "<html>")
			},
			contains: "invalid JSON",
		},
		{
			name: "body cap truncates",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"studies":[{"protocolSection":{}}]}`)
			},
			maxBody:  10,
			contains: "invalid JSON",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClinicalTrials(HTTPConfig{BaseURL: srv.URL, MaxBodyBytes: tt.maxBody})
			_, err := c.Search(context.Background(), "asthma", "", "", 1)
			if err == nil || !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("err = %v, want containing %q", err, tt.contains)
			}
		})
	}
}

func TestClinicalTrials_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/studies" || q.Get("query.cond") != "asthma" || q.Get("query.intr") != "dupilumab" ||
			q.Get("filter.overallStatus") != "RECRUITING" || q.Get("pageSize") != "5" {
			t.Errorf("unexpected request: %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		io.WriteString(w, `{"studies":[{"protocolSection":{
			"identificationModule":{"nctId":"NCT01","briefTitle":"Dupilumab in asthma"},
			"statusModule":{"overallStatus":"RECRUITING","startDateStruct":{"date":"2023-01"}},
			"designModule":{"phases":["PHASE3"]},
			"conditionsModule":{"conditions":["Asthma"]},
			"armsInterventionsModule":{"interventions":[{"name":"Dupilumab"},{"name":"Placebo"}]},
			"sponsorCollaboratorsModule":{"leadSponsor":{"name":"Sanofi"}}}}]}`)
	}))
	defer srv.Close()

	table := assemble(t, NewClinicalTrials(HTTPConfig{BaseURL: srv.URL}))
	res := invoke(t, table, "ctgov_search", `{"condition":"asthma","intervention":"dupilumab","status":"RECRUITING"}`).(map[string]any)
	studies := res["studies"].([]Study)
	if len(studies) != 1 {
		t.Fatalf("studies = %+v", studies)
	}
	s := studies[0]
	if s.NCTID != "NCT01" || s.Phases[0] != "PHASE3" || len(s.Interventions) != 2 || s.Sponsor != "Sanofi" {
		t.Errorf("study = %+v", s)
	}
	if s.URL != "https://clinicaltrials.gov/study/NCT01" {
		t.Errorf("url = %s", s.URL)
	}

	_, err := table.Invoke(context.Background(), "ctgov_search", json.RawMessage(`{}`))
	var ce *capability.CapabilityError
	if !errors.As(err, &ce) {
		t.Errorf("expected capability error for empty search, got %v", err)
	}
}

func TestOpenTargets(t *testing.T) {
	var ops []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		switch {
		case strings.Contains(req.Query, "SearchTarget"):
			ops = append(ops, "search")
			if req.Variables["q"] == "NOPE" {
				io.WriteString(w, `{"data":{"search":{"hits":[]}}}`)
				return
			}
			io.WriteString(w, `{"data":{"search":{"hits":[{"id":"ENSG00000146648","name":"EGFR"}]}}}`)
		case strings.Contains(req.Query, "AssociatedDiseases"):
			ops = append(ops, "diseases")
			if req.Variables["id"] != "ENSG00000146648" || req.Variables["size"] != float64(10) {
				t.Errorf("variables = %v", req.Variables)
			}
			io.WriteString(w, `{"data":{"target":{"id":"ENSG00000146648","approvedSymbol":"EGFR",
				"associatedDiseases":{"count":2,"rows":[{"score":0.9,"disease":{"id":"EFO_0003060","name":"non-small cell lung carcinoma"}}]}}}}`)
		case strings.Contains(req.Query, "Tractability"):
			ops = append(ops, "tractability")
			io.WriteString(w, `{"data":{"target":{"id":"ENSG00000146648","approvedSymbol":"EGFR","tractability":[
				{"label":"Approved Drug","modality":"SM","value":true},
				{"label":"Advanced Clinical","modality":"AB","value":true},
				{"label":"Phase 1 Clinical","modality":"PR","value":false}]}}}`)
		case strings.Contains(req.Query, "Safety"):
			ops = append(ops, "safety")
			io.WriteString(w, `{"errors":[{"message":"rate limited"}]}`)
		}
	}))
	defer srv.Close()

	o := NewOpenTargets(HTTPConfig{BaseURL: srv.URL})
	ctx := context.Background()

	res, err := o.AssociatedDiseases(ctx, "EGFR", 0)
	if err != nil {
		t.Fatalf("AssociatedDiseases: %v", err)
	}
	diseases := res["diseases"].([]map[string]any)
	if res["symbol"] != "EGFR" || len(diseases) != 1 || diseases[0]["score"] != 0.9 {
		t.Errorf("result = %+v", res)
	}

	tr, err := o.Tractability(ctx, "ENSG00000146648")
	if err != nil {
		t.Fatalf("Tractability: %v", err)
	}
	byModality := tr["tractability"].(map[string][]string)
	if len(byModality["SM"]) != 1 || len(byModality["AB"]) != 1 || len(byModality["PR"]) != 0 {
		t.Errorf("tractability = %+v", byModality)
	}

	if _, err := o.Safety(ctx, "ENSG00000146648"); err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("expected graphql error, got %v", err)
	}

	_, err = o.Tractability(ctx, "NOPE")
	var ce *capability.CapabilityError
	if !errors.As(err, &ce) {
		t.Errorf("expected capability error for unknown target, got %v", err)
	}

	want := []string{"search", "diseases", "tractability", "safety", "search"}
	if strings.Join(ops, ",") != strings.Join(want, ",") {
		t.Errorf("ops = %v, want %v", ops, want)
	}
}

func TestGateway(t *testing.T) {
	var got []gatewayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token test-token" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/api/tool_test/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req gatewayRequest
		json.NewDecoder(r.Body).Decode(&req)
		got = append(got, req)
		if req.Tool == "agent" {
			io.WriteString(w, "plain text report")
			return
		}
		io.WriteString(w, `{"result":"success","data":{"drug":"semaglutide"}}`)
	}))
	defer srv.Close()

	g, err := NewGateway(GatewayConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL}, Token: "test-token"})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	table := assemble(t, g)

	res := invoke(t, table, "gateway_slot_fill", `{"prompt":"latest obesity drug landscape","tool":"Drug-Analysis"}`).(map[string]any)
	if res["result"] != "success" {
		t.Errorf("result = %+v", res)
	}
	agent := invoke(t, table, "gateway_agent_report", `{"prompt":"q","language":"zh"}`).(map[string]any)
	if agent["data"] != "plain text report" {
		t.Errorf("agent = %+v", agent)
	}

	if len(got) != 2 {
		t.Fatalf("requests = %+v", got)
	}
	if got[0].SlotFill == nil || !*got[0].SlotFill || got[0].Language != "en" || got[0].Tool != "Drug-Analysis" {
		t.Errorf("slot fill request = %+v", got[0])
	}
	if got[1].SlotFill != nil || got[1].Language != "zh" {
		t.Errorf("agent request = %+v", got[1])
	}

	if _, err := table.Invoke(context.Background(), "gateway_slot_fill", json.RawMessage(`{"prompt":"x","tool":"Unknown"}`)); err == nil {
		t.Error("expected schema rejection for unknown tool")
	}
}

func TestNewGateway_Validation(t *testing.T) {
	if _, err := NewGateway(GatewayConfig{Token: "t"}); err == nil {
		t.Error("expected error without base URL")
	}
	if _, err := NewGateway(GatewayConfig{HTTPConfig: HTTPConfig{BaseURL: "http://x"}}); err == nil {
		t.Error("expected error without token")
	}
}

func TestSources(t *testing.T) {
	sources, err := Sources(Options{})
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	var names []string
	for _, s := range sources {
		names = append(names, s.Name())
	}
	if strings.Join(names, ",") != "pubmed,ctgov,opentargets" {
		t.Errorf("implicit sources = %v", names)
	}

	sources, err = Sources(Options{Enabled: []string{FamilyUMLS, FamilyOncology}, Terminology: fixtureStore()})
	if err != nil || len(sources) != 2 {
		t.Errorf("sources = %v, err = %v", sources, err)
	}

	if _, err := Sources(Options{Enabled: []string{FamilyUMLS}}); err == nil {
		t.Error("expected error for umls without terminology store")
	}
	if _, err := Sources(Options{Enabled: []string{"weather"}}); err == nil {
		t.Error("expected error for unknown family")
	}

	all, err := Sources(Options{Terminology: fixtureStore()})
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	if _, _, err := capability.Assemble(all...); err != nil {
		t.Errorf("builtins do not assemble: %v", err)
	}
}
