package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maia-bench/maia/pkg/auth"
	"github.com/maia-bench/maia/pkg/config"
	"github.com/maia-bench/maia/pkg/provider"
	"github.com/maia-bench/maia/pkg/terminology"
)

const fixtureYAML = `
concepts:
  - cui: C0006142
    preferred_term: Malignant neoplasm of breast
    synonyms: [Breast cancer]
    semantic_types:
      - tui: T191
        name: Neoplastic Process
relations:
  - source_cui: C0006142
    relation: PAR
    target_cui: C0006826
    target_term: Malignant Neoplasms
    source: MSH
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.ProviderConfig
		wantName string
		breaker  bool
		wantErr  bool
	}{
		{name: "openai", cfg: config.ProviderConfig{Kind: config.ProviderOpenAI, URL: "http://localhost:4000/v1"}, wantName: "openai"},
		{name: "azure", cfg: config.ProviderConfig{Kind: config.ProviderAzure, URL: "https://example.openai.azure.com", APIKey: "k"}, wantName: "azure"},
		{name: "anthropic", cfg: config.ProviderConfig{Kind: config.ProviderAnthropic, APIKey: "k"}, wantName: "anthropic"},
		{
			name: "breaker keeps inner name",
			cfg: config.ProviderConfig{
				Kind: config.ProviderOpenAI, URL: "http://localhost:4000/v1",
				Breaker: config.BreakerConfig{Enabled: true, MaxFailures: 3},
			},
			wantName: "openai",
			breaker:  true,
		},
		{name: "openai without url", cfg: config.ProviderConfig{Kind: config.ProviderOpenAI}, wantErr: true},
		{name: "anthropic without key", cfg: config.ProviderConfig{Kind: config.ProviderAnthropic}, wantErr: true},
		{name: "unknown kind", cfg: config.ProviderConfig{Kind: "bedrock"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProvider: %v", err)
			}
			defer p.Close()
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
			if _, ok := p.(*provider.Breaker); ok != tt.breaker {
				t.Errorf("breaker wrapped = %v, want %v", ok, tt.breaker)
			}
		})
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Provider.Model = "gpt-4o"
	temp := 0.2
	cfg.Provider.Temperature = &temp
	cfg.Engine.SystemPrompt = "You answer clinical questions."
	cfg.Engine.MaxTurns = 8
	cfg.Engine.MaxTokens = 512
	cfg.Engine.ResponseFormat = "json_object"
	cfg.Retry.Capability = config.PolicyConfig{Attempts: 2, BaseDelay: time.Second, Timeout: 5 * time.Second}

	ec, err := EngineConfig(&cfg)
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}
	if ec.Model != "gpt-4o" || ec.SystemPrompt != "You answer clinical questions." || ec.MaxTurns != 8 {
		t.Errorf("unexpected config: %+v", ec)
	}
	if ec.MaxTokens == nil || *ec.MaxTokens != 512 {
		t.Errorf("MaxTokens = %v", ec.MaxTokens)
	}
	if ec.Temperature == nil || *ec.Temperature != 0.2 {
		t.Errorf("Temperature = %v", ec.Temperature)
	}
	if ec.ResponseFormat == nil || ec.ResponseFormat.Type != provider.FormatJSONObject {
		t.Errorf("ResponseFormat = %+v", ec.ResponseFormat)
	}
	if ec.CapabilityPolicy.Name != "capability" || ec.CapabilityPolicy.MaxAttempts != 2 || ec.CapabilityPolicy.Timeout != 5*time.Second {
		t.Errorf("CapabilityPolicy = %+v", ec.CapabilityPolicy)
	}
	if ec.ModelPolicy.MaxAttempts != 3 {
		t.Errorf("ModelPolicy.MaxAttempts = %d, want 3", ec.ModelPolicy.MaxAttempts)
	}
}

func TestEngineConfigKeepsDefaults(t *testing.T) {
	cfg := config.Defaults()
	ec, err := EngineConfig(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	if ec.MaxTokens != nil || ec.ResponseFormat != nil {
		t.Errorf("expected unset MaxTokens and ResponseFormat, got %v %v", ec.MaxTokens, ec.ResponseFormat)
	}
	if ec.ToolChoice != "auto" {
		t.Errorf("ToolChoice = %q", ec.ToolChoice)
	}

	cfg.Engine.ResponseFormat = "xml"
	if _, err := EngineConfig(&cfg); err == nil {
		t.Error("expected error for unsupported response format")
	}
}

func TestLoadFixture(t *testing.T) {
	f, err := LoadFixture(writeFile(t, "umls.yaml", fixtureYAML))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if len(f.Concepts) != 1 || f.Concepts[0].PreferredTerm != "Malignant neoplasm of breast" {
		t.Errorf("concepts = %+v", f.Concepts)
	}
	if len(f.Concepts[0].SemanticTypes) != 1 || f.Concepts[0].SemanticTypes[0].TUI != "T191" {
		t.Errorf("semantic types = %+v", f.Concepts[0].SemanticTypes)
	}
	if len(f.Relations) != 1 || f.Relations[0].TargetCUI != "C0006826" {
		t.Errorf("relations = %+v", f.Relations)
	}

	// JSON is a YAML subset.
	f, err = LoadFixture(writeFile(t, "umls.json", `{"concepts":[{"cui":"C1","preferred_term":"One"}]}`))
	if err != nil {
		t.Fatalf("LoadFixture json: %v", err)
	}
	if len(f.Concepts) != 1 || f.Concepts[0].CUI != "C1" {
		t.Errorf("json concepts = %+v", f.Concepts)
	}

	if _, err := LoadFixture(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing fixture")
	}
}

func TestOpenTerminology(t *testing.T) {
	ctx := context.Background()

	store, err := OpenTerminology(ctx, config.TerminologyConfig{Type: "none"})
	if err != nil || store != nil {
		t.Fatalf("none: store=%v err=%v", store, err)
	}

	store, err = OpenTerminology(ctx, config.TerminologyConfig{Type: "memory", Fixture: writeFile(t, "umls.yaml", fixtureYAML)})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	defer store.Close()
	c, err := store.Concept(ctx, "C0006142")
	if err != nil {
		t.Fatalf("Concept: %v", err)
	}
	if c.PreferredTerm != "Malignant neoplasm of breast" {
		t.Errorf("PreferredTerm = %q", c.PreferredTerm)
	}
	if _, err := store.Concept(ctx, "C9999999"); !errors.Is(err, terminology.ErrNotFound) {
		t.Errorf("unknown CUI err = %v", err)
	}

	if _, err := OpenTerminology(ctx, config.TerminologyConfig{Type: "neo4j"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestOpenLedger(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.StorageConfig{Type: "memory", MaxSize: 10}},
		{name: "default", cfg: config.StorageConfig{}},
		{name: "sqlite", cfg: config.StorageConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "ledger.db")}}},
		{name: "unknown", cfg: config.StorageConfig{Type: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := OpenLedger(ctx, tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenLedger: %v", err)
			}
			defer l.Close()
			if err := l.HealthCheck(ctx); err != nil {
				t.Errorf("HealthCheck: %v", err)
			}
		})
	}
}

func TestCapabilitySources(t *testing.T) {
	ctx := context.Background()
	store, err := OpenTerminology(ctx, config.TerminologyConfig{Type: "memory", Fixture: writeFile(t, "umls.yaml", fixtureYAML)})
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults().Capabilities
	cfg.Builtins = []string{"umls", "oncology"}
	sources, cleanup, err := CapabilitySources(ctx, cfg, store)
	if err != nil {
		t.Fatalf("CapabilitySources: %v", err)
	}
	defer cleanup()
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].Name() != "umls" || sources[1].Name() != "oncology" {
		t.Errorf("sources = %s, %s", sources[0].Name(), sources[1].Name())
	}
}

func TestCapabilitySourcesRequiresTerminology(t *testing.T) {
	cfg := config.Defaults().Capabilities
	cfg.Builtins = []string{"umls"}
	_, cleanup, err := CapabilitySources(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected error when umls has no terminology store")
	}
	if cleanup == nil {
		t.Fatal("cleanup must be non-nil on error")
	}
	if err := cleanup(); err != nil {
		t.Errorf("cleanup: %v", err)
	}
}

func TestOpen(t *testing.T) {
	cfg := config.Defaults()
	cfg.Provider.URL = "http://localhost:4000/v1"
	cfg.Provider.Model = "gpt-4o"
	cfg.Terminology = config.TerminologyConfig{Type: "memory", Fixture: writeFile(t, "umls.yaml", fixtureYAML)}
	cfg.Capabilities.Builtins = []string{"umls"}

	a, err := Open(context.Background(), &cfg, Needs{Capabilities: true, Ledger: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if a.Provider == nil || a.Ledger == nil || a.Terminology == nil {
		t.Fatalf("missing components: %+v", a)
	}
	if a.Registry == nil || a.Registry.Len() == 0 || a.Table == nil {
		t.Fatal("expected assembled capabilities")
	}
	if _, err := a.Engine(); err != nil {
		t.Errorf("Engine: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestOpenProviderOnly(t *testing.T) {
	cfg := config.Defaults()
	cfg.Provider.URL = "http://localhost:4000/v1"

	a, err := Open(context.Background(), &cfg, Needs{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()
	if a.Ledger != nil || a.Registry != nil || a.Table != nil {
		t.Error("expected only a provider")
	}
}

func TestOpenFailureClosesProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.Provider.URL = "http://localhost:4000/v1"
	cfg.Storage.Type = "redis"

	if _, err := Open(context.Background(), &cfg, Needs{Ledger: true}); err == nil {
		t.Fatal("expected error for unknown storage type")
	}
}

func TestNewAuth(t *testing.T) {
	t.Run("none admits everyone", func(t *testing.T) {
		chain, limiter, err := NewAuth(config.AuthConfig{Type: "none"})
		if err != nil {
			t.Fatal(err)
		}
		if limiter != nil {
			t.Error("expected no limiter")
		}
		res := chain.Authenticate(context.Background(), httptest.NewRequest("POST", "/v1/answers", nil))
		if res.Decision != auth.Yes {
			t.Errorf("decision = %v, want Yes", res.Decision)
		}
	})

	t.Run("apikey carries tenant and tier", func(t *testing.T) {
		chain, limiter, err := NewAuth(config.AuthConfig{
			Type: "apikey",
			APIKeys: []config.APIKeyConfig{
				{Key: "sk-lab", Subject: "lab", TenantID: "oncology", ServiceTier: "batch"},
			},
			RateLimit: config.RateLimitConfig{Enabled: true, DefaultRPM: 60, Tiers: map[string]int{"batch": 600}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if limiter == nil {
			t.Error("expected a limiter")
		}

		r := httptest.NewRequest("POST", "/v1/answers", nil)
		r.Header.Set("Authorization", "Bearer sk-lab")
		res := chain.Authenticate(context.Background(), r)
		if res.Decision != auth.Yes {
			t.Fatalf("decision = %v, err = %v", res.Decision, res.Err)
		}
		if res.Identity.Subject != "lab" || res.Identity.ServiceTier != "batch" {
			t.Errorf("identity = %+v", res.Identity)
		}
		if res.Identity.Metadata[auth.MetadataTenant] != "oncology" {
			t.Errorf("tenant = %q", res.Identity.Metadata[auth.MetadataTenant])
		}

		r = httptest.NewRequest("POST", "/v1/answers", nil)
		r.Header.Set("Authorization", "Bearer wrong")
		if res := chain.Authenticate(context.Background(), r); res.Decision != auth.No {
			t.Errorf("wrong key decision = %v, want No", res.Decision)
		}
	})

	t.Run("apikey without keys", func(t *testing.T) {
		if _, _, err := NewAuth(config.AuthConfig{Type: "apikey"}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("jwt", func(t *testing.T) {
		chain, _, err := NewAuth(config.AuthConfig{
			Type: "jwt",
			JWT:  config.JWTConfig{Issuer: "https://idp.example", Audience: "maia", JWKSURL: "https://idp.example/jwks"},
		})
		if err != nil {
			t.Fatal(err)
		}
		// No bearer token: the authenticator abstains and the chain rejects.
		res := chain.Authenticate(context.Background(), httptest.NewRequest("GET", "/v1/runs", nil))
		if res.Decision != auth.No {
			t.Errorf("decision = %v, want No", res.Decision)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, _, err := NewAuth(config.AuthConfig{Type: "oauth"}); err == nil {
			t.Error("expected error")
		}
	})
}
