// Package app assembles maia components from a loaded configuration. The
// commands share it so that serve, ask and the batch pipelines wire the
// same provider, capabilities and ledger.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maia-bench/maia/pkg/auth"
	"github.com/maia-bench/maia/pkg/auth/apikey"
	"github.com/maia-bench/maia/pkg/auth/jwt"
	"github.com/maia-bench/maia/pkg/auth/noop"
	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/capability/builtins"
	"github.com/maia-bench/maia/pkg/capability/mcp"
	"github.com/maia-bench/maia/pkg/capability/natsrpc"
	"github.com/maia-bench/maia/pkg/config"
	"github.com/maia-bench/maia/pkg/engine"
	"github.com/maia-bench/maia/pkg/provider"
	"github.com/maia-bench/maia/pkg/provider/anthropic"
	"github.com/maia-bench/maia/pkg/provider/openaicompat"
	"github.com/maia-bench/maia/pkg/retry"
	"github.com/maia-bench/maia/pkg/storage"
	"github.com/maia-bench/maia/pkg/storage/memory"
	"github.com/maia-bench/maia/pkg/storage/postgres"
	"github.com/maia-bench/maia/pkg/storage/sqlite"
	"github.com/maia-bench/maia/pkg/terminology"
	termpg "github.com/maia-bench/maia/pkg/terminology/postgres"
)

// Needs selects the optional parts Open builds.
type Needs struct {
	Capabilities bool
	Ledger       bool
}

// App holds the components shared by the commands. Fields a command did
// not ask for are nil.
type App struct {
	Config      *config.Config
	Provider    provider.Provider
	Terminology terminology.Store
	Ledger      storage.Ledger
	Registry    *capability.Registry
	Table       *capability.Table

	closers []func() error
}

// Open builds the provider and whatever needs asks for. On failure every
// component opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, needs Needs) (*App, error) {
	a := &App{Config: cfg}

	p, err := NewProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	a.Provider = p
	a.onClose(p.Close)

	if needs.Capabilities {
		if err := a.openCapabilities(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	if needs.Ledger {
		l, err := OpenLedger(ctx, cfg.Storage)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Ledger = l
		a.onClose(l.Close)
	}
	return a, nil
}

func (a *App) openCapabilities(ctx context.Context) error {
	store, err := OpenTerminology(ctx, a.Config.Terminology)
	if err != nil {
		return err
	}
	if store != nil {
		a.Terminology = store
		a.onClose(store.Close)
	}

	sources, cleanup, err := CapabilitySources(ctx, a.Config.Capabilities, store)
	a.onClose(cleanup)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		slog.Warn("no capability sources configured; the model answers unaided")
		return nil
	}

	reg, table, err := capability.Assemble(sources...)
	if err != nil {
		return fmt.Errorf("assembling capabilities: %w", err)
	}
	a.Registry, a.Table = reg, table
	slog.Info("capabilities ready", "count", reg.Len())
	return nil
}

// Engine builds an orchestrator with the configured prompt and policies.
func (a *App) Engine() (*engine.Engine, error) {
	cfg, err := EngineConfig(a.Config)
	if err != nil {
		return nil, err
	}
	return engine.New(a.Provider, cfg)
}

func (a *App) onClose(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Close releases components in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewProvider creates the inference client, wrapped in a circuit breaker
// when enabled.
func NewProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	var (
		p   provider.Provider
		err error
	)
	switch cfg.Kind {
	case config.ProviderOpenAI, config.ProviderAzure:
		flavor := openaicompat.FlavorOpenAI
		if cfg.Kind == config.ProviderAzure {
			flavor = openaicompat.FlavorAzure
		}
		p, err = openaicompat.New(openaicompat.Config{
			BaseURL:    cfg.URL,
			APIKey:     cfg.APIKey,
			Flavor:     flavor,
			APIVersion: cfg.APIVersion,
			Timeout:    cfg.Timeout,
		})
	case config.ProviderAnthropic:
		p, err = anthropic.New(anthropic.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.URL,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s provider: %w", cfg.Kind, err)
	}

	if !cfg.Breaker.Enabled {
		return p, nil
	}
	return provider.NewBreaker(p, provider.BreakerConfig{
		MaxFailures: cfg.Breaker.MaxFailures,
		Timeout:     cfg.Breaker.Timeout,
		Interval:    cfg.Breaker.Interval,
	}, slog.Default()), nil
}

// Policy converts a configured retry policy.
func Policy(name string, pc config.PolicyConfig) retry.Policy {
	return retry.Policy{
		Name:        name,
		MaxAttempts: pc.Attempts,
		BaseDelay:   pc.BaseDelay,
		Timeout:     pc.Timeout,
	}
}

// EngineConfig maps the configuration onto engine.Config.
func EngineConfig(cfg *config.Config) (engine.Config, error) {
	ec := engine.DefaultConfig(cfg.Provider.Model)
	ec.SystemPrompt = cfg.Engine.SystemPrompt
	ec.Temperature = cfg.Provider.Temperature
	if cfg.Engine.MaxTurns > 0 {
		ec.MaxTurns = cfg.Engine.MaxTurns
	}
	if cfg.Engine.FallbackText != "" {
		ec.FallbackText = cfg.Engine.FallbackText
	}
	if cfg.Engine.MaxTokens > 0 {
		n := cfg.Engine.MaxTokens
		ec.MaxTokens = &n
	}
	switch cfg.Engine.ResponseFormat {
	case "":
	case provider.FormatText, provider.FormatJSONObject:
		ec.ResponseFormat = &provider.ResponseFormat{Type: cfg.Engine.ResponseFormat}
	default:
		return ec, fmt.Errorf("unsupported response format %q", cfg.Engine.ResponseFormat)
	}
	ec.ModelPolicy = Policy("model", cfg.Retry.Model)
	ec.CapabilityPolicy = Policy("capability", cfg.Retry.Capability)
	return ec, nil
}

// OpenTerminology opens the configured UMLS store; type "none" returns nil.
func OpenTerminology(ctx context.Context, cfg config.TerminologyConfig) (terminology.Store, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		f, err := LoadFixture(cfg.Fixture)
		if err != nil {
			return nil, err
		}
		slog.Info("terminology enabled", "type", "memory", "concepts", len(f.Concepts), "relations", len(f.Relations))
		return terminology.NewMemoryStore(f), nil
	case "postgres":
		s, err := termpg.New(ctx, termpg.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening terminology database: %w", err)
		}
		slog.Info("terminology enabled", "type", "postgres")
		return s, nil
	default:
		return nil, fmt.Errorf("unknown terminology type %q", cfg.Type)
	}
}

// LoadFixture reads a terminology fixture. JSON files parse as YAML.
func LoadFixture(path string) (terminology.Fixture, error) {
	var f terminology.Fixture
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("reading terminology fixture: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parsing terminology fixture %s: %w", path, err)
	}
	return f, nil
}

// OpenLedger opens the configured outcome ledger.
func OpenLedger(ctx context.Context, cfg config.StorageConfig) (storage.Ledger, error) {
	switch cfg.Type {
	case "", "memory":
		slog.Info("ledger enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening ledger database: %w", err)
		}
		slog.Info("ledger enabled", "type", "postgres")
		return s, nil
	case "sqlite":
		s, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("opening ledger file: %w", err)
		}
		slog.Info("ledger enabled", "type", "sqlite", "path", cfg.SQLite.Path)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// CapabilitySources builds builtin, MCP and NATS sources. The returned
// cleanup closes the sources and the NATS connection; it is non-nil even
// when err is set.
func CapabilitySources(ctx context.Context, cfg config.CapabilitiesConfig, store terminology.Store) ([]capability.Source, func() error, error) {
	var sources []capability.Source
	var closers []func() error
	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		closers = nil
		return errors.Join(errs...)
	}
	add := func(srcs ...capability.Source) {
		for _, s := range srcs {
			sources = append(sources, s)
			closers = append(closers, s.Close)
		}
	}

	httpCfg := func(url string) builtins.HTTPConfig {
		return builtins.HTTPConfig{BaseURL: url, Timeout: cfg.HTTPTimeout, MaxBodyBytes: cfg.MaxBodyBytes}
	}
	bs, err := builtins.Sources(builtins.Options{
		Enabled:        cfg.Builtins,
		Terminology:    store,
		PubMed:         builtins.PubMedConfig{HTTPConfig: httpCfg(cfg.PubMed.URL), APIKey: cfg.PubMed.APIKey},
		ClinicalTrials: httpCfg(cfg.ClinicalTrials.URL),
		OpenTargets:    httpCfg(cfg.OpenTargets.URL),
		Gateway:        builtins.GatewayConfig{HTTPConfig: httpCfg(cfg.Gateway.URL), Token: cfg.Gateway.Token, Path: cfg.Gateway.Path},
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("builtin capabilities: %w", err)
	}
	add(bs...)

	if len(cfg.MCP) > 0 {
		src, err := mcp.Connect(ctx, cfg.MCP)
		if err != nil {
			return nil, cleanup, fmt.Errorf("MCP capabilities: %w", err)
		}
		add(src)
	}

	if cfg.NATS.URL != "" && len(cfg.NATS.Prefixes) > 0 {
		nc, err := natsrpc.Connect(cfg.NATS.URL, "maia")
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() error { nc.Close(); return nil })
		for _, prefix := range cfg.NATS.Prefixes {
			dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			src, err := natsrpc.NewSource(dctx, nc, prefix)
			cancel()
			if err != nil {
				return nil, cleanup, fmt.Errorf("NATS capabilities %q: %w", prefix, err)
			}
			add(src)
		}
	}
	return sources, cleanup, nil
}

// NewAuth builds the authenticator chain and the optional rate limiter.
func NewAuth(cfg config.AuthConfig) (*auth.Chain, auth.RateLimiter, error) {
	var chain *auth.Chain
	switch cfg.Type {
	case "", "none":
		chain = auth.NewChain(&noop.Authenticator{})
	case "apikey":
		entries := make([]apikey.Entry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			id := auth.Identity{Subject: k.Subject, ServiceTier: k.ServiceTier}
			if k.TenantID != "" {
				id.Metadata = map[string]string{auth.MetadataTenant: k.TenantID}
			}
			entries = append(entries, apikey.Entry{Key: k.Key, Identity: id})
		}
		a := apikey.New(entries)
		if a.Len() == 0 {
			return nil, nil, errors.New("auth type apikey has no usable keys")
		}
		chain = auth.NewChain(a)
	case "jwt":
		chain = auth.NewChain(jwt.New(jwt.Config{
			Issuer:      cfg.JWT.Issuer,
			Audience:    cfg.JWT.Audience,
			JWKSURL:     cfg.JWT.JWKSURL,
			TenantClaim: cfg.JWT.TenantClaim,
		}))
	default:
		return nil, nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}

	var limiter auth.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = auth.NewTokenBucketLimiter(cfg.RateLimit.Tiers, cfg.RateLimit.DefaultRPM)
	}
	return chain, limiter, nil
}
