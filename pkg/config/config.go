// Package config provides unified configuration for maia.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (MAIA_ prefix, via envconfig)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/maia-bench/maia/pkg/capability/mcp"
)

// Config holds all configuration for maia.
type Config struct {
	Provider      ProviderConfig      `yaml:"provider" split_words:"true"`
	Engine        EngineConfig        `yaml:"engine" split_words:"true"`
	Retry         RetryConfig         `yaml:"retry" split_words:"true"`
	Capabilities  CapabilitiesConfig  `yaml:"capabilities" split_words:"true"`
	Terminology   TerminologyConfig   `yaml:"terminology" split_words:"true"`
	Storage       StorageConfig       `yaml:"storage" split_words:"true"`
	Batch         BatchConfig         `yaml:"batch" split_words:"true"`
	Server        ServerConfig        `yaml:"server" split_words:"true"`
	Auth          AuthConfig          `yaml:"auth" split_words:"true"`
	Observability ObservabilityConfig `yaml:"observability" split_words:"true"`
}

// Provider kinds.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
)

// ProviderConfig selects and configures the inference service.
type ProviderConfig struct {
	Kind        string        `yaml:"kind" split_words:"true"` // "openai", "azure" or "anthropic", default: "openai"
	URL         string        `yaml:"url" split_words:"true"`  // required for openai and azure
	APIKey      string        `yaml:"api_key" split_words:"true"`
	APIKeyFile  string        `yaml:"api_key_file" split_words:"true"`
	APIVersion  string        `yaml:"api_version" split_words:"true"` // azure only
	Model       string        `yaml:"model" split_words:"true"`       // required
	Timeout     time.Duration `yaml:"timeout" split_words:"true"`     // default: 120s
	Temperature *float64      `yaml:"temperature" split_words:"true"`
	Breaker     BreakerConfig `yaml:"breaker" split_words:"true"`
}

// BreakerConfig holds circuit breaker settings for the provider.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled" split_words:"true"` // default: true
	MaxFailures uint32        `yaml:"max_failures" split_words:"true"`
	Timeout     time.Duration `yaml:"timeout" split_words:"true"`
	Interval    time.Duration `yaml:"interval" split_words:"true"`
}

// EngineConfig holds orchestrator settings.
type EngineConfig struct {
	SystemPrompt     string `yaml:"system_prompt" split_words:"true"`
	SystemPromptFile string `yaml:"system_prompt_file" split_words:"true"`
	MaxTurns         int    `yaml:"max_turns" split_words:"true"` // 0 means unbounded
	MaxTokens        int    `yaml:"max_tokens" split_words:"true"`
	FallbackText     string `yaml:"fallback_text" split_words:"true"`
	ResponseFormat   string `yaml:"response_format" split_words:"true"` // "", "text" or "json_object"
}

// RetryConfig holds the policies for model calls and capability calls.
type RetryConfig struct {
	Model      PolicyConfig `yaml:"model" split_words:"true"`
	Capability PolicyConfig `yaml:"capability" split_words:"true"`
}

// PolicyConfig describes one retry policy.
type PolicyConfig struct {
	Attempts  int           `yaml:"attempts" split_words:"true"`   // default: 3
	BaseDelay time.Duration `yaml:"base_delay" split_words:"true"` // default: 2s
	Timeout   time.Duration `yaml:"timeout" split_words:"true"`    // default: 60s
}

// CapabilitiesConfig selects the capability sources offered to the model.
type CapabilitiesConfig struct {
	// Builtins lists the builtin families to enable. Empty enables every
	// family whose dependencies are configured.
	Builtins       []string       `yaml:"builtins" split_words:"true"`
	HTTPTimeout    time.Duration  `yaml:"http_timeout" split_words:"true"`   // default: 30s
	MaxBodyBytes   int64          `yaml:"max_body_bytes" split_words:"true"` // default: 2 MiB
	PubMed         PubMedConfig   `yaml:"pubmed" envconfig:"pubmed"`
	ClinicalTrials EndpointConfig `yaml:"clinical_trials" split_words:"true"`
	OpenTargets    EndpointConfig `yaml:"open_targets" split_words:"true"`
	Gateway        GatewayConfig  `yaml:"gateway" split_words:"true"`
	MCP            MCPServers     `yaml:"mcp_servers" split_words:"true"`
	NATS           NATSConfig     `yaml:"nats" split_words:"true"`
}

// EndpointConfig overrides a public endpoint.
type EndpointConfig struct {
	URL string `yaml:"url" split_words:"true"`
}

// PubMedConfig configures the PubMed source.
type PubMedConfig struct {
	URL        string `yaml:"url" split_words:"true"`
	APIKey     string `yaml:"api_key" split_words:"true"`
	APIKeyFile string `yaml:"api_key_file" split_words:"true"`
}

// GatewayConfig configures the remote tool gateway. The gateway is
// disabled while URL is empty.
type GatewayConfig struct {
	URL       string `yaml:"url" split_words:"true"`
	Token     string `yaml:"token" split_words:"true"`
	TokenFile string `yaml:"token_file" split_words:"true"`
	Path      string `yaml:"path" split_words:"true"`
}

// NATSConfig points at capability services published over NATS.
type NATSConfig struct {
	URL      string   `yaml:"url" split_words:"true"`
	Prefixes []string `yaml:"prefixes" split_words:"true"`
}

// MCPServers decodes from a JSON array when set through the environment.
type MCPServers []mcp.ServerConfig

// Decode implements envconfig.Decoder.
func (s *MCPServers) Decode(value string) error {
	var servers []mcp.ServerConfig
	if err := json.Unmarshal([]byte(value), &servers); err != nil {
		return fmt.Errorf("parsing MCP servers JSON: %w", err)
	}
	*s = servers
	return nil
}

// TerminologyConfig selects the UMLS store behind the umls and oncology
// capabilities.
type TerminologyConfig struct {
	Type     string         `yaml:"type" split_words:"true"`    // "none", "memory" or "postgres", default: "none"
	Fixture  string         `yaml:"fixture" split_words:"true"` // JSON or YAML fixture for type=memory
	Postgres PostgresConfig `yaml:"postgres" split_words:"true"`
}

// StorageConfig holds outcome ledger settings.
type StorageConfig struct {
	Type     string         `yaml:"type" split_words:"true"`     // "memory", "postgres" or "sqlite", default: "memory"
	MaxSize  int            `yaml:"max_size" split_words:"true"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres" split_words:"true"`
	SQLite   SQLiteConfig   `yaml:"sqlite" envconfig:"sqlite"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn" split_words:"true"`
	DSNFile        string `yaml:"dsn_file" split_words:"true"`
	MaxConns       int32  `yaml:"max_conns" split_words:"true"`
	MigrateOnStart bool   `yaml:"migrate_on_start" split_words:"true"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" split_words:"true"` // default: "maia.db"
}

// BatchConfig holds defaults for the batch pipelines.
type BatchConfig struct {
	Concurrency     int           `yaml:"concurrency" split_words:"true"`      // default: 4
	Interval        time.Duration `yaml:"interval" split_words:"true"`         // minimum spacing between item starts
	CheckpointEvery int           `yaml:"checkpoint_every" split_words:"true"` // default: 10
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port" split_words:"true"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout" split_words:"true"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout" split_words:"true"` // default: 300s
	RunTimeout   time.Duration `yaml:"run_timeout" split_words:"true"`   // default: 240s
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type" split_words:"true"`     // "none", "apikey" or "jwt", default: "none"
	APIKeys   APIKeys         `yaml:"api_keys" split_words:"true"` // entries for type=apikey
	JWT       JWTConfig       `yaml:"jwt" split_words:"true"`
	RateLimit RateLimitConfig `yaml:"rate_limit" split_words:"true"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"`
	Subject     string `yaml:"subject" json:"subject"`
	TenantID    string `yaml:"tenant_id" json:"tenant_id"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
}

// APIKeys decodes from a JSON array when set through the environment.
type APIKeys []APIKeyConfig

// Decode implements envconfig.Decoder.
func (k *APIKeys) Decode(value string) error {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(value), &keys); err != nil {
		return fmt.Errorf("parsing API keys JSON: %w", err)
	}
	*k = keys
	return nil
}

// JWTConfig holds bearer token validation settings.
type JWTConfig struct {
	Issuer      string `yaml:"issuer" split_words:"true"`
	Audience    string `yaml:"audience" split_words:"true"`
	JWKSURL     string `yaml:"jwks_url" envconfig:"jwks_url"`
	TenantClaim string `yaml:"tenant_claim" split_words:"true"`
}

// RateLimitConfig holds per-tier request limits. Zero DefaultRPM disables
// limiting for tiers without an explicit entry.
type RateLimitConfig struct {
	Enabled    bool           `yaml:"enabled" split_words:"true"`
	DefaultRPM int            `yaml:"default_rpm" split_words:"true"`
	Tiers      map[string]int `yaml:"tiers" split_words:"true"` // tier -> requests per minute
}

// ObservabilityConfig holds logging and instrumentation settings.
type ObservabilityConfig struct {
	LogLevel  string        `yaml:"log_level" split_words:"true"`  // default: "INFO"
	LogFormat string        `yaml:"log_format" split_words:"true"` // "text" or "json"
	Debug     string        `yaml:"debug" split_words:"true"`      // comma-separated categories
	Metrics   MetricsConfig `yaml:"metrics" split_words:"true"`
	Tracing   TracingConfig `yaml:"tracing" split_words:"true"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" split_words:"true"` // default: true
	Path    string `yaml:"path" split_words:"true"`    // default: "/metrics"
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled" split_words:"true"`
	Exporter string `yaml:"exporter" split_words:"true"` // "stdout" or "noop"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Provider: ProviderConfig{
			Kind:    ProviderOpenAI,
			Timeout: 120 * time.Second,
			Breaker: BreakerConfig{Enabled: true},
		},
		Retry: RetryConfig{
			Model:      PolicyConfig{Attempts: 3, BaseDelay: 2 * time.Second, Timeout: 60 * time.Second},
			Capability: PolicyConfig{Attempts: 3, BaseDelay: 2 * time.Second, Timeout: 60 * time.Second},
		},
		Capabilities: CapabilitiesConfig{
			HTTPTimeout:  30 * time.Second,
			MaxBodyBytes: 2 << 20,
		},
		Terminology: TerminologyConfig{
			Type: "none",
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			SQLite:  SQLiteConfig{Path: "maia.db"},
		},
		Batch: BatchConfig{
			Concurrency:     4,
			CheckpointEvery: 10,
		},
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 300 * time.Second,
			RunTimeout:   240 * time.Second,
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
