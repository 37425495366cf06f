package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/maia-bench/maia/pkg/capability/builtins"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider.Kind {
	case ProviderOpenAI, ProviderAzure:
		if c.Provider.URL == "" {
			errs = append(errs, fmt.Errorf("provider.url is required when provider.kind is %q", c.Provider.Kind))
		}
	case ProviderAnthropic:
		if c.Provider.APIKey == "" && c.Provider.APIKeyFile == "" {
			errs = append(errs, errors.New("provider.api_key or provider.api_key_file is required when provider.kind is \"anthropic\""))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.kind must be \"openai\", \"azure\", or \"anthropic\", got %q", c.Provider.Kind))
	}
	if c.Provider.Model == "" {
		errs = append(errs, errors.New("provider.model is required"))
	}
	if t := c.Provider.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("provider.temperature must be within [0, 2], got %g", *t))
	}

	if c.Engine.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("engine.max_turns must be >= 0, got %d", c.Engine.MaxTurns))
	}
	switch c.Engine.ResponseFormat {
	case "", "text", "json_object":
	default:
		errs = append(errs, fmt.Errorf("engine.response_format must be \"text\" or \"json_object\", got %q", c.Engine.ResponseFormat))
	}

	errs = append(errs, c.Retry.Model.validate("retry.model")...)
	errs = append(errs, c.Retry.Capability.validate("retry.capability")...)

	for _, b := range c.Capabilities.Builtins {
		if !slices.Contains(builtins.Families, b) {
			errs = append(errs, fmt.Errorf("capabilities.builtins: unknown family %q", b))
		}
	}
	if c.Capabilities.Gateway.URL != "" && c.Capabilities.Gateway.Token == "" && c.Capabilities.Gateway.TokenFile == "" {
		errs = append(errs, errors.New("capabilities.gateway.token or capabilities.gateway.token_file is required when capabilities.gateway.url is set"))
	}
	if len(c.Capabilities.NATS.Prefixes) > 0 && c.Capabilities.NATS.URL == "" {
		errs = append(errs, errors.New("capabilities.nats.url is required when capabilities.nats.prefixes is set"))
	}
	seen := make(map[string]bool)
	for i, s := range c.Capabilities.MCP {
		if s.Name == "" || s.URL == "" {
			errs = append(errs, fmt.Errorf("capabilities.mcp_servers[%d]: name and url are required", i))
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("capabilities.mcp_servers[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
	}

	switch c.Terminology.Type {
	case "none":
	case "memory":
		if c.Terminology.Fixture == "" {
			errs = append(errs, errors.New("terminology.fixture is required when terminology.type is \"memory\""))
		}
	case "postgres":
		if c.Terminology.Postgres.DSN == "" && c.Terminology.Postgres.DSNFile == "" {
			errs = append(errs, errors.New("terminology.postgres.dsn or terminology.postgres.dsn_file is required when terminology.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("terminology.type must be \"none\", \"memory\", or \"postgres\", got %q", c.Terminology.Type))
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, errors.New("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, errors.New("storage.sqlite.path is required when storage.type is \"sqlite\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\", \"postgres\", or \"sqlite\", got %q", c.Storage.Type))
	}

	if c.Batch.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("batch.concurrency must be > 0, got %d", c.Batch.Concurrency))
	}
	if c.Batch.Interval < 0 {
		errs = append(errs, fmt.Errorf("batch.interval must be >= 0, got %s", c.Batch.Interval))
	}

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, errors.New("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" {
			errs = append(errs, errors.New("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}
	if c.Auth.RateLimit.DefaultRPM < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit.default_rpm must be >= 0, got %d", c.Auth.RateLimit.DefaultRPM))
	}

	switch c.Observability.Tracing.Exporter {
	case "", "noop", "stdout":
	default:
		errs = append(errs, fmt.Errorf("observability.tracing.exporter must be \"stdout\" or \"noop\", got %q", c.Observability.Tracing.Exporter))
	}

	return errors.Join(errs...)
}

func (p PolicyConfig) validate(path string) []error {
	var errs []error
	if p.Attempts < 1 {
		errs = append(errs, fmt.Errorf("%s.attempts must be >= 1, got %d", path, p.Attempts))
	}
	if p.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("%s.base_delay must be >= 0, got %s", path, p.BaseDelay))
	}
	if p.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must be >= 0, got %s", path, p.Timeout))
	}
	return errs
}
