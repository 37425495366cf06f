package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/maia-bench/maia/pkg/debug"
)

// EnvPrefix prefixes every environment override, e.g. MAIA_PROVIDER_URL
// or MAIA_STORAGE_POSTGRES_DSN.
const EnvPrefix = "MAIA"

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, MAIA_CONFIG env, ./config.yaml, /etc/maia/config.yaml)
//  3. MAIA_* environment variables
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	debug.Log("config", "config file", "path", filePath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	// Struct tags use split_words instead of envconfig names: envconfig
	// falls back to the unprefixed name (PATH, PORT) when a tagged
	// variable is unset.
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. MAIA_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/maia/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("MAIA_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/maia/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
// Unknown keys are rejected so typos surface at startup.
func loadYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. An explicit value always wins over its file reference.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name  string
		file  string
		value *string
	}{
		{"provider.api_key_file", cfg.Provider.APIKeyFile, &cfg.Provider.APIKey},
		{"engine.system_prompt_file", cfg.Engine.SystemPromptFile, &cfg.Engine.SystemPrompt},
		{"capabilities.pubmed.api_key_file", cfg.Capabilities.PubMed.APIKeyFile, &cfg.Capabilities.PubMed.APIKey},
		{"capabilities.gateway.token_file", cfg.Capabilities.Gateway.TokenFile, &cfg.Capabilities.Gateway.Token},
		{"terminology.postgres.dsn_file", cfg.Terminology.Postgres.DSNFile, &cfg.Terminology.Postgres.DSN},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
	}
	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.value = val
	}

	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		if k.KeyFile != "" && k.Key == "" {
			val, err := readSecretFile(k.KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			k.Key = val
		}
	}

	// mcp servers: auth.client_secret_file -> auth.client_secret
	for i := range cfg.Capabilities.MCP {
		a := &cfg.Capabilities.MCP[i].Auth
		if a.ClientSecretFile != "" && a.ClientSecret == "" {
			val, err := readSecretFile(a.ClientSecretFile)
			if err != nil {
				return fmt.Errorf("capabilities.mcp_servers[%d].auth.client_secret_file: %w", i, err)
			}
			a.ClientSecret = val
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
