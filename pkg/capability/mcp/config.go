package mcp

// ServerConfig describes one MCP server connection.
type ServerConfig struct {
	// Name identifies the server in logs and prefixes its tool names.
	Name string `json:"name" yaml:"name"`

	// Transport is "streamable-http" (default) or "sse".
	Transport string `json:"transport,omitempty" yaml:"transport"`

	// URL is the server endpoint.
	URL string `json:"url" yaml:"url"`

	// Headers are sent with every request (API keys and similar).
	Headers map[string]string `json:"headers,omitempty" yaml:"headers"`

	// Auth configures dynamic credentials.
	Auth AuthConfig `json:"auth,omitempty" yaml:"auth"`

	// Version is a semver constraint the server's reported version must
	// satisfy, e.g. ">= 1.2, < 2". Empty accepts any version.
	Version string `json:"version,omitempty" yaml:"version"`

	// Prefix is prepended to discovered tool names. Nil means Name + ".";
	// an empty string keeps names as published.
	Prefix *string `json:"prefix,omitempty" yaml:"prefix"`

	// Include limits discovery to these tool names when set.
	Include []string `json:"include,omitempty" yaml:"include"`
}

// AuthConfig selects an authentication scheme.
type AuthConfig struct {
	// Type is "" (none) or "oauth_client_credentials".
	Type         string `json:"type,omitempty" yaml:"type"`
	TokenURL     string `json:"token_url,omitempty" yaml:"token_url"`
	ClientID     string `json:"client_id,omitempty" yaml:"client_id"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret"`

	// ClientSecretFile is read into ClientSecret by the config loader.
	ClientSecretFile string   `json:"client_secret_file,omitempty" yaml:"client_secret_file"`
	Scopes           []string `json:"scopes,omitempty" yaml:"scopes"`
}

func (c ServerConfig) prefix() string {
	if c.Prefix != nil {
		return *c.Prefix
	}
	return c.Name + "."
}
