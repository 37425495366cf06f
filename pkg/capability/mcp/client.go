package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maia-bench/maia/pkg/capability"
)

// Client is a session with one MCP server.
type Client struct {
	cfg     ServerConfig
	session *mcp.ClientSession
	version string
}

// Dial connects to the server described by cfg.
func Dial(ctx context.Context, cfg ServerConfig) (*Client, error) {
	return DialTransport(ctx, cfg, nil)
}

// DialTransport connects over transport, or over a transport built from
// cfg when transport is nil. The server's reported version is checked
// against cfg.Version after the handshake.
func DialTransport(ctx context.Context, cfg ServerConfig, transport mcp.Transport) (*Client, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcp server name is required")
	}
	var constraint *semver.Constraints
	if cfg.Version != "" {
		c, err := semver.NewConstraint(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("mcp server %q: invalid version constraint %q: %w", cfg.Name, cfg.Version, err)
		}
		constraint = c
	}

	if transport == nil {
		t, err := newTransport(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating transport for %q: %w", cfg.Name, err)
		}
		transport = t
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "maia", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to MCP server %q: %w", cfg.Name, err)
	}

	c := &Client{cfg: cfg, session: session}
	if init := session.InitializeResult(); init != nil && init.ServerInfo != nil {
		c.version = init.ServerInfo.Version
	}
	if constraint != nil {
		if err := c.checkVersion(constraint); err != nil {
			session.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) checkVersion(constraint *semver.Constraints) error {
	v, err := semver.NewVersion(c.version)
	if err != nil {
		return fmt.Errorf("mcp server %q reported unparseable version %q: %w", c.cfg.Name, c.version, err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("mcp server %q version %s does not satisfy %q", c.cfg.Name, v, c.cfg.Version)
	}
	return nil
}

func newTransport(cfg ServerConfig) (mcp.Transport, error) {
	hc, err := httpClient(cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Transport {
	case "streamable-http", "":
		return &mcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: hc}, nil
	case "sse":
		return &mcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: hc}, nil
	default:
		return nil, fmt.Errorf("unsupported transport type %q", cfg.Transport)
	}
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.cfg.Name }

// ServerVersion returns the version the server reported at handshake.
func (c *Client) ServerVersion() string { return c.version }

// Tools lists the server's tools, filtered by cfg.Include.
func (c *Client) Tools(ctx context.Context) ([]*mcp.Tool, error) {
	var include map[string]bool
	if len(c.cfg.Include) > 0 {
		include = make(map[string]bool, len(c.cfg.Include))
		for _, n := range c.cfg.Include {
			include[n] = true
		}
	}

	var tools []*mcp.Tool
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing tools from %q: %w", c.cfg.Name, err)
		}
		if include != nil && !include[tool.Name] {
			continue
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

// Call invokes a tool. A result flagged as an error becomes a
// *capability.CapabilityError. Structured content is returned as is;
// text content is returned as raw JSON when it parses, else as a string.
func (c *Client) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("mcp %s/%s: %w", c.cfg.Name, name, err)
	}

	text := resultText(res)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return nil, &capability.CapabilityError{Message: text}
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	if trimmed := strings.TrimSpace(text); json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}
	return text, nil
}

// Close ends the session.
func (c *Client) Close() error {
	return c.session.Close()
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
