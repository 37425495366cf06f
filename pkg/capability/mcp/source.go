package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/debug"
)

// Source exposes the tools of one or more MCP servers as capabilities.
// Tools are discovered once; later changes on the servers are not seen.
type Source struct {
	clients  []*Client
	bindings []capability.Binding
}

var _ capability.Source = (*Source)(nil)

// Connect dials every server and discovers its tools. On failure every
// session opened so far is closed.
func Connect(ctx context.Context, servers []ServerConfig) (*Source, error) {
	clients := make([]*Client, 0, len(servers))
	for _, cfg := range servers {
		c, err := Dial(ctx, cfg)
		if err != nil {
			closeAll(clients)
			return nil, err
		}
		clients = append(clients, c)
	}
	s, err := NewSource(ctx, clients...)
	if err != nil {
		closeAll(clients)
		return nil, err
	}
	return s, nil
}

// NewSource discovers tools from already connected clients. The Source
// takes ownership of the clients.
func NewSource(ctx context.Context, clients ...*Client) (*Source, error) {
	s := &Source{clients: clients}
	for _, c := range clients {
		tools, err := c.Tools(ctx)
		if err != nil {
			return nil, err
		}
		prefix := c.cfg.prefix()
		for _, tool := range tools {
			var params json.RawMessage
			if tool.InputSchema != nil {
				data, err := json.Marshal(tool.InputSchema)
				if err != nil {
					return nil, fmt.Errorf("tool %q from %q: marshaling input schema: %w", tool.Name, c.Name(), err)
				}
				params = data
			}
			remote := tool.Name
			client := c
			s.bindings = append(s.bindings, capability.Binding{
				Input: capability.Plain(capability.Descriptor{
					Name:        prefix + tool.Name,
					Description: tool.Description,
					Parameters:  params,
				}),
				Impl: capability.Func(func(ctx context.Context, args json.RawMessage) (any, error) {
					debug.Log("mcp", "calling tool", "server", client.Name(), "tool", remote)
					return client.Call(ctx, remote, args)
				}),
			})
		}
		slog.Info("discovered MCP tools", "server", c.Name(), "version", c.ServerVersion(), "count", len(tools))
	}
	return s, nil
}

// Name implements capability.Source.
func (s *Source) Name() string { return "mcp" }

// Bindings implements capability.Source.
func (s *Source) Bindings() []capability.Binding { return s.bindings }

// Close ends every session.
func (s *Source) Close() error {
	return closeAll(s.clients)
}

func closeAll(clients []*Client) error {
	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close MCP client", "server", c.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
