package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maia-bench/maia/pkg/capability"
)

// NewServer publishes every capability of table as an MCP tool under its
// original name. Capability failures become error results, not protocol
// errors.
func NewServer(name, version string, table *capability.Table) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)
	for _, c := range table.Registry().Capabilities() {
		dispatchID := c.DispatchID
		server.AddTool(&mcp.Tool{
			Name:        c.OriginalName,
			Description: c.Description,
			InputSchema: c.Parameters,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args json.RawMessage
			if req.Params != nil {
				args = req.Params.Arguments
			}
			res, err := table.Invoke(ctx, dispatchID, args)
			if err != nil {
				var ce *capability.CapabilityError
				if errors.As(err, &ce) {
					return &mcp.CallToolResult{
						Content: []mcp.Content{&mcp.TextContent{Text: ce.Error()}},
						IsError: true,
					}, nil
				}
				return nil, err
			}
			data, err := json.Marshal(res)
			if err != nil {
				return nil, err
			}
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil
		})
	}
	return server
}

// Handler serves server over streamable HTTP.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}
