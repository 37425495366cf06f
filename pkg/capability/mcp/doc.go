// Package mcp connects capability sources over the Model Context Protocol.
//
// Source dials configured MCP servers, discovers their tools once at
// startup and exposes them as capability bindings; Serve goes the other
// way and publishes a capability table as an MCP server.
package mcp
