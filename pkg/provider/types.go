package provider

import (
	"encoding/json"

	"github.com/maia-bench/maia/pkg/api"
)

// Request is the protocol-agnostic completion request built by the engine.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	ToolChoice  string // "auto", "none", "required" or "" for the backend default
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Stop        []string

	// ResponseFormat requests structured output. Nil means free text.
	ResponseFormat *ResponseFormat

	// User is forwarded as the end-user identifier where supported.
	User string
}

// Message is one entry of the conversation sent to the backend.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`

	// IsError marks a tool message that carries an error payload. Backends
	// without an error flag receive it as ordinary content.
	IsError bool `json:"-"`
}

// ToolCall is a capability invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool advertises a capability to the model.
type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef is the function definition of a Tool.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Response format types.
const (
	FormatText       = "text"
	FormatJSONObject = "json_object"
	FormatJSONSchema = "json_schema"
)

// ResponseFormat selects structured output.
type ResponseFormat struct {
	Type   string
	Name   string          // schema name, json_schema only
	Schema json.RawMessage // json_schema only
	Strict bool
}

// Response is the protocol-agnostic completion result.
type Response struct {
	// Message is the assistant message: text, tool calls, or both.
	Message Message

	// FinishReason is the backend's stop reason, normalized to
	// "stop", "tool_calls", "length" or "content_filter" where possible.
	FinishReason string

	Model string
	Usage api.Usage
}
