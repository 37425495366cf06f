// Package anthropic implements provider.Provider on the Anthropic Messages
// API using the official SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/debug"
	"github.com/maia-bench/maia/pkg/provider"
)

// DefaultMaxTokens is sent when a request does not set MaxTokens; the
// Messages API requires a value.
const DefaultMaxTokens = 1024

// Config holds configuration for the Anthropic adapter.
type Config struct {
	APIKey  string
	BaseURL string // optional, e.g. a proxy or test server

	// Timeout for individual HTTP requests. Defaults to 120s.
	Timeout time.Duration

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Provider talks to the Messages API. The SDK's own retries are disabled;
// retrying is the caller's policy.
type Provider struct {
	client sdk.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: APIKey is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}

	return &Provider{client: sdk.NewClient(opts...)}, nil
}

// Name returns "anthropic".
func (p *Provider) Name() string { return "anthropic" }

// Complete sends one Messages request.
func (p *Provider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	params, err := TranslateRequest(req)
	if err != nil {
		return nil, err
	}

	debug.Log("providers", "messages request", "model", req.Model, "messages", len(params.Messages), "tools", len(params.Tools))

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}
	return TranslateResponse(msg), nil
}

// Close is a no-op; the SDK client holds no resources of its own.
func (p *Provider) Close() error { return nil }

// TranslateRequest converts a provider.Request into Messages API params.
// System messages are concatenated into the system prompt; consecutive tool
// results are grouped into one user message as the API requires.
func TranslateRequest(req *provider.Request) (sdk.MessageNewParams, error) {
	maxTokens := int64(DefaultMaxTokens)
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = int64(*req.MaxTokens)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = sdk.Float(*req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}

	var system []string
	var pendingResults []sdk.ContentBlockParamUnion
	flushResults := func() {
		if len(pendingResults) > 0 {
			params.Messages = append(params.Messages, sdk.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "tool":
			pendingResults = append(pendingResults, sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))
		case "user":
			flushResults()
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case "assistant":
			flushResults()
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(blocks...))
		default:
			return params, api.NewInvalidRequestError("messages", fmt.Sprintf("unsupported role %q", m.Role))
		}
	}
	flushResults()

	if rf := req.ResponseFormat; rf != nil && rf.Type != "" && rf.Type != provider.FormatText {
		system = append(system, structuredOutputInstruction(rf))
	}
	if len(system) > 0 {
		params.System = []sdk.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	if req.ToolChoice != "none" {
		for _, t := range req.Tools {
			schema, err := inputSchema(t.Function.Parameters)
			if err != nil {
				return params, api.NewInvalidRequestError("tools", fmt.Sprintf("tool %q: %s", t.Function.Name, err))
			}
			tool := &sdk.ToolParam{
				Name:        t.Function.Name,
				InputSchema: schema,
			}
			if t.Function.Description != "" {
				tool.Description = sdk.String(t.Function.Description)
			}
			params.Tools = append(params.Tools, sdk.ToolUnionParam{OfTool: tool})
		}
		if req.ToolChoice == "required" && len(params.Tools) > 0 {
			params.ToolChoice = sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}
		}
	}

	return params, nil
}

// The Messages API has no JSON mode, so structured output is requested in
// the system prompt and validated by the caller.
func structuredOutputInstruction(rf *provider.ResponseFormat) string {
	instr := "Respond with a single JSON object and nothing else. Do not wrap it in markdown."
	if rf.Type == provider.FormatJSONSchema && len(rf.Schema) > 0 {
		instr += "\nThe object must conform to this JSON Schema:\n" + string(rf.Schema)
	}
	return instr
}

func inputSchema(params json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	var schema sdk.ToolInputSchemaParam
	if len(params) == 0 {
		schema.Properties = map[string]any{}
		return schema, nil
	}
	var parsed struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(params, &parsed); err != nil {
		return schema, err
	}
	if parsed.Properties == nil {
		parsed.Properties = map[string]any{}
	}
	schema.Properties = parsed.Properties
	schema.Required = parsed.Required
	return schema, nil
}

// TranslateResponse converts a Messages API response into a provider.Response.
func TranslateResponse(msg *sdk.Message) *provider.Response {
	resp := &provider.Response{
		Model:        string(msg.Model),
		Message:      provider.Message{Role: "assistant"},
		FinishReason: mapStopReason(string(msg.StopReason)),
		Usage: api.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case sdk.TextBlock:
			text.WriteString(v.Text)
		case sdk.ToolUseBlock:
			args := v.JSON.Input.Raw()
			if args == "" {
				args = "{}"
			}
			resp.Message.ToolCalls = append(resp.Message.ToolCalls, provider.ToolCall{
				ID:       v.ID,
				Type:     "function",
				Function: provider.FunctionCall{Name: v.Name, Arguments: args},
			})
		}
	}
	resp.Message.Content = text.String()
	return resp
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	case "refusal":
		return "content_filter"
	default:
		return reason
	}
}

func mapError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic: %w", err)
	}

	msg := apiErr.Error()
	var mapped *api.APIError
	switch code := apiErr.StatusCode; {
	case code == http.StatusBadRequest:
		mapped = api.NewInvalidRequestError("", msg)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		mapped = api.NewAuthenticationError(msg)
	case code == http.StatusNotFound:
		mapped = api.NewNotFoundError(msg)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		mapped = api.NewTimeoutError(msg)
	case code == http.StatusTooManyRequests:
		mapped = api.NewTooManyRequestsError(msg)
	default:
		mapped = api.NewServerError(msg)
	}
	mapped.Status = apiErr.StatusCode
	return mapped
}
