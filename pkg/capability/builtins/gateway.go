package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/maia-bench/maia/pkg/capability"
)

// Gateway tool names accepted by the remote tool gateway.
var GatewayTools = []string{
	"General-Inference",
	"Medical-Search",
	"Web-Search",
	"Clinical-Trial-Result-Analysis",
	"Drug-Analysis",
	"Catalyst-Event-Analysis",
}

// Per-operation deadlines. Reports run for minutes on the gateway side.
const (
	slotFillTimeout = 30 * time.Second
	reportTimeout   = 4 * time.Minute
	agentTimeout    = 20 * time.Minute
)

// GatewayConfig configures the remote tool gateway.
type GatewayConfig struct {
	HTTPConfig

	// Token authenticates with "Authorization: Token <token>".
	Token string

	// Path is the tool endpoint path (default "/api/tool_test/").
	Path string
}

// Gateway forwards prompts to a remote tool gateway that either fills
// query slots for a named tool or produces a full report.
type Gateway struct {
	f     *fetcher
	token string
	path  string
}

// NewGateway creates the gateway source. BaseURL is required.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway: base URL is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("gateway: token is required")
	}
	// Per-operation contexts bound each call.
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	path := cfg.Path
	if path == "" {
		path = "/api/tool_test/"
	}
	return &Gateway{f: newFetcher("gateway", "", cfg.HTTPConfig), token: cfg.Token, path: path}, nil
}

type gatewayToolArgs struct {
	Prompt   string `json:"prompt" jsonschema:"required,description=User question"`
	Tool     string `json:"tool" jsonschema:"required,description=Gateway tool name,enum=General-Inference,enum=Medical-Search,enum=Web-Search,enum=Clinical-Trial-Result-Analysis,enum=Drug-Analysis,enum=Catalyst-Event-Analysis"`
	Language string `json:"language,omitempty" jsonschema:"description=Answer language code (default en)"`
}

type gatewayAgentArgs struct {
	Prompt   string `json:"prompt" jsonschema:"required,description=User question"`
	Language string `json:"language,omitempty" jsonschema:"description=Answer language code (default en)"`
}

type gatewayRequest struct {
	Language   string `json:"language"`
	UserPrompt string `json:"user_prompt"`
	Tool       string `json:"tool"`
	SlotFill   *bool  `json:"slot_fill,omitempty"`
}

// Name implements capability.Source.
func (g *Gateway) Name() string { return "gateway" }

// Close implements capability.Source.
func (g *Gateway) Close() error { return nil }

// Bindings implements capability.Source.
func (g *Gateway) Bindings() []capability.Binding {
	return []capability.Binding{
		{
			Input: capability.Plain(capability.Descriptor{
				Name:        "gateway.slot_fill",
				Description: "Turn a question into structured query parameters for a gateway tool.",
				Parameters:  capability.ParametersFor[gatewayToolArgs](),
			}),
			Impl: capability.Typed(func(ctx context.Context, in gatewayToolArgs) (any, error) {
				return g.call(ctx, slotFillTimeout, in.Prompt, in.Tool, in.Language, boolPtr(true))
			}),
		},
		{
			Input: capability.Plain(capability.Descriptor{
				Name:        "gateway.report",
				Description: "Run a gateway tool end to end and return its text report. Takes minutes.",
				Parameters:  capability.ParametersFor[gatewayToolArgs](),
			}),
			Impl: capability.Typed(func(ctx context.Context, in gatewayToolArgs) (any, error) {
				return g.call(ctx, reportTimeout, in.Prompt, in.Tool, in.Language, boolPtr(false))
			}),
		},
		{
			Input: capability.Plain(capability.Descriptor{
				Name:        "gateway.agent_report",
				Description: "Run the gateway research agent and return its report. Takes up to twenty minutes.",
				Parameters:  capability.ParametersFor[gatewayAgentArgs](),
			}),
			Impl: capability.Typed(func(ctx context.Context, in gatewayAgentArgs) (any, error) {
				return g.call(ctx, agentTimeout, in.Prompt, "agent", in.Language, nil)
			}),
		},
	}
}

// call posts one gateway request. A non-JSON body is returned as
// {"data": text}.
func (g *Gateway) call(ctx context.Context, timeout time.Duration, prompt, tool, language string, slotFill *bool) (any, error) {
	if language == "" {
		language = "en"
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := g.f.postJSON(ctx, g.path, gatewayRequest{
		Language:   language,
		UserPrompt: prompt,
		Tool:       tool,
		SlotFill:   slotFill,
	}, http.Header{"Authorization": {"Token " + g.token}})
	if err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return map[string]any{"data": string(body)}, nil
	}
	return out, nil
}

func boolPtr(b bool) *bool { return &b }
