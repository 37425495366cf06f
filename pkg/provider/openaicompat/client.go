package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/debug"
	"github.com/maia-bench/maia/pkg/provider"
)

// Flavors of Chat Completions endpoints.
const (
	FlavorOpenAI = "openai"
	FlavorAzure  = "azure"
)

// DefaultAzureAPIVersion is used when an Azure config omits APIVersion.
const DefaultAzureAPIVersion = "2024-10-21"

// Config holds configuration for a Chat Completions provider.
type Config struct {
	// BaseURL is the server URL, e.g. "https://api.openai.com" or
	// "https://<resource>.openai.azure.com".
	BaseURL string

	// APIKey is sent as a bearer token (OpenAI) or api-key header (Azure).
	APIKey string

	// Flavor is FlavorOpenAI (default) or FlavorAzure.
	Flavor string

	// APIVersion is the Azure api-version query parameter.
	APIVersion string

	// Timeout for individual HTTP requests. Defaults to 120s.
	Timeout time.Duration

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client performs requests against a Chat Completions backend.
type Client struct {
	cfg        Config
	httpClient *http.Client

	// ModelMapper is an optional function that transforms the model name
	// before sending it to the backend. If nil, the model name is used as-is.
	ModelMapper func(string) string
}

var _ provider.Provider = (*Client)(nil)

// New creates a Client. BaseURL is required.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openaicompat: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("openaicompat: invalid BaseURL: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	switch cfg.Flavor {
	case "":
		cfg.Flavor = FlavorOpenAI
	case FlavorOpenAI:
	case FlavorAzure:
		if cfg.APIVersion == "" {
			cfg.APIVersion = DefaultAzureAPIVersion
		}
	default:
		return nil, fmt.Errorf("openaicompat: unknown flavor %q", cfg.Flavor)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{cfg: cfg, httpClient: hc}, nil
}

// Name returns the flavor ("openai" or "azure").
func (c *Client) Name() string { return c.cfg.Flavor }

// Complete performs non-streaming inference against the Chat Completions endpoint.
func (c *Client) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	model := req.Model
	if c.ModelMapper != nil {
		model = c.ModelMapper(model)
	}

	reqCopy := *req
	reqCopy.Model = model
	chatReq := TranslateToChat(&reqCopy)
	if c.cfg.Flavor == FlavorAzure {
		// The deployment in the URL selects the model.
		chatReq.Model = ""
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to marshal request: %s", err.Error()))
	}

	endpoint := c.endpoint(model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	debug.Log("providers", "chat completion request",
		"flavor", c.cfg.Flavor, "model", model, "messages", len(chatReq.Messages), "tools", len(chatReq.Tools))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, MapHTTPError(httpResp)
	}

	var chatResp ChatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chatResp); err != nil {
		return nil, api.NewModelError(fmt.Sprintf("failed to parse backend response: %s", err.Error()))
	}

	resp, err := TranslateResponse(&chatResp)
	if err != nil {
		return nil, err
	}
	if resp.Model == "" {
		resp.Model = model
	}
	return resp, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) endpoint(model string) string {
	if c.cfg.Flavor == FlavorAzure {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			c.cfg.BaseURL, url.PathEscape(model), url.QueryEscape(c.cfg.APIVersion))
	}
	if strings.HasSuffix(c.cfg.BaseURL, "/v1") {
		return c.cfg.BaseURL + "/chat/completions"
	}
	return c.cfg.BaseURL + "/v1/chat/completions"
}

func (c *Client) authorize(r *http.Request) {
	if c.cfg.APIKey == "" {
		return
	}
	if c.cfg.Flavor == FlavorAzure {
		r.Header.Set("api-key", c.cfg.APIKey)
		return
	}
	r.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
}
