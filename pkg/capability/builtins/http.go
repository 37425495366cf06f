package builtins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/maia-bench/maia/pkg/debug"
)

// DefaultMaxBodyBytes caps upstream response bodies.
const DefaultMaxBodyBytes = 2 << 20

// HTTPConfig configures one HTTP-backed source.
type HTTPConfig struct {
	// BaseURL overrides the public endpoint.
	BaseURL string

	// Timeout bounds each upstream request (default 30s).
	Timeout time.Duration

	// MaxBodyBytes caps the response body (default 2 MiB).
	MaxBodyBytes int64

	// HTTPClient replaces the default client.
	HTTPClient *http.Client
}

type fetcher struct {
	name    string
	base    string
	client  *http.Client
	maxBody int64
	header  http.Header
}

func newFetcher(name, defaultBase string, cfg HTTPConfig) *fetcher {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &fetcher{
		name:    name,
		base:    strings.TrimRight(base, "/"),
		client:  client,
		maxBody: maxBody,
		header:  http.Header{"Accept": []string{"application/json"}},
	}
}

// getJSON issues a GET and returns the parsed body.
func (f *fetcher) getJSON(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	u := f.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	body, err := f.do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%s returned invalid JSON: %s", f.name, debug.Truncate(string(body), 200))
	}
	return gjson.ParseBytes(body), nil
}

// postJSON issues a POST with a JSON body and returns the raw response body.
func (f *fetcher) postJSON(ctx context.Context, path string, payload any, header http.Header) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.base+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return f.do(req)
}

func (f *fetcher) do(req *http.Request) ([]byte, error) {
	for k, vs := range f.header {
		if req.Header.Get(k) == "" {
			req.Header[k] = vs
		}
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", f.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, fmt.Errorf("%s read response: %w", f.name, err)
	}
	debug.Log("capabilities", "upstream call", "source", f.name, "method", req.Method,
		"path", req.URL.Path, "status", resp.StatusCode, "bytes", len(body), "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s failed (HTTP %d): %s", f.name, resp.StatusCode, debug.Truncate(string(body), 200))
	}
	return body, nil
}

// clamp bounds n to [1, hi], mapping non-positive values to def.
func clamp(n, def, hi int) int {
	if n <= 0 {
		return def
	}
	if n > hi {
		return hi
	}
	return n
}
