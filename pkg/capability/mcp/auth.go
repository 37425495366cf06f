package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/maia-bench/maia/pkg/debug"
)

// HeaderSource supplies request headers for an MCP connection.
type HeaderSource interface {
	Headers(ctx context.Context) (map[string]string, error)
}

// ClientCredentials obtains bearer tokens with the OAuth 2.0
// client_credentials grant. Tokens are cached and refreshed once 80% of
// their lifetime has passed; a failed refresh keeps serving the cached
// token until it expires.
type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	refreshAt time.Time
	client    *http.Client
	now       func() time.Time
}

// NewClientCredentials creates a ClientCredentials header source.
func NewClientCredentials(cfg AuthConfig) *ClientCredentials {
	return &ClientCredentials{
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		client:       &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}
}

// Headers returns an Authorization header with a current token.
func (a *ClientCredentials) Headers(ctx context.Context) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.token != "" && now.Before(a.refreshAt) {
		return a.header(), nil
	}

	token, ttl, err := a.fetch(ctx)
	if err != nil {
		if a.token != "" && now.Before(a.expiresAt) {
			debug.Log("capabilities", "token refresh failed, using cached token", "error", err)
			return a.header(), nil
		}
		return nil, fmt.Errorf("acquiring OAuth token: %w", err)
	}

	a.token = token
	a.expiresAt = now.Add(ttl)
	a.refreshAt = now.Add(ttl * 4 / 5)
	return a.header(), nil
}

func (a *ClientCredentials) header() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.token}
}

func (a *ClientCredentials) fetch(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {a.ClientID},
		"client_secret": {a.ClientSecret},
	}
	if len(a.Scopes) > 0 {
		form.Set("scope", strings.Join(a.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, debug.Truncate(string(body), 200))
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, errors.New("token response missing access_token")
	}
	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}

// headerTransport adds static and dynamic headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	static  map[string]string
	dynamic HeaderSource
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.static {
		req.Header.Set(k, v)
	}
	if t.dynamic != nil {
		h, err := t.dynamic.Headers(req.Context())
		if err != nil {
			return nil, fmt.Errorf("getting auth headers: %w", err)
		}
		for k, v := range h {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// httpClient returns a client carrying the configured headers, or nil
// when none are configured.
func httpClient(cfg ServerConfig) (*http.Client, error) {
	var dynamic HeaderSource
	switch cfg.Auth.Type {
	case "":
	case "oauth_client_credentials":
		dynamic = NewClientCredentials(cfg.Auth)
	default:
		return nil, fmt.Errorf("unsupported auth type %q", cfg.Auth.Type)
	}
	if len(cfg.Headers) == 0 && dynamic == nil {
		return nil, nil
	}
	return &http.Client{Transport: &headerTransport{base: http.DefaultTransport, static: cfg.Headers, dynamic: dynamic}}, nil
}
