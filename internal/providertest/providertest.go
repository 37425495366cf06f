// Package providertest offers fake inference providers for tests of the
// packages built on the engine.
package providertest

import (
	"context"
	"sync"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/provider"
)

// Func is a provider backed by a function. Calls may be concurrent.
type Func struct {
	mu       sync.Mutex
	requests []provider.Request
	fn       func(ctx context.Context, req *provider.Request) (*provider.Response, error)
}

var _ provider.Provider = (*Func)(nil)

// New wraps fn as a provider.
func New(fn func(ctx context.Context, req *provider.Request) (*provider.Response, error)) *Func {
	return &Func{fn: fn}
}

// Name returns "fake".
func (f *Func) Name() string { return "fake" }

// Close is a no-op.
func (f *Func) Close() error { return nil }

// Complete records the request and delegates to the function.
func (f *Func) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	cp := *req
	cp.Messages = append([]provider.Message(nil), req.Messages...)
	f.mu.Lock()
	f.requests = append(f.requests, cp)
	f.mu.Unlock()
	return f.fn(ctx, req)
}

// Requests returns a copy of every request seen so far.
func (f *Func) Requests() []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Request(nil), f.requests...)
}

// Text builds a plain assistant reply.
func Text(s string) *provider.Response {
	return &provider.Response{
		Message:      provider.Message{Role: "assistant", Content: s},
		FinishReason: "stop",
		Usage:        api.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

// LastUser returns the content of the last user message in req.
func LastUser(req *provider.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}
