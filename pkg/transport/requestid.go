package transport

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/maia-bench/maia/pkg/api"
)

// RequestID returns middleware that makes sure the context carries a
// request ID. An ID set by the HTTP adapter from X-Request-ID is kept.
func RequestID() Middleware {
	return func(next Answerer) Answerer {
		return AnswererFunc(func(ctx context.Context, req *api.AnswerRequest) (*api.AnswerResponse, error) {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, NewRequestID())
			}
			return next.Answer(ctx, req)
		})
	}
}

// NewRequestID returns a fresh, time-ordered request ID.
func NewRequestID() string {
	return "req_" + ulid.Make().String()
}
