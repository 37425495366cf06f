package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/maia-bench/maia/pkg/api"
)

// Recovery returns middleware that converts a panic in the answerer into
// a server error. The server keeps accepting requests afterwards.
func Recovery() Middleware {
	return func(next Answerer) Answerer {
		return AnswererFunc(func(ctx context.Context, req *api.AnswerRequest) (resp *api.AnswerResponse, retErr error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic while answering", "panic", r, "request_id", RequestIDFromContext(ctx), "stack", string(debug.Stack()))
					resp = nil
					retErr = api.NewServerError(fmt.Sprintf("internal server error: %v", r))
				}
			}()
			return next.Answer(ctx, req)
		})
	}
}
