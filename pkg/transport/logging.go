package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/maia-bench/maia/pkg/api"
)

// Logging returns middleware that logs one line per answered question.
// HTTP status codes are recorded by the metrics middleware instead.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Answerer) Answerer {
		return AnswererFunc(func(ctx context.Context, req *api.AnswerRequest) (*api.AnswerResponse, error) {
			start := time.Now()
			resp, err := next.Answer(ctx, req)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.Int("question_chars", len(req.Question)),
				slog.Duration("duration", time.Since(start)),
			}
			if resp != nil {
				attrs = append(attrs,
					slog.String("run_id", resp.RunID),
					slog.String("status", string(resp.Status)),
					slog.Int("invocations", resp.Invocations),
					slog.Int("total_tokens", resp.Usage.TotalTokens),
				)
			}

			switch {
			case err != nil:
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "answer failed", attrs...)
			case resp != nil && resp.Status != api.OutcomeCompleted:
				logger.LogAttrs(ctx, slog.LevelWarn, "answer degraded", attrs...)
			default:
				logger.LogAttrs(ctx, slog.LevelInfo, "answer completed", attrs...)
			}
			return resp, err
		})
	}
}
