package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/conversation"
	"github.com/maia-bench/maia/pkg/debug"
	"github.com/maia-bench/maia/pkg/observability"
	"github.com/maia-bench/maia/pkg/provider"
	"github.com/maia-bench/maia/pkg/retry"
)

// loop alternates between Awaiting-Model and Dispatching until the model
// answers without invocations. It returns an error only when the run must
// abort; fallback outcomes are recorded on res.
func (e *Engine) loop(ctx context.Context, res *Result, registry *capability.Registry, table *capability.Table, logger *slog.Logger) error {
	tools := toolsFor(registry)

	for {
		if e.cfg.MaxTurns > 0 && res.ModelCalls >= e.cfg.MaxTurns {
			return fmt.Errorf("%w after %d model calls", ErrTurnLimit, res.ModelCalls)
		}

		resp, err := e.awaitModel(ctx, res, tools)
		if err != nil {
			return err
		}
		if resp == nil {
			// Fallback already recorded.
			return nil
		}

		invocations := invocationsFrom(resp.Message.ToolCalls)
		if err := res.Conversation.AppendAssistant(resp.Message.Content, invocations); err != nil {
			return fmt.Errorf("appending assistant turn: %w", err)
		}
		res.ModelCalls++

		if len(invocations) == 0 {
			res.Text = strings.TrimSpace(resp.Message.Content)
			return nil
		}

		debug.Log("engine", "dispatching invocations", "run_id", res.RunID, "count", len(invocations))
		for _, inv := range invocations {
			if err := e.dispatch(ctx, res, table, inv, logger); err != nil {
				return err
			}
		}
	}
}

// awaitModel performs one model call through the retry executor. A nil
// response with a nil error means the attempts were exhausted and res now
// holds the fallback.
func (e *Engine) awaitModel(ctx context.Context, res *Result, tools []provider.Tool) (*provider.Response, error) {
	req := e.buildRequest(res.Conversation, tools)
	provName := e.provider.Name()

	ctx, span := observability.StartSpan(ctx, "engine.model_call",
		attribute.String("provider", provName),
		attribute.Int("turn", res.ModelCalls+1),
	)

	op := func(ctx context.Context) (*provider.Response, error) {
		start := time.Now()
		resp, err := e.provider.Complete(ctx, req)
		observability.ProviderLatency.WithLabelValues(provName, e.cfg.Model).Observe(time.Since(start).Seconds())
		if err != nil {
			observability.ProviderRequestsTotal.WithLabelValues(provName, e.cfg.Model, "error").Inc()
			return nil, err
		}
		observability.ProviderRequestsTotal.WithLabelValues(provName, e.cfg.Model, "success").Inc()
		observability.ProviderTokensTotal.WithLabelValues(provName, e.cfg.Model, "input").Add(float64(resp.Usage.InputTokens))
		observability.ProviderTokensTotal.WithLabelValues(provName, e.cfg.Model, "output").Add(float64(resp.Usage.OutputTokens))
		// Usage is billed per attempt, including attempts rejected below.
		res.Usage.Add(resp.Usage)

		if len(resp.Message.ToolCalls) == 0 && e.structured() {
			text, err := e.validateStructured(resp.Message.Content)
			if err != nil {
				return nil, err
			}
			resp.Message.Content = text
		}
		return resp, nil
	}

	out := retry.Execute(ctx, e.cfg.modelPolicy(), op, nil)
	if !out.Fallback {
		observability.EndSpan(span, nil)
		return out.Value, nil
	}
	observability.EndSpan(span, out.Err)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("model call: %w", ctx.Err())
	}
	res.Status = api.OutcomeFallback
	res.Text = e.cfg.fallbackText()
	res.Err = out.Err
	return nil, nil
}

// dispatch resolves and executes one invocation and appends its result.
func (e *Engine) dispatch(ctx context.Context, res *Result, table *capability.Table, inv conversation.Invocation, logger *slog.Logger) error {
	if table == nil {
		return &capability.DispatchError{DispatchID: inv.DispatchID, Reason: "no capabilities are registered for this run"}
	}
	if _, err := table.Lookup(inv.DispatchID); err != nil {
		return err
	}

	ctx, span := observability.StartSpan(ctx, "engine.dispatch",
		attribute.String("capability", inv.DispatchID),
		attribute.String("invocation_id", inv.ID),
	)

	out := retry.Execute(ctx, e.cfg.capabilityPolicy(), func(ctx context.Context) (any, error) {
		return table.Invoke(ctx, inv.DispatchID, inv.Arguments)
	}, nil)

	var content string
	isError := out.Fallback
	if out.Fallback {
		if ctx.Err() != nil {
			observability.EndSpan(span, ctx.Err())
			return fmt.Errorf("invoking %s: %w", inv.DispatchID, ctx.Err())
		}
		logger.Warn("capability failed", "capability", inv.DispatchID, "invocation_id", inv.ID, "error", out.Err)
		content = errorPayload(out.Err)
	} else {
		data, err := json.Marshal(out.Value)
		if err != nil {
			isError = true
			content = errorPayload(capability.NewCapabilityError(inv.DispatchID, "result is not JSON-encodable: %v", err))
		} else {
			content = string(data)
		}
	}
	observability.EndSpan(span, nil)

	debug.Log("engine", "invocation resolved", "run_id", res.RunID, "capability", inv.DispatchID,
		"invocation_id", inv.ID, "is_error", isError, "result", debug.Truncate(content, 200))

	if err := res.Conversation.AppendToolResult(inv.ID, inv.DispatchID, content, isError); err != nil {
		return fmt.Errorf("appending tool result: %w", err)
	}
	res.Invocations++
	return nil
}

// invocationsFrom converts model tool calls, assigning IDs where the
// backend omitted them or repeated one within the turn.
func invocationsFrom(calls []provider.ToolCall) []conversation.Invocation {
	if len(calls) == 0 {
		return nil
	}
	out := make([]conversation.Invocation, 0, len(calls))
	seen := make(map[string]bool, len(calls))
	for _, tc := range calls {
		id := tc.ID
		if id == "" || seen[id] {
			id = api.NewInvocationID()
		}
		seen[id] = true
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		out = append(out, conversation.Invocation{
			ID:         id,
			DispatchID: tc.Function.Name,
			Arguments:  json.RawMessage(args),
		})
	}
	return out
}

// errorPayload renders a failure as the {"error": "..."} tool result the
// model receives.
func errorPayload(err error) string {
	msg := "capability failed"
	var ce *capability.CapabilityError
	switch {
	case errors.As(err, &ce):
		msg = ce.Error()
	case err != nil:
		msg = err.Error()
	}
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}
