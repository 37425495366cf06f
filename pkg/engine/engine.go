package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/conversation"
	"github.com/maia-bench/maia/pkg/observability"
	"github.com/maia-bench/maia/pkg/provider"
)

// ErrTurnLimit ends a run that reached Config.MaxTurns model calls without
// a final answer.
var ErrTurnLimit = errors.New("engine: turn limit reached")

// Engine runs orchestrations against one inference service. It holds no
// per-run state and is safe for concurrent use.
type Engine struct {
	provider provider.Provider
	cfg      Config
	schema   *jsonschema.Schema
}

// New creates an Engine. The provider must not be nil. A response format
// schema that does not compile is rejected here rather than on every run.
func New(p provider.Provider, cfg Config) (*Engine, error) {
	if p == nil {
		return nil, fmt.Errorf("engine: provider must not be nil")
	}
	e := &Engine{provider: p, cfg: cfg}
	if rf := cfg.ResponseFormat; rf != nil && len(rf.Schema) > 0 {
		schema, err := jsonschema.NewCompiler().Compile(rf.Schema)
		if err != nil {
			return nil, fmt.Errorf("engine: compiling response schema: %w", err)
		}
		e.schema = schema
	}
	return e, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

type runIDKey struct{}

// ContextWithRunID makes the next Run on ctx use id instead of generating
// one, so callers can register the run before it starts.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the run ID set by ContextWithRunID.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Result describes one finished run.
type Result struct {
	RunID string

	// Text is the trimmed final answer, or the fallback text.
	Text string

	Status       api.Outcome
	Conversation *conversation.Conversation

	// ModelCalls counts assistant turns; Invocations counts tool results.
	ModelCalls  int
	Invocations int
	Usage       api.Usage

	// Err is the last model error of a fallback run, or the abort cause.
	Err error
}

// Run drives one conversation to its final answer.
//
// The returned error is non-nil only when the run aborted: an unknown
// dispatch ID (*capability.DispatchError), a turn limit, a broken
// conversation invariant, or cancellation. Model-call exhaustion is a
// fallback result with a nil error. registry and table may both be nil for
// a run without capabilities; when only table is given its registry is
// advertised.
func (e *Engine) Run(ctx context.Context, userText string, registry *capability.Registry, table *capability.Table) (*Result, error) {
	if registry == nil && table != nil {
		registry = table.Registry()
	}

	runID := RunIDFromContext(ctx)
	if runID == "" {
		runID = api.NewRunID()
	}
	res := &Result{
		RunID:        runID,
		Conversation: conversation.New(e.cfg.systemPrompt(), userText, e.cfg.Examples...),
	}
	logger := slog.Default().With("run_id", res.RunID)

	ctx, span := observability.StartSpan(ctx, "engine.run",
		attribute.String("run_id", res.RunID),
		attribute.String("model", e.cfg.Model),
	)

	err := e.loop(ctx, res, registry, table, logger)
	switch {
	case err != nil:
		res.Status = api.OutcomeAborted
		res.Err = err
		logger.Warn("run aborted", "error", err, "model_calls", res.ModelCalls)
	case res.Status == api.OutcomeFallback:
		logger.Warn("run ended with fallback", "error", res.Err, "model_calls", res.ModelCalls)
	default:
		res.Status = api.OutcomeCompleted
		logger.Info("run completed", "model_calls", res.ModelCalls, "invocations", res.Invocations)
	}

	span.SetAttributes(
		attribute.String("status", string(res.Status)),
		attribute.Int("model_calls", res.ModelCalls),
		attribute.Int("invocations", res.Invocations),
	)
	observability.EndSpan(span, err)
	observability.RunsTotal.WithLabelValues(string(res.Status)).Inc()

	return res, err
}
