package transport

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/debug"
	"github.com/maia-bench/maia/pkg/engine"
	"github.com/maia-bench/maia/pkg/pipeline/answer"
	"github.com/maia-bench/maia/pkg/storage"
)

// Runner runs one orchestration. *engine.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, userText string, registry *capability.Registry, table *capability.Table) (*engine.Result, error)
}

// EngineAnswerer answers questions with the orchestrator.
type EngineAnswerer struct {
	Engine Runner

	// Registry and Table are shared by every run.
	Registry *capability.Registry
	Table    *capability.Table

	// Ledger records every run under its run ID. Optional.
	Ledger storage.Ledger

	// InFlight makes runs cancellable by ID while they execute. Optional.
	InFlight *InFlightRegistry

	// RunTimeout bounds one run; zero leaves only the request deadline.
	RunTimeout time.Duration

	// MaxQuestionChars rejects longer questions; zero disables the check.
	MaxQuestionChars int
}

// Answer validates the question, runs the orchestrator and records the
// outcome. A fallback or aborted run is returned as a response with an
// error object, not as an error.
func (a *EngineAnswerer) Answer(ctx context.Context, req *api.AnswerRequest) (*api.AnswerResponse, error) {
	if a.Engine == nil {
		return nil, api.NewServerError("no engine configured")
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, api.NewInvalidRequestError("question", "question is required")
	}
	if a.MaxQuestionChars > 0 && len([]rune(question)) > a.MaxQuestionChars {
		return nil, api.NewInvalidRequestError("question", "question is too long")
	}

	runID := api.NewRunID()
	ctx = engine.ContextWithRunID(ctx, runID)
	if a.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.RunTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if a.InFlight != nil {
		a.InFlight.Register(runID, cancel)
		defer a.InFlight.Remove(runID)
	}

	debug.Log("transport", "run started", "run_id", runID, "question", debug.Truncate(question, 120))
	start := time.Now()
	res, err := a.Engine.Run(ctx, question, a.Registry, a.Table)
	if res == nil {
		if err == nil {
			err = errors.New("engine returned no result")
		}
		return nil, err
	}

	resp := &api.AnswerResponse{
		RunID:       res.RunID,
		Status:      res.Status,
		Answer:      res.Text,
		Invocations: res.Invocations,
		Usage:       res.Usage,
	}
	cause := err
	if cause == nil {
		cause = res.Err
	}
	resp.Error = APIErrorFrom(cause)

	a.record(context.WithoutCancel(ctx), res, cause, time.Since(start))
	return resp, nil
}

func (a *EngineAnswerer) record(ctx context.Context, res *engine.Result, cause error, d time.Duration) {
	if a.Ledger == nil {
		return
	}
	rec := &storage.Record{
		ID:       res.RunID,
		Pipeline: answer.Name,
		Status:   res.Status,
		Attempts: res.ModelCalls,
		Usage:    res.Usage,
		Output:   res.Text,
		Duration: d,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := a.Ledger.Record(ctx, rec); err != nil {
		slog.Warn("recording run failed", "run_id", res.RunID, "error", err)
	}
}
