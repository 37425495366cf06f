package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/engine"
	"github.com/maia-bench/maia/pkg/storage"
	"github.com/maia-bench/maia/pkg/storage/memory"
)

// runnerFunc adapts a function to Runner.
type runnerFunc func(ctx context.Context, q string) (*engine.Result, error)

func (f runnerFunc) Run(ctx context.Context, q string, _ *capability.Registry, _ *capability.Table) (*engine.Result, error) {
	return f(ctx, q)
}

func result(ctx context.Context, status api.Outcome, text string, err error) *engine.Result {
	return &engine.Result{
		RunID:       engine.RunIDFromContext(ctx),
		Text:        text,
		Status:      status,
		ModelCalls:  2,
		Invocations: 1,
		Usage:       api.Usage{InputTokens: 30, OutputTokens: 5, TotalTokens: 35},
		Err:         err,
	}
}

func TestEngineAnswererRejectsBadQuestions(t *testing.T) {
	called := false
	a := &EngineAnswerer{
		Engine: runnerFunc(func(ctx context.Context, q string) (*engine.Result, error) {
			called = true
			return result(ctx, api.OutcomeCompleted, "x", nil), nil
		}),
		MaxQuestionChars: 10,
	}

	for _, q := range []string{"", "   \n", strings.Repeat("é", 11)} {
		_, err := a.Answer(context.Background(), &api.AnswerRequest{Question: q})
		if !api.IsType(err, api.ErrorTypeInvalidRequest) {
			t.Errorf("question %q: err = %v, want invalid_request", q, err)
		}
	}
	if called {
		t.Error("engine must not run for rejected questions")
	}
}

func TestEngineAnswererCompleted(t *testing.T) {
	ledger := memory.New(0)
	var gotQuestion string
	a := &EngineAnswerer{
		Engine: runnerFunc(func(ctx context.Context, q string) (*engine.Result, error) {
			gotQuestion = q
			return result(ctx, api.OutcomeCompleted, "Metformin lowers hepatic glucose output.", nil), nil
		}),
		Ledger: ledger,
	}

	ctx := storage.SetTenant(context.Background(), "ward-3")
	resp, err := a.Answer(ctx, &api.AnswerRequest{Question: "  How does metformin work?  "})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if gotQuestion != "How does metformin work?" {
		t.Errorf("question = %q", gotQuestion)
	}
	if !api.ValidateRunID(resp.RunID) {
		t.Errorf("run id = %q", resp.RunID)
	}
	if resp.Status != api.OutcomeCompleted || resp.Error != nil {
		t.Errorf("status = %q, error = %v", resp.Status, resp.Error)
	}
	if resp.Invocations != 1 || resp.Usage.TotalTokens != 35 {
		t.Errorf("invocations = %d, usage = %+v", resp.Invocations, resp.Usage)
	}

	rec, err := ledger.Get(ctx, resp.RunID)
	if err != nil {
		t.Fatalf("ledger Get: %v", err)
	}
	if rec.Pipeline != "answer" || rec.Status != api.OutcomeCompleted || rec.Attempts != 2 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Output != resp.Answer || rec.Tenant != "ward-3" {
		t.Errorf("output = %q, tenant = %q", rec.Output, rec.Tenant)
	}
	if _, err := ledger.Get(storage.SetTenant(context.Background(), "other"), resp.RunID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("other tenant read: err = %v, want ErrNotFound", err)
	}
}

func TestEngineAnswererDegradedRuns(t *testing.T) {
	tests := []struct {
		name     string
		run      func(ctx context.Context) (*engine.Result, error)
		status   api.Outcome
		wantType api.ErrorType
	}{
		{
			name: "fallback",
			run: func(ctx context.Context) (*engine.Result, error) {
				return result(ctx, api.OutcomeFallback, "I could not answer.", api.NewModelError("upstream 503")), nil
			},
			status:   api.OutcomeFallback,
			wantType: api.ErrorTypeModelError,
		},
		{
			name: "unknown capability",
			run: func(ctx context.Context) (*engine.Result, error) {
				err := &capability.DispatchError{DispatchID: "invented_tool"}
				return result(ctx, api.OutcomeAborted, "", err), err
			},
			status:   api.OutcomeAborted,
			wantType: api.ErrorTypeModelError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := memory.New(0)
			a := &EngineAnswerer{
				Engine: runnerFunc(func(ctx context.Context, _ string) (*engine.Result, error) { return tt.run(ctx) }),
				Ledger: ledger,
			}

			resp, err := a.Answer(context.Background(), &api.AnswerRequest{Question: "q"})
			if err != nil {
				t.Fatalf("Answer returned error: %v", err)
			}
			if resp.Status != tt.status {
				t.Errorf("status = %q, want %q", resp.Status, tt.status)
			}
			if resp.Error == nil || resp.Error.Type != tt.wantType {
				t.Fatalf("error = %+v, want type %q", resp.Error, tt.wantType)
			}

			rec, err := ledger.Get(context.Background(), resp.RunID)
			if err != nil {
				t.Fatalf("ledger Get: %v", err)
			}
			if rec.Status != tt.status || rec.Error == "" {
				t.Errorf("record status = %q, error = %q", rec.Status, rec.Error)
			}
		})
	}
}

func TestEngineAnswererCancelInFlight(t *testing.T) {
	inflight := NewInFlightRegistry()
	started := make(chan string, 1)
	a := &EngineAnswerer{
		Engine: runnerFunc(func(ctx context.Context, _ string) (*engine.Result, error) {
			started <- engine.RunIDFromContext(ctx)
			<-ctx.Done()
			err := fmt.Errorf("model call: %w", ctx.Err())
			return result(ctx, api.OutcomeAborted, "", err), err
		}),
		InFlight: inflight,
	}

	type answer struct {
		resp *api.AnswerResponse
		err  error
	}
	done := make(chan answer, 1)
	go func() {
		resp, err := a.Answer(context.Background(), &api.AnswerRequest{Question: "q"})
		done <- answer{resp, err}
	}()

	runID := <-started
	if !inflight.Cancel(runID) {
		t.Fatalf("run %s was not registered", runID)
	}

	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("Answer: %v", got.err)
		}
		if got.resp.RunID != runID || got.resp.Status != api.OutcomeAborted {
			t.Errorf("resp = %+v", got.resp)
		}
		if got.resp.Error == nil || got.resp.Error.Code != "cancelled" {
			t.Errorf("error = %+v, want cancelled", got.resp.Error)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	if inflight.Len() != 0 {
		t.Errorf("in-flight entries left: %d", inflight.Len())
	}
}

func TestEngineAnswererRunTimeout(t *testing.T) {
	a := &EngineAnswerer{
		Engine: runnerFunc(func(ctx context.Context, _ string) (*engine.Result, error) {
			<-ctx.Done()
			err := fmt.Errorf("model call: %w", ctx.Err())
			return result(ctx, api.OutcomeAborted, "", err), err
		}),
		RunTimeout: 20 * time.Millisecond,
	}

	resp, err := a.Answer(context.Background(), &api.AnswerRequest{Question: "q"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.Error == nil || resp.Error.Type != api.ErrorTypeTimeout {
		t.Errorf("error = %+v, want timeout", resp.Error)
	}
}

func TestEngineAnswererWithoutEngine(t *testing.T) {
	_, err := (&EngineAnswerer{}).Answer(context.Background(), &api.AnswerRequest{Question: "q"})
	if !api.IsType(err, api.ErrorTypeServerError) {
		t.Errorf("err = %v, want server_error", err)
	}
}

func TestNewRunList(t *testing.T) {
	recs := []*storage.Record{{ID: "run_a"}, {ID: "run_b"}, {ID: "run_c"}}

	list := NewRunList(recs, 2)
	if list.Object != "list" || !list.HasMore || len(list.Data) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list.FirstID != "run_a" || list.LastID != "run_b" {
		t.Errorf("cursors = %q..%q", list.FirstID, list.LastID)
	}

	full := NewRunList(recs, 3)
	if full.HasMore || full.LastID != "run_c" {
		t.Errorf("full page = %+v", full)
	}

	empty := NewRunList(nil, 10)
	if empty.Data == nil || len(empty.Data) != 0 || empty.FirstID != "" {
		t.Errorf("empty page = %+v", empty)
	}
}
