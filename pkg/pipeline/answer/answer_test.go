package answer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/maia-bench/maia/internal/providertest"
	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/batch"
	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/dataset"
	"github.com/maia-bench/maia/pkg/engine"
	"github.com/maia-bench/maia/pkg/provider"
	"github.com/maia-bench/maia/pkg/storage/memory"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newEngine(t *testing.T, p provider.Provider) *engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig("test-model")
	cfg.ModelPolicy.Sleep = noSleep
	cfg.ModelPolicy.Timeout = 0
	eng, err := engine.New(p, cfg)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

func entries(t *testing.T, raw string) []dataset.Entry {
	t.Helper()
	e, err := dataset.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return e
}

func TestRun(t *testing.T) {
	fake := providertest.New(func(_ context.Context, req *provider.Request) (*provider.Response, error) {
		q := providertest.LastUser(req)
		if strings.Contains(q, "unreachable") {
			return nil, api.NewServerError("backend down")
		}
		return providertest.Text("answer to " + q), nil
	})
	p, err := New(newEngine(t, fake), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ledger := memory.New(0)
	in := entries(t, `{"dataset":[
		{"id":1,"question":"Which kinase does imatinib inhibit?","source":"medqa"},
		{"id":2,"question":"unreachable"},
		{"id":3}
	]}`)

	out, results, err := p.Run(context.Background(), &batch.Runner{Ledger: ledger}, in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d", len(out))
	}

	if got := out[0].String(KeyModelAnswer); got != "answer to Which kinase does imatinib inhibit?" {
		t.Errorf("model_answer = %q", got)
	}
	if out[0].String("source") != "medqa" {
		t.Error("input fields not preserved")
	}
	if results[0].Status != api.OutcomeCompleted || results[0].ItemID != "1" {
		t.Errorf("result[0] = %+v", results[0])
	}

	if results[1].Status != api.OutcomeFallback {
		t.Errorf("result[1] status = %s", results[1].Status)
	}
	if out[1].String(KeyModelAnswer) != engine.DefaultFallbackText || out[1].String(KeyError) == "" {
		t.Errorf("fallback entry = %v", out[1])
	}

	if results[2].Status != api.OutcomeAborted || !strings.Contains(out[2].String(KeyError), "no question") {
		t.Errorf("entry without question: %+v / %v", results[2], out[2])
	}

	rec, err := ledger.Get(context.Background(), out[0].String(KeyRunID))
	if err != nil {
		t.Fatalf("ledger lookup by run id: %v", err)
	}
	if rec.Pipeline != Name || rec.Status != api.OutcomeCompleted {
		t.Errorf("record = %+v", rec)
	}
	sum, _ := ledger.Summary(context.Background(), rec.BatchID)
	if sum.Total != 3 || sum.Aborted != 1 || sum.Fallback != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRun_WithCapabilities(t *testing.T) {
	reg, err := capability.NewRegistry(capability.Plain(capability.Descriptor{
		Name:       "umls.get_treatments",
		Parameters: json.RawMessage(`{"type":"object","properties":{"cui":{"type":"string"}},"required":["cui"]}`),
	}))
	if err != nil {
		t.Fatal(err)
	}
	table, err := capability.NewTable(reg, map[string]capability.Implementation{
		"umls.get_treatments": capability.Func(func(context.Context, json.RawMessage) (any, error) {
			return map[string]any{"treatments": []string{"Imatinib"}}, nil
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	fake := providertest.New(func(_ context.Context, req *provider.Request) (*provider.Response, error) {
		if len(req.Tools) != 1 {
			return nil, errors.New("capability not advertised")
		}
		if last := req.Messages[len(req.Messages)-1]; last.Role == "tool" {
			return providertest.Text("Imatinib"), nil
		}
		return &provider.Response{Message: provider.Message{Role: "assistant", ToolCalls: []provider.ToolCall{{
			ID: "call_1", Type: "function",
			Function: provider.FunctionCall{Name: "umls_get_treatments", Arguments: `{"cui":"C0238198"}`},
		}}}}, nil
	})
	p, _ := New(newEngine(t, fake), table)

	out, results, err := p.Run(context.Background(), &batch.Runner{}, entries(t, `[{"question":"Treatment for GIST?"}]`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out[0].String(KeyModelAnswer) != "Imatinib" || results[0].Attempts != 2 {
		t.Errorf("out = %v, result = %+v", out[0], results[0])
	}
	var n int
	_ = json.Unmarshal(out[0][KeyInvocations], &n)
	if n != 1 {
		t.Errorf("invocations = %d", n)
	}
}

func TestNewRequiresEngine(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("expected error")
	}
}

func TestRun_NullEntry(t *testing.T) {
	fake := providertest.New(func(_ context.Context, req *provider.Request) (*provider.Response, error) {
		return providertest.Text("hello"), nil
	})
	p, _ := New(newEngine(t, fake), nil)

	r := &batch.Runner{}
	out, results, err := p.Run(context.Background(), r, entries(t, `{"dataset":[null,{"id":"q2","question":"hi"}]}`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out[0] == nil || !strings.Contains(out[0].String(KeyError), "no question") {
		t.Errorf("null entry output = %v", out[0])
	}
	if results[0].Status != api.OutcomeAborted || strings.Contains(results[0].Err.Error(), "panic") {
		t.Errorf("result[0] = %+v", results[0])
	}
	if results[1].Status != api.OutcomeCompleted || out[1].String(KeyModelAnswer) != "hello" {
		t.Errorf("result[1] = %+v / %v", results[1], out[1])
	}
	if r.Pipeline != "" || r.BatchID != "" {
		t.Errorf("runner was modified: %+v", r)
	}
}
