package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/batch"
	"github.com/maia-bench/maia/pkg/config"
	"github.com/maia-bench/maia/pkg/dataset"
)

// chatBackend answers every Chat Completions request with text.
func chatBackend(t *testing.T, text string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-1",
			"model": "gpt-4o",
			"choices": []any{map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": text},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(backendURL string) *config.Config {
	cfg := config.Defaults()
	cfg.Provider.URL = backendURL
	cfg.Provider.Model = "gpt-4o"
	cfg.Provider.Breaker.Enabled = false
	cfg.Retry.Model = config.PolicyConfig{Attempts: 1, Timeout: 5 * time.Second}
	return &cfg
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if err := run([]string{"translate"}); !errors.Is(err, errUsage) {
		t.Errorf("err = %v, want errUsage", err)
	}
	if err := run(nil); !errors.Is(err, errUsage) {
		t.Errorf("err = %v, want errUsage", err)
	}
}

func TestReadQuestion(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		stdin   string
		want    string
		wantErr bool
	}{
		{name: "args joined", args: []string{"What", "treats", "HER2+?"}, want: "What treats HER2+?"},
		{name: "stdin", stdin: "  Which gene is BRCA1?\n", want: "Which gene is BRCA1?"},
		{name: "dash reads stdin", args: []string{"-"}, stdin: "From stdin", want: "From stdin"},
		{name: "empty", stdin: "   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readQuestion(tt.args, strings.NewReader(tt.stdin))
			if tt.wantErr {
				if !errors.Is(err, errUsage) {
					t.Fatalf("err = %v, want errUsage", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintAnswer(t *testing.T) {
	resp := &api.AnswerResponse{RunID: "run_1", Status: api.OutcomeCompleted, Answer: "Trastuzumab."}

	var buf bytes.Buffer
	if err := printAnswer(&buf, resp, false); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "Trastuzumab.\n" {
		t.Errorf("text output = %q", buf.String())
	}

	buf.Reset()
	if err := printAnswer(&buf, resp, true); err != nil {
		t.Fatal(err)
	}
	var decoded api.AnswerResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if decoded.RunID != "run_1" || decoded.Answer != "Trastuzumab." {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestBatchFlags(t *testing.T) {
	cfg := config.Defaults()
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "in and out", args: []string{"-in", "a.json", "-out", "b.json"}},
		{name: "missing out", args: []string{"-in", "a.json"}, wantErr: true},
		{name: "valid batch id", args: []string{"-in", "a", "-out", "b", "-batch-id", api.NewBatchID()}},
		{name: "invalid batch id", args: []string{"-in", "a", "-out", "b", "-batch-id", "nightly"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, bf := newBatchFlags("answer", &cfg)
			fs.SetOutput(&bytes.Buffer{})
			err := bf.parse(fs, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && bf.concurrency != cfg.Batch.Concurrency {
				t.Errorf("concurrency = %d, want config default %d", bf.concurrency, cfg.Batch.Concurrency)
			}
		})
	}
}

func TestFinish(t *testing.T) {
	results := []batch.Result[int]{{BatchID: "batch_x", Index: 0, Outcome: batch.Outcome[int]{Status: api.OutcomeFallback}}}

	if err := finish("answer", results, nil, nil, "out.json"); err != nil {
		t.Errorf("item fallbacks must not fail the command: %v", err)
	}

	saveErr := errors.New("disk full")
	err := finish("answer", results, context.Canceled, saveErr, "out.json")
	if !errors.Is(err, context.Canceled) || !errors.Is(err, saveErr) {
		t.Errorf("err = %v, want both errors", err)
	}
}

func TestRunAnswerWritesDataset(t *testing.T) {
	backend := chatBackend(t, "Trastuzumab targets HER2.")
	cfg := testConfig(backend.URL)

	dir := t.TempDir()
	in := filepath.Join(dir, "questions.json")
	out := filepath.Join(dir, "answers.json")
	input := `{"dataset":[{"id":"q1","question":"Which drug targets HER2?"},{"id":"q2","question":"What does BRCA1 encode?"}]}`
	if err := os.WriteFile(in, []byte(input), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := runAnswer(context.Background(), cfg, []string{"-in", in, "-out", out, "-concurrency", "2"}); err != nil {
		t.Fatalf("runAnswer: %v", err)
	}

	entries, err := dataset.Load(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.String("model_answer") != "Trastuzumab targets HER2." {
			t.Errorf("entry %d model_answer = %q", i, e.String("model_answer"))
		}
		if e.String("status") != string(api.OutcomeCompleted) {
			t.Errorf("entry %d status = %q", i, e.String("status"))
		}
		if !api.ValidateRunID(e.String("run_id")) {
			t.Errorf("entry %d run_id = %q", i, e.String("run_id"))
		}
	}
	if entries[0].ID() != "q1" || entries[1].ID() != "q2" {
		t.Errorf("order not preserved: %s, %s", entries[0].ID(), entries[1].ID())
	}
}

func TestServeRejectsArguments(t *testing.T) {
	cfg := config.Defaults()
	if err := runServe(context.Background(), &cfg, []string{"extra"}); !errors.Is(err, errUsage) {
		t.Errorf("err = %v, want errUsage", err)
	}
}
