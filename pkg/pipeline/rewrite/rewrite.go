// Package rewrite turns dataset items into clinical-vignette questions
// with a few-shot prompt and structured JSON output.
package rewrite

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/batch"
	"github.com/maia-bench/maia/pkg/conversation"
	"github.com/maia-bench/maia/pkg/dataset"
	"github.com/maia-bench/maia/pkg/engine"
	"github.com/maia-bench/maia/pkg/pipeline"
	"github.com/maia-bench/maia/pkg/provider"
	"github.com/maia-bench/maia/pkg/retry"
)

// Name labels ledger records and metrics.
const Name = "rewrite"

// KeyError marks entries that kept their original content.
const KeyError = "rewrite_error"

// RequiredKeys must all be present in a rewrite.
var RequiredKeys = []string{dataset.KeyQuestion, dataset.KeyAnswer, dataset.KeyReasoning, dataset.KeyReasoningPath}

var (
	//go:embed prompts/system.txt
	systemPrompt string

	//go:embed prompts/example_original.json
	exampleOriginal string

	//go:embed prompts/example_rewrite.json
	exampleRewrite string
)

const userTemplate = "ORIGINAL ENTRY (JSON):\n```json\n%s\n```\n\nPlease rewrite this entry according to **all** rules stated above."

// responseSchema requires the four rewrite keys as strings.
var responseSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"question": {"type": "string", "minLength": 1},
		"answer": {"type": "string", "minLength": 1},
		"reasoning": {"type": "string", "minLength": 1},
		"reasoning_path": {"type": "string", "minLength": 1}
	},
	"required": ["question", "answer", "reasoning", "reasoning_path"]
}`)

// Config tunes the rewrite calls.
type Config struct {
	Model       string
	Temperature float64

	// Attempts, BaseDelay and Timeout shape the per-item model policy.
	Attempts  int
	BaseDelay time.Duration
	Timeout   time.Duration

	// Sleep replaces the backoff timer in tests.
	Sleep retry.Sleeper
}

// DefaultConfig returns three attempts with a 2s linear backoff and a 60s
// timeout per call at temperature 0.7.
func DefaultConfig(model string) Config {
	return Config{
		Model:       model,
		Temperature: 0.7,
		Attempts:    3,
		BaseDelay:   2 * time.Second,
		Timeout:     60 * time.Second,
	}
}

// EngineConfig builds the orchestrator configuration for rewrites.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		Model:        c.Model,
		SystemPrompt: strings.TrimSpace(systemPrompt),
		Examples: []conversation.Example{{
			User:      strings.TrimSpace(exampleOriginal),
			Assistant: strings.TrimSpace(exampleRewrite),
		}},
		Temperature: pipeline.Temperature(c.Temperature),
		ResponseFormat: &provider.ResponseFormat{
			Type:   provider.FormatJSONObject,
			Schema: responseSchema,
		},
		ModelPolicy: retry.Policy{
			Name:        Name,
			MaxAttempts: c.Attempts,
			BaseDelay:   c.BaseDelay,
			Timeout:     c.Timeout,
			Sleep:       c.Sleep,
		},
	}
}

// Pipeline rewrites dataset entries.
type Pipeline struct {
	engine *engine.Engine
}

// New creates the pipeline on p.
func New(p provider.Provider, cfg Config) (*Pipeline, error) {
	eng, err := engine.New(p, cfg.EngineConfig())
	if err != nil {
		return nil, fmt.Errorf("rewrite: %w", err)
	}
	return &Pipeline{engine: eng}, nil
}

// Run rewrites every entry. An entry whose rewrite fails is returned
// unchanged apart from rewrite_error: true.
func (p *Pipeline) Run(ctx context.Context, r *batch.Runner, entries []dataset.Entry) ([]dataset.Entry, []batch.Result[dataset.Entry], error) {
	run := *r
	if run.Pipeline == "" {
		run.Pipeline = Name
	}
	results, err := batch.Run(ctx, &run, entries, p.Rewrite)
	return pipeline.Values(results), results, err
}

// Rewrite rewrites one entry.
func (p *Pipeline) Rewrite(ctx context.Context, _ int, entry dataset.Entry) batch.Outcome[dataset.Entry] {
	body, err := json.Marshal(entry)
	if err != nil {
		return failed(entry, nil, fmt.Errorf("encoding entry: %w", err))
	}

	res, err := p.engine.Run(ctx, fmt.Sprintf(userTemplate, body), nil, nil)
	if err != nil || res.Status != api.OutcomeCompleted {
		return failed(entry, res, err)
	}

	rewritten, err := decode(res.Text)
	if err != nil {
		return failed(entry, res, err)
	}
	out := pipeline.Outcome(res, nil, entry.Merge(rewritten))
	out.ItemID = entry.ID()
	return out
}

// decode parses the validated JSON answer into entry fields.
func decode(text string) (dataset.Entry, error) {
	var fields dataset.Entry
	if err := json.Unmarshal([]byte(engine.StripCodeFence(text)), &fields); err != nil {
		return nil, fmt.Errorf("decoding rewrite: %w", err)
	}
	if err := fields.Require(RequiredKeys...); err != nil {
		return nil, err
	}
	return fields, nil
}

func failed(entry dataset.Entry, res *engine.Result, err error) batch.Outcome[dataset.Entry] {
	out := entry.Clone()
	if out == nil {
		out = dataset.Entry{}
	}
	o := pipeline.Outcome(res, err, out)
	if o.Status == api.OutcomeCompleted {
		o.Status = api.OutcomeFallback
	}
	if o.Err == nil {
		o.Err = errors.New("rewrite failed")
	}
	if setErr := out.Set(KeyError, true); setErr != nil {
		o.Status = api.OutcomeAborted
		o.Err = errors.Join(o.Err, setErr)
	}
	o.Output = ""
	o.ItemID = entry.ID()
	return o
}
