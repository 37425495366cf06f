// Package prefixeval measures how well a model reproduces the rest of a
// question from its first part, a probe for benchmark contamination.
//
// Each question is cut at a token ratio; the model is asked to continue
// the prefix and its continuation is scored against the true remainder
// with ROUGE-L and a character sequence ratio.
package prefixeval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/batch"
	"github.com/maia-bench/maia/pkg/dataset"
	"github.com/maia-bench/maia/pkg/engine"
	"github.com/maia-bench/maia/pkg/pipeline"
	"github.com/maia-bench/maia/pkg/provider"
	"github.com/maia-bench/maia/pkg/retry"
)

// Name labels ledger records and metrics.
const Name = "prefixeval"

// Defaults from the original evaluation.
const (
	DefaultRatio     = 0.5
	DefaultMaxTokens = 128
)

// PromptTemplate asks for the continuation only.
const PromptTemplate = "Continue the following medical question. Output only the continuation and do not repeat the prefix:\n\n%s"

// Split cuts text after max(1, floor(len(tokens)*ratio)) tokens. Text
// with no tokens yields two empty strings.
func Split(tok Tokenizer, text string, ratio float64) (prefix, reference string) {
	tokens := tok.Encode(text)
	if len(tokens) == 0 {
		return "", ""
	}
	k := max(1, int(float64(len(tokens))*ratio))
	k = min(k, len(tokens))
	return tok.Decode(tokens[:k]), tok.Decode(tokens[k:])
}

// Item is the score of one question.
type Item struct {
	QID        string  `json:"qid"`
	Prefix     string  `json:"prefix"`
	Reference  string  `json:"reference"`
	Completion string  `json:"completion"`
	RougeL     float64 `json:"rouge_l"`
	SeqRatio   float64 `json:"seq_ratio"`
}

// Report is the outcome of an evaluation run. Items holds the scored
// questions only; skipped ones are counted.
type Report struct {
	Model    string  `json:"model"`
	Ratio    float64 `json:"ratio"`
	Items    []Item  `json:"items"`
	Skipped  int     `json:"skipped"`
	RougeL   Stats   `json:"rouge_l"`
	SeqRatio Stats   `json:"seq_ratio"`
}

// Config tunes the evaluation.
type Config struct {
	Model       string
	Ratio       float64
	MaxTokens   int
	ModelPolicy retry.Policy
}

// DefaultConfig splits at half the tokens and asks for up to 128 tokens
// at temperature 0.
func DefaultConfig(model string) Config {
	return Config{
		Model:       model,
		Ratio:       DefaultRatio,
		MaxTokens:   DefaultMaxTokens,
		ModelPolicy: engine.DefaultConfig(model).ModelPolicy,
	}
}

// Pipeline runs the evaluation.
type Pipeline struct {
	engine *engine.Engine
	tok    Tokenizer
	cfg    Config
}

// New creates the pipeline.
func New(p provider.Provider, tok Tokenizer, cfg Config) (*Pipeline, error) {
	if tok == nil {
		return nil, errors.New("prefixeval: tokenizer must not be nil")
	}
	if cfg.Ratio <= 0 || cfg.Ratio >= 1 {
		return nil, fmt.Errorf("prefixeval: ratio must be in (0, 1), got %g", cfg.Ratio)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	policy := cfg.ModelPolicy
	if policy.Name == "" {
		policy.Name = Name
	}
	eng, err := engine.New(p, engine.Config{
		Model:          cfg.Model,
		NoSystemPrompt: true,
		Temperature:    pipeline.Temperature(0),
		MaxTokens:      pipeline.MaxTokens(cfg.MaxTokens),
		ModelPolicy:    policy,
	})
	if err != nil {
		return nil, fmt.Errorf("prefixeval: %w", err)
	}
	return &Pipeline{engine: eng, tok: tok, cfg: cfg}, nil
}

// Run scores every entry with a question. Entries whose model call fails
// are skipped, not scored as zero.
func (p *Pipeline) Run(ctx context.Context, r *batch.Runner, entries []dataset.Entry) (*Report, []batch.Result[Item], error) {
	run := *r
	if run.Pipeline == "" {
		run.Pipeline = Name
	}
	results, err := batch.Run(ctx, &run, entries, p.evaluate)

	report := &Report{Model: p.cfg.Model, Ratio: p.cfg.Ratio, Items: []Item{}}
	var rouge, seq []float64
	for _, res := range results {
		if res.Status != api.OutcomeCompleted {
			report.Skipped++
			continue
		}
		report.Items = append(report.Items, res.Value)
		rouge = append(rouge, res.Value.RougeL)
		seq = append(seq, res.Value.SeqRatio)
	}
	report.RougeL = Describe(rouge)
	report.SeqRatio = Describe(seq)
	return report, results, err
}

func (p *Pipeline) evaluate(ctx context.Context, i int, entry dataset.Entry) batch.Outcome[Item] {
	qid := entry.ID()
	if qid == "" {
		qid = dataset.FormatID("q", i)
	}
	item := Item{QID: qid}

	question := strings.TrimSpace(entry.String(dataset.KeyQuestion))
	item.Prefix, item.Reference = Split(p.tok, question, p.cfg.Ratio)
	if item.Prefix == "" {
		o := pipeline.Outcome(nil, fmt.Errorf("entry %s has no question", qid), item)
		o.ItemID = qid
		return o
	}

	res, err := p.engine.Run(ctx, fmt.Sprintf(PromptTemplate, item.Prefix), nil, nil)
	if err == nil && res.Status == api.OutcomeCompleted {
		item.Completion = strings.TrimSpace(res.Text)
		item.RougeL = RougeL(item.Reference, item.Completion)
		item.SeqRatio = SequenceRatio(item.Reference, item.Completion)
	}
	o := pipeline.Outcome(res, err, item)
	o.ItemID = qid
	return o
}
