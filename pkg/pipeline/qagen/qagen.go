// Package qagen generates question-answer pairs from UMLS multi-hop paths,
// one model call per path, with pacing and periodic checkpoints.
package qagen

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/batch"
	"github.com/maia-bench/maia/pkg/dataset"
	"github.com/maia-bench/maia/pkg/engine"
	"github.com/maia-bench/maia/pkg/pipeline"
	"github.com/maia-bench/maia/pkg/provider"
	"github.com/maia-bench/maia/pkg/retry"
)

// Name labels ledger records and metrics.
const Name = "qagen"

// SystemPrompt opens every generation call.
const SystemPrompt = "You are a medical education expert specializing in creating high-quality medical reasoning questions in English."

// Defaults from the original generation runs.
const (
	DefaultInterval        = 1200 * time.Millisecond
	DefaultCheckpointEvery = 10
)

// Templates describes the known path shapes.
var Templates = map[string]string{
	"Disease_Drug_Target": "Disease → Drug → Target",
	"Disease_Drug_moA":    "Disease → Drug → Mechanism-of-Action",
}

//go:embed prompts/question.tmpl
var questionTmpl string

var promptTemplate = template.Must(template.New("question").Parse(questionTmpl))

// jsonObjectRe grabs the outermost braces of a free-text answer.
var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// ErrNoPair marks a model answer without a usable question-answer object.
var ErrNoPair = errors.New("no question-answer pair in model output")

// Job is one path to turn into a pair.
type Job struct {
	TemplateID string
	Path       dataset.Path
}

// Jobs flattens paths in template order.
func Jobs(paths dataset.Paths) []Job {
	var jobs []Job
	for _, id := range paths.Templates() {
		for _, p := range paths[id] {
			jobs = append(jobs, Job{TemplateID: id, Path: p})
		}
	}
	return jobs
}

// Prompt renders the generation prompt for a job.
func Prompt(job Job) (string, error) {
	strs := job.Path.Strs
	if len(strs) == 0 {
		return "", errors.New("qagen: empty path")
	}
	desc, ok := Templates[job.TemplateID]
	if !ok {
		desc = job.TemplateID
	}
	pathJSON, err := json.Marshal(strs)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = promptTemplate.Execute(&buf, map[string]string{
		"Description": desc,
		"Joined":      strings.Join(strs, " -> "),
		"Terminal":    strs[len(strs)-1],
		"PathJSON":    string(pathJSON),
		"TemplateID":  job.TemplateID,
	})
	if err != nil {
		return "", fmt.Errorf("qagen: rendering prompt: %w", err)
	}
	return buf.String(), nil
}

// Extract pulls the pair out of a model answer and attaches the path and
// template. question and answer are required.
func Extract(text string, job Job) (dataset.Entry, error) {
	body := strings.TrimSpace(text)
	if m := jsonObjectRe.FindString(body); m != "" {
		body = m
	}
	var pair dataset.Entry
	if err := json.Unmarshal([]byte(body), &pair); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPair, err)
	}
	if pair.String(dataset.KeyQuestion) == "" || pair.String(dataset.KeyAnswer) == "" {
		return nil, fmt.Errorf("%w: question and answer are required", ErrNoPair)
	}
	if err := pair.Set(dataset.KeyUMLSPath, job.Path.Strs); err != nil {
		return nil, err
	}
	if err := pair.Set(dataset.KeyTemplateID, job.TemplateID); err != nil {
		return nil, err
	}
	return pair, nil
}

// Config tunes generation.
type Config struct {
	Model       string
	Temperature float64
	ModelPolicy retry.Policy

	// CheckpointPath, when set, receives the pairs generated so far every
	// CheckpointEvery pairs and once more at the end.
	CheckpointPath  string
	CheckpointEvery int
}

// DefaultConfig returns temperature 0.7 with the default model policy.
func DefaultConfig(model string) Config {
	return Config{
		Model:           model,
		Temperature:     0.7,
		ModelPolicy:     engine.DefaultConfig(model).ModelPolicy,
		CheckpointEvery: DefaultCheckpointEvery,
	}
}

// Pipeline generates pairs.
type Pipeline struct {
	engine *engine.Engine
	cfg    Config

	mu    sync.Mutex
	pairs []dataset.Entry
}

// New creates the pipeline on p.
func New(p provider.Provider, cfg Config) (*Pipeline, error) {
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	policy := cfg.ModelPolicy
	if policy.Name == "" {
		policy.Name = Name
	}
	eng, err := engine.New(p, engine.Config{
		Model:        cfg.Model,
		SystemPrompt: SystemPrompt,
		Temperature:  pipeline.Temperature(cfg.Temperature),
		ModelPolicy:  policy,
	})
	if err != nil {
		return nil, fmt.Errorf("qagen: %w", err)
	}
	return &Pipeline{engine: eng, cfg: cfg}, nil
}

// Run generates a pair for every job. The returned pairs follow job order
// and omit jobs that produced none. A zero Runner.Interval is paced at
// DefaultInterval; use a negative one to disable pacing.
func (p *Pipeline) Run(ctx context.Context, r *batch.Runner, jobs []Job) ([]dataset.Entry, []batch.Result[dataset.Entry], error) {
	run := *r
	if run.Pipeline == "" {
		run.Pipeline = Name
	}
	switch {
	case run.Interval == 0:
		run.Interval = DefaultInterval
	case run.Interval < 0:
		run.Interval = 0
	}

	p.mu.Lock()
	p.pairs = nil
	p.mu.Unlock()

	results, runErr := batch.Run(ctx, &run, jobs, p.generate)

	pairs := make([]dataset.Entry, 0, len(results))
	for _, res := range results {
		if res.Status == api.OutcomeCompleted && res.Value != nil {
			pairs = append(pairs, res.Value)
		}
	}
	if p.cfg.CheckpointPath != "" {
		if err := dataset.WriteJSON(p.cfg.CheckpointPath, pairs); err != nil {
			return pairs, results, errors.Join(runErr, err)
		}
		slog.Info("saved question-answer pairs", "count", len(pairs), "path", p.cfg.CheckpointPath)
	}
	return pairs, results, runErr
}

func (p *Pipeline) generate(ctx context.Context, _ int, job Job) batch.Outcome[dataset.Entry] {
	itemID := job.TemplateID + ":" + strings.Join(job.Path.Strs, " -> ")

	prompt, err := Prompt(job)
	if err != nil {
		o := pipeline.Outcome[dataset.Entry](nil, err, nil)
		o.ItemID = itemID
		return o
	}

	res, err := p.engine.Run(ctx, prompt, nil, nil)
	if err != nil || res.Status != api.OutcomeCompleted {
		o := pipeline.Outcome[dataset.Entry](res, err, nil)
		o.ItemID = itemID
		return o
	}

	pair, err := Extract(res.Text, job)
	o := pipeline.Outcome(res, err, pair)
	o.ItemID = itemID
	if err != nil {
		// The model answered but the pair is unusable; the job is skipped.
		o.Status = api.OutcomeFallback
		slog.Warn("discarding model output", "template_id", job.TemplateID, "error", err)
		return o
	}
	p.checkpoint(pair)
	return o
}

// checkpoint keeps the pair and saves every CheckpointEvery pairs.
func (p *Pipeline) checkpoint(pair dataset.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pairs = append(p.pairs, pair)
	if p.cfg.CheckpointPath == "" || len(p.pairs)%p.cfg.CheckpointEvery != 0 {
		return
	}
	if err := dataset.WriteJSON(p.cfg.CheckpointPath, p.pairs); err != nil {
		slog.Warn("checkpoint failed", "path", p.cfg.CheckpointPath, "error", err)
		return
	}
	slog.Info("checkpoint saved", "count", len(p.pairs), "path", p.cfg.CheckpointPath)
}
