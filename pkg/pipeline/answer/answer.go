// Package answer runs the orchestrator over every question of a dataset
// and attaches the model's answer to each entry.
package answer

import (
	"context"
	"errors"
	"fmt"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/batch"
	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/dataset"
	"github.com/maia-bench/maia/pkg/engine"
	"github.com/maia-bench/maia/pkg/pipeline"
)

// Name labels ledger records and metrics.
const Name = "answer"

// Keys added to each output entry.
const (
	KeyModelAnswer = "model_answer"
	KeyRunID       = "run_id"
	KeyStatus      = "status"
	KeyInvocations = "invocations"
	KeyError       = "answer_error"
)

// Pipeline answers dataset questions with capabilities available.
type Pipeline struct {
	engine *engine.Engine
	table  *capability.Table
}

// New creates the pipeline. table may be nil to answer without
// capabilities.
func New(eng *engine.Engine, table *capability.Table) (*Pipeline, error) {
	if eng == nil {
		return nil, errors.New("answer: engine must not be nil")
	}
	return &Pipeline{engine: eng, table: table}, nil
}

// Run answers every entry. The output has one entry per input, in order.
func (p *Pipeline) Run(ctx context.Context, r *batch.Runner, entries []dataset.Entry) ([]dataset.Entry, []batch.Result[dataset.Entry], error) {
	run := *r
	if run.Pipeline == "" {
		run.Pipeline = Name
	}
	results, err := batch.Run(ctx, &run, entries, p.answer)
	return pipeline.Values(results), results, err
}

func (p *Pipeline) answer(ctx context.Context, i int, entry dataset.Entry) batch.Outcome[dataset.Entry] {
	out := entry.Clone()
	if out == nil {
		out = dataset.Entry{}
	}
	question := entry.String(dataset.KeyQuestion)
	if question == "" {
		err := fmt.Errorf("entry %d has no question", i)
		return annotate(pipeline.Outcome[dataset.Entry](nil, err, out), entry,
			map[string]any{KeyError: err.Error()})
	}

	res, err := p.engine.Run(ctx, question, nil, p.table)
	fields := make(map[string]any, 5)
	if res != nil {
		fields[KeyModelAnswer] = res.Text
		fields[KeyRunID] = res.RunID
		fields[KeyStatus] = res.Status
		fields[KeyInvocations] = res.Invocations
	}
	switch {
	case err != nil:
		fields[KeyError] = err.Error()
	case res.Err != nil:
		fields[KeyError] = res.Err.Error()
	}
	return annotate(pipeline.Outcome(res, err, out), entry, fields)
}

// annotate writes fields into the outcome's entry. An entry that cannot
// carry its fields is reported as aborted.
func annotate(o batch.Outcome[dataset.Entry], entry dataset.Entry, fields map[string]any) batch.Outcome[dataset.Entry] {
	o.ItemID = entry.ID()
	if err := o.Value.SetAll(fields); err != nil {
		o.Status = api.OutcomeAborted
		o.Err = errors.Join(o.Err, err)
	}
	return o
}
