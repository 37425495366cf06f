// Package pipeline holds what the dataset pipelines share: turning an
// orchestrator run into a batch outcome and tagging output entries.
//
// The pipelines themselves live in subpackages: answer, rewrite, qagen
// and prefixeval.
package pipeline

import (
	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/batch"
	"github.com/maia-bench/maia/pkg/engine"
)

// Outcome maps a finished run to a batch outcome carrying value. err is
// the error returned by engine.Run.
func Outcome[R any](res *engine.Result, err error, value R) batch.Outcome[R] {
	out := batch.Outcome[R]{Value: value, Err: err}
	if res == nil {
		out.Status = api.OutcomeAborted
		return out
	}
	out.RecordID = res.RunID
	out.Status = res.Status
	out.Attempts = res.ModelCalls
	out.Usage = res.Usage
	out.Output = res.Text
	if out.Err == nil {
		out.Err = res.Err
	}
	return out
}

// Values collects the result values in input order.
func Values[R any](results []batch.Result[R]) []R {
	out := make([]R, len(results))
	for i, r := range results {
		out[i] = r.Value
	}
	return out
}

// Temperature returns a pointer for engine.Config sampling fields.
func Temperature(t float64) *float64 { return &t }

// MaxTokens returns a pointer for engine.Config.MaxTokens.
func MaxTokens(n int) *int { return &n }
