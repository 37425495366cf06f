// Package batch runs a pipeline function over every entry of a dataset
// with bounded concurrency and optional pacing, recording one ledger
// outcome per entry.
//
// Every input item yields exactly one Result, in input order. Items that
// never start because the context ended are reported as aborted.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/debug"
	"github.com/maia-bench/maia/pkg/observability"
	"github.com/maia-bench/maia/pkg/storage"
)

// DefaultConcurrency is used when Runner.Concurrency is not positive.
const DefaultConcurrency = 4

// Outcome is what a pipeline function reports for one item.
type Outcome[R any] struct {
	Value  R
	Status api.Outcome

	// RecordID becomes the ledger ID, e.g. the orchestrator run ID. Empty
	// gets a fresh run ID.
	RecordID string

	// ItemID identifies the entry; empty uses its input index.
	ItemID string

	Attempts int
	Usage    api.Usage
	Output   string
	Err      error
}

// Func processes one item. It must report an outcome rather than panic;
// a panic is recovered and recorded as aborted.
type Func[T, R any] func(ctx context.Context, index int, item T) Outcome[R]

// Result is the recorded outcome of one item.
type Result[R any] struct {
	Outcome[R]
	BatchID  string
	Index    int
	Duration time.Duration
}

// Runner holds the batch settings. The zero value runs DefaultConcurrency
// items at a time, unpaced, without a ledger.
type Runner struct {
	// Pipeline labels ledger records and metrics.
	Pipeline string

	// BatchID groups the ledger records; empty gets a fresh batch ID.
	BatchID string

	Concurrency int

	// Interval is the minimum spacing between item starts. Zero disables
	// pacing.
	Interval time.Duration

	// Ledger receives one record per item. A failed write is logged and
	// does not stop the batch.
	Ledger storage.Ledger
}

// Run applies fn to every item. The returned error is the context error
// when the batch was cut short; results are complete either way. Each
// item is recorded as soon as it finishes. r is not modified; the batch
// ID in use is carried on every Result.
func Run[T, R any](ctx context.Context, r *Runner, items []T, fn Func[T, R]) ([]Result[R], error) {
	batchID := r.BatchID
	if batchID == "" {
		batchID = api.NewBatchID()
	}
	pipeline := r.Pipeline
	if pipeline == "" {
		pipeline = "batch"
	}
	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	var limiter *rate.Limiter
	if r.Interval > 0 {
		limiter = rate.NewLimiter(rate.Every(r.Interval), 1)
	}

	logger := slog.Default().With("batch_id", batchID, "pipeline", pipeline)
	logger.Info("batch started", "items", len(items), "concurrency", concurrency, "interval", r.Interval)

	results := make([]Result[R], len(items))

	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	finish := func(i int, res Result[R]) {
		res.BatchID = batchID
		res.Index = i
		if res.ItemID == "" {
			res.ItemID = strconv.Itoa(i)
		}
		if res.RecordID == "" {
			res.RecordID = api.NewRunID()
		}
		if !res.Status.Valid() {
			if res.Err == nil {
				res.Err = fmt.Errorf("item reported invalid status %q", res.Status)
			}
			res.Status = api.OutcomeAborted
		}
		observability.BatchItemsTotal.WithLabelValues(pipeline, string(res.Status)).Inc()
		debug.Log("batch", "item finished", "batch_id", batchID, "index", i, "status", res.Status, "duration", res.Duration)
		r.record(ctx, res.Outcome.toRecord(batchID, pipeline, i, res.Duration), logger)
		results[i] = res
	}

	for i, item := range items {
		if err := pace(ctx, limiter); err != nil {
			finish(i, aborted[R](i, err))
			continue
		}
		g.Go(func() error {
			observability.BatchInFlight.Inc()
			defer observability.BatchInFlight.Dec()

			start := time.Now()
			out := invoke(ctx, fn, i, item)
			finish(i, Result[R]{Outcome: out, Duration: time.Since(start)})
			return nil
		})
	}
	_ = g.Wait()

	sum := Summarize(results)
	logger.Info("batch finished",
		"items", sum.Total, "completed", sum.Completed, "fallback", sum.Fallback, "aborted", sum.Aborted,
		"total_tokens", sum.Usage.TotalTokens)

	return results, ctx.Err()
}

func (o Outcome[R]) toRecord(batchID, pipeline string, index int, d time.Duration) *storage.Record {
	rec := &storage.Record{
		ID:       o.RecordID,
		BatchID:  batchID,
		Pipeline: pipeline,
		ItemID:   o.ItemID,
		Index:    index,
		Status:   o.Status,
		Attempts: o.Attempts,
		Usage:    o.Usage,
		Output:   debug.Truncate(o.Output, 2000),
		Duration: d,
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	return rec
}

func (r *Runner) record(ctx context.Context, rec *storage.Record, logger *slog.Logger) {
	if r.Ledger == nil {
		return
	}
	// The batch context may already be canceled; aborted items still need
	// their record.
	if err := r.Ledger.Record(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("ledger write failed", "record_id", rec.ID, "index", rec.Index, "error", err)
	}
}

func pace(ctx context.Context, limiter *rate.Limiter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

func invoke[T, R any](ctx context.Context, fn Func[T, R], i int, item T) (out Outcome[R]) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("batch item panicked", "index", i, "panic", p)
			out = Outcome[R]{Status: api.OutcomeAborted, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return fn(ctx, i, item)
}

func aborted[R any](i int, err error) Result[R] {
	return Result[R]{
		Outcome: Outcome[R]{Status: api.OutcomeAborted, Err: fmt.Errorf("not started: %w", err)},
		Index:   i,
	}
}

// Summarize counts results by status.
func Summarize[R any](results []Result[R]) storage.Summary {
	var s storage.Summary
	if len(results) > 0 {
		s.BatchID = results[0].BatchID
	}
	for i := range results {
		res := &results[i]
		s.Add(&storage.Record{Status: res.Status, Attempts: res.Attempts, Usage: res.Usage})
	}
	return s
}
