package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/storage"
	"github.com/maia-bench/maia/pkg/storage/memory"
)

func double(_ context.Context, _ int, n int) Outcome[int] {
	return Outcome[int]{Value: n * 2, Status: api.OutcomeCompleted, Attempts: 1}
}

func TestRun_PreservesInputOrder(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	slowFirst := func(ctx context.Context, i int, n int) Outcome[int] {
		if i%7 == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		return double(ctx, i, n)
	}

	results, err := Run(context.Background(), &Runner{Concurrency: 8}, items, slowFirst)
	require.NoError(t, err)
	require.Len(t, results, len(items))
	for i, res := range results {
		assert.Equal(t, i, res.Index)
		assert.Equal(t, i*2, res.Value)
		assert.Equal(t, api.OutcomeCompleted, res.Status)
		assert.Equal(t, fmt.Sprint(i), res.ItemID)
		assert.True(t, api.ValidateRunID(res.RecordID), "record id %q", res.RecordID)
	}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	fn := func(_ context.Context, _ int, _ struct{}) Outcome[struct{}] {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return Outcome[struct{}]{Status: api.OutcomeCompleted}
	}

	_, err := Run(context.Background(), &Runner{Concurrency: 3}, make([]struct{}, 30), fn)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRun_RecordsEveryOutcome(t *testing.T) {
	ledger := memory.New(0)
	r := &Runner{Pipeline: "rewrite", Concurrency: 2, Ledger: ledger}

	fn := func(_ context.Context, i int, q string) Outcome[string] {
		switch i {
		case 1:
			return Outcome[string]{Status: api.OutcomeFallback, Attempts: 3, Err: errors.New("model unavailable"), ItemID: "q1"}
		case 2:
			panic("bad entry")
		default:
			return Outcome[string]{Value: q, Status: api.OutcomeCompleted, Attempts: 1, Output: q, Usage: api.Usage{TotalTokens: 7}}
		}
	}

	results, err := Run(context.Background(), r, []string{"a", "b", "c", "d"}, fn)
	require.NoError(t, err)
	batchID := results[0].BatchID
	require.True(t, api.ValidateBatchID(batchID))

	assert.Equal(t, api.OutcomeFallback, results[1].Status)
	assert.Equal(t, api.OutcomeAborted, results[2].Status)
	assert.ErrorContains(t, results[2].Err, "panic: bad entry")

	sum, err := ledger.Summary(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, storage.Summary{
		BatchID: batchID, Total: 4, Completed: 2, Fallback: 1, Aborted: 1, Attempts: 5,
		Usage: api.Usage{TotalTokens: 14},
	}, *sum)

	rec, err := ledger.Get(context.Background(), results[1].RecordID)
	require.NoError(t, err)
	assert.Equal(t, "q1", rec.ItemID)
	assert.Equal(t, "rewrite", rec.Pipeline)
	assert.Equal(t, "model unavailable", rec.Error)
}

func TestRun_CanceledContextAbortsRemainingItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ledger := memory.New(0)

	var started atomic.Int32
	fn := func(ctx context.Context, i int, _ int) Outcome[int] {
		started.Add(1)
		if i == 0 {
			cancel()
		}
		return Outcome[int]{Status: api.OutcomeCompleted}
	}

	r := &Runner{Concurrency: 1, Interval: time.Millisecond, Ledger: ledger}
	results, err := Run(ctx, r, make([]int, 5), fn)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 5)

	assert.Equal(t, api.OutcomeCompleted, results[0].Status)
	for _, res := range results[int(started.Load()):] {
		assert.Equal(t, api.OutcomeAborted, res.Status)
		assert.ErrorIs(t, res.Err, context.Canceled)
	}

	recs, err := ledger.List(context.Background(), storage.Filter{BatchID: results[0].BatchID})
	require.NoError(t, err)
	assert.Len(t, recs, 5, "every item, started or not, is recorded")
}

func TestRun_InvalidStatusBecomesAborted(t *testing.T) {
	fn := func(context.Context, int, int) Outcome[int] { return Outcome[int]{} }
	results, err := Run(context.Background(), &Runner{}, []int{1}, fn)
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeAborted, results[0].Status)
	assert.ErrorContains(t, results[0].Err, "invalid status")
}

func TestRun_Pacing(t *testing.T) {
	start := time.Now()
	_, err := Run(context.Background(), &Runner{Concurrency: 4, Interval: 20 * time.Millisecond}, []int{1, 2, 3, 4}, double)
	require.NoError(t, err)
	// The first start is immediate, the next three wait one interval each.
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

type failingLedger struct {
	storage.Ledger
	writes atomic.Int32
}

func (f *failingLedger) Record(context.Context, *storage.Record) error {
	f.writes.Add(1)
	return errors.New("disk full")
}

func TestRun_LedgerFailureDoesNotStopBatch(t *testing.T) {
	ledger := &failingLedger{Ledger: memory.New(0)}
	results, err := Run(context.Background(), &Runner{Ledger: ledger}, []int{1, 2, 3}, double)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, int32(3), ledger.writes.Load())
	for _, res := range results {
		assert.Equal(t, api.OutcomeCompleted, res.Status)
	}
}

func TestSummarize(t *testing.T) {
	results := []Result[int]{
		{Outcome: Outcome[int]{Status: api.OutcomeCompleted, Attempts: 1}},
		{Outcome: Outcome[int]{Status: api.OutcomeFallback, Attempts: 3}},
	}
	sum := Summarize(results)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Fallback)
	assert.Equal(t, 4, sum.Attempts)
}

func TestRun_RecordsEachItemAsItFinishes(t *testing.T) {
	ledger := memory.New(0)
	r := &Runner{BatchID: api.NewBatchID(), Concurrency: 1, Ledger: ledger}

	var seen []int
	fn := func(ctx context.Context, i int, _ int) Outcome[int] {
		recs, err := ledger.List(ctx, storage.Filter{BatchID: r.BatchID})
		if err == nil {
			seen = append(seen, len(recs))
		}
		return Outcome[int]{Status: api.OutcomeCompleted}
	}

	_, err := Run(context.Background(), r, make([]int, 3), fn)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, seen, "earlier items are in the ledger before later ones start")
}

func TestRun_LeavesRunnerUnchanged(t *testing.T) {
	ledger := memory.New(0)
	r := &Runner{Ledger: ledger}

	first, err := Run(context.Background(), r, []int{1, 2}, double)
	require.NoError(t, err)
	second, err := Run(context.Background(), r, []int{3}, double)
	require.NoError(t, err)

	assert.Empty(t, r.BatchID)
	assert.Empty(t, r.Pipeline)
	assert.NotEqual(t, first[0].BatchID, second[0].BatchID)
	assert.Equal(t, first[0].BatchID, first[1].BatchID)

	sum := Summarize(second)
	assert.Equal(t, second[0].BatchID, sum.BatchID)
	assert.Equal(t, 1, sum.Total)

	stored, err := ledger.Summary(context.Background(), first[0].BatchID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Total)
}
