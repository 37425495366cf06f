// Package storagetest holds the behavior every ledger backend must share.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/storage"
)

// NewRecord builds a valid record. created orders records in List.
func NewRecord(id, batchID string, status api.Outcome, created time.Time) *storage.Record {
	return &storage.Record{
		ID:        id,
		BatchID:   batchID,
		Pipeline:  "answer",
		ItemID:    "item-" + id,
		Status:    status,
		Attempts:  1,
		Usage:     api.Usage{InputTokens: 5, OutputTokens: 3, TotalTokens: 8},
		Output:    "answer for " + id,
		Duration:  1500 * time.Millisecond,
		CreatedAt: created,
	}
}

// Run exercises a fresh, empty ledger.
func Run(t *testing.T, newLedger func(t *testing.T) storage.Ledger) {
	t.Run("RecordAndGet", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		rec := NewRecord("run_get", "", api.OutcomeFallback, created)
		rec.Error = "model unavailable"
		rec.Attempts = 3
		if err := l.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}

		got, err := l.Get(ctx, "run_get")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != api.OutcomeFallback || got.Attempts != 3 || got.Error != "model unavailable" {
			t.Errorf("got %+v", got)
		}
		if got.Usage != rec.Usage || got.Output != rec.Output || got.ItemID != rec.ItemID {
			t.Errorf("fields not preserved: %+v", got)
		}
		if got.Duration != rec.Duration {
			t.Errorf("Duration = %v, want %v", got.Duration, rec.Duration)
		}
		if !got.CreatedAt.Equal(created) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		l := newLedger(t)
		if _, err := l.Get(context.Background(), "run_missing"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Conflict", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		rec := NewRecord("run_dup", "", api.OutcomeCompleted, time.Now())
		if err := l.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if err := l.Record(ctx, NewRecord("run_dup", "", api.OutcomeCompleted, time.Now())); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("InvalidRecord", func(t *testing.T) {
		l := newLedger(t)
		if err := l.Record(context.Background(), &storage.Record{ID: "x"}); err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("ListFiltersAndPages", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		statuses := []api.Outcome{api.OutcomeCompleted, api.OutcomeFallback, api.OutcomeCompleted, api.OutcomeAborted, api.OutcomeCompleted}
		for i, st := range statuses {
			rec := NewRecord(fmt.Sprintf("item_%02d", i), "batch_a", st, base.Add(time.Duration(i)*time.Second))
			rec.Index = i
			if err := l.Record(ctx, rec); err != nil {
				t.Fatalf("Record: %v", err)
			}
		}
		if err := l.Record(ctx, NewRecord("item_other", "batch_b", api.OutcomeCompleted, base)); err != nil {
			t.Fatalf("Record: %v", err)
		}

		all, err := l.List(ctx, storage.Filter{BatchID: "batch_a"})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 5 {
			t.Fatalf("len = %d, want 5", len(all))
		}
		for i, r := range all {
			if r.Index != i {
				t.Errorf("position %d holds index %d", i, r.Index)
			}
		}

		completed, _ := l.List(ctx, storage.Filter{BatchID: "batch_a", Status: api.OutcomeCompleted})
		if len(completed) != 3 {
			t.Errorf("completed = %d, want 3", len(completed))
		}

		page, _ := l.List(ctx, storage.Filter{BatchID: "batch_a", After: "item_01", Limit: 2})
		if len(page) != 2 || page[0].ID != "item_02" || page[1].ID != "item_03" {
			t.Errorf("page = %v", ids(page))
		}

		none, err := l.List(ctx, storage.Filter{Pipeline: "qagen"})
		if err != nil || none == nil || len(none) != 0 {
			t.Errorf("expected empty non-nil list, got %v, %v", none, err)
		}
	})

	t.Run("Summary", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		now := time.Now().UTC()
		for i, st := range []api.Outcome{api.OutcomeCompleted, api.OutcomeCompleted, api.OutcomeFallback, api.OutcomeAborted} {
			rec := NewRecord(fmt.Sprintf("sum_%d", i), "batch_sum", st, now.Add(time.Duration(i)*time.Millisecond))
			rec.Attempts = 2
			if err := l.Record(ctx, rec); err != nil {
				t.Fatalf("Record: %v", err)
			}
		}

		sum, err := l.Summary(ctx, "batch_sum")
		if err != nil {
			t.Fatalf("Summary: %v", err)
		}
		want := storage.Summary{
			BatchID: "batch_sum", Total: 4, Completed: 2, Fallback: 1, Aborted: 1, Attempts: 8,
			Usage: api.Usage{InputTokens: 20, OutputTokens: 12, TotalTokens: 32},
		}
		if *sum != want {
			t.Errorf("summary = %+v, want %+v", *sum, want)
		}

		if _, err := l.Summary(ctx, "batch_none"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TenantScoping", func(t *testing.T) {
		l := newLedger(t)
		a := storage.SetTenant(context.Background(), "tenant-a")
		b := storage.SetTenant(context.Background(), "tenant-b")
		if err := l.Record(a, NewRecord("run_tenant", "batch_t", api.OutcomeCompleted, time.Now())); err != nil {
			t.Fatalf("Record: %v", err)
		}

		if _, err := l.Get(a, "run_tenant"); err != nil {
			t.Errorf("owner Get: %v", err)
		}
		if _, err := l.Get(b, "run_tenant"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("other tenant Get: expected ErrNotFound, got %v", err)
		}
		if recs, _ := l.List(b, storage.Filter{}); len(recs) != 0 {
			t.Errorf("other tenant sees %d records", len(recs))
		}
		if _, err := l.Get(context.Background(), "run_tenant"); err != nil {
			t.Errorf("unscoped Get: %v", err)
		}
	})

	t.Run("HealthCheck", func(t *testing.T) {
		if err := newLedger(t).HealthCheck(context.Background()); err != nil {
			t.Errorf("HealthCheck: %v", err)
		}
	})
}

func ids(recs []*storage.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
