package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/storage"
	"github.com/maia-bench/maia/pkg/storage/storagetest"
)

func TestLedger(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Ledger { return New(0) })
}

func TestEviction(t *testing.T) {
	s := New(2)
	ctx := context.Background()
	for _, id := range []string{"run_1", "run_2", "run_3"} {
		if err := s.Record(ctx, storagetest.NewRecord(id, "", api.OutcomeCompleted, time.Now())); err != nil {
			t.Fatalf("Record(%s): %v", id, err)
		}
	}

	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	if _, err := s.Get(ctx, "run_1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("oldest record should be evicted, got %v", err)
	}
	if _, err := s.Get(ctx, "run_3"); err != nil {
		t.Errorf("newest record missing: %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	if err := s.Record(ctx, storagetest.NewRecord("run_c", "", api.OutcomeCompleted, time.Now())); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, "run_c")
	got.Output = "mutated"

	again, _ := s.Get(ctx, "run_c")
	if again.Output == "mutated" {
		t.Error("Get exposed internal state")
	}
}
