package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/storage"
	"github.com/maia-bench/maia/pkg/storage/storagetest"
)

func TestLedger(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Ledger {
		s, err := New(":memory:")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Record(ctx, storagetest.NewRecord("run_persist", "batch_p", api.OutcomeCompleted, time.Now())); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.Get(ctx, "run_persist")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.BatchID != "batch_p" {
		t.Errorf("BatchID = %q", got.BatchID)
	}
}
