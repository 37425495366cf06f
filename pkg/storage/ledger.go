package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maia-bench/maia/pkg/api"
)

// Record is the ledger entry for one run or batch item.
type Record struct {
	// ID is the run ID for orchestrator runs; batch items get their own.
	ID string `json:"id"`

	// BatchID groups the items of one batch; empty for single runs.
	BatchID  string `json:"batch_id,omitempty"`
	Pipeline string `json:"pipeline"`

	// ItemID is the dataset entry id, Index its position in the input.
	ItemID string `json:"item_id,omitempty"`
	Index  int    `json:"index"`

	Status   api.Outcome `json:"status"`
	Attempts int         `json:"attempts"`
	Usage    api.Usage   `json:"usage"`

	// Output is a short rendition of the result, e.g. the final answer.
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`

	Tenant    string        `json:"-"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// Validate checks the fields every backend relies on.
func (r *Record) Validate() error {
	var errs []error
	if r.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if r.Pipeline == "" {
		errs = append(errs, errors.New("pipeline is required"))
	}
	if !r.Status.Valid() {
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	return nil
}

// Prepare fills CreatedAt and the tenant from ctx, then validates.
func (r *Record) Prepare(ctx context.Context) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Tenant == "" {
		r.Tenant = GetTenant(ctx)
	}
	return r.Validate()
}

// List limits.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Filter selects records for List. Results are ordered by creation time,
// then ID; After is an exclusive ID cursor.
type Filter struct {
	BatchID  string
	Pipeline string
	Status   api.Outcome
	After    string
	Limit    int
}

// EffectiveLimit clamps Limit to (0, MaxListLimit].
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}

// Matches reports whether r passes the field filters (not the cursor).
func (f Filter) Matches(r *Record) bool {
	if f.BatchID != "" && r.BatchID != f.BatchID {
		return false
	}
	if f.Pipeline != "" && r.Pipeline != f.Pipeline {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// Summary aggregates one batch.
type Summary struct {
	BatchID   string    `json:"batch_id"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Fallback  int       `json:"fallback"`
	Aborted   int       `json:"aborted"`
	Attempts  int       `json:"attempts"`
	Usage     api.Usage `json:"usage"`
}

// Add folds r into the summary.
func (s *Summary) Add(r *Record) {
	s.Total++
	s.Attempts += r.Attempts
	s.Usage.Add(r.Usage)
	switch r.Status {
	case api.OutcomeCompleted:
		s.Completed++
	case api.OutcomeFallback:
		s.Fallback++
	case api.OutcomeAborted:
		s.Aborted++
	}
}

// Ledger persists outcome records. Reads are scoped to the tenant on the
// context when one is set. Implementations must be safe for concurrent use.
type Ledger interface {
	// Record stores r. A duplicate ID returns ErrConflict.
	Record(ctx context.Context, r *Record) error

	// Get returns the record with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns matching records, never nil.
	List(ctx context.Context, f Filter) ([]*Record, error)

	// Summary aggregates every record of a batch. An unknown batch yields
	// ErrNotFound.
	Summary(ctx context.Context, batchID string) (*Summary, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}
