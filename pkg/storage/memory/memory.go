// Package memory provides an in-memory outcome ledger for tests, single
// runs and lightweight deployments. Records are lost when the process
// exits. Optional eviction bounds memory use.
package memory

import (
	"cmp"
	"container/list"
	"context"
	"slices"
	"sync"

	"github.com/maia-bench/maia/pkg/storage"
)

type entry struct {
	rec  storage.Record
	elem *list.Element
}

// Store is an in-memory ledger with optional oldest-first eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   *list.List // front = newest
	maxSize int        // 0 = unlimited
}

var _ storage.Ledger = (*Store)(nil)

// New creates an in-memory ledger. When maxSize > 0 the oldest record is
// evicted once the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Record stores a copy of r.
func (s *Store) Record(ctx context.Context, r *storage.Record) error {
	if err := r.Prepare(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[r.ID]; exists {
		return storage.ErrConflict
	}
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	s.entries[r.ID] = &entry{rec: *r, elem: s.order.PushFront(r.ID)}
	return nil
}

// Get returns a copy of the record.
func (s *Store) Get(ctx context.Context, id string) (*storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || !visible(ctx, &e.rec) {
		return nil, storage.ErrNotFound
	}
	rec := e.rec
	return &rec, nil
}

// List returns matching records ordered by creation time, then ID.
func (s *Store) List(ctx context.Context, f storage.Filter) ([]*storage.Record, error) {
	s.mu.RLock()
	matches := make([]*storage.Record, 0)
	for _, e := range s.entries {
		if visible(ctx, &e.rec) && f.Matches(&e.rec) {
			rec := e.rec
			matches = append(matches, &rec)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matches, func(a, b *storage.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if f.After != "" {
		idx := slices.IndexFunc(matches, func(r *storage.Record) bool { return r.ID == f.After })
		if idx < 0 {
			return []*storage.Record{}, nil
		}
		matches = matches[idx+1:]
	}

	if limit := f.EffectiveLimit(); len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Summary aggregates the records of one batch.
func (s *Store) Summary(ctx context.Context, batchID string) (*storage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := &storage.Summary{BatchID: batchID}
	for _, e := range s.entries {
		if e.rec.BatchID == batchID && visible(ctx, &e.rec) {
			sum.Add(&e.rec)
		}
	}
	if sum.Total == 0 {
		return nil, storage.ErrNotFound
	}
	return sum, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// evictOldest must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.order.Back()
	if back == nil {
		return
	}
	s.order.Remove(back)
	delete(s.entries, back.Value.(string))
}

func visible(ctx context.Context, r *storage.Record) bool {
	tenant := storage.GetTenant(ctx)
	return tenant == "" || r.Tenant == tenant
}
