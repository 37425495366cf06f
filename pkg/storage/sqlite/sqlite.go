// Package sqlite provides a single-file outcome ledger on modernc.org/sqlite,
// for batch runs on a workstation without a database server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/storage"
)

// Store is a SQLite-backed ledger.
type Store struct {
	db *sql.DB
}

var _ storage.Ledger = (*Store)(nil)

// New opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ledger_records (
			id                  TEXT PRIMARY KEY,
			tenant_id           TEXT NOT NULL DEFAULT '',
			batch_id            TEXT NOT NULL DEFAULT '',
			pipeline            TEXT NOT NULL,
			item_id             TEXT NOT NULL DEFAULT '',
			item_index          INTEGER NOT NULL DEFAULT 0,
			status              TEXT NOT NULL,
			attempts            INTEGER NOT NULL DEFAULT 0,
			usage_input_tokens  INTEGER NOT NULL DEFAULT 0,
			usage_output_tokens INTEGER NOT NULL DEFAULT 0,
			usage_total_tokens  INTEGER NOT NULL DEFAULT 0,
			output              TEXT NOT NULL DEFAULT '',
			error               TEXT NOT NULL DEFAULT '',
			duration_ns         INTEGER NOT NULL DEFAULT 0,
			created_at          INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_batch ON ledger_records (batch_id, created_at, id);
	`)
	return err
}

const selectColumns = `
	SELECT id, tenant_id, batch_id, pipeline, item_id, item_index, status, attempts,
	       usage_input_tokens, usage_output_tokens, usage_total_tokens,
	       output, error, duration_ns, created_at
	FROM ledger_records`

// Record inserts r. created_at is stored as Unix nanoseconds so ordering
// is numeric.
func (s *Store) Record(ctx context.Context, r *storage.Record) error {
	if err := r.Prepare(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_records (
			id, tenant_id, batch_id, pipeline, item_id, item_index, status, attempts,
			usage_input_tokens, usage_output_tokens, usage_total_tokens,
			output, error, duration_ns, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Tenant, r.BatchID, r.Pipeline, r.ItemID, r.Index, string(r.Status), r.Attempts,
		r.Usage.InputTokens, r.Usage.OutputTokens, r.Usage.TotalTokens,
		r.Output, r.Error, r.Duration.Nanoseconds(), r.CreatedAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Get retrieves a record by ID, scoped by tenant.
func (s *Store) Get(ctx context.Context, id string) (*storage.Record, error) {
	query := selectColumns + " WHERE id = ?"
	args := []any{id}
	if tenant := storage.GetTenant(ctx); tenant != "" {
		query += " AND tenant_id = ?"
		args = append(args, tenant)
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	return rec, nil
}

// List returns matching records ordered by created_at, then id.
func (s *Store) List(ctx context.Context, f storage.Filter) ([]*storage.Record, error) {
	var (
		where []string
		args  []any
	)
	if tenant := storage.GetTenant(ctx); tenant != "" {
		where, args = append(where, "tenant_id = ?"), append(args, tenant)
	}
	if f.BatchID != "" {
		where, args = append(where, "batch_id = ?"), append(args, f.BatchID)
	}
	if f.Pipeline != "" {
		where, args = append(where, "pipeline = ?"), append(args, f.Pipeline)
	}
	if f.Status != "" {
		where, args = append(where, "status = ?"), append(args, string(f.Status))
	}
	if f.After != "" {
		where = append(where, "(created_at, id) > (SELECT created_at, id FROM ledger_records WHERE id = ?)")
		args = append(args, f.After)
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id LIMIT ?"
	args = append(args, f.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	recs := []*storage.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Summary aggregates one batch.
func (s *Store) Summary(ctx context.Context, batchID string) (*storage.Summary, error) {
	query := `
		SELECT status, count(*), total(attempts),
		       total(usage_input_tokens), total(usage_output_tokens), total(usage_total_tokens)
		FROM ledger_records WHERE batch_id = ?`
	args := []any{batchID}
	if tenant := storage.GetTenant(ctx); tenant != "" {
		query += " AND tenant_id = ?"
		args = append(args, tenant)
	}
	query += " GROUP BY status"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize batch: %w", err)
	}
	defer rows.Close()

	sum := &storage.Summary{BatchID: batchID}
	for rows.Next() {
		var (
			status                     string
			count                      int
			attempts, in, out, totalTk float64
		)
		if err := rows.Scan(&status, &count, &attempts, &in, &out, &totalTk); err != nil {
			return nil, fmt.Errorf("summarize batch: %w", err)
		}
		sum.Total += count
		sum.Attempts += int(attempts)
		sum.Usage.Add(api.Usage{InputTokens: int(in), OutputTokens: int(out), TotalTokens: int(totalTk)})
		switch api.Outcome(status) {
		case api.OutcomeCompleted:
			sum.Completed += count
		case api.OutcomeFallback:
			sum.Fallback += count
		case api.OutcomeAborted:
			sum.Aborted += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("summarize batch: %w", err)
	}
	if sum.Total == 0 {
		return nil, storage.ErrNotFound
	}
	return sum, nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*storage.Record, error) {
	var (
		r                     storage.Record
		status                string
		durationNS, createdNS int64
	)
	err := row.Scan(
		&r.ID, &r.Tenant, &r.BatchID, &r.Pipeline, &r.ItemID, &r.Index, &status, &r.Attempts,
		&r.Usage.InputTokens, &r.Usage.OutputTokens, &r.Usage.TotalTokens,
		&r.Output, &r.Error, &durationNS, &createdNS,
	)
	if err != nil {
		return nil, err
	}
	r.Status = api.Outcome(status)
	r.Duration = time.Duration(durationNS)
	r.CreatedAt = time.Unix(0, createdNS).UTC()
	return &r, nil
}
