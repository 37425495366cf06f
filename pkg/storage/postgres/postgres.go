// Package postgres provides a PostgreSQL outcome ledger. It uses pgx/v5
// for connection pooling and embedded SQL migrations for the schema.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/storage"
)

// Store is a PostgreSQL-backed ledger.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Ledger = (*Store)(nil)

// New connects to PostgreSQL. If MigrateOnStart is true, schema migrations
// are applied before the store is returned.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}
	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

const selectColumns = `
	SELECT id, tenant_id, batch_id, pipeline, item_id, item_index, status, attempts,
	       usage_input_tokens, usage_output_tokens, usage_total_tokens,
	       output, error, duration_ns, created_at
	FROM ledger_records`

// Record inserts r.
func (s *Store) Record(ctx context.Context, r *storage.Record) error {
	if err := r.Prepare(ctx); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_records (
			id, tenant_id, batch_id, pipeline, item_id, item_index, status, attempts,
			usage_input_tokens, usage_output_tokens, usage_total_tokens,
			output, error, duration_ns, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.Tenant, r.BatchID, r.Pipeline, r.ItemID, r.Index, string(r.Status), r.Attempts,
		r.Usage.InputTokens, r.Usage.OutputTokens, r.Usage.TotalTokens,
		r.Output, r.Error, r.Duration.Nanoseconds(), r.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

// Get retrieves a record by ID, scoped by tenant.
func (s *Store) Get(ctx context.Context, id string) (*storage.Record, error) {
	query := selectColumns + " WHERE id = $1"
	args := []any{id}
	if tenant := storage.GetTenant(ctx); tenant != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenant)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying record: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying record: %w", err)
	}
	return rec, nil
}

// List returns matching records ordered by created_at, then id.
func (s *Store) List(ctx context.Context, f storage.Filter) ([]*storage.Record, error) {
	query, args := listSQL(storage.GetTenant(ctx), f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	if recs == nil {
		recs = []*storage.Record{}
	}
	return recs, nil
}

// listSQL builds the List query. An unknown After cursor matches nothing.
func listSQL(tenant string, f storage.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if tenant != "" {
		add("tenant_id = $%d", tenant)
	}
	if f.BatchID != "" {
		add("batch_id = $%d", f.BatchID)
	}
	if f.Pipeline != "" {
		add("pipeline = $%d", f.Pipeline)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.After != "" {
		add("(created_at, id) > (SELECT created_at, id FROM ledger_records WHERE id = $%d)", f.After)
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.EffectiveLimit())
	query += fmt.Sprintf(" ORDER BY created_at, id LIMIT $%d", len(args))
	return query, args
}

// Summary aggregates one batch with a single grouped query.
func (s *Store) Summary(ctx context.Context, batchID string) (*storage.Summary, error) {
	query := `
		SELECT status, count(*), coalesce(sum(attempts), 0),
		       coalesce(sum(usage_input_tokens), 0), coalesce(sum(usage_output_tokens), 0),
		       coalesce(sum(usage_total_tokens), 0)
		FROM ledger_records
		WHERE batch_id = $1`
	args := []any{batchID}
	if tenant := storage.GetTenant(ctx); tenant != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenant)
	}
	query += " GROUP BY status"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summarizing batch: %w", err)
	}
	defer rows.Close()

	sum := &storage.Summary{BatchID: batchID}
	for rows.Next() {
		var (
			status                           string
			count, attempts, in, out, totals int64
		)
		if err := rows.Scan(&status, &count, &attempts, &in, &out, &totals); err != nil {
			return nil, fmt.Errorf("summarizing batch: %w", err)
		}
		sum.Total += int(count)
		sum.Attempts += int(attempts)
		sum.Usage.Add(api.Usage{InputTokens: int(in), OutputTokens: int(out), TotalTokens: int(totals)})
		switch api.Outcome(status) {
		case api.OutcomeCompleted:
			sum.Completed += int(count)
		case api.OutcomeFallback:
			sum.Fallback += int(count)
		case api.OutcomeAborted:
			sum.Aborted += int(count)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("summarizing batch: %w", err)
	}
	if sum.Total == 0 {
		return nil, storage.ErrNotFound
	}
	return sum, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.CollectableRow) (*storage.Record, error) {
	var (
		r          storage.Record
		status     string
		durationNS int64
	)
	err := row.Scan(
		&r.ID, &r.Tenant, &r.BatchID, &r.Pipeline, &r.ItemID, &r.Index, &status, &r.Attempts,
		&r.Usage.InputTokens, &r.Usage.OutputTokens, &r.Usage.TotalTokens,
		&r.Output, &r.Error, &durationNS, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = api.Outcome(status)
	r.Duration = time.Duration(durationNS)
	return &r, nil
}

// isDuplicateKey reports a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
