// Package postgres serves terminology lookups from a UMLS Metathesaurus
// loaded into PostgreSQL (tables mrconso, mrdef, mrsty and mrrel).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maia-bench/maia/pkg/debug"
	"github.com/maia-bench/maia/pkg/terminology"
)

// lookupLimit caps LookupCUIs results.
const lookupLimit = 50

// Store is a PostgreSQL-backed terminology.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ terminology.Store = (*Store)(nil)

// New connects to the UMLS database.
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

// LookupCUIs returns CUIs whose English preferred term equals or starts
// with term, exact matches first.
func (s *Store) LookupCUIs(ctx context.Context, term string) ([]string, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, terminology.ErrNotFound
	}
	rows, err := s.pool.Query(ctx, `
		SELECT cui FROM mrconso
		WHERE (lower(str) = lower($1) OR lower(str) LIKE lower($2))
		  AND tty = 'PT' AND lat = 'ENG'
		GROUP BY cui
		ORDER BY bool_or(lower(str) = lower($1)) DESC, cui
		LIMIT $3`,
		term, escapeLike(term)+"%", lookupLimit)
	if err != nil {
		return nil, fmt.Errorf("looking up %q: %w", term, err)
	}
	cuis, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("looking up %q: %w", term, err)
	}
	if len(cuis) == 0 {
		return nil, terminology.ErrNotFound
	}
	return trimAll(cuis), nil
}

// Concept assembles the preferred term, synonyms, definitions and
// semantic types of cui.
func (s *Store) Concept(ctx context.Context, cui string) (*terminology.Concept, error) {
	c := &terminology.Concept{CUI: cui}

	err := s.pool.QueryRow(ctx, `
		SELECT str FROM mrconso
		WHERE cui = $1 AND lat = 'ENG'
		ORDER BY (tty = 'PT') DESC, (ts = 'P') DESC, str
		LIMIT 1`, cui).Scan(&c.PreferredTerm)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, terminology.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("preferred term for %s: %w", cui, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT str FROM mrconso
		WHERE cui = $1 AND ts = 'P' AND stt = 'PF' AND lat = 'ENG'
		ORDER BY str`, cui)
	if err != nil {
		return nil, fmt.Errorf("synonyms for %s: %w", cui, err)
	}
	if c.Synonyms, err = pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
		return nil, fmt.Errorf("synonyms for %s: %w", cui, err)
	}

	rows, err = s.pool.Query(ctx, `SELECT sab, def FROM mrdef WHERE cui = $1 ORDER BY sab`, cui)
	if err != nil {
		return nil, fmt.Errorf("definitions for %s: %w", cui, err)
	}
	c.Definitions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (terminology.Definition, error) {
		var d terminology.Definition
		err := row.Scan(&d.Source, &d.Text)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("definitions for %s: %w", cui, err)
	}

	rows, err = s.pool.Query(ctx, `SELECT DISTINCT tui, sty FROM mrsty WHERE cui = $1 ORDER BY tui`, cui)
	if err != nil {
		return nil, fmt.Errorf("semantic types for %s: %w", cui, err)
	}
	c.SemanticTypes, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (terminology.SemanticType, error) {
		var st terminology.SemanticType
		err := row.Scan(&st.TUI, &st.Name)
		st.TUI = strings.TrimSpace(st.TUI)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("semantic types for %s: %w", cui, err)
	}
	return c, nil
}

// Relations returns edges touching cui that satisfy q. Both ends are
// named by their English preferred term.
func (s *Store) Relations(ctx context.Context, cui string, q terminology.RelationQuery) ([]terminology.Relation, error) {
	query, args := relationSQL(cui, q)
	debug.Log("terminology", "relations query", "cui", cui, "relation", q.Relation, "subtypes", q.Subtypes, "limit", q.Limit)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("relations for %s: %w", cui, err)
	}
	rels, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (terminology.Relation, error) {
		var r terminology.Relation
		err := row.Scan(&r.SourceCUI, &r.SourceTerm, &r.Relation, &r.RelationSubtype, &r.TargetCUI, &r.TargetTerm, &r.Source)
		r.SourceCUI = strings.TrimSpace(r.SourceCUI)
		r.TargetCUI = strings.TrimSpace(r.TargetCUI)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("relations for %s: %w", cui, err)
	}
	if rels == nil {
		rels = []terminology.Relation{}
	}
	return rels, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// relationSQL builds the parameterized edge query for q.
func relationSQL(cui string, q terminology.RelationQuery) (string, []any) {
	args := []any{cui}
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	termFilter := func(alias string) string {
		f := fmt.Sprintf("%[1]s.tty = 'PT' AND %[1]s.lat = 'ENG' AND %[1]s.ts = 'P'", alias)
		if q.Source != "" {
			f += fmt.Sprintf(" AND %s.sab = %s", alias, next(q.Source))
		}
		return f
	}

	var b strings.Builder
	b.WriteString("SELECT DISTINCT r.cui1, m1.str, r.rel, COALESCE(r.rela, ''), r.cui2, m2.str, r.sab\n")
	b.WriteString("FROM mrrel r\n")
	b.WriteString("JOIN mrconso m1 ON m1.cui = r.cui1 AND " + termFilter("m1") + "\n")
	b.WriteString("JOIN mrconso m2 ON m2.cui = r.cui2 AND " + termFilter("m2") + "\n")

	switch q.Direction {
	case terminology.Outgoing:
		b.WriteString("WHERE r.cui1 = $1")
	case terminology.Incoming:
		b.WriteString("WHERE r.cui2 = $1")
	default:
		b.WriteString("WHERE (r.cui1 = $1 OR r.cui2 = $1)")
	}
	if q.Relation != "" {
		b.WriteString(" AND r.rel = " + next(q.Relation))
	}
	if len(q.Subtypes) > 0 {
		b.WriteString(" AND r.rela = ANY(" + next(q.Subtypes) + ")")
	}
	if q.Source != "" {
		b.WriteString(" AND r.sab = " + next(q.Source))
	}
	if len(q.ExcludeSources) > 0 {
		b.WriteString(" AND r.sab <> ALL(" + next(q.ExcludeSources) + ")")
	}
	b.WriteString("\nORDER BY r.cui1, r.cui2, r.sab")
	b.WriteString("\nLIMIT " + next(q.EffectiveLimit()))
	return b.String(), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func trimAll(ss []string) []string {
	for i := range ss {
		ss[i] = strings.TrimSpace(ss[i])
	}
	return ss
}
