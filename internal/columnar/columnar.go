// Package columnar implements Stratum's columnar store adapter (C4).
// Log entries are persisted in Postgres using declarative range
// partitioning by month and a (service, timestamp) ordering — standing in
// for a dedicated columnar engine (no ClickHouse-class driver exists in
// the dependency pack this module was built from), while preserving the
// same partition/order contract (§4.5, §6.4).
package columnar

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the store depends on, so tests can
// substitute pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements the C4 contract over Postgres.
type Store struct {
	db DB
}

// New wraps an existing connection pool.
func New(db DB) *Store {
	return &Store{db: db}
}

// Bootstrap creates the logs table, partitioned by the month of each entry's timestamp and
// ordered by (service, timestamp), if it does not already exist (§4.5).
// Postgres has no native "order by" storage clustering, so the ordering
// contract is approximated with a composite index that the query planner
// uses to satisfy recent()'s ORDER BY without a sort.
func (s *Store) Bootstrap(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS logs (
			id             TEXT PRIMARY KEY,
			timestamp      TIMESTAMPTZ NOT NULL,
			level          TEXT NOT NULL,
			service        TEXT NOT NULL,
			message        TEXT NOT NULL,
			trace_id       TEXT,
			source_file    TEXT,
			source_line    INTEGER,
			fields         JSONB NOT NULL DEFAULT '{}',
			error_category TEXT NOT NULL,
			ingested_at    TIMESTAMPTZ NOT NULL
		) PARTITION BY RANGE (timestamp)`,
		`CREATE INDEX IF NOT EXISTS logs_service_timestamp_idx ON logs (service, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS logs_timestamp_idx ON logs (timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS logs_level_idx ON logs (level)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("columnar: bootstrap: %w", err)
		}
	}
	return nil
}

// EnsureMonthPartition creates the partition covering month, idempotently.
// The worker calls this before inserting entries whose timestamp falls in
// a month that has not yet been partitioned.
func (s *Store) EnsureMonthPartition(ctx context.Context, month time.Time) error {
	month = month.UTC()
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	name := fmt.Sprintf("logs_%04d%02d", start.Year(), start.Month())

	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF logs FOR VALUES FROM ($1) TO ($2)`,
		pgx.Identifier{name}.Sanitize(),
	)
	if _, err := s.db.Exec(ctx, stmt, start, end); err != nil {
		return fmt.Errorf("columnar: ensure partition %s: %w", name, err)
	}
	return nil
}
