package columnar

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/internal/domain"
)

// pgxMockAdapter narrows pgxmock.PgxPoolIface down to the DB interface
// Store depends on.
type pgxMockAdapter struct {
	mock pgxmock.PgxPoolIface
}

func (a *pgxMockAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return a.mock.Exec(ctx, sql, args...)
}

func (a *pgxMockAdapter) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return a.mock.Query(ctx, sql, args...)
}

func (a *pgxMockAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return a.mock.QueryRow(ctx, sql, args...)
}

func (a *pgxMockAdapter) Close() { a.mock.Close() }

func setupMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return mock, New(&pgxMockAdapter{mock: mock})
}

func sampleEntry(id string) domain.LogEntry {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	return domain.LogEntry{
		ID:            id,
		Timestamp:     now,
		Level:         domain.LevelError,
		Service:       "checkout",
		Message:       "payment failed",
		TraceID:       "trace-1",
		Fields:        map[string]any{"order_id": "o-1"},
		ErrorCategory: domain.CategoryLogic,
		IngestedAt:    now,
	}
}

func TestInsertEmptyBatchIsNoop(t *testing.T) {
	_, store := setupMockStore(t)
	n, err := store.Insert(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestInsertSingleEntry(t *testing.T) {
	mock, store := setupMockStore(t)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO logs`).
		WithArgs(
			"id-1", sampleEntry("id-1").Timestamp, "error", "checkout", "payment failed",
			"trace-1", nil, nil, `{"order_id":"o-1"}`, "logic", sampleEntry("id-1").IngestedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := store.Insert(context.Background(), []domain.LogEntry{sampleEntry("id-1")})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentFiltersByServiceAndLevel(t *testing.T) {
	mock, store := setupMockStore(t)
	defer mock.Close()

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "timestamp", "level", "service", "message",
		"trace_id", "source_file", "source_line", "fields", "error_category", "ingested_at",
	}).AddRow("id-1", now, "error", "checkout", "payment failed", "trace-1", nil, nil, `{}`, "logic", now)

	mock.ExpectQuery(`SELECT id, timestamp, level, service, message`).
		WithArgs("checkout", "error", 50).
		WillReturnRows(rows)

	entries, err := store.Recent(context.Background(), 50, "checkout", "error")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "id-1", entries[0].ID)
	require.Equal(t, domain.LevelError, entries[0].Level)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestByIDsEmptyReturnsNil(t *testing.T) {
	_, store := setupMockStore(t)
	entries, err := store.ByIDs(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, entries)
}

func TestStatsScansAggregates(t *testing.T) {
	mock, store := setupMockStore(t)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"total", "last24h", "errors", "services", "bytes"}).
		AddRow(int64(1000), int64(42), int64(7), int64(3), int64(2048))
	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1000), stats.TotalCount)
	require.Equal(t, int64(42), stats.Last24hCount)
	require.Equal(t, int64(3), stats.DistinctServices)
}
