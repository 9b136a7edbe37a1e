package columnar

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stratumhq/stratum/internal/domain"
)

// Recent returns the most recent entries, optionally filtered by service
// and/or level, reverse-chronological (§4.5). Filters are always bound
// parameters, never concatenated into the query text.
func (s *Store) Recent(ctx context.Context, limit int, service, level string) ([]domain.LogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, timestamp, level, service, message, trace_id, source_file,
		       source_line, fields, error_category, ingested_at
		FROM logs
		WHERE ($1 = '' OR service = $1)
		  AND ($2 = '' OR level = $2)
		ORDER BY timestamp DESC
		LIMIT $3
	`
	rows, err := s.db.Query(ctx, query, service, level, limit)
	if err != nil {
		return nil, fmt.Errorf("columnar: recent: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ByIDs hydrates a set of ids, used by the RAG engine to fill in full log
// records for vector search hits (§4.5, §4.7).
func (s *Store) ByIDs(ctx context.Context, ids []string) ([]domain.LogEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, timestamp, level, service, message, trace_id, source_file,
		       source_line, fields, error_category, ingested_at
		FROM logs
		WHERE id = ANY($1)
	`
	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("columnar: by_ids: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]domain.LogEntry, error) {
	var out []domain.LogEntry
	for rows.Next() {
		var (
			e          domain.LogEntry
			traceID    *string
			sourceFile *string
			sourceLine *int
			fieldsRaw  string
		)
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.Level, &e.Service, &e.Message,
			&traceID, &sourceFile, &sourceLine, &fieldsRaw, &e.ErrorCategory, &e.IngestedAt,
		); err != nil {
			return nil, fmt.Errorf("columnar: scan: %w", err)
		}
		if traceID != nil {
			e.TraceID = *traceID
		}
		if sourceFile != nil {
			e.SourceFile = *sourceFile
		}
		if sourceLine != nil {
			e.SourceLine = *sourceLine
		}
		if fieldsRaw != "" {
			_ = json.Unmarshal([]byte(fieldsRaw), &e.Fields)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("columnar: rows: %w", err)
	}
	return out, nil
}

// Stats is the aggregate summary behind GET /api/stats (§4.5, §6).
type Stats struct {
	TotalCount       int64
	Last24hCount     int64
	ErrorCount       int64
	DistinctServices int64
	StorageBytes     int64
}

// Stats computes table-wide counters. EmbeddedCount is deliberately not
// part of this query: it comes from the vector store's own point count,
// joined in by the caller (§4.5: "embedding count joined with C5 size").
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE timestamp >= now() - interval '24 hours'),
			COUNT(*) FILTER (WHERE level = 'error' OR level = 'fatal'),
			COUNT(DISTINCT service),
			COALESCE(pg_total_relation_size('logs'), 0)
		FROM logs
	`
	var st Stats
	err := s.db.QueryRow(ctx, query).Scan(
		&st.TotalCount, &st.Last24hCount, &st.ErrorCount, &st.DistinctServices, &st.StorageBytes,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("columnar: stats: %w", err)
	}
	return st, nil
}

// Services returns distinct non-empty service names seen in the last 7
// days (§4.5).
func (s *Store) Services(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT service
		FROM logs
		WHERE service <> '' AND timestamp >= now() - interval '7 days'
		ORDER BY service
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("columnar: services: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var svc string
		if err := rows.Scan(&svc); err != nil {
			return nil, fmt.Errorf("columnar: scan service: %w", err)
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// VolumeBucket is one point in a volume_by_service_level histogram.
type VolumeBucket struct {
	BucketStart time.Time
	Service     string
	Level       string
	Count       int64
}

// VolumeByServiceLevel buckets log counts per (service, level) over the
// trailing window at the given bucket width, feeding the anomaly engine's
// baseline computation (§4.5, §4.8).
func (s *Store) VolumeByServiceLevel(ctx context.Context, window, bucket time.Duration) ([]VolumeBucket, error) {
	query := `
		SELECT
			to_timestamp(floor(extract(epoch from timestamp) / $1) * $1) AS bucket_start,
			service,
			level,
			COUNT(*)
		FROM logs
		WHERE timestamp >= now() - ($2 || ' seconds')::interval
		GROUP BY bucket_start, service, level
		ORDER BY bucket_start ASC
	`
	rows, err := s.db.Query(ctx, query, bucket.Seconds(), fmt.Sprintf("%d", int64(window.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("columnar: volume_by_service_level: %w", err)
	}
	defer rows.Close()

	var out []VolumeBucket
	for rows.Next() {
		var b VolumeBucket
		if err := rows.Scan(&b.BucketStart, &b.Service, &b.Level, &b.Count); err != nil {
			return nil, fmt.Errorf("columnar: scan bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
