package columnar

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stratumhq/stratum/internal/domain"
)

// Insert bulk-inserts a batch of log entries in a single round-trip
// (§4.5), upserting by id so redelivered messages overwrite rather than
// duplicate (§4.4 idempotency).
func (s *Store) Insert(ctx context.Context, entries []domain.LogEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	const columnsPerRow = 11
	placeholders := make([]string, 0, len(entries))
	args := make([]any, 0, len(entries)*columnsPerRow)

	for i, e := range entries {
		fields, err := json.Marshal(e.Fields)
		if err != nil {
			return 0, fmt.Errorf("columnar: marshal fields for %s: %w", e.ID, err)
		}
		base := i * columnsPerRow
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
		))
		args = append(args,
			e.ID, e.Timestamp, string(e.Level), e.Service, e.Message,
			nullableString(e.TraceID), nullableString(e.SourceFile), nullableInt(e.SourceLine),
			string(fields), string(e.ErrorCategory), e.IngestedAt,
		)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO logs (
			id, timestamp, level, service, message,
			trace_id, source_file, source_line, fields, error_category, ingested_at
		) VALUES %s
		ON CONFLICT (id) DO UPDATE SET
			timestamp = EXCLUDED.timestamp,
			level = EXCLUDED.level,
			service = EXCLUDED.service,
			message = EXCLUDED.message,
			trace_id = EXCLUDED.trace_id,
			source_file = EXCLUDED.source_file,
			source_line = EXCLUDED.source_line,
			fields = EXCLUDED.fields,
			error_category = EXCLUDED.error_category,
			ingested_at = EXCLUDED.ingested_at
	`, strings.Join(placeholders, ","))

	tag, err := s.db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("columnar: insert batch of %d: %w", len(entries), err)
	}
	return int(tag.RowsAffected()), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
