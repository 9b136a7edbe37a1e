package parser

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/stratumhq/stratum/internal/domain"
)

// JSONParser parses a single JSON object per line (§4.1).
type JSONParser struct{}

func (JSONParser) Name() string { return "json" }

// jsonKeys lists the accepted aliases for each canonical field, in priority
// order. Every other top-level key falls through to Fields.
var (
	jsonServiceKeys   = []string{"service", "svc", "logger"}
	jsonMessageKeys   = []string{"message", "msg"}
	jsonTimestampKeys = []string{"timestamp", "ts", "time"}
)

func (JSONParser) TryParse(line string) (domain.LogEntry, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return domain.LogEntry{}, false
	}
	// A JSON object is required; arrays, scalars, etc. are not a match.
	if raw == nil {
		return domain.LogEntry{}, false
	}

	entry := domain.LogEntry{Fields: make(map[string]any)}
	consumed := make(map[string]bool)

	if v, key, ok := popString(raw, jsonServiceKeys); ok {
		entry.Service = v
		consumed[key] = true
	}
	if v, key, ok := popString(raw, jsonMessageKeys); ok {
		entry.Message = v
		consumed[key] = true
	} else {
		return domain.LogEntry{}, false
	}
	if v, ok := raw["level"]; ok {
		if s, ok := v.(string); ok {
			entry.Level = domain.ParseLevel(s)
		}
		consumed["level"] = true
	}
	if v, key, ok := popString(raw, jsonTimestampKeys); ok {
		if ts, ok := parseFlexibleTimestamp(v); ok {
			entry.Timestamp = ts
		}
		consumed[key] = true
	}
	if v, ok := raw["trace_id"]; ok {
		if s, ok := v.(string); ok {
			entry.TraceID = s
		}
		consumed["trace_id"] = true
	}

	for k, v := range raw {
		if !consumed[k] {
			entry.Fields[k] = v
		}
	}

	return entry, true
}

func popString(raw map[string]any, keys []string) (string, string, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, ok := v.(string); ok {
				return s, k, true
			}
		}
	}
	return "", "", false
}

// parseFlexibleTimestamp accepts RFC3339 or a unix-seconds/millis number
// encoded as a JSON string.
func parseFlexibleTimestamp(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n >= 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	return time.Time{}, false
}
