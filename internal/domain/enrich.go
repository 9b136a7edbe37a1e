package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ClockSkewTolerance bounds how far a client-supplied timestamp may drift
// from ingestion time before it is clamped (§3.2).
const ClockSkewTolerance = 5 * time.Minute

// Enrich fills in defaults, clamps the timestamp, assigns identifiers, and
// derives the error category for a client-submitted log. now is injected
// for deterministic tests. Returns the enriched entry and whether the
// timestamp was clamped (for the caller to annotate/emit a metric).
func Enrich(l LogEntry, now func() time.Time) (LogEntry, bool) {
	if now == nil {
		now = time.Now
	}
	ingestedAt := now().UTC()

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Service == "" {
		l.Service = "unknown"
	}
	if l.Level == "" {
		l.Level = LevelInfo
	} else {
		l.Level = ParseLevel(string(l.Level))
	}

	clamped := false
	if l.Timestamp.IsZero() {
		l.Timestamp = ingestedAt
	} else {
		ts := l.Timestamp.UTC()
		if ts.Sub(ingestedAt) > ClockSkewTolerance {
			ts = ingestedAt
			clamped = true
		}
		l.Timestamp = ts
	}

	l.IngestedAt = ingestedAt
	l.ErrorCategory = Categorize(l.Level, l.Message)
	return l, clamped
}

// keyword rules applied in fixed precedence (§4.1).
var categoryKeywords = []struct {
	category ErrorCategory
	keywords []string
}{
	{CategoryTimeout, []string{"timeout", "timed out"}},
	{CategoryNetwork, []string{"connection refused", "unreachable", "reset"}},
	{CategoryDatabase, []string{"sql", "postgres", "mysql", "deadlock"}},
	{CategoryAuth, []string{"unauthorized", "forbidden", "invalid token"}},
	{CategoryResource, []string{"out of memory", "disk full"}},
	{CategoryExternal, []string{"upstream", "third-party"}},
}

// Categorize applies the case-insensitive keyword rules of §4.1 in fixed
// precedence, falling back to Logic for error+ level messages and None
// otherwise.
func Categorize(level Level, message string) ErrorCategory {
	lower := strings.ToLower(message)
	for _, rule := range categoryKeywords {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	if level == LevelError || level == LevelFatal {
		return CategoryLogic
	}
	return CategoryNone
}

// ValidateStructured checks a client-submitted structured log before
// enrichment. Only Message is mandatory; everything else is defaulted.
func ValidateStructured(message string) error {
	if strings.TrimSpace(message) == "" {
		return NewValidationError("message", message, ErrMessageRequired)
	}
	return nil
}

// ValidateRawLine checks a raw ingest line for well-formedness prior to
// parsing (§8.2: non-UTF-8 bytes are rejected with Validation).
func ValidateRawLine(line string) error {
	if line == "" {
		return NewValidationError("line", line, ErrEmptyLine)
	}
	if !utf8.ValidString(line) {
		return NewValidationError("line", line, ErrNotUTF8)
	}
	return nil
}
