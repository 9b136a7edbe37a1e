// Package domain defines the canonical log record and the small set of
// value types shared across Stratum's ingestion, retrieval, and anomaly
// components.
package domain

import (
	"encoding/json"
	"time"
)

// Level is the canonical log severity.
type Level string

const (
	LevelTrace Level = "trace"
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// ValidLevels is the set of recognised severities.
var ValidLevels = map[Level]bool{
	LevelTrace: true, LevelDebug: true, LevelInfo: true,
	LevelWarn: true, LevelError: true, LevelFatal: true,
}

// ParseLevel normalises free-form text into a Level, defaulting to Info.
func ParseLevel(s string) Level {
	lvl := Level(normalizeToken(s))
	switch lvl {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return lvl
	case "warning":
		return LevelWarn
	case "err":
		return LevelError
	case "critical", "panic":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// SeverityWeight is used by the RAG reranker (§4.7 step 4).
func (l Level) SeverityWeight() float64 {
	switch l {
	case LevelFatal:
		return 1.0
	case LevelError:
		return 0.8
	case LevelWarn:
		return 0.5
	case LevelInfo:
		return 0.2
	case LevelDebug:
		return 0.1
	case LevelTrace:
		return 0.05
	default:
		return 0.2
	}
}

// ErrorCategory classifies the failure domain of a log entry (§4.1).
type ErrorCategory string

const (
	CategoryNone     ErrorCategory = "none"
	CategoryNetwork  ErrorCategory = "network"
	CategoryDatabase ErrorCategory = "database"
	CategoryAuth     ErrorCategory = "auth"
	CategoryTimeout  ErrorCategory = "timeout"
	CategoryResource ErrorCategory = "resource"
	CategoryLogic    ErrorCategory = "logic"
	CategoryExternal ErrorCategory = "external"
)

// LogEntry is the canonical record after enrichment (§3.1).
type LogEntry struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Level         Level           `json:"level"`
	Service       string          `json:"service"`
	Message       string          `json:"message"`
	TraceID       string          `json:"trace_id,omitempty"`
	SourceFile    string          `json:"source_file,omitempty"`
	SourceLine    int             `json:"source_line,omitempty"`
	Fields        map[string]any  `json:"fields,omitempty"`
	ErrorCategory ErrorCategory   `json:"error_category"`
	IngestedAt    time.Time       `json:"ingested_at"`
	Embedded      bool            `json:"embedded"`
	TimestampRaw  json.RawMessage `json:"-"` // preserved for round-trip parsers, not serialized
}

// VectorPoint is the payload persisted alongside an embedding in the vector
// store (§3.1).
type VectorPoint struct {
	ID        string
	Embedding []float32
	Service   string
	Level     Level
	Message   string // truncated to 512 bytes
	Timestamp int64  // unix seconds
	TraceID   string
}

const vectorPayloadMessageLimit = 512

// NewVectorPoint builds a VectorPoint from a hydrated LogEntry and its
// embedding, truncating the message per §3.1.
func NewVectorPoint(l LogEntry, embedding []float32) VectorPoint {
	msg := l.Message
	if len(msg) > vectorPayloadMessageLimit {
		msg = msg[:vectorPayloadMessageLimit]
	}
	return VectorPoint{
		ID:        l.ID,
		Embedding: embedding,
		Service:   l.Service,
		Level:     l.Level,
		Message:   msg,
		Timestamp: l.Timestamp.Unix(),
		TraceID:   l.TraceID,
	}
}

// ChatMessage is one turn of a ChatSession.
type ChatMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	TurnIndex int       `json:"turn_index"`
	At        time.Time `json:"at"`
}

// AnomalyRule identifies which detector raised an Anomaly (§4.8).
type AnomalyRule string

const (
	RuleErrorSpike  AnomalyRule = "error_spike"
	RuleVolumeDrop  AnomalyRule = "volume_drop"
	RuleNewPattern  AnomalyRule = "new_pattern" // reserved, never emitted in v1
	RuleLatencyRise AnomalyRule = "latency_rise"
)

// Severity is the impact level assigned to an Anomaly.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Anomaly is a detected deviation in log volume or composition (§3.1).
type Anomaly struct {
	Service       string      `json:"service"`
	Rule          AnomalyRule `json:"rule"`
	Severity      Severity    `json:"severity"`
	Message       string      `json:"message"`
	CurrentValue  float64     `json:"current_value"`
	ExpectedValue float64     `json:"expected_value"`
	DetectedAt    time.Time   `json:"detected_at"`
}

// LogSummary is the trimmed view of a LogEntry embedded in a CausalChain.
type LogSummary struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Summarize reduces a LogEntry to its CausalChain representation.
func (l LogEntry) Summarize() LogSummary {
	return LogSummary{ID: l.ID, Service: l.Service, Level: l.Level, Message: l.Message, Timestamp: l.Timestamp}
}

// CausalLink is one step in a CausalChain (§3.1).
type CausalLink struct {
	Cause       LogSummary `json:"cause"`
	Confidence  float64    `json:"confidence"`
	Explanation string     `json:"explanation,omitempty"`
}

// CausalChain is a temporally-ordered hypothesis of what led to an effect.
type CausalChain struct {
	Effect         LogSummary   `json:"effect"`
	Chain          []CausalLink `json:"chain"`
	RootCause      *LogSummary  `json:"root_cause,omitempty"`
	Recommendation string       `json:"recommendation,omitempty"`
}

func normalizeToken(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 32
		}
		b = append(b, c)
	}
	return string(b)
}
