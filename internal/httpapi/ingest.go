package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stratumhq/stratum/internal/apierr"
	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/metrics"
	"github.com/stratumhq/stratum/internal/parser"
)

// publishTimeout bounds how long a single ingest request may wait on the
// bus before it must respond (§4.2, §5: "never block the request thread
// longer than 2s").
const publishTimeout = 2 * time.Second

// Publisher is the subset of the bus adapter the ingestion API needs.
// Implementations must fail fast (not block past publishTimeout) when the
// publish buffer is full (§4.2, §4.3).
type Publisher interface {
	Publish(ctx context.Context, subject string, entry domain.LogEntry) error
}

// ErrBufferFull is returned by a Publisher when its bounded buffer is
// exhausted, so the ingestion API can answer 503 with Retry-After.
var ErrBufferFull = fmt.Errorf("ingest: publish buffer full")

// IngestSubject is the durable bus subject log entries are published to
// (§2, §4.2).
const IngestSubject = "logs.ingest"

// Ingestor implements the C1 ingestion endpoints.
type Ingestor struct {
	publisher Publisher
	registry  *parser.Registry
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

// NewIngestor builds an Ingestor.
func NewIngestor(publisher Publisher, registry *parser.Registry, m *metrics.Metrics, logger *slog.Logger) *Ingestor {
	if registry == nil {
		registry = parser.NewRegistry()
	}
	if m == nil {
		m = metrics.Get()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{publisher: publisher, registry: registry, metrics: m, now: time.Now, logger: logger}
}

// structuredLog is the wire shape of one entry in POST /api/logs (§6.2).
type structuredLog struct {
	Service   string         `json:"service,omitempty"`
	Message   string         `json:"message"`
	Level     string         `json:"level,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

func (s structuredLog) toEntry() domain.LogEntry {
	e := domain.LogEntry{
		Service: s.Service,
		Message: s.Message,
		Level:   domain.Level(s.Level),
		TraceID: s.TraceID,
		Fields:  s.Fields,
	}
	if s.Timestamp != nil {
		e.Timestamp = *s.Timestamp
	}
	return e
}

// rejectedEntry is one failed item in the §7 partial-acceptance envelope.
type rejectedEntry struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// ingestResponse is the §7 "never reject a batch wholesale" envelope.
type ingestResponse struct {
	Accepted []string        `json:"accepted"`
	Rejected []rejectedEntry `json:"rejected,omitempty"`
}

// HandleLogs implements POST /api/logs: a single structured log, or an
// array of them (§4.2, §6.1).
func (ing *Ingestor) HandleLogs(w http.ResponseWriter, r *http.Request) {
	start := ing.now()
	defer func() { ing.metrics.IngestLatency.Observe(time.Since(start).Seconds()) }()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Validation, "read body", err))
		return
	}

	logs, err := decodeStructuredBody(body)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Validation, "decode body", err))
		return
	}
	if len(logs) == 0 {
		// §8.2: an empty batch is not an error, just zero acceptances.
		writeJSON(w, http.StatusOK, ingestResponse{Accepted: []string{}})
		return
	}

	accepted := make([]string, 0, len(logs))
	var rejected []rejectedEntry
	for i, s := range logs {
		if err := domain.ValidateStructured(s.Message); err != nil {
			rejected = append(rejected, rejectedEntry{Index: i, Reason: err.Error()})
			ing.metrics.RejectedTotal.WithLabelValues("validation").Inc()
			continue
		}
		id, err := ing.publishOne(r.Context(), s.toEntry())
		if err != nil {
			if err == ErrBufferFull {
				writeBackpressure(w)
				return
			}
			rejected = append(rejected, rejectedEntry{Index: i, Reason: err.Error()})
			ing.metrics.RejectedTotal.WithLabelValues("publish").Inc()
			continue
		}
		accepted = append(accepted, id)
		ing.metrics.IngestedTotal.WithLabelValues("structured").Inc()
	}

	writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: accepted, Rejected: rejected})
}

// decodeStructuredBody accepts either a single object or a JSON array
// (§4.2: "a single structured log, or an array of structured logs").
func decodeStructuredBody(body []byte) ([]structuredLog, error) {
	trimmed := trimLeadingSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var logs []structuredLog
		if err := json.Unmarshal(body, &logs); err != nil {
			return nil, err
		}
		return logs, nil
	}
	var one structuredLog
	if len(trimmed) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(body, &one); err != nil {
		return nil, err
	}
	return []structuredLog{one}, nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

// rawBatchRequest is the wire shape of POST /api/logs/raw (§6.1, §6.2).
type rawBatchRequest struct {
	Format  string   `json:"format"`
	Service string   `json:"service"`
	Lines   []string `json:"lines"`
}

// HandleLogsRaw implements POST /api/logs/raw: a batch of raw lines with
// a format hint and a default service (§4.2).
func (ing *Ingestor) HandleLogsRaw(w http.ResponseWriter, r *http.Request) {
	start := ing.now()
	defer func() { ing.metrics.IngestLatency.Observe(time.Since(start).Seconds()) }()

	var req rawBatchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 8<<20)).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.Validation, "decode body", err))
		return
	}

	var forced parser.Parser
	if req.Format != "" {
		p, ok := ing.registry.ByName(req.Format)
		if !ok {
			writeError(w, apierr.New(apierr.Validation, fmt.Sprintf("unknown format %q", req.Format)))
			return
		}
		forced = p
	}

	accepted := make([]string, 0, len(req.Lines))
	var rejected []rejectedEntry
	for i, line := range req.Lines {
		if err := domain.ValidateRawLine(line); err != nil {
			rejected = append(rejected, rejectedEntry{Index: i, Reason: err.Error()})
			ing.metrics.RejectedTotal.WithLabelValues("validation").Inc()
			continue
		}

		entry, format, ok := parseLine(ing.registry, forced, req.Format, line)
		if !ok {
			rejected = append(rejected, rejectedEntry{Index: i, Reason: "no parser matched line"})
			ing.metrics.RejectedTotal.WithLabelValues("unparseable").Inc()
			continue
		}
		if entry.Service == "" {
			entry.Service = req.Service
		}

		id, err := ing.publishOne(r.Context(), entry)
		if err != nil {
			if err == ErrBufferFull {
				writeBackpressure(w)
				return
			}
			rejected = append(rejected, rejectedEntry{Index: i, Reason: err.Error()})
			ing.metrics.RejectedTotal.WithLabelValues("publish").Inc()
			continue
		}
		accepted = append(accepted, id)
		ing.metrics.IngestedTotal.WithLabelValues(format).Inc()
	}

	writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: accepted, Rejected: rejected})
}

func parseLine(reg *parser.Registry, forced parser.Parser, formatName, line string) (domain.LogEntry, string, bool) {
	if forced != nil {
		entry, ok := forced.TryParse(line)
		return entry, formatName, ok
	}
	return reg.DetectAndParse(line)
}

// publishOne enriches and publishes a single entry, returning its id.
func (ing *Ingestor) publishOne(ctx context.Context, e domain.LogEntry) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	entry, clamped := domain.Enrich(e, ing.now)
	if clamped {
		ing.metrics.RejectedTotal.WithLabelValues("clock_skew_warning").Inc()
	}

	if err := ing.publisher.Publish(ctx, IngestSubject, entry); err != nil {
		if err == ErrBufferFull {
			return "", ErrBufferFull
		}
		return "", fmt.Errorf("publish: %w", err)
	}
	return entry.ID, nil
}

func writeBackpressure(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	writeError(w, apierr.New(apierr.BusUnavailable, "publish buffer full, retry shortly"))
}
