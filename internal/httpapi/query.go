package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/stratumhq/stratum/internal/anomaly"
	"github.com/stratumhq/stratum/internal/apierr"
	"github.com/stratumhq/stratum/internal/columnar"
	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/metrics"
	"github.com/stratumhq/stratum/internal/rag"
	"github.com/stratumhq/stratum/internal/vectorstore"
)

// searchK bounds how many vector hits GET /api/search returns (§6.1).
const searchK = 20

// RecentLister is the subset of columnar.Store that GET /api/logs/recent
// needs (§4.5, §6.1).
type RecentLister interface {
	Recent(ctx context.Context, limit int, service, level string) ([]domain.LogEntry, error)
}

// Searcher is the subset of vectorstore.VectorStore that GET /api/search
// needs.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, k int, filter vectorstore.Filter) ([]vectorstore.SearchResult, error)
}

// Embedder is the subset of internal/embedding.Client that GET
// /api/search needs to turn a query string into a vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// StatsSource is the subset of columnar.Store that GET /api/stats and
// GET /api/services need (§4.5).
type StatsSource interface {
	Stats(ctx context.Context) (columnar.Stats, error)
	Services(ctx context.Context) ([]string, error)
}

// EmbeddingCounter is the subset of vectorstore.VectorStore that GET
// /api/stats joins in alongside the columnar row count (§4.5: "embedding
// count joined with C5 size").
type EmbeddingCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Asker runs the RAG pipeline for /api/chat and /api/ask (§4.7, §4.9).
type Asker interface {
	Query(ctx context.Context, sessionID, message string) (rag.Answer, error)
}

// AnomalySource exposes the anomaly engine's latest scan (§4.8).
type AnomalySource interface {
	Snapshot() anomaly.Snapshot
}

// QueryAPI implements the C9 read endpoints.
type QueryAPI struct {
	recent   RecentLister
	search   Searcher
	embedder Embedder
	stats    StatsSource
	embeds   EmbeddingCounter
	asker    Asker
	anomaly  AnomalySource
	metrics  *metrics.Metrics
}

// NewQueryAPI builds a QueryAPI.
func NewQueryAPI(recent RecentLister, search Searcher, embedder Embedder, stats StatsSource, embeds EmbeddingCounter, asker Asker, anomaly AnomalySource, m *metrics.Metrics) *QueryAPI {
	if m == nil {
		m = metrics.Get()
	}
	return &QueryAPI{
		recent: recent, search: search, embedder: embedder,
		stats: stats, embeds: embeds, asker: asker, anomaly: anomaly, metrics: m,
	}
}

// HandleRecent implements GET /api/logs/recent?limit=&service=&level=.
func (q *QueryAPI) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	entries, err := q.recent.Recent(r.Context(), limit, r.URL.Query().Get("service"), r.URL.Query().Get("level"))
	if err != nil {
		writeError(w, apierr.Wrap(apierr.StoreUnavailable, "fetch recent logs", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

// HandleSearch implements GET /api/search?q=&service=&level=&from=&to=
// (§4.6, §6.1): embeds the query, runs a filtered k-NN search, and
// returns raw vector hits without RAG synthesis.
func (q *QueryAPI) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, apierr.New(apierr.Validation, "missing required query parameter q"))
		return
	}

	embeddings, err := q.embedder.Embed(r.Context(), []string{query})
	if err != nil {
		writeError(w, apierr.Wrap(apierr.EmbeddingFailed, "embed search query", err))
		return
	}

	filter := vectorstore.Filter{
		Service: r.URL.Query().Get("service"),
		Level:   r.URL.Query().Get("level"),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.TimestampFrom = n
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.TimestampTo = n
		}
	}

	results, err := q.search.Search(r.Context(), embeddings[0], searchK, filter)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.StoreUnavailable, "vector search", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// HandleChat implements POST /api/chat: a stateful, session-scoped RAG
// query (§4.7, §4.9, §6.1).
func (q *QueryAPI) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, apierr.Wrap(apierr.Validation, "decode body", err))
		return
	}
	if req.Message == "" {
		writeError(w, apierr.New(apierr.Validation, "message is required"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = newSessionID()
	}

	answer, err := q.asker.Query(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.LlmFailed, "rag query", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": req.SessionID, "response": answer})
}

// HandleAsk implements GET /api/ask?q=: a stateless, one-shot variant of
// /api/chat for simple integrations (§4.9, §6.1).
func (q *QueryAPI) HandleAsk(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, apierr.New(apierr.Validation, "missing required query parameter q"))
		return
	}
	answer, err := q.asker.Query(r.Context(), newSessionID(), query)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.LlmFailed, "rag query", err))
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// HandleStats implements GET /api/stats (§4.5, §6.1): columnar row
// counters joined with the vector store's point count.
func (q *QueryAPI) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := q.stats.Stats(r.Context())
	if err != nil {
		writeError(w, apierr.Wrap(apierr.StoreUnavailable, "fetch stats", err))
		return
	}

	var embedded int64
	if q.embeds != nil {
		n, err := q.embeds.Count(r.Context())
		if err != nil {
			q.metrics.RejectedTotal.WithLabelValues("stats_embedding_count").Inc()
		} else {
			embedded = n
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_count":       stats.TotalCount,
		"last_24h_count":    stats.Last24hCount,
		"error_count":       stats.ErrorCount,
		"distinct_services": stats.DistinctServices,
		"storage_bytes":     stats.StorageBytes,
		"embedded_count":    embedded,
	})
}

// HandleServices implements GET /api/services (§4.5, §6.1).
func (q *QueryAPI) HandleServices(w http.ResponseWriter, r *http.Request) {
	services, err := q.stats.Services(r.Context())
	if err != nil {
		writeError(w, apierr.Wrap(apierr.StoreUnavailable, "fetch services", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

// HandleAnomalies implements GET /api/anomalies: the anomaly engine's
// most recent snapshot, never a live scan (§4.8, §6.1).
func (q *QueryAPI) HandleAnomalies(w http.ResponseWriter, r *http.Request) {
	snap := q.anomaly.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"anomalies":  snap.Anomalies,
		"checked_at": snap.CheckedAt,
	})
}
