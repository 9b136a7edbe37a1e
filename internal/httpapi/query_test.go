package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/internal/anomaly"
	"github.com/stratumhq/stratum/internal/columnar"
	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/rag"
	"github.com/stratumhq/stratum/internal/vectorstore"
)

type fakeRecent struct {
	entries []domain.LogEntry
	err     error
}

func (f *fakeRecent) Recent(_ context.Context, _ int, _, _ string) ([]domain.LogEntry, error) {
	return f.entries, f.err
}

type fakeSearcher struct {
	results []vectorstore.SearchResult
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, _ int, _ vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	return f.results, f.err
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, 384)
	}
	return out, nil
}

type fakeStats struct {
	stats    columnar.Stats
	statsErr error
	services []string
	svcErr   error
}

func (f *fakeStats) Stats(_ context.Context) (columnar.Stats, error) { return f.stats, f.statsErr }
func (f *fakeStats) Services(_ context.Context) ([]string, error)    { return f.services, f.svcErr }

type fakeCounter struct {
	n   int64
	err error
}

func (f *fakeCounter) Count(_ context.Context) (int64, error) { return f.n, f.err }

type fakeAsker struct {
	answer rag.Answer
	err    error
}

func (f *fakeAsker) Query(_ context.Context, _, _ string) (rag.Answer, error) {
	return f.answer, f.err
}

type fakeAnomalySource struct {
	snap anomaly.Snapshot
}

func (f *fakeAnomalySource) Snapshot() anomaly.Snapshot { return f.snap }

func TestHandleRecent(t *testing.T) {
	api := NewQueryAPI(&fakeRecent{entries: []domain.LogEntry{{ID: "1"}}}, nil, nil, nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/logs/recent?limit=10", nil)
	rec := httptest.NewRecorder()
	api.HandleRecent(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"1"`)
}

func TestHandleRecentStoreError(t *testing.T) {
	api := NewQueryAPI(&fakeRecent{err: errors.New("down")}, nil, nil, nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/logs/recent", nil)
	rec := httptest.NewRecorder()
	api.HandleRecent(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleSearchRequiresQuery(t *testing.T) {
	api := NewQueryAPI(nil, &fakeSearcher{}, &fakeEmbedder{}, nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	rec := httptest.NewRecorder()
	api.HandleSearch(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearchSuccess(t *testing.T) {
	api := NewQueryAPI(nil, &fakeSearcher{results: []vectorstore.SearchResult{{ID: "p1", Score: 0.9}}}, &fakeEmbedder{}, nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/search?q=timeout&service=checkout", nil)
	rec := httptest.NewRecorder()
	api.HandleSearch(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "p1")
}

func TestHandleSearchEmbeddingFailure(t *testing.T) {
	api := NewQueryAPI(nil, &fakeSearcher{}, &fakeEmbedder{err: errors.New("provider down")}, nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/search?q=timeout", nil)
	rec := httptest.NewRecorder()
	api.HandleSearch(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleChatAssignsSessionID(t *testing.T) {
	asker := &fakeAsker{answer: rag.Answer{Text: "answer"}}
	api := NewQueryAPI(nil, nil, nil, nil, nil, asker, nil, nil)
	body := `{"message":"why did checkout fail?"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	api.HandleChat(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["session_id"])
}

func TestHandleChatRejectsEmptyMessage(t *testing.T) {
	api := NewQueryAPI(nil, nil, nil, nil, nil, &fakeAsker{}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":""}`))
	rec := httptest.NewRecorder()
	api.HandleChat(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAsk(t *testing.T) {
	asker := &fakeAsker{answer: rag.Answer{Text: "checkout failed due to timeout"}}
	api := NewQueryAPI(nil, nil, nil, nil, nil, asker, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/ask?q=why+did+checkout+fail", nil)
	rec := httptest.NewRecorder()
	api.HandleAsk(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "timeout")
}

func TestHandleStatsJoinsEmbeddingCount(t *testing.T) {
	stats := &fakeStats{stats: columnar.Stats{TotalCount: 100, ErrorCount: 5}}
	counter := &fakeCounter{n: 42}
	api := NewQueryAPI(nil, nil, nil, stats, counter, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	api.HandleStats(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"embedded_count":42`)
}

func TestHandleServices(t *testing.T) {
	stats := &fakeStats{services: []string{"checkout", "payments"}}
	api := NewQueryAPI(nil, nil, nil, stats, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	rec := httptest.NewRecorder()
	api.HandleServices(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "checkout")
}

func TestHandleAnomalies(t *testing.T) {
	snap := anomaly.Snapshot{
		Anomalies: []domain.Anomaly{{Service: "checkout", Rule: domain.RuleErrorSpike, Severity: domain.SeverityHigh}},
		CheckedAt: time.Now().UTC(),
	}
	api := NewQueryAPI(nil, nil, nil, nil, nil, nil, &fakeAnomalySource{snap: snap}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/anomalies", nil)
	rec := httptest.NewRecorder()
	api.HandleAnomalies(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "error_spike")
}
