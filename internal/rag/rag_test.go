package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/llm"
	"github.com/stratumhq/stratum/internal/metrics"
	"github.com/stratumhq/stratum/internal/vectorstore"
)

type mockEmbedder struct {
	vec []float32
	err error
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = m.vec
	}
	return out, nil
}

type mockChat struct {
	resp     llm.Response
	err      error
	lastUser string
}

func (m *mockChat) Chat(_ context.Context, _ string, messages []llm.Message, _ int, _ float64) (llm.Response, error) {
	if len(messages) > 0 {
		m.lastUser = messages[len(messages)-1].Content
	}
	return m.resp, m.err
}

type mockSearch struct {
	results []vectorstore.SearchResult
	err     error
}

func (m *mockSearch) Search(_ context.Context, _ []float32, _ int, _ vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	return m.results, m.err
}

type mockHydrate struct {
	entries map[string]domain.LogEntry
}

func (m *mockHydrate) ByIDs(_ context.Context, ids []string) ([]domain.LogEntry, error) {
	out := make([]domain.LogEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

type mockServiceLister struct{ names []string }

func (m *mockServiceLister) Services(context.Context) ([]string, error) { return m.names, nil }

func testMetrics() *metrics.Metrics { return metrics.New(prometheus.NewRegistry()) }

func TestQueryReturnsZeroHitsFallbackWithoutCallingLLM(t *testing.T) {
	chat := &mockChat{}
	svc := New(&mockEmbedder{vec: []float32{0.1}}, chat, &mockSearch{}, &mockHydrate{}, &mockServiceLister{}, testMetrics(), nil)

	ans, err := svc.Query(context.Background(), "sess-1", "what happened?")
	require.NoError(t, err)
	assert.Equal(t, noRelevantLogsAnswer, ans.Text)
	assert.Equal(t, 0, ans.SourcesCount)
	assert.Empty(t, chat.lastUser)
}

func TestQuerySuccessCitesSourcesAndAppendsSession(t *testing.T) {
	now := time.Now()
	entries := map[string]domain.LogEntry{
		"log-1": {ID: "log-1", Service: "checkout", Level: domain.LevelError, Message: "payment failed", Timestamp: now},
	}
	chat := &mockChat{resp: llm.Response{Text: "Payment failed, see [log-1].", Provider: llm.ProviderLocal}}
	svc := New(
		&mockEmbedder{vec: []float32{0.1}},
		chat,
		&mockSearch{results: []vectorstore.SearchResult{{ID: "log-1", Score: 0.9}}},
		&mockHydrate{entries: entries},
		&mockServiceLister{names: []string{"checkout"}},
		testMetrics(), nil,
	)

	ans, err := svc.Query(context.Background(), "sess-1", "why did checkout fail?")
	require.NoError(t, err)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "log-1", ans.Sources[0].ID)
	assert.Contains(t, chat.lastUser, "payment failed")

	recent := svc.sessions.Recent("sess-1", 6)
	require.Len(t, recent, 2)
	assert.Equal(t, "user", recent[0].Role)
	assert.Equal(t, "assistant", recent[1].Role)
}

func TestQueryFallsBackToDeterministicSummaryOnLLMFailure(t *testing.T) {
	now := time.Now()
	entries := map[string]domain.LogEntry{
		"log-1": {ID: "log-1", Service: "checkout", Level: domain.LevelError, Message: "payment failed", Timestamp: now},
	}
	chat := &mockChat{err: errors.New("llm unavailable")}
	svc := New(
		&mockEmbedder{vec: []float32{0.1}},
		chat,
		&mockSearch{results: []vectorstore.SearchResult{{ID: "log-1", Score: 0.9}}},
		&mockHydrate{entries: entries},
		&mockServiceLister{},
		testMetrics(), nil,
	)

	ans, err := svc.Query(context.Background(), "sess-1", "what happened?")
	require.NoError(t, err)
	assert.Contains(t, ans.Text, "payment failed")
	assert.NotEmpty(t, ans.Sources)
}

func TestQuerySurfacesEmbedError(t *testing.T) {
	svc := New(&mockEmbedder{err: errors.New("embed down")}, &mockChat{}, &mockSearch{}, &mockHydrate{}, &mockServiceLister{}, testMetrics(), nil)
	_, err := svc.Query(context.Background(), "sess-1", "question")
	require.Error(t, err)
}

func TestQuerySurfacesRetrieveError(t *testing.T) {
	svc := New(&mockEmbedder{vec: []float32{0.1}}, &mockChat{}, &mockSearch{err: errors.New("qdrant down")}, &mockHydrate{}, &mockServiceLister{}, testMetrics(), nil)
	_, err := svc.Query(context.Background(), "sess-1", "question")
	require.Error(t, err)
}
