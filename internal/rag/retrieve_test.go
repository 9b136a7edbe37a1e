package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/vectorstore"
)

type stubSearcher struct {
	byFilter map[string][]vectorstore.SearchResult
	calls    []vectorstore.Filter
	err      error
}

func filterKey(f vectorstore.Filter) string {
	return f.Service + "|" + f.Level
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, _ int, filter vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	s.calls = append(s.calls, filter)
	if s.err != nil {
		return nil, s.err
	}
	return s.byFilter[filterKey(filter)], nil
}

type stubHydrator struct {
	entries map[string]domain.LogEntry
}

func (h *stubHydrator) ByIDs(_ context.Context, ids []string) ([]domain.LogEntry, error) {
	out := make([]domain.LogEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := h.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func hits(n int, svc string) []vectorstore.SearchResult {
	out := make([]vectorstore.SearchResult, n)
	for i := range out {
		out[i] = vectorstore.SearchResult{ID: svc, Score: 0.9}
	}
	return out
}

func TestRetrieveUsesFullFilterWhenEnoughHits(t *testing.T) {
	searcher := &stubSearcher{byFilter: map[string][]vectorstore.SearchResult{
		"checkout|error": hits(12, "a"),
	}}
	a := Analysis{ServiceHint: "checkout", LevelHint: "error"}
	results, err := retrieve(context.Background(), searcher, []float32{0.1}, a)
	require.NoError(t, err)
	assert.Len(t, results, 12)
	assert.Len(t, searcher.calls, 1)
}

func TestRetrieveLoosensFiltersUntilEnoughHits(t *testing.T) {
	searcher := &stubSearcher{byFilter: map[string][]vectorstore.SearchResult{
		"checkout|error": hits(2, "a"),
		"checkout|":      hits(3, "b"),
		"|":              hits(20, "c"),
	}}
	a := Analysis{ServiceHint: "checkout", LevelHint: "error"}
	results, err := retrieve(context.Background(), searcher, []float32{0.1}, a)
	require.NoError(t, err)
	assert.Len(t, results, 20)
	assert.Len(t, searcher.calls, 3)
}

func TestRetrieveSurfacesErrorWhenAllStagesFail(t *testing.T) {
	searcher := &stubSearcher{err: errors.New("qdrant down")}
	_, err := retrieve(context.Background(), searcher, []float32{0.1}, Analysis{})
	require.Error(t, err)
}

func TestHydrateAndRerankOrdersBySeverityAndRecency(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	hydrator := &stubHydrator{entries: map[string]domain.LogEntry{
		"old-error": {ID: "old-error", Level: domain.LevelError, Timestamp: now.Add(-5 * time.Hour)},
		"new-info":  {ID: "new-info", Level: domain.LevelInfo, Timestamp: now},
	}}
	searchHits := []vectorstore.SearchResult{
		{ID: "old-error", Score: 0.5},
		{ID: "new-info", Score: 0.5},
	}
	ranked, err := hydrateAndRerank(context.Background(), hydrator, searchHits, now, 20)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "new-info", ranked[0].Entry.ID)
}

func TestHydrateAndRerankTruncatesToKCtx(t *testing.T) {
	entries := make(map[string]domain.LogEntry)
	var searchHits []vectorstore.SearchResult
	now := time.Now()
	for i := 0; i < 30; i++ {
		id := string(rune('a' + i))
		entries[id] = domain.LogEntry{ID: id, Level: domain.LevelInfo, Timestamp: now}
		searchHits = append(searchHits, vectorstore.SearchResult{ID: id, Score: 0.5})
	}
	hydrator := &stubHydrator{entries: entries}
	ranked, err := hydrateAndRerank(context.Background(), hydrator, searchHits, now, 20)
	require.NoError(t, err)
	assert.Len(t, ranked, 20)
}
