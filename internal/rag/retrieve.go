package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/vectorstore"
)

// retrieveK is the vector-search fan-out before filter loosening or
// reranking (§4.7 step 2).
const retrieveK = 50

// minHits is the target hit count below which the payload filter is
// progressively loosened.
const minHits = 10

// recencyTau is the half-life-like constant for the recency term of the
// reranker (§4.7 step 4).
const recencyTau = 6 * time.Hour

// Searcher is the subset of vectorstore.VectorStore the RAG engine needs.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, k int, filter vectorstore.Filter) ([]vectorstore.SearchResult, error)
}

// Hydrator is the subset of columnar.Store the RAG engine needs to turn
// vector hits back into full log rows.
type Hydrator interface {
	ByIDs(ctx context.Context, ids []string) ([]domain.LogEntry, error)
}

// retrieve runs the filter-loosening vector search of §4.7 step 2: start
// with the full analysis-derived filter, and drop level, then service,
// then time, until at least minHits results come back or every filter has
// been dropped.
func retrieve(ctx context.Context, searcher Searcher, embedding []float32, a Analysis) ([]vectorstore.SearchResult, error) {
	filter := vectorstore.Filter{Service: a.ServiceHint, Level: a.LevelHint}
	if !a.TimeFrom.IsZero() {
		filter.TimestampFrom = a.TimeFrom.Unix()
	}
	if !a.TimeTo.IsZero() {
		filter.TimestampTo = a.TimeTo.Unix()
	}

	stages := []vectorstore.Filter{filter}
	noLevel := filter
	noLevel.Level = ""
	stages = append(stages, noLevel)
	noService := noLevel
	noService.Service = ""
	stages = append(stages, noService)
	noTime := noService
	noTime.TimestampFrom, noTime.TimestampTo = 0, 0
	stages = append(stages, noTime)

	var results []vectorstore.SearchResult
	var lastErr error
	for i, stage := range stages {
		hits, err := searcher.Search(ctx, embedding, retrieveK, stage)
		if err != nil {
			lastErr = err
			continue
		}
		results = hits
		lastErr = nil
		if len(hits) >= minHits || i == len(stages)-1 {
			break
		}
	}
	if lastErr != nil && len(results) == 0 {
		return nil, fmt.Errorf("rag: retrieve: %w", lastErr)
	}
	return results, nil
}

// rankedEntry is a hydrated LogEntry carrying its vector-search score and
// the combined reranker score of §4.7 step 4.
type rankedEntry struct {
	Entry    domain.LogEntry
	Semantic float64
	Rank     float64
}

// hydrateAndRerank fetches full rows for hits via hydrator and combines
// semantic score, recency, and severity into a single rank, returning the
// top kCtx entries stable-sorted descending (ties: timestamp desc, then
// id) per §4.7 step 4.
func hydrateAndRerank(ctx context.Context, hydrator Hydrator, hits []vectorstore.SearchResult, now time.Time, kCtx int) ([]rankedEntry, error) {
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	scoreByID := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		scoreByID[h.ID] = float64(h.Score)
	}

	entries, err := hydrator.ByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("rag: hydrate: %w", err)
	}

	ranked := make([]rankedEntry, 0, len(entries))
	for _, e := range entries {
		semantic := scoreByID[e.ID]
		recency := math.Exp(-now.Sub(e.Timestamp).Seconds() / recencyTau.Seconds())
		severity := e.Level.SeverityWeight()
		rank := 0.6*semantic + 0.25*recency + 0.15*severity
		ranked = append(ranked, rankedEntry{Entry: e, Semantic: semantic, Rank: rank})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Rank != ranked[j].Rank {
			return ranked[i].Rank > ranked[j].Rank
		}
		if !ranked[i].Entry.Timestamp.Equal(ranked[j].Entry.Timestamp) {
			return ranked[i].Entry.Timestamp.After(ranked[j].Entry.Timestamp)
		}
		return ranked[i].Entry.ID < ranked[j].Entry.ID
	})

	if len(ranked) > kCtx {
		ranked = ranked[:kCtx]
	}
	return ranked, nil
}
