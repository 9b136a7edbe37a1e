package rag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/internal/domain"
)

func TestShouldBuildCausalChainWhenTopIsError(t *testing.T) {
	ranked := []rankedEntry{{Entry: domain.LogEntry{Level: domain.LevelError}}}
	assert.True(t, shouldBuildCausalChain(IntentOther, ranked))
}

func TestShouldBuildCausalChainWhenIntentExplicit(t *testing.T) {
	ranked := []rankedEntry{{Entry: domain.LogEntry{Level: domain.LevelInfo}}}
	assert.True(t, shouldBuildCausalChain(IntentExplainRootCause, ranked))
}

func TestShouldNotBuildCausalChainOtherwise(t *testing.T) {
	ranked := []rankedEntry{{Entry: domain.LogEntry{Level: domain.LevelInfo}}}
	assert.False(t, shouldBuildCausalChain(IntentOther, ranked))
}

func TestBuildCausalChainPicksRootCauseAndLinks(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	effect := domain.LogEntry{ID: "effect", Service: "checkout", Level: domain.LevelError, Timestamp: now, TraceID: "t1"}
	cause1 := domain.LogEntry{ID: "cause1", Service: "checkout", Level: domain.LevelWarn, Timestamp: now.Add(-2 * time.Minute), TraceID: "t1"}
	cause2 := domain.LogEntry{ID: "cause2", Service: "billing", Level: domain.LevelInfo, Timestamp: now.Add(-5 * time.Minute)}
	tooFarBack := domain.LogEntry{ID: "too-far", Service: "checkout", Level: domain.LevelWarn, Timestamp: now.Add(-20 * time.Minute), TraceID: "t1"}

	ranked := []rankedEntry{
		{Entry: effect, Semantic: 0.9},
		{Entry: cause1, Semantic: 0.9},
		{Entry: cause2, Semantic: 0.1},
		{Entry: tooFarBack, Semantic: 0.9},
	}

	chain := buildCausalChain(ranked)
	require.NotNil(t, chain)
	assert.Equal(t, "effect", chain.Effect.ID)
	require.NotEmpty(t, chain.Chain)
	require.NotNil(t, chain.RootCause)

	var ids []string
	for _, link := range chain.Chain {
		ids = append(ids, link.Cause.ID)
	}
	assert.Contains(t, ids, "cause1")
	assert.NotContains(t, ids, "too-far")
}

func TestBuildCausalChainReturnsNilWithoutErrorLog(t *testing.T) {
	ranked := []rankedEntry{{Entry: domain.LogEntry{ID: "a", Level: domain.LevelInfo}}}
	assert.Nil(t, buildCausalChain(ranked))
}

func TestApplyCausalExplanationsParsesRecommendation(t *testing.T) {
	chain := &domain.CausalChain{
		Chain: []domain.CausalLink{
			{Cause: domain.LogSummary{ID: "c1"}},
			{Cause: domain.LogSummary{ID: "c2"}},
		},
	}
	applyCausalExplanations(chain, "1. Connection pool exhausted causing timeouts.\n2. Upstream dependency degraded.\nRecommendation: scale the connection pool.")

	assert.Equal(t, "Connection pool exhausted causing timeouts.", chain.Chain[0].Explanation)
	assert.Equal(t, "Upstream dependency degraded.", chain.Chain[1].Explanation)
	assert.Equal(t, "scale the connection pool.", chain.Recommendation)
}
