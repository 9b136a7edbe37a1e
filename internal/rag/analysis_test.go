package rag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeDetectsRootCauseIntent(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	a := Analyze("Why did checkout fail?", []string{"checkout", "billing"}, now, false)
	assert.Equal(t, IntentExplainRootCause, a.Intent)
	assert.Equal(t, "checkout", a.ServiceHint)
}

func TestAnalyzeDetectsLevelHint(t *testing.T) {
	now := time.Now()
	a := Analyze("show me recent error logs", nil, now, false)
	assert.Equal(t, "error", a.LevelHint)
	assert.Equal(t, IntentFilterList, a.Intent)
}

func TestAnalyzeDetectsCountIntent(t *testing.T) {
	now := time.Now()
	a := Analyze("how many errors happened today?", nil, now, false)
	assert.Equal(t, IntentCount, a.Intent)
	assert.False(t, a.TimeFrom.IsZero())
}

func TestAnalyzeDetectsLastNHours(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	a := Analyze("what happened in the last 3 hours", nil, now, false)
	assert.Equal(t, now.Add(-3*time.Hour), a.TimeFrom)
	assert.Equal(t, now, a.TimeTo)
}

func TestAnalyzeFollowUpRequiresHistory(t *testing.T) {
	now := time.Now()
	without := Analyze("what about that?", nil, now, false)
	assert.NotEqual(t, IntentFollowUp, without.Intent)

	with := Analyze("what about that?", nil, now, true)
	assert.Equal(t, IntentFollowUp, with.Intent)
}

func TestCleanQueryStripsFillerWords(t *testing.T) {
	a := Analyze("Please show me the errors for checkout", nil, time.Now(), false)
	assert.NotContains(t, a.CleanedQuery, "please")
	assert.NotContains(t, a.CleanedQuery, "the")
	assert.Contains(t, a.CleanedQuery, "errors")
	assert.Contains(t, a.CleanedQuery, "checkout")
}
