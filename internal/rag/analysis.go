package rag

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Intent is the coarse classification of a user question (§4.7 step 1).
type Intent string

const (
	IntentSummarize       Intent = "summarize"
	IntentExplainRootCause Intent = "explain_root_cause"
	IntentFilterList      Intent = "filter_list"
	IntentCount           Intent = "count"
	IntentFollowUp        Intent = "follow_up"
	IntentOther           Intent = "other"
)

// Analysis is the result of extracting structure from a free-form
// question before retrieval.
type Analysis struct {
	Intent       Intent
	ServiceHint  string
	LevelHint    string
	TimeFrom     time.Time // zero means unbounded
	TimeTo       time.Time
	CleanedQuery string
}

var (
	rootCauseWords = []string{"why", "root cause", "caused by", "cause of", "because"}
	summarizeWords = []string{"summarize", "summary", "overview", "what happened"}
	countWords     = []string{"how many", "count of", "number of"}
	listWords      = []string{"show", "list", "find", "which"}
	followUpWords  = map[string]bool{"that": true, "it": true, "this": true, "those": true, "more": true, "again": true, "also": true}
)

var levelWords = map[string]string{
	"trace": "trace", "debug": "debug", "info": "info", "informational": "info",
	"warn": "warn", "warning": "warn", "error": "error", "errors": "error",
	"fatal": "fatal", "critical": "fatal", "panic": "fatal",
}

var lastNHoursPattern = regexp.MustCompile(`last (\d+) hours?`)
var lastNMinutesPattern = regexp.MustCompile(`last (\d+) minutes?`)
var atHourPattern = regexp.MustCompile(`at (\d{1,2})\s*(am|pm)`)

// fillerWords are stripped from the cleaned query sent to the embedder,
// mirroring the stop-word trimming the rest of the pipeline already does
// for keyword extraction.
var fillerWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "please": true, "can": true, "you": true, "me": true,
	"show": true, "find": true, "tell": true, "what": true, "why": true,
	"did": true, "do": true, "does": true, "happened": true, "to": true,
	"for": true, "of": true, "in": true, "on": true, "at": true, "with": true,
}

// Analyze extracts intent, service/level hints, a time window, and a
// cleaned query from message. services is the set of known service names
// (§4.5 `services`), used to detect a service hint by case-insensitive
// substring match. hasHistory reports whether the session already has prior turns,
// which biases short pronoun-heavy questions toward follow_up.
func Analyze(message string, services []string, now time.Time, hasHistory bool) Analysis {
	lower := strings.ToLower(message)

	a := Analysis{Intent: classifyIntent(lower, hasHistory)}

	for _, svc := range services {
		if svc == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(svc)) {
			a.ServiceHint = svc
			break
		}
	}

	for word, level := range levelWords {
		if strings.Contains(lower, word) {
			a.LevelHint = level
			break
		}
	}

	a.TimeFrom, a.TimeTo = extractTimeWindow(lower, now)
	a.CleanedQuery = cleanQuery(message)

	return a
}

func classifyIntent(lower string, hasHistory bool) Intent {
	for _, w := range rootCauseWords {
		if strings.Contains(lower, w) {
			return IntentExplainRootCause
		}
	}
	for _, w := range summarizeWords {
		if strings.Contains(lower, w) {
			return IntentSummarize
		}
	}
	for _, w := range countWords {
		if strings.Contains(lower, w) {
			return IntentCount
		}
	}
	for _, w := range listWords {
		if strings.Contains(lower, w) {
			return IntentFilterList
		}
	}
	if hasHistory {
		words := strings.Fields(lower)
		if len(words) <= 6 {
			for _, w := range words {
				if followUpWords[strings.Trim(w, "?.,!")] {
					return IntentFollowUp
				}
			}
		}
	}
	return IntentOther
}

func extractTimeWindow(lower string, now time.Time) (time.Time, time.Time) {
	if m := lastNHoursPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return now.Add(-time.Duration(n) * time.Hour), now
		}
	}
	if m := lastNMinutesPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return now.Add(-time.Duration(n) * time.Minute), now
		}
	}
	if strings.Contains(lower, "last hour") {
		return now.Add(-time.Hour), now
	}
	if strings.Contains(lower, "today") {
		y, mo, d := now.Date()
		return time.Date(y, mo, d, 0, 0, 0, 0, now.Location()), now
	}
	if m := atHourPattern.FindStringSubmatch(lower); m != nil {
		if h, err := strconv.Atoi(m[1]); err == nil {
			if m[2] == "pm" && h != 12 {
				h += 12
			}
			y, mo, d := now.Date()
			from := time.Date(y, mo, d, h, 0, 0, 0, now.Location())
			return from.Add(-30 * time.Minute), from.Add(30 * time.Minute)
		}
	}
	return time.Time{}, time.Time{}
}

func cleanQuery(message string) string {
	words := strings.Fields(message)
	kept := make([]string, 0, len(words))
	for _, w := range words {
		trimmed := strings.Trim(strings.ToLower(w), "?.,!;:'\"")
		if trimmed == "" || fillerWords[trimmed] {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, " ")
}
