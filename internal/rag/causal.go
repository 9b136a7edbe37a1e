package rag

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stratumhq/stratum/internal/domain"
)

// causalWindow bounds how far back a cause candidate may precede the
// effect (§4.7 step 5).
const causalWindow = 10 * time.Minute

// causalMinConfidence is the minimum link confidence to keep (§4.7 step 5).
const causalMinConfidence = 0.35

// causalMaxLinks bounds the number of links attached to a chain.
const causalMaxLinks = 4

// shouldBuildCausalChain reports whether a causal chain should be
// attempted for this query: either the user explicitly asked for root
// cause, or the top-ranked log is already Error/Fatal.
func shouldBuildCausalChain(intent Intent, ranked []rankedEntry) bool {
	if intent == IntentExplainRootCause {
		return true
	}
	if len(ranked) == 0 {
		return false
	}
	top := ranked[0].Entry.Level
	return top == domain.LevelError || top == domain.LevelFatal
}

// buildCausalChain picks the highest-ranked Error/Fatal log as the effect
// and walks backward through the reranked set for candidate causes,
// scoring each by shared trace/service and semantic similarity to the
// effect (§4.7 step 5). Returns nil if no Error/Fatal log is present.
func buildCausalChain(ranked []rankedEntry) *domain.CausalChain {
	effectIdx := -1
	for i, r := range ranked {
		if r.Entry.Level == domain.LevelError || r.Entry.Level == domain.LevelFatal {
			effectIdx = i
			break
		}
	}
	if effectIdx == -1 {
		return nil
	}
	effect := ranked[effectIdx]

	type candidate struct {
		entry      domain.LogEntry
		confidence float64
	}
	var candidates []candidate
	for i, r := range ranked {
		if i == effectIdx {
			continue
		}
		if r.Entry.Timestamp.After(effect.Entry.Timestamp) {
			continue
		}
		delta := effect.Entry.Timestamp.Sub(r.Entry.Timestamp)
		if delta < 0 || delta > causalWindow {
			continue
		}
		sameTrace := 0.0
		if effect.Entry.TraceID != "" && r.Entry.TraceID == effect.Entry.TraceID {
			sameTrace = 1.0
		}
		sameService := 0.0
		if r.Entry.Service == effect.Entry.Service {
			sameService = 1.0
		}
		confidence := 0.5*r.Semantic + 0.3*sameTrace + 0.2*sameService
		if confidence < causalMinConfidence {
			continue
		}
		candidates = append(candidates, candidate{entry: r.Entry, confidence: confidence})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].entry.Timestamp.After(candidates[j].entry.Timestamp)
	})
	if len(candidates) > causalMaxLinks {
		candidates = candidates[:causalMaxLinks]
	}

	chain := &domain.CausalChain{Effect: effect.Entry.Summarize()}
	for _, c := range candidates {
		chain.Chain = append(chain.Chain, domain.CausalLink{
			Cause:      c.entry.Summarize(),
			Confidence: c.confidence,
		})
	}
	if len(chain.Chain) == 0 {
		return chain
	}

	earliest := chain.Chain[0]
	for _, link := range chain.Chain[1:] {
		if link.Cause.Timestamp.Before(earliest.Cause.Timestamp) {
			earliest = link
		}
	}
	root := earliest.Cause
	chain.RootCause = &root
	return chain
}

// causalSystemPrompt instructs the LLM to produce one explanation per
// chain link plus an overall recommendation (§4.7 step 5).
const causalSystemPrompt = `You are a log analyst. For each numbered candidate cause below, write exactly one sentence explaining how it could have led to the effect. Then write one final line starting with "Recommendation:" suggesting a concrete next step. Do not invent facts beyond what is stated.`

// buildCausalPrompt formats the effect and candidate causes for the
// explanation call.
func buildCausalPrompt(chain *domain.CausalChain) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Effect: [%s | %s | %s] %s\n\nCandidate causes:\n",
		chain.Effect.ID, chain.Effect.Service, chain.Effect.Level, chain.Effect.Message)
	for i, link := range chain.Chain {
		fmt.Fprintf(&b, "%d. [%s | %s | %s] %s\n", i+1, link.Cause.ID, link.Cause.Service, link.Cause.Level, link.Cause.Message)
	}
	return b.String()
}

// applyCausalExplanations parses the numbered-sentence LLM response back
// onto chain's links by position, and extracts a trailing recommendation
// line if present.
func applyCausalExplanations(chain *domain.CausalChain, text string) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	var explanationLines []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "recommendation:") {
			chain.Recommendation = strings.TrimSpace(line[len("recommendation:"):])
			continue
		}
		explanationLines = append(explanationLines, line)
	}
	for i := range chain.Chain {
		if i >= len(explanationLines) {
			break
		}
		chain.Chain[i].Explanation = stripLeadingOrdinal(explanationLines[i])
	}
}

// stripLeadingOrdinal removes a leading "1. " / "1) " style marker.
func stripLeadingOrdinal(s string) string {
	for i, r := range s {
		if r >= '0' && r <= '9' {
			continue
		}
		if (r == '.' || r == ')') && i > 0 {
			return strings.TrimSpace(s[i+1:])
		}
		break
	}
	return s
}
