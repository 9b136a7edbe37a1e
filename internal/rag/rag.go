// Package rag implements Stratum's retrieval-augmented query engine
// (C7): query analysis, hybrid vector/columnar retrieval, reranking,
// causal-chain construction, prompt assembly, and session memory.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/embedding"
	"github.com/stratumhq/stratum/internal/llm"
	"github.com/stratumhq/stratum/internal/metrics"
)

// noRelevantLogsAnswer is returned verbatim when retrieval finds nothing
// (§8 "Failure Modes"), without ever calling the LLM.
const noRelevantLogsAnswer = "I could not find relevant logs for this question."

// ServiceLister supplies the known service names used to detect a
// service hint during query analysis (§4.5 `services`).
type ServiceLister interface {
	Services(ctx context.Context) ([]string, error)
}

// Service orchestrates the RAG pipeline (§4.7).
type Service struct {
	embed    embedding.Embedder
	chat     llm.ChatClient
	search   Searcher
	hydrate  Hydrator
	services ServiceLister
	sessions *sessionStore
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *slog.Logger
}

// New builds a RAG Service over the given adapters.
func New(embed embedding.Embedder, chat llm.ChatClient, search Searcher, hydrate Hydrator, services ServiceLister, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Get()
	}
	return &Service{
		embed:    embed,
		chat:     chat,
		search:   search,
		hydrate:  hydrate,
		services: services,
		sessions: newSessionStore(),
		metrics:  m,
		now:      time.Now,
		logger:   logger,
	}
}

// Telemetry records the provider, latency, and context size of a query
// (§4.7 step 7).
type Telemetry struct {
	Provider    llm.Provider `json:"provider"`
	LatencyMS   int64        `json:"latency_ms"`
	ContextSize int          `json:"context_size"`
}

// Answer is the structured result of a RAG query.
type Answer struct {
	Text         string              `json:"answer"`
	Sources      []domain.LogSummary `json:"sources"`
	SourcesCount int                 `json:"sources_count"`
	CausalChain  *domain.CausalChain `json:"causal_chain,omitempty"`
	Telemetry    Telemetry           `json:"telemetry"`
}

// Query runs the full pipeline for one (session_id, user_message) pair.
func (s *Service) Query(ctx context.Context, sessionID, message string) (Answer, error) {
	start := s.now()
	defer func() {
		s.metrics.RAGQueryLatency.Observe(time.Since(start).Seconds())
	}()

	history := s.sessions.Recent(sessionID, sessionTurnsInPrompt)

	var serviceNames []string
	if s.services != nil {
		if names, err := s.services.Services(ctx); err == nil {
			serviceNames = names
		} else {
			s.logger.Warn("rag: service list unavailable, continuing without hint", "err", err)
		}
	}
	analysis := Analyze(message, serviceNames, start, len(history) > 0)

	embedStart := s.now()
	embeddings, err := s.embed.Embed(ctx, []string{analysis.CleanedQuery})
	s.metrics.EmbeddingLatency.Observe(time.Since(embedStart).Seconds())
	if err != nil {
		s.metrics.EmbeddingFailed.Inc()
		return Answer{}, fmt.Errorf("rag: embed query: %w", err)
	}

	hits, err := retrieve(ctx, s.search, embeddings[0], analysis)
	if err != nil {
		return Answer{}, err
	}

	ranked, err := hydrateAndRerank(ctx, s.hydrate, hits, start, kCtx)
	if err != nil {
		return Answer{}, err
	}

	if len(ranked) == 0 {
		s.metrics.RAGZeroHits.Inc()
		answer := Answer{Text: noRelevantLogsAnswer, SourcesCount: 0}
		s.sessions.Append(sessionID, domain.ChatMessage{Role: "user", Content: message, TurnIndex: len(history), At: start})
		s.sessions.Append(sessionID, domain.ChatMessage{Role: "assistant", Content: answer.Text, TurnIndex: len(history) + 1, At: s.now()})
		return answer, nil
	}

	var chain *domain.CausalChain
	if shouldBuildCausalChain(analysis.Intent, ranked) {
		chain = buildCausalChain(ranked)
		if chain != nil && len(chain.Chain) > 0 {
			s.annotateCausalChain(ctx, chain)
		}
	}

	prompt := buildUserPrompt(message, ranked, history)
	chatStart := s.now()
	resp, err := s.chat.Chat(ctx, systemPrompt, []llm.Message{{Role: "user", Content: prompt}}, maxTokens, temperature)
	s.metrics.LLMLatency.WithLabelValues(string(resp.Provider)).Observe(time.Since(chatStart).Seconds())

	var answerText string
	var sources []domain.LogSummary
	if err != nil {
		s.metrics.LLMFailed.WithLabelValues(string(resp.Provider)).Inc()
		s.logger.Warn("rag: llm call failed, falling back to deterministic summary", "err", err)
		answerText = fallbackSummary(ranked)
		sources = topSources(ranked, 3)
	} else {
		answerText = resp.Text
		sources = citedSources(resp.Text, ranked)
	}

	s.sessions.Append(sessionID, domain.ChatMessage{Role: "user", Content: message, TurnIndex: len(history), At: start})
	s.sessions.Append(sessionID, domain.ChatMessage{Role: "assistant", Content: answerText, TurnIndex: len(history) + 1, At: s.now()})

	return Answer{
		Text:         answerText,
		Sources:      sources,
		SourcesCount: len(sources),
		CausalChain:  chain,
		Telemetry: Telemetry{
			Provider:    resp.Provider,
			LatencyMS:   time.Since(start).Milliseconds(),
			ContextSize: len(ranked),
		},
	}, nil
}

// kCtx bounds how many hydrated logs are kept after reranking (§4.7 step
// 4, default 20).
const kCtx = 20

// annotateCausalChain asks the LLM for a one-sentence explanation per
// link plus an overall recommendation. Failures leave the chain intact
// without explanations (§4.7 step 5).
func (s *Service) annotateCausalChain(ctx context.Context, chain *domain.CausalChain) {
	prompt := buildCausalPrompt(chain)
	resp, err := s.chat.Chat(ctx, causalSystemPrompt, []llm.Message{{Role: "user", Content: prompt}}, 400, temperature)
	if err != nil {
		s.logger.Warn("rag: causal chain explanation failed, returning chain without explanations", "err", err)
		return
	}
	applyCausalExplanations(chain, resp.Text)
}

var citationPattern = regexp.MustCompile(`\[([A-Za-z0-9-]{4,})\]`)

// citedSources extracts the ids the answer actually cites, falling back
// to the first kCtx hydrated ids if no citation is found (§4.7 step 7).
func citedSources(answer string, ranked []rankedEntry) []domain.LogSummary {
	byID := make(map[string]domain.LogEntry, len(ranked))
	for _, r := range ranked {
		byID[r.Entry.ID] = r.Entry
	}

	var cited []domain.LogSummary
	seen := make(map[string]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(answer, -1) {
		id := m[1]
		if seen[id] {
			continue
		}
		if e, ok := byID[id]; ok {
			cited = append(cited, e.Summarize())
			seen[id] = true
		}
	}
	if len(cited) > 0 {
		return cited
	}
	return topSources(ranked, len(ranked))
}

func topSources(ranked []rankedEntry, n int) []domain.LogSummary {
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]domain.LogSummary, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].Entry.Summarize()
	}
	return out
}

// fallbackSummary builds a deterministic answer from the top-3 retrieved
// logs when the LLM call fails (§8 "Failure Modes").
func fallbackSummary(ranked []rankedEntry) string {
	n := 3
	if n > len(ranked) {
		n = len(ranked)
	}
	var out string
	out = "The language model is unavailable; here are the most relevant logs found:\n"
	for i := 0; i < n; i++ {
		e := ranked[i].Entry
		out += fmt.Sprintf("[%s] %s: %s\n", e.Service, e.Level, e.Message)
	}
	return out
}
