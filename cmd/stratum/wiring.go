package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stratumhq/stratum/internal/bus"
	"github.com/stratumhq/stratum/internal/columnar"
	"github.com/stratumhq/stratum/internal/config"
	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/embedding"
	"github.com/stratumhq/stratum/internal/httpapi"
	"github.com/stratumhq/stratum/internal/llm"
	"github.com/stratumhq/stratum/internal/metrics"
	"github.com/stratumhq/stratum/internal/rag"
	"github.com/stratumhq/stratum/internal/resilience"
	"github.com/stratumhq/stratum/internal/vectorstore"
)

// streamName is the JetStream stream every Stratum process shares for
// log ingestion (§4.3).
const streamName = "STRATUM"

// workerDurable is the durable consumer name the worker binary
// registers under, so multiple worker processes load-balance the same
// queue instead of each receiving every message.
const workerDurable = "stratum-worker"

// infra bundles every adapter a long-running command needs, so serve
// and worker can share one construction path.
type infra struct {
	bus       *bus.Bus
	columnar  *columnar.Store
	vectors   *vectorstore.VectorStore
	embedder  embedding.Embedder
	chat      llm.ChatClient
	metrics   *metrics.Metrics
	pool      *pgxpool.Pool
	closeFunc func()
}

func (i *infra) Close() {
	if i.closeFunc != nil {
		i.closeFunc()
	}
}

// connectInfra dials every backing service and ensures the schema,
// stream, and collection it depends on exist (§4.3, §4.5, §4.6).
func connectInfra(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*infra, error) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	b, err := bus.Connect(cfg.BusURL)
	if err != nil {
		return nil, fmt.Errorf("connect bus: %w", err)
	}
	if err := b.EnsureStream(ctx, streamName, []string{"logs.>"}); err != nil {
		b.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.ColumnarURL)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("connect columnar store: %w", err)
	}
	store := columnar.New(pool)
	if err := store.Bootstrap(ctx); err != nil {
		pool.Close()
		b.Close()
		return nil, fmt.Errorf("bootstrap columnar schema: %w", err)
	}

	vs, err := vectorstore.New(cfg.VectorURL, "logs")
	if err != nil {
		pool.Close()
		b.Close()
		return nil, fmt.Errorf("connect vector store: %w", err)
	}
	if err := vs.EnsureCollection(ctx, vectorstore.Dimension); err != nil {
		vs.Close()
		pool.Close()
		b.Close()
		return nil, fmt.Errorf("ensure vector collection: %w", err)
	}

	embedder := embedding.NewResilientClient(
		embedding.NewClient(cfg.LLMURL, "all-minilm", &http.Client{}),
		resilience.LimiterOpts{Rate: 32, Burst: 64},
	)

	chat := llm.NewResilientClient(
		llm.NewClient(llm.Provider(cfg.LLMProvider), cfg.LLMURL, cfg.LLMAPIKey, "default", &http.Client{}),
		resilience.DefaultBreakerOpts,
	)

	return &infra{
		bus:      b,
		columnar: store,
		vectors:  vs,
		embedder: embedder,
		chat:     chat,
		metrics:  m,
		pool:     pool,
		closeFunc: func() {
			vs.Close()
			pool.Close()
			b.Close()
		},
	}, nil
}

// busPublisher adapts bus.Publish's generic free function to the
// httpapi.Publisher interface, translating its buffer-full sentinel.
type busPublisher struct {
	b *bus.Bus
}

func (p *busPublisher) Publish(ctx context.Context, subject string, entry domain.LogEntry) error {
	err := bus.Publish(ctx, p.b, subject, entry)
	if err == bus.ErrBufferFull {
		return httpapi.ErrBufferFull
	}
	return err
}

// ragServices adapts columnar.Store to rag.ServiceLister.
type ragServices struct {
	store *columnar.Store
}

func (r *ragServices) Services(ctx context.Context) ([]string, error) {
	return r.store.Services(ctx)
}

func newRAGService(in *infra, logger *slog.Logger) *rag.Service {
	return rag.New(in.embedder, in.chat, in.vectors, in.columnar, &ragServices{store: in.columnar}, in.metrics, logger)
}
