// Package worker implements Stratum's ingestion worker (C3): a bus
// consumer that batches decoded log entries, persists them to the
// columnar store, computes embeddings, and upserts the corresponding
// vectors, acking only once both stores have succeeded (§4.4).
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stratumhq/stratum/internal/bus"
	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/embedding"
	"github.com/stratumhq/stratum/internal/fn"
	"github.com/stratumhq/stratum/internal/metrics"
	"github.com/stratumhq/stratum/internal/resilience"
)

// IngestSubject is the durable subject carrying enriched log entries from
// the ingestion API to the worker (§2, §4.3).
const IngestSubject = "logs.ingest"

// channelCapacity bounds the consume→persist handoff (§4.4, §5).
const channelCapacity = 1000

// maxBatchSize and maxBatchAge bound how long the persist stage waits
// before flushing a partial batch (§4.4: "up to 500 entries or 250ms age,
// whichever first").
const (
	maxBatchSize = 500
	maxBatchAge  = 250 * time.Millisecond
)

// ColumnarStore is the subset of columnar.Store the worker depends on.
type ColumnarStore interface {
	EnsureMonthPartition(ctx context.Context, month time.Time) error
	Insert(ctx context.Context, entries []domain.LogEntry) (int, error)
}

// VectorStore is the subset of vectorstore.VectorStore the worker depends
// on.
type VectorStore interface {
	Upsert(ctx context.Context, points []domain.VectorPoint) error
}

// Worker drains the bus, batches entries, and fans them out to the
// columnar and vector stores (§4.4).
type Worker struct {
	bus        *bus.Bus
	columnar   ColumnarStore
	vector     VectorStore
	embedder   embedding.Embedder
	breaker    *resilience.Breaker
	metrics    *metrics.Metrics
	logger     *slog.Logger
	streamName string
	durable    string
}

// New builds a Worker. streamName and durable identify the JetStream
// stream and consumer name; deploying more than one worker process
// requires a distinct durable name per process (§5).
func New(b *bus.Bus, columnar ColumnarStore, vector VectorStore, embedder embedding.Embedder, m *metrics.Metrics, logger *slog.Logger, streamName, durable string) *Worker {
	if m == nil {
		m = metrics.Get()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		bus: b, columnar: columnar, vector: vector, embedder: embedder,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		metrics: m, logger: logger, streamName: streamName, durable: durable,
	}
}

// Run subscribes to IngestSubject and processes deliveries until ctx is
// canceled (§4.4 stage 1: consume & decode; stage 2: batch & persist,
// connected by a bounded channel).
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := bus.Subscribe[domain.LogEntry](ctx, w.bus, w.streamName, IngestSubject, w.durable)
	if err != nil {
		return fmt.Errorf("worker: subscribe: %w", err)
	}

	pending := make(chan bus.Delivery[domain.LogEntry], channelCapacity)
	go func() {
		defer close(pending)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case pending <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	w.drainBatches(ctx, pending)
	return nil
}

// drainBatches implements stage 2: accumulate up to maxBatchSize
// deliveries or maxBatchAge, whichever comes first, then persist.
func (w *Worker) drainBatches(ctx context.Context, pending <-chan bus.Delivery[domain.LogEntry]) {
	timer := time.NewTimer(maxBatchAge)
	defer timer.Stop()

	batch := make([]bus.Delivery[domain.LogEntry], 0, maxBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.persistBatch(ctx, batch)
		batch = make([]bus.Delivery[domain.LogEntry], 0, maxBatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case d, ok := <-pending:
			if !ok {
				flush()
				return
			}
			batch = append(batch, d)
			if len(batch) >= maxBatchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(maxBatchAge)
			}
		case <-timer.C:
			flush()
			timer.Reset(maxBatchAge)
		}
	}
}

// batchState threads a batch's entries and the vector points derived from
// them through persistBatch's fn.Stage pipeline (ensure partitions →
// columnar insert → embed → vector upsert).
type batchState struct {
	entries     []domain.LogEntry
	points      []domain.VectorPoint
	embedFailed int
}

// persistBatch runs the batch through a Stage pipeline that inserts into
// the columnar store, embeds, and upserts to the vector store, then acks
// or nacks each delivery according to §4.4's rules: embedding failures
// persist the row with embedded=false and never abort the pipeline;
// columnar or vector store failures nack the whole delivery for
// redelivery.
func (w *Worker) persistBatch(ctx context.Context, batch []bus.Delivery[domain.LogEntry]) {
	start := time.Now()
	defer func() {
		w.metrics.WorkerBatchSize.Observe(float64(len(batch)))
		w.metrics.WorkerBatchLatency.Observe(time.Since(start).Seconds())
	}()

	entries := make([]domain.LogEntry, len(batch))
	for i, d := range batch {
		entries[i] = d.Payload
	}

	pipeline := fn.Pipeline(
		w.ensurePartitionsStage,
		w.columnarInsertStage,
		w.embedStage,
		w.vectorUpsertStage,
	)
	if result := pipeline(ctx, batchState{entries: entries}); result.IsErr() {
		_, err := result.Unwrap()
		w.nackAll(ctx, batch, err)
		return
	}

	for _, d := range batch {
		if err := d.Ack(); err != nil {
			w.logger.Error("worker: ack failed", "err", err)
		}
	}
	w.metrics.BusAcked.WithLabelValues(IngestSubject).Inc()
}

// ensurePartitionsStage makes sure every month partition the batch spans
// exists before the insert stage runs (§4.5).
func (w *Worker) ensurePartitionsStage(ctx context.Context, st batchState) fn.Result[batchState] {
	for _, month := range distinctMonths(st.entries) {
		if err := w.columnar.EnsureMonthPartition(ctx, month); err != nil {
			w.logger.Error("worker: ensure partition failed, nacking batch", "err", err)
			return fn.Err[batchState](err)
		}
	}
	return fn.Ok(st)
}

// columnarInsertStage bulk-inserts the batch's entries (§4.5).
func (w *Worker) columnarInsertStage(ctx context.Context, st batchState) fn.Result[batchState] {
	if _, err := w.columnar.Insert(ctx, st.entries); err != nil {
		w.logger.Error("worker: columnar insert failed, nacking batch", "err", err)
		return fn.Err[batchState](err)
	}
	return fn.Ok(st)
}

// embedStage computes embeddings for the batch. A chunk's embedding
// failure never fails the stage itself — the columnar row already
// persisted per §4.4's "persist anyway" rule, so the pipeline continues
// and the entry simply stays embedded=false; the worker does not re-embed
// it later.
func (w *Worker) embedStage(ctx context.Context, st batchState) fn.Result[batchState] {
	points, failed := w.embed(ctx, st.entries)
	st.points, st.embedFailed = points, failed
	if failed > 0 {
		w.logger.Warn("worker: embedding failed for part of batch, persisted without vectors", "failed", failed)
	}
	return fn.Ok(st)
}

// vectorUpsertStage upserts whatever points embedStage produced. The rows
// are already durable in the columnar store, so a failure here only
// nacks for redelivery of the vector write, not a columnar duplicate
// (upserts are keyed by id).
func (w *Worker) vectorUpsertStage(ctx context.Context, st batchState) fn.Result[batchState] {
	if len(st.points) == 0 {
		return fn.Ok(st)
	}
	if err := w.vector.Upsert(ctx, st.points); err != nil {
		w.logger.Error("worker: vector upsert failed, nacking batch", "err", err)
		return fn.Err[batchState](err)
	}
	return fn.Ok(st)
}

// embed computes embeddings in MaxBatchSize-sized chunks and builds the
// VectorPoints to upsert. Each chunk call runs through a circuit breaker
// so a persistently unhealthy embedding endpoint stops being hammered
// chunk-by-chunk across batches; a chunk's failure leaves those entries
// without a point — the columnar row already persisted per §4.4's
// "persist anyway" rule, so the caller acks regardless and the entry
// simply stays embedded=false; the worker does not re-embed it later.
func (w *Worker) embed(ctx context.Context, entries []domain.LogEntry) (points []domain.VectorPoint, failed int) {
	messages := make([]string, len(entries))
	for i, e := range entries {
		messages[i] = e.Message
	}

	embedChunk := resilience.BreakerStage(w.breaker, func(ctx context.Context, chunk []string) fn.Result[[][]float32] {
		return fn.FromPair(w.embedder.Embed(ctx, chunk))
	})

	offset := 0
	for _, chunk := range embedding.Batches(messages) {
		vectors, err := embedChunk(ctx, chunk).Unwrap()
		if err != nil {
			w.metrics.EmbeddingFailed.Inc()
			failed += len(chunk)
			offset += len(chunk)
			continue
		}
		for i, vec := range vectors {
			e := entries[offset+i]
			e.Embedded = true
			points = append(points, domain.NewVectorPoint(e, vec))
		}
		offset += len(chunk)
	}
	return points, failed
}

func (w *Worker) nackAll(ctx context.Context, batch []bus.Delivery[domain.LogEntry], reason error) {
	for _, d := range batch {
		if err := d.Nack(ctx, w.bus, reason); err != nil {
			w.logger.Error("worker: nack failed", "err", err)
		}
	}
	w.metrics.BusNacked.WithLabelValues(IngestSubject).Inc()
}

// distinctMonths returns the first day of each UTC month represented in
// entries, used to ensure the columnar store's partitions exist before
// inserting (§4.5).
func distinctMonths(entries []domain.LogEntry) []time.Time {
	seen := make(map[time.Time]bool)
	var out []time.Time
	for _, e := range entries {
		ts := e.Timestamp.UTC()
		month := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
		if !seen[month] {
			seen[month] = true
			out = append(out, month)
		}
	}
	return out
}
