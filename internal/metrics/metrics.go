// Package metrics exposes Stratum's Prometheus instrumentation: ingestion
// throughput, bus delivery outcomes, worker batch behavior, embedding/LLM
// call latency, RAG query latency, anomaly scan outcomes, and per-endpoint
// HTTP request counts and durations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector Stratum's components record against.
// Components take a *Metrics (or the package-level default via Get) rather
// than reaching into a global registry directly, so tests can wire a fresh
// instance with prometheus.NewRegistry.
type Metrics struct {
	IngestedTotal  *prometheus.CounterVec
	RejectedTotal  *prometheus.CounterVec
	IngestLatency  prometheus.Histogram

	BusPublished  *prometheus.CounterVec
	BusAcked      *prometheus.CounterVec
	BusNacked     *prometheus.CounterVec
	BusDeadLetter *prometheus.CounterVec

	WorkerBatchSize    prometheus.Histogram
	WorkerBatchLatency prometheus.Histogram

	EmbeddingLatency prometheus.Histogram
	EmbeddingFailed  prometheus.Counter

	LLMLatency *prometheus.HistogramVec
	LLMFailed  *prometheus.CounterVec

	RAGQueryLatency prometheus.Histogram
	RAGZeroHits     prometheus.Counter

	AnomalyScansTotal  *prometheus.CounterVec
	AnomaliesDetected  *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers Stratum's collectors against reg and returns the bundle.
// Pass prometheus.NewRegistry() in tests to avoid colliding with the
// global default registry across test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		IngestedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "ingest",
			Name:      "entries_total",
			Help:      "Log entries accepted by the ingestion API, by source format.",
		}, []string{"format"}),
		RejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "ingest",
			Name:      "rejected_total",
			Help:      "Log entries rejected by the ingestion API, by reason.",
		}, []string{"reason"}),
		IngestLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stratum",
			Subsystem: "ingest",
			Name:      "request_duration_seconds",
			Help:      "Time to validate, enrich, and publish an ingest request.",
			Buckets:   prometheus.DefBuckets,
		}),

		BusPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Messages published to the log bus, by subject.",
		}, []string{"subject"}),
		BusAcked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "bus",
			Name:      "acked_total",
			Help:      "Messages acknowledged by consumers, by subject.",
		}, []string{"subject"}),
		BusNacked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "bus",
			Name:      "nacked_total",
			Help:      "Messages negatively acknowledged by consumers, by subject.",
		}, []string{"subject"}),
		BusDeadLetter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "bus",
			Name:      "deadletter_total",
			Help:      "Messages routed to the dead-letter subject after exhausting retries.",
		}, []string{"subject"}),

		WorkerBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stratum",
			Subsystem: "worker",
			Name:      "batch_size",
			Help:      "Number of log entries persisted per worker batch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		WorkerBatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stratum",
			Subsystem: "worker",
			Name:      "batch_duration_seconds",
			Help:      "Time to persist and embed a worker batch.",
			Buckets:   prometheus.DefBuckets,
		}),

		EmbeddingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stratum",
			Subsystem: "embedding",
			Name:      "request_duration_seconds",
			Help:      "Time spent calling the embedding provider.",
			Buckets:   prometheus.DefBuckets,
		}),
		EmbeddingFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "embedding",
			Name:      "failed_total",
			Help:      "Embedding calls that failed after retries.",
		}),

		LLMLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stratum",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Time spent calling the LLM provider, by provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		LLMFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "llm",
			Name:      "failed_total",
			Help:      "LLM calls that failed after retries, by provider.",
		}, []string{"provider"}),

		RAGQueryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stratum",
			Subsystem: "rag",
			Name:      "query_duration_seconds",
			Help:      "End-to-end time to answer a /api/ask or /api/chat query.",
			Buckets:   prometheus.DefBuckets,
		}),
		RAGZeroHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "rag",
			Name:      "zero_hits_total",
			Help:      "Queries for which retrieval found no relevant logs.",
		}),

		AnomalyScansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "anomaly",
			Name:      "scans_total",
			Help:      "Completed anomaly scan cycles, by outcome.",
		}, []string{"outcome"}),
		AnomaliesDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "anomaly",
			Name:      "detected_total",
			Help:      "Anomalies detected, by rule and severity.",
		}, []string{"rule", "severity"}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by route, method, and status class.",
		}, []string{"route", "method", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stratum",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration, by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

var defaultMetrics = New(prometheus.DefaultRegisterer)

// Get returns the process-wide default Metrics, registered against
// prometheus.DefaultRegisterer.
func Get() *Metrics { return defaultMetrics }

// Handler returns an http.Handler serving /metrics in the Prometheus text
// exposition format.
func Handler() http.Handler { return promhttp.Handler() }
