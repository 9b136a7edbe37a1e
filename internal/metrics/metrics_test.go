package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestedTotalIncrementsByFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IngestedTotal.WithLabelValues("json").Inc()
	m.IngestedTotal.WithLabelValues("json").Inc()
	m.IngestedTotal.WithLabelValues("apache").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.IngestedTotal.WithLabelValues("json")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.IngestedTotal.WithLabelValues("apache")))
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.BusDeadLetter.WithLabelValues("logs.ingest").Inc()

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	count, err := testutil.GatherAndCount(reg, "stratum_bus_deadletter_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWorkerBatchSizeObserves(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.WorkerBatchSize.Observe(42)

	count, err := testutil.GatherAndCount(reg, "stratum_worker_batch_size")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAnomalyScansTotalLabelsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AnomalyScansTotal.WithLabelValues("ok").Inc()
	m.AnomalyScansTotal.WithLabelValues("failed").Inc()
	m.AnomalyScansTotal.WithLabelValues("failed").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AnomalyScansTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AnomalyScansTotal.WithLabelValues("failed")))
}

func TestGetReturnsSameSingleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}
