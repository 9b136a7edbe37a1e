package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/metrics"
	"github.com/stratumhq/stratum/internal/parser"

	"github.com/prometheus/client_golang/prometheus"
)

type fakePublisher struct {
	published []domain.LogEntry
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, entry domain.LogEntry) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, entry)
	return nil
}

func newTestIngestor(pub *fakePublisher) *Ingestor {
	m := metrics.New(prometheus.NewRegistry())
	return NewIngestor(pub, parser.NewRegistry(), m, nil)
}

func TestHandleLogsEmptyArrayReturnsOK(t *testing.T) {
	ing := newTestIngestor(&fakePublisher{})
	req := httptest.NewRequest(http.MethodPost, "/api/logs", strings.NewReader(`[]`))
	rec := httptest.NewRecorder()
	ing.HandleLogs(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted":[]`)
}

func TestHandleLogsSingleObject(t *testing.T) {
	pub := &fakePublisher{}
	ing := newTestIngestor(pub)
	req := httptest.NewRequest(http.MethodPost, "/api/logs", strings.NewReader(`{"service":"checkout","message":"payment failed","level":"error"}`))
	rec := httptest.NewRecorder()
	ing.HandleLogs(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "checkout", pub.published[0].Service)
}

func TestHandleLogsRejectsInvalidEntry(t *testing.T) {
	pub := &fakePublisher{}
	ing := newTestIngestor(pub)
	req := httptest.NewRequest(http.MethodPost, "/api/logs", strings.NewReader(`[{"service":"checkout","message":""}]`))
	rec := httptest.NewRecorder()
	ing.HandleLogs(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rejected"`)
	assert.Empty(t, pub.published)
}

func TestHandleLogsBackpressure(t *testing.T) {
	pub := &fakePublisher{err: ErrBufferFull}
	ing := newTestIngestor(pub)
	req := httptest.NewRequest(http.MethodPost, "/api/logs", strings.NewReader(`{"service":"checkout","message":"payment failed"}`))
	rec := httptest.NewRecorder()
	ing.HandleLogs(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestHandleLogsRawDetectsFormat(t *testing.T) {
	pub := &fakePublisher{}
	ing := newTestIngestor(pub)
	body := `{"service":"checkout","lines":["{\"message\":\"payment failed\",\"level\":\"error\"}"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/logs/raw", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ing.HandleLogsRaw(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "checkout", pub.published[0].Service)
}

func TestHandleLogsRawUnknownFormat(t *testing.T) {
	pub := &fakePublisher{}
	ing := newTestIngestor(pub)
	body := `{"format":"cobol","lines":["anything"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/logs/raw", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ing.HandleLogsRaw(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLogsRawRejectsInvalidUTF8(t *testing.T) {
	pub := &fakePublisher{}
	ing := newTestIngestor(pub)
	body := "{\"lines\":[\"\xff\xfe bad\"]}"
	req := httptest.NewRequest(http.MethodPost, "/api/logs/raw", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ing.HandleLogsRaw(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rejected"`)
	assert.Empty(t, pub.published)
}
