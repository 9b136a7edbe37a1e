package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/internal/domain"
)

func TestJSONParserExtractsCanonicalFields(t *testing.T) {
	p := JSONParser{}
	entry, ok := p.TryParse(`{"service":"checkout","level":"error","msg":"payment failed","ts":"2026-07-31T12:00:00Z","trace_id":"abc123","order_id":"o-1"}`)
	require.True(t, ok)
	assert.Equal(t, "checkout", entry.Service)
	assert.Equal(t, domain.LevelError, entry.Level)
	assert.Equal(t, "payment failed", entry.Message)
	assert.Equal(t, "abc123", entry.TraceID)
	assert.Equal(t, "o-1", entry.Fields["order_id"])
	assert.False(t, entry.Timestamp.IsZero())
}

func TestJSONParserRejectsMissingMessage(t *testing.T) {
	p := JSONParser{}
	_, ok := p.TryParse(`{"service":"checkout"}`)
	assert.False(t, ok)
}

func TestJSONParserRejectsNonObject(t *testing.T) {
	p := JSONParser{}
	_, ok := p.TryParse(`[1,2,3]`)
	assert.False(t, ok)
	_, ok = p.TryParse(`not json at all`)
	assert.False(t, ok)
}

func TestApacheParserLevelFromStatus(t *testing.T) {
	cases := []struct {
		line string
		want domain.Level
	}{
		{`127.0.0.1 - frank [10/Oct/2023:13:55:36 -0700] "GET /api HTTP/1.1" 200 2326 "-" "curl/8.0"`, domain.LevelInfo},
		{`127.0.0.1 - frank [10/Oct/2023:13:55:36 -0700] "GET /api HTTP/1.1" 404 2326 "-" "curl/8.0"`, domain.LevelWarn},
		{`127.0.0.1 - frank [10/Oct/2023:13:55:36 -0700] "GET /api HTTP/1.1" 500 2326 "-" "curl/8.0"`, domain.LevelError},
	}
	p := ApacheParser{}
	for _, c := range cases {
		entry, ok := p.TryParse(c.line)
		require.Truef(t, ok, "line=%q", c.line)
		assert.Equalf(t, c.want, entry.Level, "line=%q", c.line)
	}
}

func TestNginxParserAcceptsUpstreamFields(t *testing.T) {
	p := NginxParser{}
	entry, ok := p.TryParse(`10.0.0.1 - - [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" 200 512 "-" "ua" 10.0.0.5:8080 0.012`)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5:8080", entry.Fields["upstream_addr"])
	assert.Equal(t, "0.012", entry.Fields["upstream_time"])
}

func TestSyslogParserExtractsServiceAndMessage(t *testing.T) {
	p := SyslogParser{}
	entry, ok := p.TryParse(`Oct 11 22:14:15 mymachine su[1234]: connection failed for user`)
	require.True(t, ok)
	assert.Equal(t, "su", entry.Service)
	assert.Equal(t, "connection failed for user", entry.Message)
	assert.Equal(t, "1234", entry.Fields["pid"])
	assert.Equal(t, "mymachine", entry.Fields["host"])
	assert.Equal(t, domain.LevelError, entry.Level)
}

func TestSyslogParserDefaultsToInfo(t *testing.T) {
	p := SyslogParser{}
	entry, ok := p.TryParse(`Oct 11 22:14:15 mymachine cron: job completed`)
	require.True(t, ok)
	assert.Equal(t, domain.LevelInfo, entry.Level)
}

func TestRegistryDetectionOrderPrefersJSON(t *testing.T) {
	r := NewRegistry()
	entry, name, ok := r.DetectAndParse(`{"message":"hello"}`)
	require.True(t, ok)
	assert.Equal(t, "json", name)
	assert.Equal(t, "hello", entry.Message)
}

func TestRegistryPrefersNginxForCombinedFormat(t *testing.T) {
	r := NewRegistry()
	_, name, ok := r.DetectAndParse(`127.0.0.1 - - [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" 500 10 "-" "ua"`)
	require.True(t, ok)
	assert.Equal(t, "nginx", name, "combined format is ambiguous between nginx and apache; nginx is tried first")
}

func TestRegistryFallsThroughToSyslog(t *testing.T) {
	r := NewRegistry()
	_, name, ok := r.DetectAndParse(`Oct 11 22:14:15 mymachine cron: job completed`)
	require.True(t, ok)
	assert.Equal(t, "syslog", name)
}

func TestRegistryNoMatch(t *testing.T) {
	r := NewRegistry()
	_, _, ok := r.DetectAndParse(`totally unstructured free text`)
	assert.False(t, ok)
}

func TestRegistryByName(t *testing.T) {
	r := NewRegistry()
	p, ok := r.ByName("syslog")
	require.True(t, ok)
	assert.Equal(t, "syslog", p.Name())

	_, ok = r.ByName("nonexistent")
	assert.False(t, ok)
}
