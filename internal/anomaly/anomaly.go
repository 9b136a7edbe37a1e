// Package anomaly implements Stratum's anomaly engine (C8): a periodic
// scan of recent log volume per (service, level), comparing the current
// 5-minute window against a trailing baseline and classifying deviations
// by fixed rules (§4.8).
package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/stratumhq/stratum/internal/columnar"
	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/metrics"
)

// scanInterval is how often the engine fires (§4.8: "every 60 s").
const scanInterval = 60 * time.Second

// windowBucket is the width of one volume bucket; current = most recent
// bucket, baseline = mean over the preceding baselineWindows buckets.
const (
	windowBucket    = 5 * time.Minute
	baselineWindows = 12
	lookback        = 24 * time.Hour
)

// VolumeSource is the subset of columnar.Store the engine needs.
type VolumeSource interface {
	VolumeByServiceLevel(ctx context.Context, window, bucket time.Duration) ([]columnar.VolumeBucket, error)
}

// Snapshot is the most recently completed scan's result, exposed to the
// query API (§4.8: "C9 exposes the most recent snapshot").
type Snapshot struct {
	Anomalies []domain.Anomaly
	CheckedAt time.Time
}

// Engine runs the periodic scan and caches the last snapshot in memory. A
// failed scan logs and leaves the previous snapshot in place (§7).
type Engine struct {
	mu       sync.RWMutex
	source   VolumeSource
	snapshot Snapshot
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *slog.Logger
}

// New builds an Engine over source.
func New(source VolumeSource, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if m == nil {
		m = metrics.Get()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{source: source, metrics: m, now: time.Now, logger: logger}
}

// Snapshot returns the most recent scan result. Safe for concurrent use
// with Run.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// Run blocks, firing Scan every scanInterval until ctx is canceled. It
// scans once immediately on entry so a freshly started process has a
// snapshot without waiting a full interval.
func (e *Engine) Run(ctx context.Context) {
	e.scanOnce(ctx)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		e.logger.Error("anomaly: scheduler init failed, scan loop disabled", "err", err)
		return
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(scanInterval),
		gocron.NewTask(func() { e.scanOnce(ctx) }),
		gocron.WithName("anomaly-scan"),
	)
	if err != nil {
		e.logger.Error("anomaly: scan job registration failed", "err", err)
		return
	}

	scheduler.Start()
	<-ctx.Done()
	if err := scheduler.Shutdown(); err != nil {
		e.logger.Warn("anomaly: scheduler shutdown error", "err", err)
	}
}

func (e *Engine) scanOnce(ctx context.Context) {
	anomalies, err := e.Scan(ctx)
	if err != nil {
		e.metrics.AnomalyScansTotal.WithLabelValues("error").Inc()
		e.logger.Error("anomaly: scan failed, retaining previous snapshot", "err", err)
		return
	}
	e.metrics.AnomalyScansTotal.WithLabelValues("ok").Inc()
	for _, a := range anomalies {
		e.metrics.AnomaliesDetected.WithLabelValues(string(a.Rule), string(a.Severity)).Inc()
	}

	e.mu.Lock()
	e.snapshot = Snapshot{Anomalies: anomalies, CheckedAt: e.now()}
	e.mu.Unlock()
}

// Scan performs one scan cycle over the last 24h of volume, grouping
// buckets by (service, level) and applying the §4.8 rules. It does not
// touch the cached snapshot; callers that want caching should use Run or
// call scanOnce.
func (e *Engine) Scan(ctx context.Context) ([]domain.Anomaly, error) {
	buckets, err := e.source.VolumeByServiceLevel(ctx, lookback, windowBucket)
	if err != nil {
		return nil, fmt.Errorf("anomaly: volume query: %w", err)
	}

	series := groupSeries(buckets)
	now := e.now()

	var anomalies []domain.Anomaly
	for key, points := range series {
		current, baseline, ok := currentAndBaseline(points, now)
		if !ok {
			continue
		}
		if a := evaluateRules(key.service, key.level, current, baseline, now); a != nil {
			anomalies = append(anomalies, *a)
		}
	}
	return anomalies, nil
}

type seriesKey struct {
	service string
	level   string
}

// groupSeries indexes buckets by (service, level), sorted is not
// required here since currentAndBaseline re-derives order from timestamps.
func groupSeries(buckets []columnar.VolumeBucket) map[seriesKey][]columnar.VolumeBucket {
	out := make(map[seriesKey][]columnar.VolumeBucket)
	for _, b := range buckets {
		key := seriesKey{service: b.Service, level: b.Level}
		out[key] = append(out[key], b)
	}
	return out
}

// currentAndBaseline computes the count in the most recent bucket and the
// outlier-trimmed mean of the preceding baselineWindows buckets (§4.8).
// Returns ok=false if there isn't at least one baseline bucket to compare
// against.
func currentAndBaseline(points []columnar.VolumeBucket, now time.Time) (current, baseline float64, ok bool) {
	currentStart := now.Truncate(windowBucket)

	var currentCount float64
	var priorCounts []float64
	for _, p := range points {
		delta := currentStart.Sub(p.BucketStart)
		switch {
		case delta == 0:
			currentCount = float64(p.Count)
		case delta > 0 && delta <= time.Duration(baselineWindows)*windowBucket:
			priorCounts = append(priorCounts, float64(p.Count))
		}
	}
	if len(priorCounts) == 0 {
		return 0, 0, false
	}
	return currentCount, trimmedMean(priorCounts), true
}

// trimmedMean excludes values more than 3 standard deviations from the
// mean before averaging (§4.8: "excluding outliers outside ±3σ").
func trimmedMean(values []float64) float64 {
	mean, stddev := meanStddev(values)
	if stddev == 0 {
		return mean
	}
	var sum float64
	var n int
	for _, v := range values {
		if math.Abs(v-mean) <= 3*stddev {
			sum += v
			n++
		}
	}
	if n == 0 {
		return mean
	}
	return sum / float64(n)
}

func meanStddev(values []float64) (mean, stddev float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// evaluateRules applies the ErrorSpike and VolumeDrop rules in that order
// (§4.8). NewPattern is reserved and never emitted (§9 Open Question).
func evaluateRules(service, level string, current, baseline float64, now time.Time) *domain.Anomaly {
	if level == string(domain.LevelError) {
		threshold := math.Max(5, 5*baseline)
		if current >= threshold {
			// §4.8 only names the high/critical tiers for ErrorSpike; any
			// spike that clears the trigger threshold is at least high.
			severity := domain.SeverityHigh
			if baseline > 0 && current >= 20*baseline {
				severity = domain.SeverityCritical
			}
			return &domain.Anomaly{
				Service:       service,
				Rule:          domain.RuleErrorSpike,
				Severity:      severity,
				Message:       fmt.Sprintf("error rate for %s spiked to %.0f in the last 5 minutes (baseline %.1f)", service, current, baseline),
				CurrentValue:  current,
				ExpectedValue: baseline,
				DetectedAt:    now,
			}
		}
	}

	if baseline >= 100 && current <= 0.1*baseline {
		return &domain.Anomaly{
			Service:       service,
			Rule:          domain.RuleVolumeDrop,
			Severity:      domain.SeverityMedium,
			Message:       fmt.Sprintf("log volume for %s/%s dropped to %.0f in the last 5 minutes (baseline %.1f)", service, level, current, baseline),
			CurrentValue:  current,
			ExpectedValue: baseline,
			DetectedAt:    now,
		}
	}

	return nil
}
