package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of the runner's OpenTelemetry instruments.
const meterName = "github.com/thebtf/smallmerge/internal/runner"

const maxRecentLatencies = 1000

// Metrics tracks merge statistics across runs. It keeps an in-process snapshot and mirrors
// every update to OpenTelemetry counters.
type Metrics struct {
	startTime       time.Time
	recentLatencies []time.Duration
	latenciesMu     sync.Mutex

	runs              atomic.Int64
	failedRuns        atomic.Int64
	familiesIn        atomic.Int64
	familiesOut       atomic.Int64
	wordsIn           atomic.Int64
	wordsOut          atomic.Int64
	subsetsEliminated atomic.Int64
	mergesPerformed   atomic.Int64
	totalLatency      atomic.Int64 // Sum in microseconds

	otelRuns     metric.Int64Counter
	otelFailed   metric.Int64Counter
	otelIn       metric.Int64Counter
	otelOut      metric.Int64Counter
	otelSubsets  metric.Int64Counter
	otelMerges   metric.Int64Counter
	otelDuration metric.Float64Histogram
}

// NewMetrics creates a metrics tracker. A nil meter uses the global OpenTelemetry provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	m := &Metrics{
		recentLatencies: make([]time.Duration, 0, maxRecentLatencies),
		startTime:       time.Now(),
	}

	var err error
	if m.otelRuns, err = meter.Int64Counter("smallmerge.runs",
		metric.WithDescription("Collections merged")); err != nil {
		return nil, fmt.Errorf("create runs counter: %w", err)
	}
	if m.otelFailed, err = meter.Int64Counter("smallmerge.runs.failed",
		metric.WithDescription("Collections whose merge could not be completed")); err != nil {
		return nil, fmt.Errorf("create failed runs counter: %w", err)
	}
	if m.otelIn, err = meter.Int64Counter("smallmerge.families_in",
		metric.WithDescription("Families received for merging")); err != nil {
		return nil, fmt.Errorf("create families_in counter: %w", err)
	}
	if m.otelOut, err = meter.Int64Counter("smallmerge.families_out",
		metric.WithDescription("Families emitted after merging")); err != nil {
		return nil, fmt.Errorf("create families_out counter: %w", err)
	}
	if m.otelSubsets, err = meter.Int64Counter("smallmerge.subsets_eliminated",
		metric.WithDescription("Families dropped because another family contained them")); err != nil {
		return nil, fmt.Errorf("create subsets counter: %w", err)
	}
	if m.otelMerges, err = meter.Int64Counter("smallmerge.merges_performed",
		metric.WithDescription("Families folded into a similar family")); err != nil {
		return nil, fmt.Errorf("create merges counter: %w", err)
	}
	if m.otelDuration, err = meter.Float64Histogram("smallmerge.run.duration",
		metric.WithDescription("Time spent merging one collection"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return m, nil
}

// RecordRun records a completed merge.
func (m *Metrics) RecordRun(ctx context.Context, r *Report) {
	m.runs.Add(1)
	m.familiesIn.Add(int64(r.FamiliesIn))
	m.familiesOut.Add(int64(len(r.Families)))
	m.wordsIn.Add(int64(r.WordsIn))
	m.wordsOut.Add(int64(r.WordsOut))
	m.subsetsEliminated.Add(int64(r.Stats.SubsetsEliminated))
	m.mergesPerformed.Add(int64(r.Stats.MergesPerformed))
	m.totalLatency.Add(r.Duration.Microseconds())

	attrs := metric.WithAttributes(attribute.String("collection", r.Name))
	m.otelRuns.Add(ctx, 1, attrs)
	m.otelIn.Add(ctx, int64(r.FamiliesIn), attrs)
	m.otelOut.Add(ctx, int64(len(r.Families)), attrs)
	m.otelSubsets.Add(ctx, int64(r.Stats.SubsetsEliminated), attrs)
	m.otelMerges.Add(ctx, int64(r.Stats.MergesPerformed), attrs)
	m.otelDuration.Record(ctx, float64(r.Duration.Microseconds())/1000.0, attrs)

	m.latenciesMu.Lock()
	m.recentLatencies = append(m.recentLatencies, r.Duration)
	if len(m.recentLatencies) > maxRecentLatencies {
		m.recentLatencies = m.recentLatencies[len(m.recentLatencies)-maxRecentLatencies:]
	}
	m.latenciesMu.Unlock()
}

// RecordFailure records a merge whose result could not be delivered.
func (m *Metrics) RecordFailure(ctx context.Context, name string) {
	m.failedRuns.Add(1)
	m.otelFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("collection", name)))
}

// Snapshot returns the current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.latenciesMu.Lock()
	defer m.latenciesMu.Unlock()

	runs := m.runs.Load()
	snapshot := MetricsSnapshot{
		Runs:              runs,
		FailedRuns:        m.failedRuns.Load(),
		FamiliesIn:        m.familiesIn.Load(),
		FamiliesOut:       m.familiesOut.Load(),
		WordsIn:           m.wordsIn.Load(),
		WordsOut:          m.wordsOut.Load(),
		SubsetsEliminated: m.subsetsEliminated.Load(),
		MergesPerformed:   m.mergesPerformed.Load(),
		Uptime:            time.Since(m.startTime),
	}

	if runs > 0 {
		snapshot.AvgLatency = time.Duration(m.totalLatency.Load()/runs) * time.Microsecond
	}

	if len(m.recentLatencies) > 0 {
		sorted := make([]time.Duration, len(m.recentLatencies))
		copy(sorted, m.recentLatencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		snapshot.P50Latency = percentile(sorted, 0.50)
		snapshot.P95Latency = percentile(sorted, 0.95)
		snapshot.P99Latency = percentile(sorted, 0.99)
	}

	if snapshot.FamiliesIn > 0 {
		snapshot.ReductionRatio = 1.0 - float64(snapshot.FamiliesOut)/float64(snapshot.FamiliesIn)
	}

	return snapshot
}

// MetricsSnapshot represents a point-in-time metrics snapshot.
type MetricsSnapshot struct {
	Runs              int64         `json:"runs"`
	FailedRuns        int64         `json:"failed_runs"`
	FamiliesIn        int64         `json:"families_in"`
	FamiliesOut       int64         `json:"families_out"`
	WordsIn           int64         `json:"words_in"`
	WordsOut          int64         `json:"words_out"`
	SubsetsEliminated int64         `json:"subsets_eliminated"`
	MergesPerformed   int64         `json:"merges_performed"`
	ReductionRatio    float64       `json:"reduction_ratio"`
	AvgLatency        time.Duration `json:"avg_latency_ns"`
	P50Latency        time.Duration `json:"p50_latency_ns"`
	P95Latency        time.Duration `json:"p95_latency_ns"`
	P99Latency        time.Duration `json:"p99_latency_ns"`
	Uptime            time.Duration `json:"uptime_ns"`
}

// percentile calculates the Nth percentile from a sorted slice
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}

// String returns a human-readable representation of metrics
func (s MetricsSnapshot) String() string {
	return fmt.Sprintf(`Merge Metrics:
  Runs: %d (failed: %d)
  Families: %d in, %d out (%.1f%% reduction)
  Words: %d in, %d out
  Subsets eliminated: %d, Merges performed: %d
  Avg Latency: %v (p50: %v, p95: %v, p99: %v)
  Runtime: %v`,
		s.Runs, s.FailedRuns,
		s.FamiliesIn, s.FamiliesOut, s.ReductionRatio*100,
		s.WordsIn, s.WordsOut,
		s.SubsetsEliminated, s.MergesPerformed,
		s.AvgLatency, s.P50Latency, s.P95Latency, s.P99Latency,
		s.Uptime,
	)
}
