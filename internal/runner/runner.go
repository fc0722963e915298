// Package runner merges batches of family collections and reports on each merge.
package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/smallmerge/internal/consolidation"
	"github.com/thebtf/smallmerge/pkg/models"
)

// DefaultMaxParallel bounds concurrent merges when Config.MaxParallel is unset.
const DefaultMaxParallel = 4

// Job is one collection to merge.
type Job struct {
	Name     string
	Families []models.Family
}

// Report describes one completed merge.
type Report struct {
	RunID      string                `json:"run_id"`
	Name       string                `json:"name"`
	Options    consolidation.Options `json:"options"`
	FamiliesIn int                   `json:"families_in"`
	WordsIn    int                   `json:"words_in"`
	WordsOut   int                   `json:"words_out"`
	Families   []models.Family       `json:"families"`
	Stats      consolidation.Stats   `json:"stats"`
	Duration   time.Duration         `json:"duration_ns"`
	CreatedAt  time.Time             `json:"created_at"`
}

// Recorder persists reports.
type Recorder interface {
	Record(ctx context.Context, report *Report) error
}

// Config configures a Runner.
type Config struct {
	Tracer      consolidation.Tracer // optional
	Recorder    Recorder             // optional
	OnReport    func(*Report)        // optional, called after a report is recorded
	Meter       metric.Meter         // optional, defaults to the global provider
	MaxParallel int
}

// tracerBox lets a nil Tracer be stored in an atomic.Pointer.
type tracerBox struct {
	tracer consolidation.Tracer
}

// Runner merges jobs, at most MaxParallel at a time.
type Runner struct {
	tracer      atomic.Pointer[tracerBox]
	recorder    Recorder
	onReport    func(*Report)
	metrics     *Metrics
	maxParallel int
}

// New creates a Runner.
func New(cfg Config) (*Runner, error) {
	metrics, err := NewMetrics(cfg.Meter)
	if err != nil {
		return nil, err
	}

	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}

	r := &Runner{
		recorder:    cfg.Recorder,
		onReport:    cfg.OnReport,
		metrics:     metrics,
		maxParallel: maxParallel,
	}
	r.SetTracer(cfg.Tracer)
	return r, nil
}

// SetTracer replaces the tracer used by merges that start afterwards. nil disables tracing.
func (r *Runner) SetTracer(t consolidation.Tracer) {
	r.tracer.Store(&tracerBox{tracer: t})
}

// Tracer returns the current tracer, or nil.
func (r *Runner) Tracer() consolidation.Tracer {
	return r.tracer.Load().tracer
}

// Metrics returns the runner's metrics.
func (r *Runner) Metrics() *Metrics {
	return r.metrics
}

// Run merges every job with opts. Jobs are independent and run concurrently; each job's
// families are used as scratch space. Reports are returned in job order. The first failure
// cancels jobs that have not started yet.
func (r *Runner) Run(ctx context.Context, opts consolidation.Options, jobs []Job) ([]*Report, error) {
	reports := make([]*Report, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel)

	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report, err := r.RunOne(gctx, opts, job)
			if err != nil {
				return fmt.Errorf("collection %q: %w", job.Name, err)
			}
			reports[i] = report
			return nil
		})
	}

	err := g.Wait()
	return reports, err
}

// RunOne merges a single job with opts.
func (r *Runner) RunOne(ctx context.Context, opts consolidation.Options, job Job) (*Report, error) {
	report := &Report{
		RunID:      uuid.NewString(),
		Name:       job.Name,
		Options:    opts,
		FamiliesIn: len(job.Families),
		WordsIn:    models.CountWords(job.Families),
		CreatedAt:  time.Now().UTC(),
	}

	start := time.Now()
	res := consolidation.New(opts, r.Tracer()).Merge(job.Families)
	report.Duration = time.Since(start)

	report.Families = res.Families
	report.Stats = res.Stats
	report.WordsOut = models.CountWords(res.Families)

	if r.recorder != nil {
		if err := r.recorder.Record(ctx, report); err != nil {
			r.metrics.RecordFailure(ctx, job.Name)
			return nil, fmt.Errorf("record run: %w", err)
		}
	}

	r.metrics.RecordRun(ctx, report)

	log.Debug().
		Str("run", report.RunID).
		Str("collection", job.Name).
		Int("familiesIn", report.FamiliesIn).
		Int("familiesOut", len(report.Families)).
		Int("subsets", report.Stats.SubsetsEliminated).
		Int("merges", report.Stats.MergesPerformed).
		Dur("duration", report.Duration).
		Msg("Collection merged")

	if r.onReport != nil {
		r.onReport(report)
	}

	return report, nil
}
