// Package scheduler runs the batch pass and the retry pass of a download
// run. Each batch gets its own pool and completion watcher; batches overlap
// and meet only in the aggregator.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/psantana5/airplay-fetch/internal/getmedia"
	"github.com/psantana5/airplay-fetch/internal/probe"
	"github.com/psantana5/airplay-fetch/internal/report"
	"github.com/psantana5/airplay-fetch/pkg/logging"
	"github.com/psantana5/airplay-fetch/pkg/metrics"
	"github.com/psantana5/airplay-fetch/pkg/models"
	"github.com/psantana5/airplay-fetch/pkg/tracing"
)

// Config holds the batch and retry policy
type Config struct {
	BatchSize     int           // Jobs per batch
	Workers       int           // Concurrent launches per batch
	StaggerDelay  time.Duration // Pause between batch starts
	BatchTimeout  time.Duration // How long a watcher waits before probing
	RetryDelay    time.Duration // Pause between a relaunch and its probe
	RetryTimeout  time.Duration // Bound on one relaunch before it is killed
	ShutdownGrace time.Duration // Wait for straggling processes before killing them
	Retry         bool          // Run the single serial retry pass
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		BatchSize:     10,
		Workers:       10,
		StaggerDelay:  10 * time.Second,
		BatchTimeout:  60 * time.Second,
		RetryDelay:    2 * time.Second,
		RetryTimeout:  60 * time.Second,
		ShutdownGrace: 5 * time.Minute,
		Retry:         true,
	}
}

// Validate rejects unusable settings and returns warnings for legal but
// questionable ones.
func (c Config) Validate() ([]string, error) {
	if c.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.StaggerDelay < 0 || c.BatchTimeout < 0 || c.RetryDelay < 0 {
		return nil, fmt.Errorf("delays and timeouts must not be negative")
	}
	if c.RetryTimeout <= 0 {
		return nil, fmt.Errorf("retry timeout must be positive, got %s", c.RetryTimeout)
	}
	if c.ShutdownGrace <= 0 {
		return nil, fmt.Errorf("shutdown grace must be positive, got %s", c.ShutdownGrace)
	}

	var warnings []string
	if c.StaggerDelay == 0 {
		warnings = append(warnings, "stagger delay is 0: all batches start at once and the fetch tool gets no breathing room")
	}
	if c.Workers < c.BatchSize {
		warnings = append(warnings, fmt.Sprintf("workers (%d) below batch size (%d): jobs of a batch will queue behind each other", c.Workers, c.BatchSize))
	}
	if c.BatchTimeout == 0 {
		warnings = append(warnings, "batch timeout is 0: artifacts are probed immediately after launch")
	}
	return warnings, nil
}

// Reporter receives report sections from watchers and the retry pass
type Reporter interface {
	WriteBatch(report.Section) error
	WriteRetry([]report.Entry) error
}

// Deps are the collaborators of a scheduler
type Deps struct {
	Launcher   getmedia.Launcher
	Prober     probe.Prober
	Aggregator *report.Aggregator
	Reporter   Reporter
	Metrics    *metrics.Recorder
	Tracer     *tracing.Provider
	Logger     *logging.Logger
}

// Scheduler drives one download run
type Scheduler struct {
	cfg      Config
	launcher getmedia.Launcher
	prober   probe.Prober
	agg      *report.Aggregator
	reporter Reporter
	rec      *metrics.Recorder
	tracer   *tracing.Provider
	logger   *logging.Logger
	retrier  *Retrier
}

// New validates cfg and fills in optional dependencies
func New(cfg Config, deps Deps) (*Scheduler, error) {
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if deps.Launcher == nil || deps.Prober == nil {
		return nil, fmt.Errorf("launcher and prober are required")
	}
	if deps.Aggregator == nil {
		deps.Aggregator = report.NewAggregator()
	}
	if deps.Reporter == nil {
		deps.Reporter = discardReporter{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRecorder()
	}
	if deps.Tracer == nil {
		deps.Tracer = tracing.Noop()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewLogger(logging.INFO, false)
	}

	for _, w := range warnings {
		deps.Logger.Warn("[Scheduler] " + w)
	}

	s := &Scheduler{
		cfg:      cfg,
		launcher: deps.Launcher,
		prober:   deps.Prober,
		agg:      deps.Aggregator,
		reporter: deps.Reporter,
		rec:      deps.Metrics,
		tracer:   deps.Tracer,
		logger:   deps.Logger,
	}
	s.retrier = &Retrier{
		launcher:      deps.Launcher,
		prober:        deps.Prober,
		agg:           deps.Aggregator,
		reporter:      deps.Reporter,
		rec:           deps.Metrics,
		tracer:        deps.Tracer,
		logger:        deps.Logger,
		Delay:         cfg.RetryDelay,
		SettleTimeout: cfg.RetryTimeout,
	}
	return s, nil
}

// Aggregator returns the run's aggregator
func (s *Scheduler) Aggregator() *report.Aggregator {
	return s.agg
}

// Partition splits jobs into batches of size, preserving order. The last
// batch may be shorter. A size below 1 is treated as 1.
func Partition(jobs []models.Creative, size int) []models.Batch {
	if size < 1 {
		size = 1
	}
	batches := make([]models.Batch, 0, (len(jobs)+size-1)/size)
	for start := 0; start < len(jobs); start += size {
		end := start + size
		if end > len(jobs) {
			end = len(jobs)
		}
		batches = append(batches, models.Batch{
			Seq:  len(batches) + 1,
			Jobs: jobs[start:end:end],
		})
	}
	return batches
}

// Execute runs the batch pass, then the retry pass, and returns the final
// state of the aggregator. Per-job failures never abort the run.
func (s *Scheduler) Execute(ctx context.Context, jobs []models.Creative) (report.RunResult, error) {
	timing := report.NewTiming()
	ctx, span := s.tracer.StartSpan(ctx, "download_run", attribute.Int("jobs", len(jobs)))
	defer span.End()

	batches, err := s.RunBatches(ctx, jobs)
	if err != nil {
		tracing.SetError(ctx, err)
		s.logger.Error("[Scheduler] batch pass reported an error", map[string]interface{}{"error": err.Error()})
	}

	if failed := s.agg.Failed(); len(failed) > 0 && s.cfg.Retry {
		s.logger.Info(fmt.Sprintf("[Scheduler] Retrying %d failed creatives", len(failed)))
		still := s.retrier.Retry(ctx, failed)
		s.logger.Info(fmt.Sprintf("[Scheduler] %d creatives still failed after retry", len(still)))
	}

	timing.Complete()
	res := s.agg.Snapshot()
	res.Batches = batches
	res.Duration = timing.Duration()
	return res, err
}

// RunBatches launches every batch with the stagger delay between starts,
// joins all watchers, then shuts down every pool. Repeated job ids and ids
// the aggregator already holds are dropped before the first launch. It
// returns the number of batches.
func (s *Scheduler) RunBatches(ctx context.Context, jobs []models.Creative) (int, error) {
	jobs, dropped := s.unique(jobs)
	if len(dropped) > 0 {
		s.logger.Warn(fmt.Sprintf("[Scheduler] Skipping %d repeated job ids: %s", len(dropped), strings.Join(dropped, ", ")))
	}

	batches := Partition(jobs, s.cfg.BatchSize)
	s.logger.Info(fmt.Sprintf("[Scheduler] %d creatives in %d batches of up to %d", len(jobs), len(batches), s.cfg.BatchSize),
		map[string]interface{}{"stagger": s.cfg.StaggerDelay.String(), "batch_timeout": s.cfg.BatchTimeout.String()})

	pools := make([]*Pool, 0, len(batches))
	var watchers errgroup.Group
	var beginErrs []error

	for i, b := range batches {
		if err := s.agg.Begin(b); err != nil {
			s.logger.Error(fmt.Sprintf("[Scheduler] Batch %d not launched", b.Seq), map[string]interface{}{"error": err.Error()})
			beginErrs = append(beginErrs, fmt.Errorf("batch %d: %w", b.Seq, err))
			if werr := s.reporter.WriteBatch(report.Section{Batch: b.Seq}); werr != nil {
				s.logger.Error(fmt.Sprintf("[Scheduler] Batch %d: report write failed", b.Seq), map[string]interface{}{"error": werr.Error()})
			}
			continue
		}
		started := time.Now()
		s.rec.BatchStarted()

		pool := NewPool(ctx, s.cfg.Workers, s.launcher, s.rec)
		pools = append(pools, pool)
		futures := make([]*Future, len(b.Jobs))
		for j, job := range b.Jobs {
			futures[j] = pool.Submit(job)
		}
		s.logger.Info(fmt.Sprintf("[Scheduler] Batch %d/%d launched (%d creatives)", b.Seq, len(batches), len(b.Jobs)))

		batch := b
		watchers.Go(func() error {
			return s.watch(ctx, batch, futures, started)
		})

		if i < len(batches)-1 && s.cfg.StaggerDelay > 0 {
			time.Sleep(s.cfg.StaggerDelay)
		}
	}

	err := watchers.Wait()

	// Pools share one grace period.
	var stopping sync.WaitGroup
	for i, pool := range pools {
		stopping.Add(1)
		go func(seq int, pool *Pool) {
			defer stopping.Done()
			if serr := pool.Shutdown(s.cfg.ShutdownGrace); serr != nil {
				s.logger.Warn(fmt.Sprintf("[Scheduler] Batch %d pool: %v", seq, serr))
			}
		}(i+1, pool)
	}
	stopping.Wait()

	return len(batches), errors.Join(append(beginErrs, err)...)
}

// unique keeps the first occurrence of every job id not yet known to the
// aggregator, in input order
func (s *Scheduler) unique(jobs []models.Creative) ([]models.Creative, []string) {
	seen := make(map[string]struct{}, len(jobs))
	out := make([]models.Creative, 0, len(jobs))
	var dropped []string
	for _, j := range jobs {
		if _, dup := seen[j.ID()]; dup || s.agg.Registered(j.ID()) {
			dropped = append(dropped, j.ID())
			continue
		}
		seen[j.ID()] = struct{}{}
		out = append(out, j)
	}
	return out, dropped
}

type discardReporter struct{}

func (discardReporter) WriteBatch(report.Section) error { return nil }
func (discardReporter) WriteRetry([]report.Entry) error { return nil }
