package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/airplay-fetch/internal/getmedia"
	"github.com/psantana5/airplay-fetch/internal/probe"
	"github.com/psantana5/airplay-fetch/internal/report"
	"github.com/psantana5/airplay-fetch/pkg/logging"
	"github.com/psantana5/airplay-fetch/pkg/metrics"
	"github.com/psantana5/airplay-fetch/pkg/models"
	"github.com/psantana5/airplay-fetch/pkg/tracing"
)

// Retrier runs the single serial retry pass over failed jobs
type Retrier struct {
	launcher getmedia.Launcher
	prober   probe.Prober
	agg      *report.Aggregator
	reporter Reporter
	rec      *metrics.Recorder
	tracer   *tracing.Provider
	logger   *logging.Logger

	Delay         time.Duration // Pause between the relaunch settling and the probe
	SettleTimeout time.Duration // Bound on waiting for a relaunch; defaultSettleTimeout when not positive
}

const defaultSettleTimeout = 60 * time.Second

// Retry relaunches each job once, one at a time, and returns the jobs that
// still have no artifact. A relaunch still running at SettleTimeout is
// killed before the next job starts.
func (r *Retrier) Retry(ctx context.Context, failed []models.Creative) []models.Creative {
	ctx, span := r.tracer.StartSpan(ctx, "retry_pass", attribute.Int("jobs", len(failed)))
	defer span.End()

	var still []models.Creative
	entries := make([]report.Entry, 0, len(failed))
	for i, job := range failed {
		r.logger.Info(fmt.Sprintf("[Retry] (%d/%d) %s %s", i+1, len(failed), job.ID(), job.DisplayName()))

		ok, detail := r.retryOne(ctx, job)
		if err := r.agg.RecordRetry(job, ok, detail); err != nil {
			r.logger.Warn(fmt.Sprintf("[Retry] %s: %v", job.ID(), err))
		}
		r.rec.Retry(ok)

		status := models.OutcomeSucceeded
		if !ok {
			status = models.OutcomeFailed
			still = append(still, job)
		}
		entries = append(entries, report.Entry{Job: job, Status: status, Detail: detail})
	}

	if len(entries) > 0 {
		if err := r.reporter.WriteRetry(entries); err != nil {
			r.logger.Error("[Retry] report write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	tracing.AddEvent(ctx, "retry_done", attribute.Int("still_failed", len(still)))
	return still
}

func (r *Retrier) retryOne(ctx context.Context, job models.Creative) (bool, string) {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.rec.LaunchStarted()
	h := r.launcher.Launch(lctx, job)

	bound := r.SettleTimeout
	if bound <= 0 {
		bound = defaultSettleTimeout
	}
	timeout := time.NewTimer(bound)
	defer timeout.Stop()
	select {
	case <-h.Done():
	case <-timeout.C:
		r.logger.Warn(fmt.Sprintf("[Retry] %s still running after %s, killing it", job.ID(), bound))
		cancel()
		<-h.Done()
	}
	r.rec.LaunchFinished(h.Err())

	if err := h.Err(); err != nil {
		r.logger.Warn(fmt.Sprintf("[Retry] %s: relaunch failed", job.ID()), map[string]interface{}{"error": err.Error()})
	}

	// An artifact from the first attempt that landed late still counts.
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
		}
	}
	return r.prober.Probe(job), r.prober.Detail(job)
}
