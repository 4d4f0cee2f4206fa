package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/airplay-fetch/internal/report"
	"github.com/psantana5/airplay-fetch/pkg/models"
	"github.com/psantana5/airplay-fetch/pkg/tracing"
)

// waitSettled blocks until every future settled or the deadline passed.
// It returns the number of futures still unsettled.
func waitSettled(ctx context.Context, futures []*Future, deadline time.Time) int {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for i, f := range futures {
		select {
		case <-f.Done():
		case <-timer.C:
			return countUnsettled(futures[i:])
		case <-ctx.Done():
			return countUnsettled(futures[i:])
		}
	}
	return 0
}

func countUnsettled(futures []*Future) int {
	n := 0
	for _, f := range futures {
		if !f.Settled() {
			n++
		}
	}
	return n
}

// watch is the completion watcher of one batch. The wait is best effort;
// the probe decides every outcome.
func (s *Scheduler) watch(ctx context.Context, batch models.Batch, futures []*Future, started time.Time) error {
	ctx, span := s.tracer.StartSpan(ctx, "batch",
		attribute.Int("batch.seq", batch.Seq),
		attribute.Int("batch.jobs", len(batch.Jobs)))
	defer span.End()

	unsettled := waitSettled(ctx, futures, started.Add(s.cfg.BatchTimeout))
	if unsettled > 0 {
		s.logger.Info(fmt.Sprintf("[Watcher] Batch %d: %d launches still running after %s, probing anyway",
			batch.Seq, unsettled, s.cfg.BatchTimeout))
	}

	outcomes := make([]models.Outcome, len(futures))
	entries := make([]report.Entry, len(futures))
	succeeded := 0
	for i, f := range futures {
		o := s.classify(f)
		outcomes[i] = o
		entries[i] = report.Entry{Job: o.Job, Status: o.Status, Detail: o.Detail}
		s.rec.Outcome(string(o.Status))
		if o.Status == models.OutcomeSucceeded {
			succeeded++
		}
	}

	recordErr := s.agg.RecordBatch(batch, outcomes)

	// Every batch gets a report section, recorded or not.
	if err := s.reporter.WriteBatch(report.Section{Batch: batch.Seq, Entries: entries}); err != nil {
		s.logger.Error(fmt.Sprintf("[Watcher] Batch %d: report write failed", batch.Seq),
			map[string]interface{}{"error": err.Error()})
	}

	if recordErr != nil {
		tracing.SetError(ctx, recordErr)
		return fmt.Errorf("batch %d: %w", batch.Seq, recordErr)
	}
	s.rec.BatchRecorded(time.Since(started))
	tracing.AddEvent(ctx, "recorded", attribute.Int("succeeded", succeeded))

	s.logger.Info(fmt.Sprintf("[Watcher] Batch %d done: %d/%d succeeded", batch.Seq, succeeded, len(futures)))
	return nil
}

// classify probes one job exactly once. A launch error fails the job
// without probing.
func (s *Scheduler) classify(f *Future) models.Outcome {
	o := models.Outcome{Job: f.Job}
	if err := f.LaunchErr(); err != nil {
		o.Status = models.OutcomeFailed
		o.Reason = models.FailureLaunchError
		o.LaunchErr = err.Error()
		s.logger.Warn(fmt.Sprintf("[Watcher] %s: launch failed", f.Job.ID()), map[string]interface{}{"error": err.Error()})
		return o
	}

	if s.prober.Probe(f.Job) {
		o.Status = models.OutcomeSucceeded
	} else {
		o.Status = models.OutcomeFailed
		o.Reason = models.FailureArtifactMissing
	}
	o.Detail = s.prober.Detail(f.Job)
	return o
}
