package report

import (
	"fmt"
	"sync"
	"time"

	"github.com/psantana5/airplay-fetch/pkg/models"
)

// Aggregator is the only shared mutable state of a run: one outcome per job
// id. Every mutation takes the mutex; readers get copies.
type Aggregator struct {
	mu       sync.Mutex
	order    []string
	outcomes map[string]*models.Outcome
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{outcomes: make(map[string]*models.Outcome)}
}

// Begin registers the jobs of a batch as pending. The batch is checked as
// a whole first: on a duplicate id nothing is registered.
func (a *Aggregator) Begin(batch models.Batch) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	inBatch := make(map[string]struct{}, len(batch.Jobs))
	for _, job := range batch.Jobs {
		if _, exists := a.outcomes[job.ID()]; exists {
			return fmt.Errorf("job %s already registered", job.ID())
		}
		if _, dup := inBatch[job.ID()]; dup {
			return fmt.Errorf("job %s appears twice in batch %d", job.ID(), batch.Seq)
		}
		inBatch[job.ID()] = struct{}{}
	}

	now := time.Now()
	for _, job := range batch.Jobs {
		a.order = append(a.order, job.ID())
		a.outcomes[job.ID()] = &models.Outcome{
			Job:       job,
			Batch:     batch.Seq,
			Status:    models.OutcomePending,
			StartedAt: now,
		}
	}
	return nil
}

// Registered reports whether id already has an outcome
func (a *Aggregator) Registered(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.outcomes[id]
	return ok
}

// RecordBatch applies the first-pass outcomes of a batch. Jobs never passed
// to Begin are registered on the fly. An invalid transition (a job recorded
// twice) is returned as an error and leaves that job untouched.
func (a *Aggregator) RecordBatch(batch models.Batch, outcomes []models.Outcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	now := time.Now()
	for _, o := range outcomes {
		id := o.Job.ID()
		cur, exists := a.outcomes[id]
		if !exists {
			cur = &models.Outcome{Job: o.Job, Batch: batch.Seq, Status: models.OutcomePending, StartedAt: now}
			a.order = append(a.order, id)
			a.outcomes[id] = cur
		}
		if cur.Status != models.OutcomePending {
			if firstErr == nil {
				firstErr = fmt.Errorf("job %s: already recorded as %s", id, cur.Status)
			}
			continue
		}
		if err := models.ValidateTransition(cur.Status, o.Status); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("job %s: %w", id, err)
			}
			continue
		}

		cur.Status = o.Status
		cur.Reason = o.Reason
		cur.LaunchErr = o.LaunchErr
		cur.Detail = o.Detail
		cur.Attempts++
		cur.FinishedAt = now
	}
	return firstErr
}

// RecordRetry applies the single retry result of a failed job
func (a *Aggregator) RecordRetry(job models.Creative, succeeded bool, detail string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, exists := a.outcomes[job.ID()]
	if !exists {
		return fmt.Errorf("job %s: not registered", job.ID())
	}
	if !cur.CanRetry() {
		return fmt.Errorf("job %s: not eligible for retry (status %s, retried %v)", job.ID(), cur.Status, cur.Retried)
	}

	to := models.OutcomeFailed
	reason := models.FailureRetryExhausted
	if succeeded {
		to = models.OutcomeSucceeded
		reason = models.FailureNone
	}
	if err := models.ValidateTransition(cur.Status, to); err != nil {
		return fmt.Errorf("job %s: %w", job.ID(), err)
	}

	cur.Status = to
	cur.Reason = reason
	cur.Retried = true
	cur.Attempts++
	if detail != "" {
		cur.Detail = detail
	}
	cur.FinishedAt = time.Now()
	return nil
}

// Failed returns the jobs that are failed and still eligible for retry,
// in input order
func (a *Aggregator) Failed() []models.Creative {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []models.Creative
	for _, id := range a.order {
		if o := a.outcomes[id]; o.CanRetry() {
			out = append(out, o.Job)
		}
	}
	return out
}

// Counts returns succeeded, failed and pending counts
func (a *Aggregator) Counts() (succeeded, failed, pending int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, o := range a.outcomes {
		switch o.Status {
		case models.OutcomeSucceeded:
			succeeded++
		case models.OutcomeFailed:
			failed++
		default:
			pending++
		}
	}
	return succeeded, failed, pending
}

// Snapshot returns a point-in-time copy of every outcome in input order
func (a *Aggregator) Snapshot() RunResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := RunResult{Outcomes: make([]models.Outcome, 0, len(a.order))}
	for _, id := range a.order {
		o := *a.outcomes[id]
		res.Outcomes = append(res.Outcomes, o)
		switch o.Status {
		case models.OutcomeSucceeded:
			res.Succeeded++
			if o.Retried {
				res.Recovered++
			}
		case models.OutcomeFailed:
			res.Failed++
			res.StillFailed = append(res.StillFailed, o.Job)
		default:
			res.Pending++
		}
		if o.Retried {
			res.Retried++
		}
	}
	res.Total = len(res.Outcomes)
	return res
}

// RunResult is the aggregate view of a run
type RunResult struct {
	RunID       string            `json:"run_id"`
	Total       int               `json:"total"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	Pending     int               `json:"pending"`
	Retried     int               `json:"retried"`
	Recovered   int               `json:"recovered"`
	Rejected    int               `json:"rejected"`
	Batches     int               `json:"batches"`
	Duration    time.Duration     `json:"duration"`
	Outcomes    []models.Outcome  `json:"outcomes"`
	StillFailed []models.Creative `json:"still_failed"`
}

// StatusView is the small status document served while a run is active
type StatusView struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Status returns the live counters for the status endpoint
func (a *Aggregator) Status() interface{} {
	s, f, p := a.Counts()
	return StatusView{Succeeded: s, Failed: f, Pending: p}
}
