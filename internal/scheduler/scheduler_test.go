package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/psantana5/airplay-fetch/internal/getmedia"
	"github.com/psantana5/airplay-fetch/internal/probe"
	"github.com/psantana5/airplay-fetch/internal/report"
	"github.com/psantana5/airplay-fetch/pkg/metrics"
	"github.com/psantana5/airplay-fetch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		BatchSize:     10,
		Workers:       10,
		StaggerDelay:  0,
		BatchTimeout:  2 * time.Second,
		RetryDelay:    0,
		RetryTimeout:  2 * time.Second,
		ShutdownGrace: time.Second,
		Retry:         true,
	}
}

func newTestScheduler(t *testing.T, cfg Config, l *fakeLauncher, reporter Reporter) *Scheduler {
	t.Helper()
	s, err := New(cfg, Deps{
		Launcher: l,
		Prober:   probe.New(l.dir),
		Reporter: reporter,
	})
	require.NoError(t, err)
	return s
}

func TestPartition(t *testing.T) {
	jobs := creatives(25)

	tests := []struct {
		size  int
		sizes []int
	}{
		{10, []int{10, 10, 5}},
		{25, []int{25}},
		{100, []int{25}},
		{7, []int{7, 7, 7, 4}},
		{0, nil},
	}
	for _, tt := range tests {
		batches := Partition(jobs, tt.size)
		if tt.size == 0 {
			assert.Len(t, batches, 25, "size below 1 is treated as 1")
			continue
		}
		require.Len(t, batches, len(tt.sizes))

		var flat []models.Creative
		for i, b := range batches {
			assert.Equal(t, i+1, b.Seq)
			assert.Len(t, b.Jobs, tt.sizes[i])
			flat = append(flat, b.Jobs...)
		}
		assert.Equal(t, jobs, flat, "order preserved")
	}

	assert.Empty(t, Partition(nil, 10))
}

func TestConfigValidate(t *testing.T) {
	warnings, err := DefaultConfig().Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)

	cfg := DefaultConfig()
	cfg.StaggerDelay = 0
	cfg.Workers = 5
	warnings, err = cfg.Validate()
	require.NoError(t, err)
	assert.Len(t, warnings, 2)

	cfg = DefaultConfig()
	cfg.BatchSize = 0
	_, err = cfg.Validate()
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.RetryDelay = -time.Second
	_, err = cfg.Validate()
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.RetryTimeout = 0
	_, err = cfg.Validate()
	assert.Error(t, err, "a relaunch must always be bounded")

	cfg = DefaultConfig()
	cfg.ShutdownGrace = 0
	_, err = cfg.Validate()
	assert.Error(t, err)
}

func TestExecuteAllSucceed(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)

	pw, err := report.NewProgressWriter(filepath.Join(dir, "summary.txt"), report.Header{Jobs: 25})
	require.NoError(t, err)

	s := newTestScheduler(t, testConfig(), l, pw)
	res, err := s.Execute(context.Background(), creatives(25))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 25, res.Total)
	assert.Equal(t, 25, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Retried)
	assert.Empty(t, res.StillFailed)
	assert.Equal(t, 3, pw.Sections())

	for _, o := range res.Outcomes {
		assert.Equal(t, 1, l.callCount(o.Job.ID()), "no retry for %s", o.Job.ID())
	}
}

func TestExecuteNeverAppearingArtifact(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)
	jobs := creatives(1)
	l.set(never, jobs[0].ID())

	cfg := testConfig()
	cfg.BatchTimeout = 100 * time.Millisecond
	s := newTestScheduler(t, cfg, l, nil)

	res, err := s.Execute(context.Background(), jobs)
	require.NoError(t, err)

	assert.Equal(t, 2, l.callCount(jobs[0].ID()), "one launch plus one retry")
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Retried)
	require.Len(t, res.StillFailed, 1)
	assert.Equal(t, models.FailureRetryExhausted, res.Outcomes[0].Reason)
	assert.True(t, res.Outcomes[0].IsTerminal())

	path, err := report.WriteFailedRecord(filepath.Join(dir, "failed_ads"), "stamp", res.StillFailed)
	require.NoError(t, err)
	rec, err := report.ReadFailedRecord(path)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.FailedCount)
	assert.Equal(t, jobs[0].ID(), rec.Creatives[0].AircheckID)
}

func TestExecuteRecoversOnRetry(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)
	jobs := creatives(4)
	l.set(secondTry, jobs[1].ID(), jobs[3].ID())

	s := newTestScheduler(t, testConfig(), l, nil)
	res, err := s.Execute(context.Background(), jobs)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Succeeded)
	assert.Equal(t, 2, res.Retried)
	assert.Equal(t, 2, res.Recovered)
	assert.Empty(t, res.StillFailed)
	assert.Equal(t, 2, res.Outcomes[1].Attempts)
}

func TestRetryIsSerial(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)
	l.hold = 20 * time.Millisecond
	jobs := creatives(6)
	for _, j := range jobs {
		l.set(never, j.ID())
	}

	s := newTestScheduler(t, testConfig(), l, nil)
	_, err := s.RunBatches(context.Background(), jobs)
	require.NoError(t, err)

	failed := s.Aggregator().Failed()
	require.Len(t, failed, 6)

	l.resetMax()
	still := s.retrier.Retry(context.Background(), failed)
	assert.Len(t, still, 6)
	assert.Equal(t, 1, l.max(), "retries never overlap")

	// A second pass finds nothing eligible.
	assert.Empty(t, s.Aggregator().Failed())
}

func TestExecuteLaunchError(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)
	jobs := creatives(3)
	l.set(launchFail, jobs[0].ID())

	cfg := testConfig()
	cfg.Retry = false
	s := newTestScheduler(t, cfg, l, nil)

	res, err := s.Execute(context.Background(), jobs)
	require.NoError(t, err, "per-job failures never abort the run")

	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, models.FailureLaunchError, res.Outcomes[0].Reason)
	assert.Contains(t, res.Outcomes[0].LaunchErr, "executable not found")
	assert.Zero(t, res.Retried)
}

func TestExecuteHungLaunchIsKilled(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)
	jobs := creatives(2)
	l.set(hang, jobs[0].ID())

	cfg := testConfig()
	cfg.BatchTimeout = 50 * time.Millisecond
	cfg.ShutdownGrace = 50 * time.Millisecond
	s := newTestScheduler(t, cfg, l, nil)

	done := make(chan report.RunResult)
	go func() {
		res, _ := s.Execute(context.Background(), jobs)
		done <- res
	}()

	select {
	case res := <-done:
		assert.Equal(t, 1, res.Succeeded)
		assert.Equal(t, 1, res.Failed)
		assert.Equal(t, 2, l.callCount(jobs[0].ID()))
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestOneOutcomePerJobUnderOverlap(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)
	jobs := creatives(97)
	for i := 0; i < len(jobs); i += 5 {
		l.set(never, jobs[i].ID())
	}

	cfg := testConfig()
	cfg.BatchSize = 4
	cfg.Workers = 2
	cfg.BatchTimeout = 500 * time.Millisecond
	s := newTestScheduler(t, cfg, l, nil)

	res, err := s.Execute(context.Background(), jobs)
	require.NoError(t, err)

	assert.Equal(t, 25, res.Batches)
	require.Equal(t, len(jobs), res.Total)
	seen := make(map[string]bool)
	for i, o := range res.Outcomes {
		assert.False(t, seen[o.Job.ID()], "duplicate outcome for %s", o.Job.ID())
		seen[o.Job.ID()] = true
		assert.Equal(t, jobs[i].ID(), o.Job.ID(), "snapshot keeps input order")
		assert.NotEqual(t, models.OutcomePending, o.Status)
	}
	assert.Equal(t, 20, res.Failed)
}

func TestStaggerSeparatesBatchStarts(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)

	cfg := testConfig()
	cfg.BatchSize = 2
	cfg.StaggerDelay = 40 * time.Millisecond
	s := newTestScheduler(t, cfg, l, nil)

	start := time.Now()
	n, err := s.RunBatches(context.Background(), creatives(6))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond, "two stagger sleeps between three batches")
}

func TestPoolRunsInSubmissionOrder(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)
	pool := NewPool(context.Background(), 1, l, metrics.NewRecorder())

	jobs := creatives(5)
	futures := make([]*Future, len(jobs))
	for i, j := range jobs {
		futures[i] = pool.Submit(j)
	}
	require.NoError(t, pool.Shutdown(time.Second))

	var want []string
	for i, f := range futures {
		assert.True(t, f.Settled())
		assert.NoError(t, f.LaunchErr())
		want = append(want, jobs[i].ID())
	}
	assert.Equal(t, want, l.launchOrder())
}

func TestPoolShutdownKillsStragglers(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)
	jobs := creatives(1)
	l.set(hang, jobs[0].ID())

	pool := NewPool(context.Background(), 1, l, metrics.NewRecorder())
	f := pool.Submit(jobs[0])

	err := pool.Shutdown(20 * time.Millisecond)
	assert.True(t, errors.Is(err, ErrStragglers))
	assert.True(t, f.Settled())
	assert.Zero(t, pool.InFlight())

	late := pool.Submit(creatives(2)[1])
	assert.True(t, late.Settled())
	assert.ErrorIs(t, late.LaunchErr(), getmedia.ErrLaunch)
}

type recordingReporter struct {
	mu      sync.Mutex
	batches []int
	retries int
}

func (r *recordingReporter) WriteBatch(s report.Section) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, s.Batch)
	return nil
}

func (r *recordingReporter) WriteRetry(entries []report.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries += len(entries)
	return nil
}

func TestReporterSeesEveryBatchAndRetry(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)
	jobs := creatives(9)
	l.set(never, jobs[8].ID())

	rep := &recordingReporter{}
	cfg := testConfig()
	cfg.BatchSize = 3
	cfg.BatchTimeout = 200 * time.Millisecond
	s := newTestScheduler(t, cfg, l, rep)

	_, err := s.Execute(context.Background(), jobs)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{1, 2, 3}, rep.batches)
	assert.Equal(t, 1, rep.retries)
}

func TestProgressReportContents(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)
	jobs := creatives(3)
	l.set(never, jobs[2].ID())

	path := filepath.Join(dir, "summary.txt")
	pw, err := report.NewProgressWriter(path, report.Header{Jobs: 3})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.BatchTimeout = 200 * time.Millisecond
	s := newTestScheduler(t, cfg, l, pw)
	res, err := s.Execute(context.Background(), jobs)
	require.NoError(t, err)
	require.NoError(t, pw.Close(res))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Equal(t, 1, strings.Count(text, "BATCH 1 RESULTS:"))
	assert.Contains(t, text, "RETRY RESULTS:")
	assert.Contains(t, text, "FINAL SUMMARY:")
	assert.Contains(t, text, "  - "+jobs[2].ID()+": "+jobs[2].DisplayName())
}

func TestExecuteSkipsRepeatedJobIDs(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)
	jobs := creatives(6)
	jobs[4] = jobs[1]

	cfg := testConfig()
	cfg.BatchSize = 3
	s := newTestScheduler(t, cfg, l, nil)

	res, err := s.Execute(context.Background(), jobs)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Batches)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 5, res.Succeeded)
	assert.Zero(t, res.Pending)
	assert.Equal(t, 1, l.callCount(jobs[1].ID()))

	var ids []string
	for _, o := range res.Outcomes {
		ids = append(ids, o.Job.ID())
	}
	assert.Equal(t, []string{"00001", "00002", "00003", "00004", "00006"}, ids)

	// Jobs the aggregator already holds are not launched again.
	res, err = s.Execute(context.Background(), creatives(2))
	require.NoError(t, err)
	assert.Zero(t, res.Batches)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 1, l.callCount("00001"))
}

func TestRetryOfHungJobIsBounded(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)
	jobs := creatives(1)
	l.set(hang, jobs[0].ID())

	cfg := testConfig()
	cfg.BatchTimeout = 0
	cfg.RetryTimeout = 100 * time.Millisecond
	cfg.ShutdownGrace = 50 * time.Millisecond
	s := newTestScheduler(t, cfg, l, nil)

	done := make(chan report.RunResult)
	go func() {
		res, _ := s.Execute(context.Background(), jobs)
		done <- res
	}()

	select {
	case res := <-done:
		assert.Equal(t, 1, res.Failed)
		assert.Equal(t, 2, l.callCount(jobs[0].ID()))
		assert.Equal(t, models.FailureRetryExhausted, res.Outcomes[0].Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("retry of a hung job was never killed")
	}
}

func TestArtifactBeforeTimeoutWhileStillRunning(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)
	jobs := creatives(1)
	l.set(writeThenHang, jobs[0].ID())

	cfg := testConfig()
	cfg.BatchTimeout = 100 * time.Millisecond
	cfg.ShutdownGrace = 50 * time.Millisecond
	s := newTestScheduler(t, cfg, l, nil)

	res, err := s.Execute(context.Background(), jobs)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Succeeded)
	assert.Zero(t, res.Retried)
	assert.Equal(t, 1, l.callCount(jobs[0].ID()), "no retry for a job whose artifact exists")
}

func TestWatcherWritesSectionWhenRecordingFails(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)

	pw, err := report.NewProgressWriter(filepath.Join(dir, "summary.txt"), report.Header{Jobs: 4})
	require.NoError(t, err)
	s := newTestScheduler(t, testConfig(), l, pw)

	jobs := creatives(4)
	first := models.Batch{Seq: 1, Jobs: jobs[:2]}
	second := models.Batch{Seq: 2, Jobs: jobs[2:]}

	// Batch 1 is already recorded, so its watcher cannot record it again.
	agg := s.Aggregator()
	require.NoError(t, agg.Begin(first))
	done := []models.Outcome{
		{Job: jobs[0], Status: models.OutcomeSucceeded},
		{Job: jobs[1], Status: models.OutcomeSucceeded},
	}
	require.NoError(t, agg.RecordBatch(first, done))

	pool := NewPool(context.Background(), 4, l, metrics.NewRecorder())
	submit := func(b models.Batch) []*Future {
		futures := make([]*Future, len(b.Jobs))
		for i, j := range b.Jobs {
			futures[i] = pool.Submit(j)
		}
		return futures
	}
	firstFutures := submit(first)
	secondFutures := submit(second)
	require.NoError(t, pool.Shutdown(time.Second))

	err = s.watch(context.Background(), first, firstFutures, time.Now())
	assert.Error(t, err)
	require.NoError(t, s.watch(context.Background(), second, secondFutures, time.Now()))

	assert.Equal(t, 2, pw.Sections(), "batch 2 is written without waiting for Close")
}

func TestPoolShutdownWithoutGraceKillsAtOnce(t *testing.T) {
	dir := t.TempDir()
	l := newFakeLauncher(dir)
	jobs := creatives(1)
	l.set(hang, jobs[0].ID())

	pool := NewPool(context.Background(), 1, l, metrics.NewRecorder())
	f := pool.Submit(jobs[0])
	require.Eventually(t, func() bool { return pool.InFlight() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	err := pool.Shutdown(0)
	assert.ErrorIs(t, err, ErrStragglers)
	assert.True(t, f.Settled())
	assert.Less(t, time.Since(start), time.Second)
}
