package metrics

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
	"github.com/psantana5/airplay-fetch/pkg/fsutil"
)

const namespace = "airplay"

// Recorder holds the counters of one download run. Each recorder owns its
// registry so several runs (or tests) never collide on the default one.
type Recorder struct {
	registry *prometheus.Registry

	launches      prometheus.Counter
	launchErrors  prometheus.Counter
	inFlight      prometheus.Gauge
	outcomes      *prometheus.CounterVec
	retries       *prometheus.CounterVec
	rejected      prometheus.Counter
	batches       prometheus.Counter
	batchDuration prometheus.Histogram
}

// NewRecorder creates a recorder and registers its collectors
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		launches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launches_total",
			Help:      "Fetch tool launches, including retries",
		}),
		launchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launch_errors_total",
			Help:      "Launches whose process could not be started",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "launches_in_flight",
			Help:      "Fetch tool processes currently running",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Job outcomes recorded after the batch pass",
		}, []string{"status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retry attempts by result",
		}, []string{"result"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_descriptors_total",
			Help:      "Job descriptors rejected at load time",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches started",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time from batch start until its outcomes were recorded",
			Buckets:   []float64{1, 5, 10, 30, 60, 90, 120, 300, 600},
		}),
	}

	r.registry.MustRegister(
		r.launches, r.launchErrors, r.inFlight, r.outcomes,
		r.retries, r.rejected, r.batches, r.batchDuration,
		collectors.NewGoCollector(),
	)
	return r
}

// Registry exposes the recorder's registry for HTTP export
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// LaunchStarted counts a launch and marks it in flight
func (r *Recorder) LaunchStarted() {
	r.launches.Inc()
	r.inFlight.Inc()
}

// LaunchFinished marks a launch as no longer in flight
func (r *Recorder) LaunchFinished(launchErr error) {
	r.inFlight.Dec()
	if launchErr != nil {
		r.launchErrors.Inc()
	}
}

// Outcome counts a first-pass outcome
func (r *Recorder) Outcome(status string) {
	r.outcomes.WithLabelValues(status).Inc()
}

// Retry counts a retry attempt
func (r *Recorder) Retry(succeeded bool) {
	result := "failed"
	if succeeded {
		result = "succeeded"
	}
	r.retries.WithLabelValues(result).Inc()
}

// Rejected counts descriptors rejected at load
func (r *Recorder) Rejected(n int) {
	r.rejected.Add(float64(n))
}

// BatchStarted counts a started batch
func (r *Recorder) BatchStarted() {
	r.batches.Inc()
}

// BatchRecorded observes a batch duration
func (r *Recorder) BatchRecorded(d time.Duration) {
	r.batchDuration.Observe(d.Seconds())
}

// WriteText encodes every metric family in the Prometheus text format
func (r *Recorder) WriteText(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	encoder := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteTextfile dumps the metrics for a node_exporter textfile collector
func (r *Recorder) WriteTextfile(path string) error {
	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		return err
	}
	return fsutil.WriteBytes(path, buf.Bytes())
}
