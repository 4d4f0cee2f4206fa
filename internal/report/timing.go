package report

import "time"

// Timing records start/end timestamps only
type Timing struct {
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewTiming creates timing with current start time
func NewTiming() *Timing {
	return &Timing{StartedAt: time.Now()}
}

// Complete records completion time
func (t *Timing) Complete() {
	t.CompletedAt = time.Now()
}

// Duration returns the elapsed time, up to now if not complete
func (t *Timing) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.CompletedAt.Sub(t.StartedAt)
}
