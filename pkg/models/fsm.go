package models

import (
	"fmt"
	"time"
)

// OutcomeStatus is the state of a single job within a run
type OutcomeStatus string

const (
	OutcomePending   OutcomeStatus = "pending"   // Batch started, not yet probed
	OutcomeSucceeded OutcomeStatus = "succeeded" // Artifact observed
	OutcomeFailed    OutcomeStatus = "failed"    // Artifact absent or launch error
)

// FailureReason explains a failed outcome
type FailureReason string

const (
	FailureNone            FailureReason = ""
	FailureLaunchError     FailureReason = "launch_error"     // Tool could not be started
	FailureArtifactMissing FailureReason = "artifact_missing" // No artifact after the batch window
	FailureRetryExhausted  FailureReason = "retry_exhausted"  // Still no artifact after the retry pass
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[OutcomeStatus]map[OutcomeStatus]bool{
	OutcomePending: {
		OutcomeSucceeded: true, // artifact observed before the batch timeout
		OutcomeFailed:    true, // timeout without artifact, or launch error
	},
	OutcomeFailed: {
		OutcomeSucceeded: true, // retry produced the artifact
		OutcomeFailed:    true, // retry exhausted
	},
	OutcomeSucceeded: {},
}

// ValidateTransition checks if an outcome transition is valid
func ValidateTransition(from, to OutcomeStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// Outcome is the recorded result for one job. At most two transitions
// happen after creation: the first probe and the retry.
type Outcome struct {
	Job        Creative      `json:"job"`
	Batch      int           `json:"batch"`
	Status     OutcomeStatus `json:"status"`
	Reason     FailureReason `json:"reason,omitempty"`
	Attempts   int           `json:"attempts"`
	Retried    bool          `json:"retried"`
	LaunchErr  string        `json:"launch_error,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
}

// IsTerminal returns true once no further transition is allowed
func (o Outcome) IsTerminal() bool {
	switch o.Status {
	case OutcomeSucceeded:
		return true
	case OutcomeFailed:
		return o.Retried
	default:
		return false
	}
}

// CanRetry returns true if the outcome is eligible for the retry pass
func (o Outcome) CanRetry() bool {
	return o.Status == OutcomeFailed && !o.Retried
}
