package models

import "testing"

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    OutcomeStatus
		to      OutcomeStatus
		wantErr bool
	}{
		// Valid transitions
		{"Pending to Succeeded", OutcomePending, OutcomeSucceeded, false},
		{"Pending to Failed", OutcomePending, OutcomeFailed, false},
		{"Failed to Succeeded", OutcomeFailed, OutcomeSucceeded, false},
		{"Failed to Failed", OutcomeFailed, OutcomeFailed, false},

		// Invalid transitions
		{"Succeeded to Failed", OutcomeSucceeded, OutcomeFailed, true},
		{"Succeeded to Pending", OutcomeSucceeded, OutcomePending, true},
		{"Failed to Pending", OutcomeFailed, OutcomePending, true},
		{"Pending to Pending", OutcomePending, OutcomePending, true},
		{"Unknown source", OutcomeStatus("running"), OutcomeFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%v, %v) error = %v, wantErr %v",
					tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestOutcomeIsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		outcome  Outcome
		expected bool
	}{
		{"Pending is not terminal", Outcome{Status: OutcomePending}, false},
		{"Succeeded is terminal", Outcome{Status: OutcomeSucceeded}, true},
		{"Failed before retry is not terminal", Outcome{Status: OutcomeFailed}, false},
		{"Failed after retry is terminal", Outcome{Status: OutcomeFailed, Retried: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.outcome.IsTerminal(); got != tt.expected {
				t.Errorf("IsTerminal(%+v) = %v, want %v", tt.outcome, got, tt.expected)
			}
		})
	}
}

func TestOutcomeCanRetry(t *testing.T) {
	tests := []struct {
		name     string
		outcome  Outcome
		expected bool
	}{
		{"Failed can retry", Outcome{Status: OutcomeFailed}, true},
		{"Retried failure cannot retry", Outcome{Status: OutcomeFailed, Retried: true}, false},
		{"Succeeded cannot retry", Outcome{Status: OutcomeSucceeded}, false},
		{"Pending cannot retry", Outcome{Status: OutcomePending}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.outcome.CanRetry(); got != tt.expected {
				t.Errorf("CanRetry(%+v) = %v, want %v", tt.outcome, got, tt.expected)
			}
		})
	}
}
