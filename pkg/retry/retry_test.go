package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(max int) Config {
	return Config{
		MaxRetries:     max,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("Do() calls = %d, want 3", calls)
	}
}

func TestDoExhausts(t *testing.T) {
	calls := 0
	sentinel := errors.New("503 service unavailable")
	err := Do(context.Background(), fastConfig(2), func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Do() error = %v, want wrapped %v", err, sentinel)
	}
	if calls != 3 {
		t.Errorf("Do() calls = %d, want 3", calls)
	}
}

func TestDoPermanentStops(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad credentials")
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Do() error = %v, want %v", err, sentinel)
	}
	if calls != 1 {
		t.Errorf("Do() calls = %d, want 1", calls)
	}
}

func TestDoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastConfig(3), func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("HTTP 502 bad gateway"), true},
		{errors.New("invalid station"), false},
		{Permanent(errors.New("timeout")), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
