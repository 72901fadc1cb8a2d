package jobs

import (
	"testing"
	"time"
)

func TestBackoffDelayExponential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		got := backoffDelay(BackoffExponential, time.Second, 30*time.Second, tt.attempts)
		if got != tt.want {
			t.Fatalf("backoffDelay(exponential, attempts=%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestBackoffDelayFixed(t *testing.T) {
	t.Parallel()

	for attempts := 1; attempts <= 10; attempts++ {
		got := backoffDelay(BackoffFixed, time.Second, 30*time.Second, attempts)
		if got != time.Second {
			t.Fatalf("backoffDelay(fixed, attempts=%d) = %v, want %v", attempts, got, time.Second)
		}
	}
}

func TestBackoffDelayDefaults(t *testing.T) {
	t.Parallel()

	// Zero base and cap fall back to 1s/30s.
	if got := backoffDelay(BackoffExponential, 0, 0, 1); got != time.Second {
		t.Fatalf("default base = %v, want 1s", got)
	}
	if got := backoffDelay(BackoffExponential, 0, 0, 10); got != 30*time.Second {
		t.Fatalf("default cap = %v, want 30s", got)
	}
	// A fixed base above the cap is clamped.
	if got := backoffDelay(BackoffFixed, time.Minute, 30*time.Second, 1); got != 30*time.Second {
		t.Fatalf("fixed clamp = %v, want 30s", got)
	}
}
