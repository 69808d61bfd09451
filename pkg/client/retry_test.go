package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  1 * time.Second,
		Factor:    2.0,
		Jitter:    0.0, // Disable jitter for deterministic checks
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second}, // Capped at MaxDelay
		{5, 1 * time.Second}, // Capped at MaxDelay
	}

	for _, tt := range tests {
		got := p.Delay(tt.attempt)
		if got != tt.expected {
			t.Errorf("Delay(%d) = %v; want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestRetryPolicyJitterBounds(t *testing.T) {
	p := RetryPolicy{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  5 * time.Second,
		Factor:    2.0,
		Jitter:    0.1, // 10% jitter
	}

	for i := 0; i < 100; i++ {
		got := p.Delay(0)
		min := 90 * time.Millisecond  // 100 * 0.9
		max := 110 * time.Millisecond // 100 * 1.1

		if got < min || got > max {
			t.Errorf("Delay(0) with jitter = %v; want between %v and %v", got, min, max)
		}
	}
}

// TestRetryPolicyBoundsAttempts pins that a non-positive caller bound
// falls back to the policy's MaxAttempts against a workspace that
// stays at its ceiling.
func TestRetryPolicyBoundsAttempts(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "too many runs are currently active for this workspace (limit 3)"})
	}))
	c.SetRetryPolicy(RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 1, MaxAttempts: 3})

	_, err := c.ExecuteWithRetry(context.Background(), "g-1", nil, 0)
	if err == nil {
		t.Fatal("expected an error once the policy's attempts are spent")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts from the policy bound, got %d", got)
	}
}
