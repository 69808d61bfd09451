package client

import (
	"math/rand"
	"time"
)

// RetryPolicy governs how ExecuteWithRetry waits out transient
// rejections: the workspace admission ceiling (429) and a full
// execution backlog (503). Both clear as soon as an active run in the
// workspace reaches a terminal state, so the delay grows from a short
// base toward MaxDelay rather than giving up early.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	Jitter    float64 // 0.0 to 1.0
	// MaxAttempts bounds Execute calls when the caller does not pass
	// its own bound.
	MaxAttempts int
}

// DefaultRetryPolicy starts at 200ms and doubles toward 5s, which
// spans a few short runs draining from the default ceiling of three.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Factor:      2.0,
		Jitter:      0.2,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before retrying the given attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		return p.BaseDelay
	}

	delay := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.Factor
	}
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	// delay * (1 +/- Jitter), so clients contending for the same
	// workspace slot spread out instead of re-colliding at the ceiling.
	if p.Jitter > 0 {
		delay += delay * (rand.Float64()*2 - 1) * p.Jitter
	}

	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}
