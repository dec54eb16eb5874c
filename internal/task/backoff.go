package task

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy computes the delay before a retry attempt: exponential in
// the attempt count, capped at Max, with full jitter to avoid thundering
// herd when many jobs fail at once. Stateless and safe for concurrent use.
type RetryPolicy struct {
	// Base is the delay bound for the first retry.
	Base time.Duration
	// Max caps the delay bound. Zero means no cap.
	Max time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured:
// 1s base, 5m cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base: 1 * time.Second,
		Max:  5 * time.Minute,
	}
}

// Bound returns the deterministic delay ceiling for the given attempt
// (1-indexed): Base * 2^(attempt-1), capped at Max. It is monotonically
// non-decreasing in the attempt count.
func (p RetryPolicy) Bound(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.Base) * math.Pow(2, float64(attempt-1)))
	if d < 0 {
		// float overflow past the int64 range
		d = p.Max
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Delay returns a random duration in [0, Bound(attempt)].
func (p RetryPolicy) Delay(attempt int) time.Duration {
	bound := p.Bound(attempt)
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(bound) + 1)) //nolint:gosec // jitter intentionally uses non-crypto rand
}
