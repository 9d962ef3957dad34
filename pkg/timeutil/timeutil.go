package timeutil

import (
	"math"
	"math/rand"
	"time"
)

// DurationPtr is a helper function to create a pointer to a time.Duration
func DurationPtr(d time.Duration) *time.Duration {
	return &d
}

// ComputeJitter returns a pseudo-random duration in [0, max) drawn from
// rng, or 0 when max <= 0.
func ComputeJitter(max time.Duration, rng rand.Rand) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(max)))
}

// ExponentialBackoffDelay computes the delay before the next retry attempt,
// given the attempt number (1-indexed), a jitter ceiling, an rng, and the
// backoff curve parameters. Delay is capped at param.MaxDuration(); jitter
// adds a pseudo-random amount in [0, jitter).
func ExponentialBackoffDelay(attempt int, jitter time.Duration, rng rand.Rand, param BackoffParam) time.Duration {
	exponent := float64(attempt - 1)
	delay := float64(param.InitialDuration()) * math.Pow(param.Multiplier(), exponent)
	if max := float64(param.MaxDuration()); max > 0 && delay > max {
		delay = max
	}
	if jitter > 0 {
		delay += float64(rng.Int63n(int64(jitter)))
	}
	return time.Duration(delay)
}

// MaxDuration returns the largest duration among ds, or 0 for an empty slice.
func MaxDuration(ds []time.Duration) time.Duration {
	var max time.Duration
	for i, d := range ds {
		if i == 0 || d > max {
			max = d
		}
	}
	return max
}
