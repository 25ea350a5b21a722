package timeutil

import (
	"math"
	"math/rand"
	"time"
)

// durationPtr is a helper function to create a pointer to a time.Duration
func DurationPtr(d time.Duration) *time.Duration {
	return &d
}

// MaxDuration returns the largest duration in durations, or 0 for an empty
// slice. The input is read only, never reordered.
func MaxDuration(durations []time.Duration) time.Duration {
	var max time.Duration
	for i, d := range durations {
		if i == 0 || d > max {
			max = d
		}
	}
	return max
}

// ComputeJitter returns a pseudo-random duration in [0, max) using rng.
// max<=0 always yields 0, matching the "no jitter configured" case.
func ComputeJitter(max time.Duration, rng rand.Rand) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(max)))
}

// ExponentialBackoffDelay computes initialDuration * multiplier^(backoffCount-1),
// capped at maxDuration, plus up to jitter of additional random delay.
func ExponentialBackoffDelay(backoffCount int, jitter time.Duration, rng rand.Rand, backoffParam BackoffParam) time.Duration {
	exponent := float64(backoffCount - 1)
	delay := float64(backoffParam.InitialDuration()) * math.Pow(backoffParam.Multiplier(), exponent)
	if max := float64(backoffParam.MaxDuration()); delay > max {
		delay = max
	}
	if jitter > 0 {
		delay += float64(ComputeJitter(jitter, rng))
	}
	return time.Duration(delay)
}
