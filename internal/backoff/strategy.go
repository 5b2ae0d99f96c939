package backoff

import (
	"time"
)

// Strategy computes the pre-jitter delay for a retry attempt.
// Attempts are 1-based: attempt 1 is the delay before the first retry.
type Strategy interface {
	Delay(attempt int, base, cap time.Duration) time.Duration
}

// FixedStrategy always waits base.
type FixedStrategy struct{}

// Delay implements Strategy.
func (FixedStrategy) Delay(attempt int, base, cap time.Duration) time.Duration {
	return clampCap(base, cap)
}

// LinearStrategy waits base * attempt.
type LinearStrategy struct{}

// Delay implements Strategy.
func (LinearStrategy) Delay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base * time.Duration(attempt)
	if d < 0 {
		return cap
	}
	return clampCap(d, cap)
}

// ExponentialStrategy waits min(base * 2^attempt, cap).
type ExponentialStrategy struct{}

// Delay implements Strategy.
func (ExponentialStrategy) Delay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Prevent overflow by limiting attempt
	if attempt > 30 {
		attempt = 30
	}
	d := time.Duration(float64(base) * pow(2.0, attempt))
	if d < 0 {
		return cap
	}
	return clampCap(d, cap)
}

func clampCap(d, cap time.Duration) time.Duration {
	if cap > 0 && d > cap {
		return cap
	}
	return d
}

// clampJitter ensures jitter is within valid bounds [0, 1].
func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
