package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// DefaultJitter is the symmetric perturbation applied when jitter is enabled.
const DefaultJitter = 0.25

// Calculator pairs a Strategy with symmetric jitter. A zero jitter fraction
// yields the strategy's exact delay.
type Calculator struct {
	strategy Strategy
	jitter   float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewCalculator creates a calculator. jitter is clamped to [0, 1].
func NewCalculator(strategy Strategy, jitter float64) *Calculator {
	if strategy == nil {
		strategy = ExponentialStrategy{}
	}
	return &Calculator{
		strategy: strategy,
		jitter:   clampJitter(jitter),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSeed replaces the random source, for deterministic tests.
func (c *Calculator) WithSeed(seed int64) *Calculator {
	c.mu.Lock()
	c.rnd = rand.New(rand.NewSource(seed))
	c.mu.Unlock()
	return c
}

// Strategy returns the configured strategy.
func (c *Calculator) Strategy() Strategy {
	return c.strategy
}

// Base returns the delay for attempt before jitter.
func (c *Calculator) Base(attempt int, base, cap time.Duration) time.Duration {
	return c.strategy.Delay(attempt, base, cap)
}

// Calculate returns the jittered delay for attempt: d * (1 ± jitter).
func (c *Calculator) Calculate(attempt int, base, cap time.Duration) time.Duration {
	d := c.strategy.Delay(attempt, base, cap)
	if c.jitter == 0 || d <= 0 {
		return d
	}
	c.mu.Lock()
	f := c.rnd.Float64()
	c.mu.Unlock()
	return Jitter(d, c.jitter, f)
}

// Jitter perturbs d by ±fraction using r in [0, 1).
func Jitter(d time.Duration, fraction, r float64) time.Duration {
	fraction = clampJitter(fraction)
	factor := 1 - fraction + 2*fraction*r
	return time.Duration(float64(d) * factor)
}
