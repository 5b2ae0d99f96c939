package figrnet

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RateLimiter is a client-side token bucket. It holds up to max tokens and
// regains one every interval.
type RateLimiter struct {
	mu       sync.Mutex
	clock    clock.Clock
	max      int64
	tokens   int64
	interval time.Duration
	last     time.Time
}

// RateLimiterStats is a point-in-time view of a limiter.
type RateLimiterStats struct {
	CurrentTokens   int64
	MaxTokens       int64
	RefillRate      time.Duration
	LastRefill      time.Time
	TokensPerSecond float64
	Utilization     float64
}

// NewRateLimiter creates a full bucket of maxTokens refilled one token per
// refillRate.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return newRateLimiter(clock.New(), maxTokens, refillRate)
}

func newRateLimiter(clk clock.Clock, maxTokens int, refillRate time.Duration) *RateLimiter {
	if maxTokens <= 0 {
		maxTokens = 1
	}
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &RateLimiter{
		clock:    clk,
		max:      int64(maxTokens),
		tokens:   int64(maxTokens),
		interval: refillRate,
		last:     clk.Now(),
	}
}

// Allow consumes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	_, ok := rl.Reserve()
	return ok
}

// Reserve consumes a token if one is available. Otherwise it returns how
// long until the next token arrives.
func (rl *RateLimiter) Reserve() (wait time.Duration, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	rl.refill(now)
	if rl.tokens > 0 {
		rl.tokens--
		return 0, true
	}
	return rl.last.Add(rl.interval).Sub(now), false
}

// refill adds whole tokens for the elapsed time. last only advances by the
// intervals consumed so partial progress toward the next token is kept,
// including when the bucket reaches max. A bucket that is already full
// earns nothing.
func (rl *RateLimiter) refill(now time.Time) {
	if rl.tokens >= rl.max {
		rl.last = now
		return
	}
	elapsed := now.Sub(rl.last)
	if elapsed < rl.interval {
		return
	}
	n := int64(elapsed / rl.interval)
	rl.tokens += n
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
	rl.last = rl.last.Add(time.Duration(n) * rl.interval)
}

// Reset refills the bucket.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	rl.tokens = rl.max
	rl.last = rl.clock.Now()
	rl.mu.Unlock()
}

// Stats returns the current token count after refill.
func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(rl.clock.Now())
	return RateLimiterStats{
		CurrentTokens:   rl.tokens,
		MaxTokens:       rl.max,
		RefillRate:      rl.interval,
		LastRefill:      rl.last,
		TokensPerSecond: float64(time.Second) / float64(rl.interval),
		Utilization:     float64(rl.tokens) / float64(rl.max),
	}
}

// RateLimit configures a bucket: Burst requests at once, one more every
// Every.
type RateLimit struct {
	Burst int
	Every time.Duration
}

// RateLimiterRegistry holds one limiter per breaker key, falling back to a
// shared default. Endpoints with neither are not limited.
type RateLimiterRegistry struct {
	mu       sync.RWMutex
	clock    clock.Clock
	limiters map[string]*RateLimiter
	fallback *RateLimiter
}

// NewRateLimiterRegistry builds limiters for each configured key. fallback
// may be nil.
func NewRateLimiterRegistry(clk clock.Clock, fallback *RateLimit, perKey map[string]RateLimit) *RateLimiterRegistry {
	if clk == nil {
		clk = clock.New()
	}
	r := &RateLimiterRegistry{clock: clk, limiters: make(map[string]*RateLimiter, len(perKey))}
	if fallback != nil {
		r.fallback = newRateLimiter(clk, fallback.Burst, fallback.Every)
	}
	for k, l := range perKey {
		r.limiters[k] = newRateLimiter(clk, l.Burst, l.Every)
	}
	return r
}

// Register installs or replaces the limiter for key.
func (r *RateLimiterRegistry) Register(key string, l RateLimit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[key] = newRateLimiter(r.clock, l.Burst, l.Every)
}

// Limiter returns the limiter governing key, or nil.
func (r *RateLimiterRegistry) Limiter(key string) *RateLimiter {
	r.mu.RLock()
	l, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return l
	}
	return r.fallback
}

// Allow takes a token for key. When refused it returns the wait until the
// next token.
func (r *RateLimiterRegistry) Allow(key string) (time.Duration, bool) {
	l := r.Limiter(key)
	if l == nil {
		return 0, true
	}
	return l.Reserve()
}
