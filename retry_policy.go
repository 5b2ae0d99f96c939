package figrnet

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/EmerBV/figrnet/internal/backoff"
)

// BackoffStrategy selects how the delay grows between attempts.
type BackoffStrategy int

const (
	// BackoffExponential waits min(base * 2^attempt, cap).
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear waits base * attempt.
	BackoffLinear
	// BackoffFixed always waits base.
	BackoffFixed
)

func (s BackoffStrategy) String() string {
	switch s {
	case BackoffExponential:
		return "exponential"
	case BackoffLinear:
		return "linear"
	case BackoffFixed:
		return "fixed"
	}
	return fmt.Sprintf("BackoffStrategy(%d)", int(s))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *BackoffStrategy) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "exponential", "":
		*s = BackoffExponential
	case "linear":
		*s = BackoffLinear
	case "fixed":
		*s = BackoffFixed
	default:
		return fmt.Errorf("unknown backoff strategy %q", string(b))
	}
	return nil
}

// RetryPolicy bounds how often and how long a request is retried.
type RetryPolicy struct {
	// MaxAttempts counts the first try; 1 disables retries.
	MaxAttempts int
	Backoff     BackoffStrategy
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter perturbs every delay by ±25%.
	Jitter bool
	// MaxElapsed bounds the whole retry sequence; zero means unbounded.
	MaxElapsed time.Duration
}

// NoRetry performs a single attempt.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// IdempotentRetryPolicy is the default for GET, PUT, DELETE, HEAD, OPTIONS and
// for endpoints explicitly marked idempotent.
func IdempotentRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		Backoff:     BackoffExponential,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    16 * time.Second,
		Jitter:      true,
		MaxElapsed:  time.Minute,
	}
}

// ConservativeRetryPolicy allows one fixed-delay retry. It is the default for
// non-idempotent methods.
func ConservativeRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Backoff:     BackoffFixed,
		BaseDelay:   time.Second,
		MaxDelay:    time.Second,
		MaxElapsed:  30 * time.Second,
	}
}

// DefaultRetryPolicy picks the method-aware default.
func DefaultRetryPolicy(method string, idempotent bool) RetryPolicy {
	if idempotent || DefaultIsIdempotent(method) {
		return IdempotentRetryPolicy()
	}
	return ConservativeRetryPolicy()
}

// RetryContext describes the state of one retry sequence after an attempt
// has failed.
type RetryContext struct {
	Policy RetryPolicy
	// Attempt is the number of attempts made so far, starting at 1.
	Attempt   int
	LastError error
	Endpoint  string
	StartTime time.Time
}

// StopReason explains why retrying ended.
type StopReason int

const (
	StopNone StopReason = iota
	StopMaxAttempts
	StopMaxElapsed
	StopNonRetryable
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopMaxAttempts:
		return "max attempts reached"
	case StopMaxElapsed:
		return "max elapsed time exceeded"
	case StopNonRetryable:
		return "non-retryable error"
	}
	return fmt.Sprintf("StopReason(%d)", int(r))
}

// Decision is either retry-after-Delay or stop-because-Reason.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Reason StopReason
}

// RetryEngine turns a RetryContext into a Decision and performs the sleep.
type RetryEngine struct {
	clock       clock.Clock
	calculators map[BackoffStrategy]*backoff.Calculator
}

// NewRetryEngine creates an engine on clk.
func NewRetryEngine(clk clock.Clock) *RetryEngine {
	if clk == nil {
		clk = clock.New()
	}
	return &RetryEngine{
		clock: clk,
		calculators: map[BackoffStrategy]*backoff.Calculator{
			BackoffExponential: backoff.NewCalculator(backoff.ExponentialStrategy{}, backoff.DefaultJitter),
			BackoffLinear:      backoff.NewCalculator(backoff.LinearStrategy{}, backoff.DefaultJitter),
			BackoffFixed:       backoff.NewCalculator(backoff.FixedStrategy{}, backoff.DefaultJitter),
		},
	}
}

func (e *RetryEngine) calculator(s BackoffStrategy) *backoff.Calculator {
	if c, ok := e.calculators[s]; ok {
		return c
	}
	return e.calculators[BackoffExponential]
}

// BaseDelay returns the pre-jitter delay for attempt under policy.
func (e *RetryEngine) BaseDelay(policy RetryPolicy, attempt int) time.Duration {
	return e.calculator(policy.Backoff).Base(attempt, policy.BaseDelay, policy.MaxDelay)
}

// Decide applies the policy to rc.
func (e *RetryEngine) Decide(rc RetryContext) Decision {
	if !IsTransient(rc.LastError) {
		return Decision{Reason: StopNonRetryable}
	}
	if rc.Attempt >= rc.Policy.MaxAttempts {
		return Decision{Reason: StopMaxAttempts}
	}

	calc := e.calculator(rc.Policy.Backoff)
	var delay time.Duration
	if rc.Policy.Jitter {
		delay = calc.Calculate(rc.Attempt, rc.Policy.BaseDelay, rc.Policy.MaxDelay)
	} else {
		delay = calc.Base(rc.Attempt, rc.Policy.BaseDelay, rc.Policy.MaxDelay)
	}
	// A server hint overrides a shorter local delay.
	if hint, ok := RetryAfter(rc.LastError); ok && hint > delay {
		delay = hint
	}

	if rc.Policy.MaxElapsed > 0 && !rc.StartTime.IsZero() {
		if e.clock.Since(rc.StartTime)+delay > rc.Policy.MaxElapsed {
			return Decision{Reason: StopMaxElapsed}
		}
	}
	return Decision{Retry: true, Delay: delay}
}

// Wait sleeps for d on the engine clock or until ctx is done.
func (e *RetryEngine) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := e.clock.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds format and HTTP-date format.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := t.Sub(now)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}
