package figrnet

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// CircuitBreakerConfig holds circuit breaker thresholds for one endpoint.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures within Window that opens
	// the circuit, once MinimumRequests outcomes have been seen.
	FailureThreshold int           `yaml:"failure_threshold" toml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" toml:"recovery_timeout"`
	// SuccessThreshold is both the consecutive successes needed to close
	// from half-open and the number of concurrent half-open probes.
	SuccessThreshold int           `yaml:"success_threshold" toml:"success_threshold"`
	Window           time.Duration `yaml:"window" toml:"window"`
	MinimumRequests  int           `yaml:"minimum_requests" toml:"minimum_requests"`
}

// DefaultCircuitBreakerConfig is used by endpoints without a class preset.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
		Window:           60 * time.Second,
		MinimumRequests:  10,
	}
}

// AggressiveCircuitBreakerConfig trips early and recovers quickly. Used for
// auth and refresh endpoints.
func AggressiveCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  10 * time.Second,
		SuccessThreshold: 2,
		Window:           30 * time.Second,
		MinimumRequests:  5,
	}
}

// ConservativeCircuitBreakerConfig tolerates more failures before tripping.
// Used for user-data endpoints.
func ConservativeCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 10,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 5,
		Window:           120 * time.Second,
		MinimumRequests:  20,
	}
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	d := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MinimumRequests <= 0 {
		c.MinimumRequests = 1
	}
	return c
}

// Outcome is the result reported for an admitted call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	// OutcomeIgnored releases the admission without counting, e.g. when the
	// caller cancelled before a response arrived.
	OutcomeIgnored
)

// Permit is returned by Allow and must be handed back to Done exactly once.
type Permit struct {
	key   string
	gen   uint64
	probe bool
}

// CircuitSnapshot is a point-in-time view of one breaker.
type CircuitSnapshot struct {
	Key             string
	State           CircuitState
	Total           int
	Failures        int
	Successes       int
	ProbesInFlight  int
	LastStateChange time.Time
	// RetryAfter is the remaining cool-down while open.
	RetryAfter time.Duration
}

type outcomeRecord struct {
	at     time.Time
	failed bool
}

type circuitBreaker struct {
	config          CircuitBreakerConfig
	state           CircuitState
	gen             uint64
	outcomes        []outcomeRecord
	probes          int
	consecutive     int
	lastStateChange time.Time
}

type stateChange struct {
	key      string
	from, to CircuitState
}

// CircuitBreakerRegistry owns one breaker per endpoint key. All state is
// mutated under a single mutex.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	clock    clock.Clock
	defaults CircuitBreakerConfig
	breakers map[string]*circuitBreaker
	onChange func(key string, from, to CircuitState)
}

// NewCircuitBreakerRegistry creates a registry. defaults fill zero fields of
// per-endpoint configs.
func NewCircuitBreakerRegistry(clk clock.Clock, defaults CircuitBreakerConfig) *CircuitBreakerRegistry {
	if clk == nil {
		clk = clock.New()
	}
	return &CircuitBreakerRegistry{
		clock:    clk,
		defaults: defaults.withDefaults(),
		breakers: make(map[string]*circuitBreaker),
	}
}

// OnStateChange installs a hook invoked after every transition, outside the
// registry lock.
func (r *CircuitBreakerRegistry) OnStateChange(fn func(key string, from, to CircuitState)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Defaults returns the registry-wide fallback configuration.
func (r *CircuitBreakerRegistry) Defaults() CircuitBreakerConfig {
	return r.defaults
}

func (r *CircuitBreakerRegistry) breaker(key string, cfg *CircuitBreakerConfig) *circuitBreaker {
	cb, ok := r.breakers[key]
	if ok {
		return cb
	}
	c := r.defaults
	if cfg != nil {
		c = *cfg
		if c.FailureThreshold <= 0 {
			c.FailureThreshold = r.defaults.FailureThreshold
		}
		if c.RecoveryTimeout <= 0 {
			c.RecoveryTimeout = r.defaults.RecoveryTimeout
		}
		if c.SuccessThreshold <= 0 {
			c.SuccessThreshold = r.defaults.SuccessThreshold
		}
		if c.Window <= 0 {
			c.Window = r.defaults.Window
		}
		if c.MinimumRequests <= 0 {
			c.MinimumRequests = r.defaults.MinimumRequests
		}
	}
	cb = &circuitBreaker{
		config:          c,
		state:           StateClosed,
		lastStateChange: r.clock.Now(),
	}
	r.breakers[key] = cb
	return cb
}

// Allow admits a call for key or fails fast. cfg is only consulted the first
// time key is seen; nil means the registry defaults.
func (r *CircuitBreakerRegistry) Allow(key string, cfg *CircuitBreakerConfig) (Permit, error) {
	var changes []stateChange

	r.mu.Lock()
	now := r.clock.Now()
	cb := r.breaker(key, cfg)

	if cb.state == StateOpen {
		elapsed := now.Sub(cb.lastStateChange)
		if elapsed < cb.config.RecoveryTimeout {
			r.mu.Unlock()
			return Permit{}, &Error{
				Kind:       KindCircuitOpen,
				Message:    "circuit open",
				Endpoint:   key,
				RetryAfter: cb.config.RecoveryTimeout - elapsed,
				Timestamp:  now,
			}
		}
		changes = append(changes, r.transition(key, cb, StateHalfOpen, now))
	}

	var p Permit
	var err error
	switch cb.state {
	case StateHalfOpen:
		if cb.probes >= cb.config.SuccessThreshold {
			err = &Error{
				Kind:      KindHalfOpenLimitExceeded,
				Message:   "probe limit exceeded",
				Endpoint:  key,
				Timestamp: now,
			}
			break
		}
		cb.probes++
		p = Permit{key: key, gen: cb.gen, probe: true}
	default:
		p = Permit{key: key, gen: cb.gen}
	}
	hook := r.onChange
	r.mu.Unlock()

	notify(hook, changes)
	return p, err
}

// Done reports the outcome of a call admitted by Allow. Outcomes from permits
// issued before the latest transition are discarded.
func (r *CircuitBreakerRegistry) Done(p Permit, o Outcome) {
	if p.key == "" {
		return
	}
	var changes []stateChange

	r.mu.Lock()
	cb, ok := r.breakers[p.key]
	if !ok || cb.gen != p.gen {
		r.mu.Unlock()
		return
	}
	now := r.clock.Now()

	switch cb.state {
	case StateClosed:
		if o == OutcomeIgnored {
			break
		}
		cb.outcomes = append(cb.outcomes, outcomeRecord{at: now, failed: o == OutcomeFailure})
		cb.prune(now)
		total, failures := cb.counts()
		if total >= cb.config.MinimumRequests && failures >= cb.config.FailureThreshold {
			changes = append(changes, r.transition(p.key, cb, StateOpen, now))
		}
	case StateHalfOpen:
		if p.probe && cb.probes > 0 {
			cb.probes--
		}
		switch o {
		case OutcomeSuccess:
			cb.consecutive++
			if cb.consecutive >= cb.config.SuccessThreshold {
				changes = append(changes, r.transition(p.key, cb, StateClosed, now))
			}
		case OutcomeFailure:
			changes = append(changes, r.transition(p.key, cb, StateOpen, now))
		}
	}
	hook := r.onChange
	r.mu.Unlock()

	notify(hook, changes)
}

func (r *CircuitBreakerRegistry) transition(key string, cb *circuitBreaker, to CircuitState, now time.Time) stateChange {
	from := cb.state
	cb.state = to
	cb.gen++
	cb.lastStateChange = now
	cb.probes = 0
	cb.consecutive = 0
	if to == StateClosed {
		cb.outcomes = nil
	}
	return stateChange{key: key, from: from, to: to}
}

func notify(hook func(string, CircuitState, CircuitState), changes []stateChange) {
	if hook == nil {
		return
	}
	for _, c := range changes {
		hook(c.key, c.from, c.to)
	}
}

func (cb *circuitBreaker) prune(now time.Time) {
	cutoff := now.Add(-cb.config.Window)
	i := 0
	for i < len(cb.outcomes) && !cb.outcomes[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		cb.outcomes = append(cb.outcomes[:0], cb.outcomes[i:]...)
	}
}

func (cb *circuitBreaker) counts() (total, failures int) {
	for _, o := range cb.outcomes {
		if o.failed {
			failures++
		}
	}
	return len(cb.outcomes), failures
}

// State returns the current state for key without advancing it. Unknown keys
// are closed.
func (r *CircuitBreakerRegistry) State(key string) CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb.state
	}
	return StateClosed
}

// Snapshot returns the breaker statistics for key.
func (r *CircuitBreakerRegistry) Snapshot(key string) CircuitSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := CircuitSnapshot{Key: key, State: StateClosed}
	cb, ok := r.breakers[key]
	if !ok {
		return snap
	}
	now := r.clock.Now()
	cb.prune(now)
	total, failures := cb.counts()
	snap.State = cb.state
	snap.Total = total
	snap.Failures = failures
	snap.Successes = total - failures
	if cb.state == StateHalfOpen {
		snap.Successes = cb.consecutive
	}
	snap.ProbesInFlight = cb.probes
	snap.LastStateChange = cb.lastStateChange
	if cb.state == StateOpen {
		if remaining := cb.config.RecoveryTimeout - now.Sub(cb.lastStateChange); remaining > 0 {
			snap.RetryAfter = remaining
		}
	}
	return snap
}

// Keys lists every endpoint with a breaker record, sorted.
func (r *CircuitBreakerRegistry) Keys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.breakers))
	for k := range r.breakers {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Reset forces key back to closed with empty counters.
func (r *CircuitBreakerRegistry) Reset(key string) {
	var changes []stateChange
	r.mu.Lock()
	if cb, ok := r.breakers[key]; ok {
		c := r.transition(key, cb, StateClosed, r.clock.Now())
		if c.from != StateClosed {
			changes = append(changes, c)
		}
	}
	hook := r.onChange
	r.mu.Unlock()
	notify(hook, changes)
}
