package figrnet

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const noBodySentinel = "-"

// Endpoint is an immutable request descriptor. Build one with NewEndpoint;
// every policy is resolved at construction and never recomputed per dispatch.
type Endpoint struct {
	method       string
	path         string
	header       http.Header
	query        url.Values
	body         []byte
	bodyErr      error
	class        EndpointClass
	requiresAuth bool
	isRefresh    bool
	idempotent   bool
	dedup        bool
	queueable    bool
	priority     Priority
	cachePolicy  CachePolicy
	cacheMaxAge  time.Duration
	retry        RetryPolicy
	breaker      CircuitBreakerConfig
	breakerSet   bool
	queueTTL     time.Duration
}

// EndpointOption customizes an Endpoint under construction.
type EndpointOption func(*endpointBuilder)

type endpointBuilder struct {
	e Endpoint

	authSet, dedupSet, queueSet, prioritySet, retrySet, breakerSet, ttlSet bool
}

// classPreset is the family of defaults an EndpointClass implies.
type classPreset struct {
	requiresAuth bool
	isRefresh    bool
	dedupExempt  bool
	queueable    bool
	idempotent   bool
	priority     Priority
	breaker      func() CircuitBreakerConfig
	queueTTL     time.Duration
}

var classPresets = map[EndpointClass]classPreset{
	ClassDefault: {
		queueable: true,
		priority:  PriorityNormal,
		breaker:   DefaultCircuitBreakerConfig,
		queueTTL:  time.Hour,
	},
	ClassAuth: {
		dedupExempt: true,
		queueable:   true,
		priority:    PriorityCritical,
		breaker:     AggressiveCircuitBreakerConfig,
		queueTTL:    5 * time.Minute,
	},
	ClassRefresh: {
		isRefresh:   true,
		dedupExempt: true,
		priority:    PriorityCritical,
		breaker:     AggressiveCircuitBreakerConfig,
		queueTTL:    5 * time.Minute,
	},
	ClassUserData: {
		requiresAuth: true,
		queueable:    true,
		priority:     PriorityHigh,
		breaker:      ConservativeCircuitBreakerConfig,
		queueTTL:     5 * time.Minute,
	},
	ClassContent: {
		requiresAuth: true,
		queueable:    true,
		priority:     PriorityNormal,
		breaker:      DefaultCircuitBreakerConfig,
		queueTTL:     24 * time.Hour,
	},
	ClassSearch: {
		requiresAuth: true,
		idempotent:   true,
		priority:     PriorityLow,
		breaker:      DefaultCircuitBreakerConfig,
		queueTTL:     time.Hour,
	},
}

// NewEndpoint builds an endpoint for method and path. path may be relative
// to the client base URL or absolute.
func NewEndpoint(method, path string, opts ...EndpointOption) Endpoint {
	b := &endpointBuilder{e: Endpoint{
		method:      strings.ToUpper(method),
		path:        path,
		header:      http.Header{},
		query:       url.Values{},
		cacheMaxAge: 5 * time.Minute,
	}}
	for _, opt := range opts {
		opt(b)
	}
	b.resolve()
	return b.e
}

func (b *endpointBuilder) resolve() {
	e := &b.e
	preset, ok := classPresets[e.class]
	if !ok {
		preset = classPresets[ClassDefault]
	}
	if preset.isRefresh {
		e.isRefresh = true
	}
	if e.isRefresh {
		e.requiresAuth = false
	} else if !b.authSet {
		e.requiresAuth = preset.requiresAuth
	}
	if preset.idempotent {
		e.idempotent = true
	}
	if !b.dedupSet {
		e.dedup = !preset.dedupExempt && !e.isRefresh && (isReadMethod(e.method) || preset.idempotent)
	}
	if !b.queueSet {
		e.queueable = preset.queueable && isWriteMethod(e.method)
	}
	if !b.prioritySet {
		e.priority = preset.priority
	}
	if !b.retrySet {
		e.retry = DefaultRetryPolicy(e.method, e.idempotent)
	}
	if !b.breakerSet {
		e.breaker = preset.breaker()
	}
	e.breakerSet = b.breakerSet
	if !b.ttlSet {
		e.queueTTL = preset.queueTTL
	}
	if e.method != http.MethodGet && e.method != http.MethodHead {
		e.cachePolicy = CacheNone
	}
}

// WithClass tags the endpoint with a class whose presets fill every
// setting not given explicitly.
func WithClass(c EndpointClass) EndpointOption {
	return func(b *endpointBuilder) { b.e.class = c }
}

// WithHeader adds a request header.
func WithHeader(key, value string) EndpointOption {
	return func(b *endpointBuilder) { b.e.header.Add(key, value) }
}

// WithQuery adds query parameters.
func WithQuery(key string, values ...string) EndpointOption {
	return func(b *endpointBuilder) {
		for _, v := range values {
			b.e.query.Add(key, v)
		}
	}
}

// WithBody sets the raw request body and its content type.
func WithBody(contentType string, body []byte) EndpointOption {
	return func(b *endpointBuilder) {
		b.e.body = append([]byte(nil), body...)
		if contentType != "" {
			b.e.header.Set("Content-Type", contentType)
		}
	}
}

// WithJSONBody marshals v as the request body. A marshal error is reported
// when the endpoint is dispatched.
func WithJSONBody(v any) EndpointOption {
	return func(b *endpointBuilder) {
		data, err := json.Marshal(v)
		if err != nil {
			b.e.bodyErr = err
			return
		}
		b.e.body = data
		b.e.header.Set("Content-Type", "application/json")
	}
}

// WithAuth overrides whether a bearer token is attached.
func WithAuth(required bool) EndpointOption {
	return func(b *endpointBuilder) {
		b.e.requiresAuth = required
		b.authSet = true
	}
}

// AsRefreshEndpoint marks the endpoint as the token refresh call: it never
// carries the access token and never triggers a refresh itself.
func AsRefreshEndpoint() EndpointOption {
	return func(b *endpointBuilder) { b.e.isRefresh = true }
}

// AsIdempotent marks a non-idempotent method as safe to retry with the
// idempotent defaults.
func AsIdempotent() EndpointOption {
	return func(b *endpointBuilder) { b.e.idempotent = true }
}

// WithDeduplication overrides the class dedup setting.
func WithDeduplication(enabled bool) EndpointOption {
	return func(b *endpointBuilder) {
		b.e.dedup = enabled
		b.dedupSet = true
	}
}

// WithOfflineQueue overrides whether failures while offline are queued.
func WithOfflineQueue(enabled bool) EndpointOption {
	return func(b *endpointBuilder) {
		b.e.queueable = enabled
		b.queueSet = true
	}
}

// WithPriority sets the offline queue and background priority.
func WithPriority(p Priority) EndpointOption {
	return func(b *endpointBuilder) {
		b.e.priority = p
		b.prioritySet = true
	}
}

// WithCachePolicy sets the cache policy and the default max-age. Only GET
// and HEAD endpoints are ever cached.
func WithCachePolicy(p CachePolicy, maxAge time.Duration) EndpointOption {
	return func(b *endpointBuilder) {
		b.e.cachePolicy = p
		if maxAge > 0 {
			b.e.cacheMaxAge = maxAge
		}
	}
}

// WithRetryPolicy replaces the method-aware retry default.
func WithRetryPolicy(p RetryPolicy) EndpointOption {
	return func(b *endpointBuilder) {
		if p.MaxAttempts < 1 {
			p.MaxAttempts = 1
		}
		b.e.retry = p
		b.retrySet = true
	}
}

// WithEndpointCircuitBreaker replaces the class breaker preset.
func WithEndpointCircuitBreaker(c CircuitBreakerConfig) EndpointOption {
	return func(b *endpointBuilder) {
		b.e.breaker = c
		b.breakerSet = true
	}
}

// WithQueueTTL sets how long a queued copy of this request stays valid.
func WithQueueTTL(d time.Duration) EndpointOption {
	return func(b *endpointBuilder) {
		b.e.queueTTL = d
		b.ttlSet = true
	}
}

func (e Endpoint) Method() string                       { return e.method }
func (e Endpoint) Path() string                         { return e.path }
func (e Endpoint) Class() EndpointClass                 { return e.class }
func (e Endpoint) RequiresAuth() bool                   { return e.requiresAuth }
func (e Endpoint) IsRefresh() bool                      { return e.isRefresh }
func (e Endpoint) Idempotent() bool                     { return e.idempotent || DefaultIsIdempotent(e.method) }
func (e Endpoint) Deduplicated() bool                   { return e.dedup }
func (e Endpoint) Queueable() bool                      { return e.queueable }
func (e Endpoint) Priority() Priority                   { return e.priority }
func (e Endpoint) CachePolicy() CachePolicy             { return e.cachePolicy }
func (e Endpoint) CacheMaxAge() time.Duration           { return e.cacheMaxAge }
func (e Endpoint) RetryPolicy() RetryPolicy             { return e.retry }
func (e Endpoint) CircuitBreaker() CircuitBreakerConfig { return e.breaker }
func (e Endpoint) QueueTTL() time.Duration              { return e.queueTTL }

// Header returns a copy of the request headers.
func (e Endpoint) Header() http.Header { return e.header.Clone() }

// Query returns a copy of the query parameters.
func (e Endpoint) Query() url.Values {
	q := make(url.Values, len(e.query))
	for k, v := range e.query {
		q[k] = append([]string(nil), v...)
	}
	return q
}

// Body returns a copy of the request body.
func (e Endpoint) Body() []byte { return append([]byte(nil), e.body...) }

// BreakerKey identifies the endpoint for circuit breaking: method and path,
// query excluded.
func (e Endpoint) BreakerKey() string {
	return e.method + " " + e.path
}

// breakerOverride returns the breaker config to register the endpoint with,
// or nil when the client-wide defaults apply.
func (e Endpoint) breakerOverride() *CircuitBreakerConfig {
	if !e.breakerSet && e.class == ClassDefault {
		return nil
	}
	cfg := e.breaker
	return &cfg
}

// DedupKey derives the deduplication key: method, path, sorted query and a
// SHA-256 of the body.
func (e Endpoint) DedupKey() string {
	var sb strings.Builder
	sb.WriteString(e.method)
	sb.WriteByte(' ')
	sb.WriteString(e.path)
	sb.WriteByte('?')
	sb.WriteString(sortedQuery(e.query))
	sb.WriteByte('#')
	if len(e.body) == 0 {
		sb.WriteString(noBodySentinel)
	} else {
		sum := sha256.Sum256(e.body)
		sb.WriteString(hex.EncodeToString(sum[:]))
	}
	return sb.String()
}

// CacheKey is the method, path and sorted query.
func (e Endpoint) CacheKey() string {
	if len(e.query) == 0 {
		return e.method + " " + e.path
	}
	return e.method + " " + e.path + "?" + sortedQuery(e.query)
}

// sortedQuery encodes values with keys and each key's values sorted.
func sortedQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(k))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
		}
	}
	return sb.String()
}

// EndpointSnapshot is the serialisable form of an Endpoint, stored by the
// offline queue.
type EndpointSnapshot struct {
	Method       string              `json:"method"`
	Path         string              `json:"path"`
	Header       map[string][]string `json:"header,omitempty"`
	Query        map[string][]string `json:"query,omitempty"`
	Body         []byte              `json:"body,omitempty"`
	Class        EndpointClass       `json:"class"`
	RequiresAuth bool                `json:"requires_auth"`
	Idempotent   bool                `json:"idempotent,omitempty"`
	Priority     Priority            `json:"priority"`
	QueueTTL     time.Duration       `json:"queue_ttl"`
}

// Snapshot captures the endpoint for persistence.
func (e Endpoint) Snapshot() EndpointSnapshot {
	return EndpointSnapshot{
		Method:       e.method,
		Path:         e.path,
		Header:       e.Header(),
		Query:        e.Query(),
		Body:         e.Body(),
		Class:        e.class,
		RequiresAuth: e.requiresAuth,
		Idempotent:   e.idempotent,
		Priority:     e.priority,
		QueueTTL:     e.queueTTL,
	}
}

// Endpoint rebuilds a dispatchable endpoint. Replays never go back into
// the offline queue and are not deduplicated.
func (s EndpointSnapshot) Endpoint() Endpoint {
	opts := []EndpointOption{
		WithClass(s.Class),
		WithAuth(s.RequiresAuth),
		WithPriority(s.Priority),
		WithQueueTTL(s.QueueTTL),
		WithOfflineQueue(false),
		WithDeduplication(false),
		func(b *endpointBuilder) {
			for k, v := range s.Header {
				b.e.header[k] = append([]string(nil), v...)
			}
			for k, v := range s.Query {
				b.e.query[k] = append([]string(nil), v...)
			}
			b.e.body = append([]byte(nil), s.Body...)
		},
	}
	if s.Idempotent {
		opts = append(opts, AsIdempotent())
	}
	return NewEndpoint(s.Method, s.Path, opts...)
}
