package figrnet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/EmerBV/figrnet/internal/singleflight"
)

const (
	// DefaultStaleGrace is how long an expired entry stays servable under
	// stale-while-revalidate when the response does not say otherwise.
	DefaultStaleGrace = 10 * time.Minute
	// DefaultQueueInterval is the periodic offline queue processing interval.
	DefaultQueueInterval = time.Minute

	tracerName = "github.com/EmerBV/figrnet"
)

// Client dispatches Endpoints with authentication, deduplication, circuit
// breaking, retries, caching and offline queuing. It is safe for concurrent
// use; one Client is meant to be shared by the whole process.
type Client struct {
	baseURL        *url.URL
	baseURLErr     error
	httpClient     *http.Client
	timeout        time.Duration
	middleware     []Middleware
	userAgent      string
	defaultHeaders http.Header

	clock     clock.Clock
	logger    Logger
	debug     *DebugConfig
	metrics   *MetricsCollector
	analytics AnalyticsSink
	sink      AnalyticsSink
	tracer    trace.Tracer
	tp        trace.TracerProvider
	prop      propagation.TextMapPropagator

	cacheBudget   int64
	sweepInterval time.Duration
	staleGrace    time.Duration
	cache         *CacheStore
	revalidations *singleflight.Group[*Response]

	dedup           *Deduplicator
	breakerDefaults CircuitBreakerConfig
	breakers        *CircuitBreakerRegistry
	rateDefault     *RateLimit
	rateLimits      map[string]RateLimit
	limits          *RateLimiterRegistry
	retry           *RetryEngine

	tokenStore  TokenStore
	refresher   Refresher
	refreshPath string
	tokens      *TokenCoordinator

	queueEnabled  bool
	queueStore    QueueStore
	queueCapacity int
	queueRetries  int
	queueInterval time.Duration
	queue         *OfflineQueue
	monitor       Monitor
	probeURL      string
	probeInterval time.Duration

	opsMu      sync.Mutex
	ops        map[uint64]inflightOp
	nextOp     uint64
	background bool
	closed     bool
	bg         sync.WaitGroup

	closers         []io.Closer
	validationError error
}

type inflightOp struct {
	priority Priority
	cancel   context.CancelFunc
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout:         30 * time.Second,
		middleware:      []Middleware{},
		userAgent:       DefaultUserAgent(),
		defaultHeaders:  http.Header{},
		clock:           clock.New(),
		logger:          DefaultLogger(),
		debug:           DefaultDebugConfig(),
		cacheBudget:     DefaultCacheBudget,
		sweepInterval:   DefaultSweepInterval,
		staleGrace:      DefaultStaleGrace,
		breakerDefaults: DefaultCircuitBreakerConfig(),
		queueEnabled:    true,
		queueCapacity:   DefaultQueueCapacity,
		queueRetries:    DefaultQueueMaxRetries,
		queueInterval:   DefaultQueueInterval,
		ops:             make(map[uint64]inflightOp),
	}

	for _, option := range options {
		option(c)
	}
	c.init()

	if err := c.ValidateConfiguration(); err != nil {
		if c.validationError == nil {
			c.validationError = err
		} else {
			c.validationError = multierror.Append(c.validationError, err)
		}
	}
	return c
}

// init wires the components once every option has been applied.
func (c *Client) init() {
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.logger == nil {
		c.logger = NopLogger{}
	}
	if c.debug == nil {
		c.debug = DefaultDebugConfig()
	}

	if c.monitor == nil && c.probeURL != "" {
		c.monitor = NewProbeMonitor(HTTPProber(nil, c.probeURL), c.probeInterval, c.clock, c.logger)
	}

	var sinks MultiSink
	if c.metrics != nil {
		sinks = append(sinks, c.metrics)
	}
	if c.analytics != nil {
		sinks = append(sinks, c.analytics)
	}
	c.sink = sinks

	if c.tp == nil {
		c.tp = otel.GetTracerProvider()
	}
	c.tracer = c.tp.Tracer(tracerName, trace.WithInstrumentationVersion(Version))
	if c.prop == nil {
		c.prop = otel.GetTextMapPropagator()
	}

	c.cache = NewCacheStore(
		WithCacheClock(c.clock),
		WithCacheBudget(c.cacheBudget),
		WithSweepInterval(c.sweepInterval),
		WithCacheAnalytics(c.sink),
	)
	c.revalidations = singleflight.New[*Response]()
	c.dedup = NewDeduplicator()
	c.retry = NewRetryEngine(c.clock)

	c.limits = NewRateLimiterRegistry(c.clock, c.rateDefault, c.rateLimits)
	c.breakers = NewCircuitBreakerRegistry(c.clock, c.breakerDefaults)
	c.breakers.OnStateChange(func(key string, from, to CircuitState) {
		if c.debugOn(c.debug.LogCircuit) || to == StateOpen {
			c.logger.Warn("Circuit breaker state changed", "endpoint", key, "from", from.String(), "to", to.String())
		}
		c.sink.Track(Event{Type: EventCircuitStateChanged, Time: c.clock.Now(), Endpoint: key, State: to})
	})

	c.tokens = NewTokenCoordinator(c.tokenStore, c.refresher, c.clock)
	c.tokens.logger = c.logger
	c.tokens.sink = c.sink
	if c.refresher == nil && c.refreshPath != "" {
		c.tokens.setRefresher(NewEndpointRefresher(c, c.refreshPath))
	}

	if c.queueEnabled {
		store := c.queueStore
		if store == nil {
			store = NewMemoryQueueStore()
		}
		q, err := NewOfflineQueue(
			WithQueueStore(store),
			WithQueueCapacity(c.queueCapacity),
			WithQueueMaxRetries(c.queueRetries),
			WithQueueClock(c.clock),
			WithQueueLogger(c.logger),
			WithQueueAnalytics(c.sink),
		)
		if err != nil {
			c.logger.Error("Offline queue snapshot could not be loaded, starting empty", "error", err)
			c.validationError = multierror.Append(c.validationError, err)
			q, _ = NewOfflineQueue(WithQueueCapacity(c.queueCapacity), WithQueueMaxRetries(c.queueRetries),
				WithQueueClock(c.clock), WithQueueLogger(c.logger), WithQueueAnalytics(c.sink))
		}
		c.queue = q
		if cl, ok := store.(io.Closer); ok {
			c.closers = append(c.closers, cl)
		}
	}
}

func (c *Client) debugOn(flag bool) bool {
	return c.debug != nil && c.debug.Enabled && flag
}

func (c *Client) newRequestID() string {
	if c.debug != nil && c.debug.RequestIDGen != nil {
		return c.debug.RequestIDGen()
	}
	return NewRequestID()
}

// Cache returns the response cache.
func (c *Client) Cache() *CacheStore { return c.cache }

// Breakers returns the circuit breaker registry.
func (c *Client) Breakers() *CircuitBreakerRegistry { return c.breakers }

// RateLimits returns the client-side rate limiters.
func (c *Client) RateLimits() *RateLimiterRegistry { return c.limits }

// Tokens returns the token coordinator.
func (c *Client) Tokens() *TokenCoordinator { return c.tokens }

// Queue returns the offline queue, or nil when queuing is disabled.
func (c *Client) Queue() *OfflineQueue { return c.queue }

// Deduplicator returns the in-flight request deduplicator.
func (c *Client) Deduplicator() *Deduplicator { return c.dedup }

// Dispatch executes ep and decodes the body into T. A request handed to the
// offline queue returns a Result with the zero Value and Response.Queued set.
func Dispatch[T any](ctx context.Context, c *Client, ep Endpoint) (*Result[T], error) {
	resp, err := c.Do(ctx, ep)
	if err != nil {
		return nil, err
	}
	if resp.Queued {
		return &Result[T]{Response: resp}, nil
	}
	v, err := Decode[T](resp.Body)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			cp := *e
			cp.Endpoint = ep.BreakerKey()
			cp.RequestID = resp.RequestID
			cp.Method = ep.Method()
			cp.StatusCode = resp.StatusCode
			err = &cp
		}
		return nil, err
	}
	return &Result[T]{Value: v, Response: resp}, nil
}

// Do executes ep and returns the fully read response. Non-2xx statuses are
// returned as *Error.
func (c *Client) Do(ctx context.Context, ep Endpoint) (*Response, error) {
	start := c.clock.Now()
	requestID := c.newRequestID()

	ctx, span := c.tracer.Start(ctx, "figrnet "+ep.Method(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", ep.Method()),
			attribute.String("url.path", ep.Path()),
			attribute.String("figrnet.request_id", requestID),
			attribute.String("figrnet.cache_policy", ep.CachePolicy().String()),
			attribute.String("figrnet.priority", ep.Priority().String()),
		),
	)
	defer span.End()

	if c.debugOn(c.debug.LogRequests) {
		c.logger.Debug("Starting request", "requestID", requestID, "method", ep.Method(), "path", ep.Path())
	}
	c.sink.Track(Event{Type: EventRequestStarted, Time: start, RequestID: requestID, Method: ep.Method(), Endpoint: ep.Path()})

	resp, err := c.dispatch(ctx, ep, requestID)
	duration := c.clock.Since(start)

	if err != nil {
		var status int
		var e *Error
		if errors.As(err, &e) {
			status = e.StatusCode
		}
		c.sink.Track(Event{
			Type: EventRequestFailed, Time: c.clock.Now(), RequestID: requestID, Method: ep.Method(),
			Endpoint: ep.Path(), StatusCode: status, Duration: duration, Kind: KindOf(err), Err: err,
		})
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("figrnet.error_kind", KindOf(err).String()))
		if c.debugOn(c.debug.LogRequests) {
			c.logger.Debug("Request failed", "requestID", requestID, "path", ep.Path(), "error", err, "duration", duration)
		}
		return nil, err
	}

	resp.Duration = duration
	c.sink.Track(Event{
		Type: EventRequestCompleted, Time: c.clock.Now(), RequestID: requestID, Method: ep.Method(),
		Endpoint: ep.Path(), StatusCode: resp.StatusCode, Duration: duration, Attempt: resp.Attempts,
	})
	span.SetAttributes(
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.Bool("figrnet.from_cache", resp.FromCache),
		attribute.Bool("figrnet.queued", resp.Queued),
		attribute.Int("figrnet.attempts", resp.Attempts),
	)
	if c.debugOn(c.debug.LogRequests) {
		c.logger.Debug("Request completed", "requestID", requestID, "path", ep.Path(), "status", resp.StatusCode,
			"fromCache", resp.FromCache, "queued", resp.Queued, "duration", duration)
	}
	return resp, nil
}

func (c *Client) dispatch(ctx context.Context, ep Endpoint, requestID string) (*Response, error) {
	if ep.bodyErr != nil {
		return nil, &Error{Kind: KindBadRequest, Message: "encode request body", Cause: ep.bodyErr,
			Endpoint: ep.BreakerKey(), Method: ep.Method(), RequestID: requestID, Timestamp: c.clock.Now()}
	}

	queueable := ep.Queueable() && isWriteMethod(ep.Method()) && c.queue != nil
	if queueable && !c.isConnected() {
		return c.enqueue(ep, requestID, nil)
	}

	policy := ep.CachePolicy()
	if policy.Stores() {
		if resp, ok := c.fromCache(ep, requestID); ok {
			return resp, nil
		}
		if policy == CacheOnly {
			return nil, &Error{Kind: KindNotFound, Message: "not in cache", Endpoint: ep.BreakerKey(),
				Method: ep.Method(), RequestID: requestID, Timestamp: c.clock.Now()}
		}
	}

	resp, err := c.fetch(ctx, ep, requestID)
	if err != nil {
		if policy == CacheNetworkFirst && IsTransient(err) {
			if entry, ok := c.cache.Peek(ep.CacheKey()); ok {
				c.trackCache(EventCacheHit, ep, requestID)
				r := responseFromEntry(entry, requestID)
				r.Stale = entry.IsExpired(c.clock.Now())
				return r, nil
			}
		}
		if queueable && KindOf(err) == KindNoConnection {
			return c.enqueue(ep, requestID, err)
		}
		return nil, err
	}
	return resp, nil
}

// fromCache resolves the read side of cacheFirst, cacheOnly and
// staleWhileRevalidate. networkFirst never reads before the network.
func (c *Client) fromCache(ep Endpoint, requestID string) (*Response, bool) {
	policy := ep.CachePolicy()
	if policy != CacheFirst && policy != CacheOnly && policy != CacheStaleWhileRevalidate {
		return nil, false
	}
	entry := c.cache.Retrieve(ep.CacheKey(), policy)
	if entry == nil {
		c.trackCache(EventCacheMiss, ep, requestID)
		return nil, false
	}
	c.trackCache(EventCacheHit, ep, requestID)
	resp := responseFromEntry(entry, requestID)
	if entry.IsExpired(c.clock.Now()) {
		resp.Stale = true
		c.revalidateInBackground(ep)
	}
	return resp, true
}

func (c *Client) trackCache(t EventType, ep Endpoint, requestID string) {
	if c.debugOn(c.debug.LogCache) {
		c.logger.Debug("Cache lookup", "requestID", requestID, "key", ep.CacheKey(), "result", t.String())
	}
	c.sink.Track(Event{Type: t, Time: c.clock.Now(), RequestID: requestID, Method: ep.Method(), Endpoint: ep.Path()})
}

func responseFromEntry(e *CacheEntry, requestID string) *Response {
	return &Response{
		StatusCode: e.StatusCode,
		Header:     e.Header.Clone(),
		Body:       e.Data,
		RequestID:  requestID,
		FromCache:  true,
	}
}

// revalidateInBackground refreshes a stale entry once per key. It is low
// priority work: skipped in background mode and cancelled on entering it.
func (c *Client) revalidateInBackground(ep Endpoint) {
	key := ep.CacheKey()
	if c.revalidations.InFlight(key) {
		return
	}
	c.opsMu.Lock()
	if c.background || c.closed {
		c.opsMu.Unlock()
		return
	}
	c.bg.Add(1)
	c.opsMu.Unlock()
	go func() {
		defer c.bg.Done()
		_, err, _ := c.revalidations.TryDo(context.Background(), key, func(ctx context.Context) (*Response, error) {
			ctx, done := c.track(ctx, PriorityLow)
			defer done()
			return c.execute(ctx, ep, c.newRequestID())
		})
		if err != nil && !errors.Is(err, singleflight.ErrInProgress) && c.debugOn(c.debug.LogCache) {
			c.logger.Debug("Background revalidation failed", "key", key, "error", err)
		}
	}()
}

// fetch runs ep against the network, joining an identical in-flight
// request when the endpoint is deduplicated.
func (c *Client) fetch(ctx context.Context, ep Endpoint, requestID string) (*Response, error) {
	if !ep.Deduplicated() {
		ctx, done := c.track(ctx, ep.Priority())
		defer done()
		return c.execute(ctx, ep, requestID)
	}

	resp, err, joined := c.dedup.Join(ctx, ep.DedupKey(), func(shared context.Context) (*Response, error) {
		shared, done := c.track(shared, ep.Priority())
		defer done()
		return c.execute(shared, ep, requestID)
	})
	if resp != nil {
		resp.RequestID = requestID
	}
	if joined {
		if c.debugOn(c.debug.LogRequests) {
			c.logger.Debug("Deduplication hit", "requestID", requestID, "key", ep.DedupKey())
		}
		c.sink.Track(Event{Type: EventDeduplicated, Time: c.clock.Now(), RequestID: requestID, Method: ep.Method(), Endpoint: ep.Path()})
	}
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil, &Error{Kind: KindUnknown, Message: "request cancelled", Cause: err, Endpoint: ep.BreakerKey(),
			Method: ep.Method(), RequestID: requestID, Timestamp: c.clock.Now()}
	}
	return resp, err
}

// execute is one logical request: the retry loop around single attempts,
// with at most one token refresh.
func (c *Client) execute(ctx context.Context, ep Endpoint, requestID string) (*Response, error) {
	policy := ep.RetryPolicy()
	start := c.clock.Now()
	refreshed := false

	var prior *CacheEntry
	if ep.CachePolicy().Stores() {
		prior, _ = c.cache.Peek(ep.CacheKey())
	}

	attempt := 1
	for {
		resp, token, err := c.attempt(ctx, ep, requestID, attempt, prior)
		if err == nil {
			resp.Attempts = attempt
			return resp, nil
		}

		if KindOf(err) == KindUnauthorized && ep.RequiresAuth() && !ep.IsRefresh() && !refreshed && token != "" {
			refreshed = true
			if c.debugOn(c.debug.LogAuth) {
				c.logger.Debug("Refreshing token after 401", "requestID", requestID, "path", ep.Path())
			}
			if _, rerr := c.tokens.Refresh(ctx, token); rerr != nil {
				return nil, c.annotate(rerr, ep, requestID, attempt, start)
			}
			continue
		}

		d := c.retry.Decide(RetryContext{
			Policy:    policy,
			Attempt:   attempt,
			LastError: err,
			Endpoint:  ep.BreakerKey(),
			StartTime: start,
		})
		if !d.Retry {
			if c.debugOn(c.debug.LogRetries) && d.Reason != StopNonRetryable {
				c.logger.Info("Giving up", "requestID", requestID, "path", ep.Path(), "attempt", attempt, "reason", d.Reason.String())
			}
			return nil, c.annotate(err, ep, requestID, attempt, start)
		}

		if c.debugOn(c.debug.LogRetries) {
			c.logger.Info("Scheduling retry", "requestID", requestID, "attempt", attempt+1, "backoff", d.Delay, "path", ep.Path(), "error", err)
		}
		c.sink.Track(Event{Type: EventRetry, Time: c.clock.Now(), RequestID: requestID, Method: ep.Method(),
			Endpoint: ep.Path(), Attempt: attempt, Kind: KindOf(err), Err: err})

		if werr := c.retry.Wait(ctx, d.Delay); werr != nil {
			return nil, c.annotate(&Error{Kind: KindUnknown, Message: "retry wait interrupted", Cause: werr}, ep, requestID, attempt, start)
		}
		attempt++
	}
}

// annotate returns a copy of err's *Error with request context filled in.
// Errors may be shared between callers, so the original is never mutated.
func (c *Client) annotate(err error, ep Endpoint, requestID string, attempt int, start time.Time) error {
	var e *Error
	if !errors.As(err, &e) {
		return &Error{Kind: KindUnknown, Message: "unexpected error", Cause: err, Endpoint: ep.BreakerKey(),
			Method: ep.Method(), RequestID: requestID, Attempt: attempt, Timestamp: c.clock.Now(), Duration: c.clock.Since(start)}
	}
	cp := *e
	if cp.Endpoint == "" {
		cp.Endpoint = ep.BreakerKey()
	}
	if cp.Method == "" {
		cp.Method = ep.Method()
	}
	if cp.RequestID == "" {
		cp.RequestID = requestID
	}
	if cp.URL == "" {
		if u, uerr := c.resolveURL(ep); uerr == nil {
			cp.URL = u.String()
		}
	}
	cp.Attempt = attempt
	if cp.Timestamp.IsZero() {
		cp.Timestamp = c.clock.Now()
	}
	cp.Duration = c.clock.Since(start)
	return &cp
}

// attempt performs one HTTP exchange under the circuit breaker. token is
// the bearer token used, if any.
func (c *Client) attempt(ctx context.Context, ep Endpoint, requestID string, n int, prior *CacheEntry) (*Response, string, error) {
	if wait, ok := c.limits.Allow(ep.BreakerKey()); !ok {
		if c.debugOn(c.debug.LogRequests) {
			c.logger.Debug("Rate limit exceeded", "requestID", requestID, "endpoint", ep.BreakerKey(), "wait", wait)
		}
		c.sink.Track(Event{Type: EventRateLimited, Time: c.clock.Now(), RequestID: requestID, Method: ep.Method(), Endpoint: ep.Path()})
		return nil, "", &Error{Kind: KindRateLimited, Message: "client rate limit exceeded", RetryAfter: wait,
			Endpoint: ep.BreakerKey(), Timestamp: c.clock.Now()}
	}

	permit, err := c.breakers.Allow(ep.BreakerKey(), ep.breakerOverride())
	if err != nil {
		if c.debugOn(c.debug.LogCircuit) {
			c.logger.Warn("Circuit breaker rejected request", "requestID", requestID, "endpoint", ep.BreakerKey(), "error", err)
		}
		return nil, "", err
	}

	var token string
	if ep.RequiresAuth() && !ep.IsRefresh() {
		token, err = c.tokens.AccessToken(ctx)
		if err != nil {
			c.breakers.Done(permit, OutcomeIgnored)
			return nil, "", err
		}
	}

	req, err := c.buildRequest(ctx, ep, requestID, token, prior)
	if err != nil {
		c.breakers.Done(permit, OutcomeIgnored)
		return nil, token, err
	}

	httpResp, err := c.executeMiddleware(req)
	if err != nil {
		terr := c.transportError(ctx, err)
		c.breakers.Done(permit, breakerOutcome(terr))
		return nil, token, terr
	}
	body, err := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	if err != nil {
		terr := c.transportError(ctx, err)
		c.breakers.Done(permit, breakerOutcome(terr))
		return nil, token, terr
	}

	now := c.clock.Now()
	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		c.breakers.Done(permit, OutcomeSuccess)
		resp := &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       body,
			RequestID:  requestID,
		}
		c.store(ep, req, resp, now)
		return resp, token, nil
	case httpResp.StatusCode == http.StatusNotModified && prior != nil:
		c.breakers.Done(permit, OutcomeSuccess)
		resp, err := c.notModified(ep, req, httpResp.Header, prior, requestID, now)
		return resp, token, err
	}

	serr := statusError(httpResp, body, now)
	c.breakers.Done(permit, breakerOutcome(serr))
	return nil, token, serr
}

// breakerOutcome counts transient failures against the endpoint. Client
// errors prove the server is answering; cancellations say nothing.
func breakerOutcome(err error) Outcome {
	if errors.Is(err, context.Canceled) {
		return OutcomeIgnored
	}
	if IsTransient(err) {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

func (c *Client) buildRequest(ctx context.Context, ep Endpoint, requestID, token string, prior *CacheEntry) (*http.Request, error) {
	u, err := c.resolveURL(ep)
	if err != nil {
		return nil, err
	}
	var body io.Reader
	if len(ep.body) > 0 {
		body = bytes.NewReader(ep.body)
	}
	req, err := http.NewRequestWithContext(ctx, ep.Method(), u.String(), body)
	if err != nil {
		return nil, newError(KindInvalidURL, "build request", err)
	}
	for k, v := range c.defaultHeaders {
		req.Header[k] = append([]string(nil), v...)
	}
	for k, v := range ep.header {
		req.Header[k] = append([]string(nil), v...)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("X-Request-ID", requestID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if prior != nil {
		addConditionalHeaders(req, prior)
	}
	c.prop.Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

// resolveURL joins the endpoint path onto the base URL and merges query
// parameters. Absolute endpoint paths bypass the base URL.
func (c *Client) resolveURL(ep Endpoint) (*url.URL, error) {
	rel, err := url.Parse(ep.Path())
	if err != nil {
		return nil, newError(KindInvalidURL, "parse endpoint path", err)
	}
	var u url.URL
	switch {
	case rel.IsAbs():
		u = *rel
	case c.baseURL != nil:
		u = *c.baseURL
		u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(rel.Path, "/")
		u.RawPath = ""
		q := u.Query()
		for k, v := range rel.Query() {
			q[k] = append(q[k], v...)
		}
		u.RawQuery = q.Encode()
	default:
		return nil, &Error{Kind: KindInvalidURL, Message: "relative path without base URL", Detail: ep.Path()}
	}
	if u.Host == "" {
		return nil, &Error{Kind: KindInvalidURL, Message: "missing host", Detail: u.String()}
	}
	if len(ep.query) > 0 {
		q := u.Query()
		for k, v := range ep.query {
			q[k] = append(q[k], v...)
		}
		u.RawQuery = q.Encode()
	}
	return &u, nil
}

func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

// transportError classifies a failure that produced no HTTP response.
func (c *Client) transportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return &Error{Kind: KindUnknown, Message: "request cancelled", Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "request timed out", Cause: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Message: "request timed out", Cause: err}
	}
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) || !c.isConnected() {
		return &Error{Kind: KindNoConnection, Message: "network unreachable", Cause: err}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && errors.Is(uerr.Err, io.EOF) {
		return &Error{Kind: KindNoConnection, Message: "connection closed", Cause: err}
	}
	return &Error{Kind: KindUnknown, Message: "network request failed", Cause: err}
}

// statusError maps a non-2xx response onto the error taxonomy.
func statusError(resp *http.Response, body []byte, now time.Time) error {
	e := &Error{
		StatusCode: resp.StatusCode,
		Detail:     errorDetail(body),
		Timestamp:  now,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		e.URL = resp.Request.URL.String()
		e.Method = resp.Request.Method
	}
	if env, ok := parseErrorEnvelope(body); ok {
		e.Cause = &envelopeError{env: env}
	}
	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), now)

	switch code := resp.StatusCode; {
	case code == http.StatusBadRequest:
		e.Kind, e.Message = KindBadRequest, "bad request"
	case code == http.StatusUnauthorized:
		e.Kind, e.Message = KindUnauthorized, "unauthorized"
	case code == http.StatusForbidden:
		e.Kind, e.Message = KindForbidden, "forbidden"
	case code == http.StatusNotFound:
		e.Kind, e.Message = KindNotFound, "not found"
	case code == http.StatusRequestTimeout:
		e.Kind, e.Message = KindTimeout, "server timed out waiting for the request"
	case code == http.StatusTooManyRequests:
		e.Kind, e.Message, e.RetryAfter = KindRateLimited, "rate limited", retryAfter
	case code == http.StatusServiceUnavailable:
		e.Kind, e.Message, e.RetryAfter = KindMaintenance, "service unavailable", retryAfter
	case code >= 500:
		e.Kind, e.Message, e.RetryAfter = KindServerError, fmt.Sprintf("server error %d", code), retryAfter
	case code >= 400:
		e.Kind, e.Message = KindBadRequest, fmt.Sprintf("client error %d", code)
	default:
		e.Kind, e.Message = KindInvalidResponse, fmt.Sprintf("unexpected status %d", code)
	}
	return e
}

// store writes a successful read into the cache under the endpoint policy
// and the response's own Cache-Control.
func (c *Client) store(ep Endpoint, req *http.Request, resp *Response, now time.Time) {
	policy := ep.CachePolicy()
	if !policy.Stores() || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusPartialContent {
		return
	}
	key := ep.CacheKey()
	f := responseFreshness(resp.Header, ep.CacheMaxAge(), c.staleGrace, now)
	if !f.store {
		c.cache.Invalidate(key)
		return
	}
	if policy != CacheStaleWhileRevalidate {
		// Only stale-while-revalidate serves past max-age; other entries
		// expire on access or at the next sweep.
		f.grace = 0
	}
	ok := c.cache.StoreEntry(&CacheEntry{
		Key:          key,
		URL:          req.URL.String(),
		Data:         resp.Body,
		StatusCode:   resp.StatusCode,
		Header:       resp.Header,
		ETag:         resp.Header.Get("ETag"),
		LastModified: parseLastModified(resp.Header.Get("Last-Modified")),
		MaxAge:       f.maxAge,
		StaleGrace:   f.grace,
	}, policy)
	if c.debugOn(c.debug.LogCache) {
		c.logger.Debug("Response cached", "requestID", resp.RequestID, "key", key, "stored", ok, "maxAge", f.maxAge)
	}
}

// notModified serves a 304: the cached payload is reused and only its
// timestamp refreshed. prior is re-inserted if the entry was evicted while
// the request was in flight.
func (c *Client) notModified(ep Endpoint, req *http.Request, h http.Header, prior *CacheEntry, requestID string, now time.Time) (*Response, error) {
	key := ep.CacheKey()
	maxAge := responseFreshness(h, ep.CacheMaxAge(), c.staleGrace, now).maxAge
	sent := req.Header.Get("If-None-Match")

	var entry *CacheEntry
	cond := c.cache.ConditionalRetrieve(key, sent)
	switch {
	case cond.Result == CacheNotModified, cond.Result == CacheModified && sent == "":
		entry = c.cache.Revalidate(key, nil, maxAge)
	case cond.Result == CacheNotFound:
		entry = c.cache.Revalidate(key, prior, maxAge)
	default:
		// Replaced by a newer response while this one was in flight.
		entry = cond.Entry
	}
	if entry == nil {
		return nil, &Error{Kind: KindInvalidResponse, Message: "304 without a cached representation", StatusCode: http.StatusNotModified}
	}
	if c.debugOn(c.debug.LogCache) {
		c.logger.Debug("Cache revalidated", "requestID", requestID, "key", key, "result", cond.Result.String())
	}
	resp := responseFromEntry(entry, requestID)
	resp.Revalidated = true
	return resp, nil
}

// enqueue hands ep to the offline queue and returns the queued
// acknowledgement. cause is the failure that triggered queuing, if any.
func (c *Client) enqueue(ep Endpoint, requestID string, cause error) (*Response, error) {
	r, err := c.queue.Enqueue(ep)
	if err != nil {
		if cause != nil {
			return nil, cause
		}
		return nil, &Error{Kind: KindNoConnection, Message: "offline and queue rejected request", Cause: err,
			Endpoint: ep.BreakerKey(), Method: ep.Method(), RequestID: requestID, Timestamp: c.clock.Now()}
	}
	if c.debugOn(c.debug.LogQueue) {
		c.logger.Info("Request queued for later", "requestID", requestID, "id", r.ID, "path", ep.Path(), "priority", r.Priority.String())
	}
	return &Response{
		StatusCode: http.StatusAccepted,
		Header:     http.Header{},
		RequestID:  requestID,
		Queued:     true,
		QueueID:    r.ID,
	}, nil
}

func (c *Client) isConnected() bool {
	return c.monitor == nil || c.monitor.IsConnected()
}

// ProcessQueue replays queued requests now. It stops early when the
// connectivity monitor reports offline.
func (c *Client) ProcessQueue(ctx context.Context) QueueReport {
	if c.queue == nil {
		return QueueReport{}
	}
	report := c.queue.ProcessQueue(ctx, c.replay, c.isConnected)
	if report != (QueueReport{}) && c.debugOn(c.debug.LogQueue) {
		c.logger.Info("Offline queue processed", "executed", report.Executed, "retried", report.Retried,
			"dropped", report.Dropped, "expired", report.Expired)
	}
	return report
}

// replay dispatches a queued request. Rebuilt endpoints are not queueable,
// so a failed replay is reported back to the queue instead of re-queued.
func (c *Client) replay(ctx context.Context, r OfflineRequest) error {
	_, err := c.Do(ctx, r.Endpoint.Endpoint())
	return err
}

// track registers a cancellable operation so EnterBackground can revoke
// it. done must be called when the operation ends.
func (c *Client) track(ctx context.Context, p Priority) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.opsMu.Lock()
	c.nextOp++
	id := c.nextOp
	c.ops[id] = inflightOp{priority: p, cancel: cancel}
	c.opsMu.Unlock()
	return ctx, func() {
		c.opsMu.Lock()
		delete(c.ops, id)
		c.opsMu.Unlock()
		cancel()
	}
}

// EnterBackground cancels in-flight low priority work and suspends
// background cache revalidation. Critical and other work keeps running.
// It returns the number of operations cancelled.
func (c *Client) EnterBackground() int {
	c.opsMu.Lock()
	defer c.opsMu.Unlock()
	c.background = true
	n := 0
	for id, op := range c.ops {
		if op.priority == PriorityLow {
			op.cancel()
			delete(c.ops, id)
			n++
		}
	}
	if n > 0 {
		c.logger.Info("Entered background, cancelled low priority requests", "count", n)
	}
	return n
}

// EnterForeground resumes background revalidation.
func (c *Client) EnterForeground() {
	c.opsMu.Lock()
	c.background = false
	c.opsMu.Unlock()
}

// InBackground reports whether EnterBackground is in effect.
func (c *Client) InBackground() bool {
	c.opsMu.Lock()
	defer c.opsMu.Unlock()
	return c.background
}

// Run drives the background workers until ctx is done: the cache sweeper,
// the connectivity prober when the monitor has one, and offline queue
// processing on reconnect and on a timer.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.cache.Run(gctx) })
	if r, ok := c.monitor.(interface{ Run(context.Context) error }); ok {
		g.Go(func() error { return r.Run(gctx) })
	}
	if c.queue != nil {
		g.Go(func() error { return c.runQueue(gctx) })
	}
	return g.Wait()
}

func (c *Client) runQueue(ctx context.Context) error {
	var updates <-chan ConnectivityStatus
	if c.monitor != nil {
		u, cancel := c.monitor.Subscribe()
		defer cancel()
		updates = u
	}
	ticker := c.clock.Ticker(c.queueInterval)
	defer ticker.Stop()

	c.ProcessQueue(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-updates:
			if st.Connected {
				c.ProcessQueue(ctx)
			}
		case <-ticker.C:
			if c.queue.Len() > 0 {
				c.ProcessQueue(ctx)
			}
		}
	}
}

// Close stops new background revalidations, waits for running ones and
// releases owned stores.
func (c *Client) Close() error {
	c.opsMu.Lock()
	c.closed = true
	c.opsMu.Unlock()
	c.bg.Wait()
	var result error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}
