package figrnet

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the URL relative endpoint paths are resolved against.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		u, err := url.Parse(raw)
		if err != nil {
			c.baseURL, c.baseURLErr = nil, err
			return
		}
		c.baseURL, c.baseURLErr = u, nil
	}
}

// WithTimeout sets the request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
		// Update timeout if it was set
		if c.httpClient != nil && c.timeout != 0 {
			c.httpClient.Timeout = c.timeout
		}
	}
}

// WithMiddleware adds middleware to the client
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithDefaultHeader adds a header sent with every request. Endpoint headers
// with the same name replace it.
func WithDefaultHeader(key, value string) Option {
	return func(c *Client) {
		c.defaultHeaders.Add(key, value)
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithCircuitBreaker sets the breaker thresholds used by endpoints that
// don't carry a class preset or an explicit configuration.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.breakerDefaults = config
	}
}

// WithRateLimit limits every endpoint without its own limit to burst
// requests at once, regaining one every interval. Limits are per endpoint.
func WithRateLimit(burst int, every time.Duration) Option {
	return func(c *Client) {
		c.rateDefault = &RateLimit{Burst: burst, Every: every}
	}
}

// WithEndpointRateLimit limits the endpoint with the given breaker key,
// such as "GET /items".
func WithEndpointRateLimit(key string, burst int, every time.Duration) Option {
	return func(c *Client) {
		if c.rateLimits == nil {
			c.rateLimits = make(map[string]RateLimit)
		}
		c.rateLimits[key] = RateLimit{Burst: burst, Every: every}
	}
}

// WithCacheSize bounds the response cache in bytes.
func WithCacheSize(bytes int64) Option {
	return func(c *Client) {
		c.cacheBudget = bytes
	}
}

// WithCacheSweepInterval sets how often Run purges expired cache entries.
func WithCacheSweepInterval(d time.Duration) Option {
	return func(c *Client) {
		c.sweepInterval = d
	}
}

// WithStaleGrace sets how long expired entries remain servable under
// stale-while-revalidate when the response carries no directive.
func WithStaleGrace(d time.Duration) Option {
	return func(c *Client) {
		c.staleGrace = d
	}
}

// WithTokenStore sets where access and refresh tokens are kept.
func WithTokenStore(store TokenStore) Option {
	return func(c *Client) {
		c.tokenStore = store
	}
}

// WithRefresher sets the function that exchanges a refresh token.
func WithRefresher(r Refresher) Option {
	return func(c *Client) {
		c.refresher = r
	}
}

// WithRefreshEndpoint refreshes tokens by POSTing to path through the
// client itself. Ignored when WithRefresher is also given.
func WithRefreshEndpoint(path string) Option {
	return func(c *Client) {
		c.refreshPath = path
	}
}

// WithConnectivityMonitor sets the reachability source. Without one the
// client assumes it is always online.
func WithConnectivityMonitor(m Monitor) Option {
	return func(c *Client) {
		c.monitor = m
	}
}

// WithConnectivityProbe monitors reachability by probing url with HEAD
// requests every interval. Run drives the prober.
func WithConnectivityProbe(url string, interval time.Duration) Option {
	return func(c *Client) {
		c.probeURL = url
		c.probeInterval = interval
	}
}

// WithQueuePersistence persists the offline queue in store.
func WithQueuePersistence(store QueueStore) Option {
	return func(c *Client) {
		c.queueStore = store
	}
}

// WithQueueLimit bounds the offline queue.
func WithQueueLimit(n int) Option {
	return func(c *Client) {
		c.queueCapacity = n
	}
}

// WithQueueRetries sets how many replays a queued request gets.
func WithQueueRetries(n int) Option {
	return func(c *Client) {
		c.queueRetries = n
	}
}

// WithQueueProcessInterval sets how often Run drains the offline queue.
func WithQueueProcessInterval(d time.Duration) Option {
	return func(c *Client) {
		c.queueInterval = d
	}
}

// WithoutOfflineQueue disables queuing; offline writes fail immediately.
func WithoutOfflineQueue() Option {
	return func(c *Client) {
		c.queueEnabled = false
	}
}

// WithMetrics enables Prometheus metrics collection
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithAnalytics sends structured events to sink in addition to metrics.
func WithAnalytics(sink AnalyticsSink) Option {
	return func(c *Client) {
		c.analytics = sink
	}
}

// WithTracerProvider sets the OpenTelemetry provider spans are created
// from. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tp = tp
	}
}

// WithPropagator sets how trace context is written into request headers.
// The global propagator is used otherwise.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(c *Client) {
		c.prop = p
	}
}

// WithDebug enables debug logging with default configuration
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.debug.LogRequests = true
		c.debug.LogRetries = true
		c.debug.LogCache = true
		c.debug.LogCircuit = true
		c.debug.LogQueue = true
		c.debug.LogAuth = true
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithLogger sets a custom logger for debug output
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithZapLogger logs through a zap logger.
func WithZapLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l == nil {
			c.logger = NopLogger{}
			return
		}
		c.logger = NewZapLogger(l.Sugar())
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var problems []string

	// Validate each configuration section
	problems = append(problems, c.validateTransportConfig()...)
	problems = append(problems, c.validateCacheConfig()...)
	problems = append(problems, c.validateCircuitBreakerConfig()...)
	problems = append(problems, c.validateRateLimitConfig()...)
	problems = append(problems, c.validateQueueConfig()...)
	problems = append(problems, c.validateDebugConfig()...)
	problems = append(problems, c.validateMiddlewareConfig()...)
	problems = append(problems, c.validateExtremeValues()...)

	if len(problems) == 0 {
		return nil
	}
	var result *multierror.Error
	for _, p := range problems {
		result = multierror.Append(result, fmt.Errorf("%s", p))
	}
	return &Error{
		Kind:    KindBadRequest,
		Message: "configuration validation failed",
		Cause:   result.ErrorOrNil(),
	}
}

func (c *Client) validateTransportConfig() []string {
	var problems []string

	if c.httpClient == nil {
		problems = append(problems, "HTTP client cannot be nil")
	}
	if c.timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.baseURLErr != nil {
		problems = append(problems, fmt.Sprintf("base URL is invalid: %v", c.baseURLErr))
	} else if c.baseURL != nil {
		if c.baseURL.Scheme != "http" && c.baseURL.Scheme != "https" {
			problems = append(problems, "base URL scheme must be http or https")
		}
		if c.baseURL.Host == "" {
			problems = append(problems, "base URL must have a host")
		}
	}

	return problems
}

func (c *Client) validateCacheConfig() []string {
	var problems []string

	if c.cacheBudget < 0 {
		problems = append(problems, "cache budget must be non-negative")
	}
	if c.sweepInterval < 0 {
		problems = append(problems, "cache sweep interval must be non-negative")
	}
	if c.staleGrace < 0 {
		problems = append(problems, "stale grace must be non-negative")
	}

	return problems
}

func (c *Client) validateCircuitBreakerConfig() []string {
	var problems []string

	cfg := c.breakerDefaults
	if cfg.FailureThreshold <= 0 {
		problems = append(problems, "circuitBreaker FailureThreshold must be positive")
	}
	if cfg.RecoveryTimeout <= 0 {
		problems = append(problems, "circuitBreaker RecoveryTimeout must be positive")
	}
	if cfg.SuccessThreshold <= 0 {
		problems = append(problems, "circuitBreaker SuccessThreshold must be positive")
	}
	if cfg.Window < 0 {
		problems = append(problems, "circuitBreaker Window must be non-negative")
	}

	return problems
}

func (c *Client) validateRateLimitConfig() []string {
	var problems []string

	check := func(name string, l RateLimit) {
		if l.Burst <= 0 {
			problems = append(problems, fmt.Sprintf("rateLimit %s burst must be positive", name))
		}
		if l.Every <= 0 {
			problems = append(problems, fmt.Sprintf("rateLimit %s interval must be positive", name))
		}
	}
	if c.rateDefault != nil {
		check("default", *c.rateDefault)
	}
	for key, l := range c.rateLimits {
		check(key, l)
	}

	return problems
}

func (c *Client) validateQueueConfig() []string {
	var problems []string

	if !c.queueEnabled {
		return nil
	}
	if c.queueCapacity <= 0 {
		problems = append(problems, "queue limit must be positive")
	}
	if c.queueRetries <= 0 {
		problems = append(problems, "queue retries must be positive")
	}
	if c.queueInterval <= 0 {
		problems = append(problems, "queue process interval must be positive")
	}

	return problems
}

func (c *Client) validateDebugConfig() []string {
	var problems []string

	if c.debug != nil && c.debug.Enabled {
		if c.debug.RequestIDGen == nil {
			problems = append(problems, "debug RequestIDGen must be set when debug is enabled")
		}
	}

	return problems
}

func (c *Client) validateMiddlewareConfig() []string {
	var problems []string

	for i, middleware := range c.middleware {
		if middleware == nil {
			problems = append(problems, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	return problems
}

// validateExtremeValues validates that configuration values are within reasonable bounds
func (c *Client) validateExtremeValues() []string {
	var problems []string

	if c.timeout > 10*time.Minute {
		problems = append(problems, "timeout > 10m may cause requests to hang for too long")
	}
	if c.queueEnabled && c.queueCapacity > 100000 {
		problems = append(problems, "queue limit > 100000 may cause memory issues")
	}
	if c.staleGrace > 7*24*time.Hour {
		problems = append(problems, "stale grace > 7d may cause stale data issues")
	}

	return problems
}
