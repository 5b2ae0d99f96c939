package figrnet

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle and
// the reliability layers. It implements AnalyticsSink and is safe for
// concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	cacheEntries   prometheus.Gauge

	deduplicationHits *prometheus.CounterVec

	queueDepth     prometheus.Gauge
	queuedTotal    *prometheus.CounterVec
	tokenRefreshes *prometheus.CounterVec

	errorsTotal      *prometheus.CounterVec
	rateLimitedTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registerer prometheus.Registerer) *MetricsCollector {
	f := promauto.With(registerer)
	mc := &MetricsCollector{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "figrnet_requests_total",
				Help: "Total number of dispatched requests by outcome",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "figrnet_request_duration_seconds",
				Help:    "Duration of dispatched requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		requestsInFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "figrnet_requests_in_flight",
				Help: "Number of requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "figrnet_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		circuitBreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "figrnet_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"endpoint"},
		),
		cacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "figrnet_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"method", "endpoint"},
		),
		cacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "figrnet_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"method", "endpoint"},
		),
		cacheEvictions: f.NewCounter(
			prometheus.CounterOpts{
				Name: "figrnet_cache_evictions_total",
				Help: "Total number of entries evicted under memory pressure",
			},
		),
		cacheEntries: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "figrnet_cache_entries",
				Help: "Current number of entries in cache",
			},
		),
		deduplicationHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "figrnet_deduplication_hits_total",
				Help: "Total number of requests joined onto an in-flight twin",
			},
			[]string{"method", "endpoint"},
		),
		queueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "figrnet_offline_queue_depth",
				Help: "Current number of requests waiting in the offline queue",
			},
		),
		queuedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "figrnet_offline_queued_total",
				Help: "Total number of requests handed to the offline queue",
			},
			[]string{"method", "endpoint"},
		),
		tokenRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "figrnet_token_refreshes_total",
				Help: "Total number of access token refreshes by result",
			},
			[]string{"result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "figrnet_errors_total",
				Help: "Total number of errors encountered by kind",
			},
			[]string{"kind", "method", "endpoint"},
		),
		rateLimitedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "figrnet_rate_limited_total",
				Help: "Total number of attempts refused by the client rate limiter",
			},
			[]string{"method", "endpoint"},
		),
	}
	if r, ok := registerer.(*prometheus.Registry); ok {
		mc.registry = r
	}

	return mc
}

// Track implements AnalyticsSink.
func (mc *MetricsCollector) Track(e Event) {
	if mc == nil {
		return
	}

	switch e.Type {
	case EventRequestStarted:
		mc.requestsInFlight.WithLabelValues(e.Method, e.Endpoint).Inc()
	case EventRequestCompleted:
		mc.requestsInFlight.WithLabelValues(e.Method, e.Endpoint).Dec()
		mc.RecordRequest(e.Method, e.Endpoint, e.StatusCode, e.Duration.Seconds())
	case EventRequestFailed:
		mc.requestsInFlight.WithLabelValues(e.Method, e.Endpoint).Dec()
		mc.RecordRequest(e.Method, e.Endpoint, e.StatusCode, e.Duration.Seconds())
		mc.errorsTotal.WithLabelValues(e.Kind.String(), e.Method, e.Endpoint).Inc()
	case EventRetry:
		mc.retriesTotal.WithLabelValues(e.Method, e.Endpoint, strconv.Itoa(e.Attempt)).Inc()
	case EventCacheHit:
		mc.cacheHits.WithLabelValues(e.Method, e.Endpoint).Inc()
	case EventCacheMiss:
		mc.cacheMisses.WithLabelValues(e.Method, e.Endpoint).Inc()
	case EventCacheEvicted:
		mc.cacheEvictions.Inc()
		mc.cacheEntries.Set(float64(e.Size))
	case EventDeduplicated:
		mc.deduplicationHits.WithLabelValues(e.Method, e.Endpoint).Inc()
	case EventCircuitStateChanged:
		mc.RecordCircuitBreakerState(e.Endpoint, e.State)
	case EventRequestQueued:
		mc.queuedTotal.WithLabelValues(e.Method, e.Endpoint).Inc()
		mc.queueDepth.Set(float64(e.Size))
	case EventQueueChanged:
		mc.queueDepth.Set(float64(e.Size))
	case EventTokenRefreshed:
		result := "success"
		if e.Err != nil {
			result = "failure"
		}
		mc.tokenRefreshes.WithLabelValues(result).Inc()
	case EventRateLimited:
		mc.rateLimitedTotal.WithLabelValues(e.Method, e.Endpoint).Inc()
	}
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, seconds float64) {
	if mc == nil {
		return
	}

	mc.requestsTotal.WithLabelValues(method, strconv.Itoa(statusCode), endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, endpoint).Observe(seconds)
}

// RecordCircuitBreakerState sets gauge to breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(endpoint string, state CircuitState) {
	if mc == nil {
		return
	}

	var stateValue float64
	switch state {
	case StateClosed:
		stateValue = 0
	case StateOpen:
		stateValue = 1
	case StateHalfOpen:
		stateValue = 2
	}

	mc.circuitBreakerState.WithLabelValues(endpoint).Set(stateValue)
}

// RecordCacheSize sets cache entry gauge.
func (mc *MetricsCollector) RecordCacheSize(entries int) {
	if mc == nil {
		return
	}

	mc.cacheEntries.Set(float64(entries))
}

// GetRegistry exposes the underlying prometheus registry, nil when the
// collector was built on a plain Registerer.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	return mc.registry
}
