package figrnet

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsCollectorWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewMetricsCollectorWithRegistry(registry)

	if collector == nil {
		t.Fatal("NewMetricsCollectorWithRegistry() returned nil")
	}

	if collector.GetRegistry() != registry {
		t.Error("Registry not set correctly")
	}

	if collector.requestsTotal == nil {
		t.Error("requestsTotal metric not initialized")
	}

	if collector.circuitBreakerState == nil {
		t.Error("circuitBreakerState metric not initialized")
	}

	if collector.queueDepth == nil {
		t.Error("queueDepth metric not initialized")
	}
}

func TestMetricsTrackRequestLifecycle(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.Track(Event{Type: EventRequestStarted, Method: "GET", Endpoint: "/items"})
	if got := testutil.ToFloat64(collector.requestsInFlight.WithLabelValues("GET", "/items")); got != 1 {
		t.Errorf("Expected 1 in-flight request, got %v", got)
	}

	collector.Track(Event{Type: EventRequestCompleted, Method: "GET", Endpoint: "/items", StatusCode: 200, Duration: 20 * time.Millisecond})
	if got := testutil.ToFloat64(collector.requestsInFlight.WithLabelValues("GET", "/items")); got != 0 {
		t.Errorf("Expected 0 in-flight requests, got %v", got)
	}
	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "200", "/items")); got != 1 {
		t.Errorf("Expected 1 completed request, got %v", got)
	}
}

func TestMetricsTrackFailureByKind(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.Track(Event{Type: EventRequestStarted, Method: "POST", Endpoint: "/orders"})
	collector.Track(Event{Type: EventRequestFailed, Method: "POST", Endpoint: "/orders", Kind: KindServerError, StatusCode: 500})

	if got := testutil.ToFloat64(collector.errorsTotal.WithLabelValues("ServerError", "POST", "/orders")); got != 1 {
		t.Errorf("Expected 1 ServerError, got %v", got)
	}
}

func TestMetricsTrackCacheAndDedup(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.Track(Event{Type: EventCacheHit, Method: "GET", Endpoint: "/items"})
	collector.Track(Event{Type: EventCacheHit, Method: "GET", Endpoint: "/items"})
	collector.Track(Event{Type: EventCacheMiss, Method: "GET", Endpoint: "/items"})
	collector.Track(Event{Type: EventCacheEvicted, Size: 7})
	collector.Track(Event{Type: EventDeduplicated, Method: "GET", Endpoint: "/items"})

	if got := testutil.ToFloat64(collector.cacheHits.WithLabelValues("GET", "/items")); got != 2 {
		t.Errorf("Expected 2 cache hits, got %v", got)
	}
	if got := testutil.ToFloat64(collector.cacheMisses.WithLabelValues("GET", "/items")); got != 1 {
		t.Errorf("Expected 1 cache miss, got %v", got)
	}
	if got := testutil.ToFloat64(collector.cacheEvictions); got != 1 {
		t.Errorf("Expected 1 eviction, got %v", got)
	}
	if got := testutil.ToFloat64(collector.cacheEntries); got != 7 {
		t.Errorf("Expected 7 cache entries, got %v", got)
	}
	if got := testutil.ToFloat64(collector.deduplicationHits.WithLabelValues("GET", "/items")); got != 1 {
		t.Errorf("Expected 1 dedup hit, got %v", got)
	}
}

func TestMetricsCircuitState(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	tests := []struct {
		state    CircuitState
		expected float64
	}{
		{StateClosed, 0},
		{StateOpen, 1},
		{StateHalfOpen, 2},
	}

	for _, tt := range tests {
		collector.Track(Event{Type: EventCircuitStateChanged, Endpoint: "GET /items", State: tt.state})
		if got := testutil.ToFloat64(collector.circuitBreakerState.WithLabelValues("GET /items")); got != tt.expected {
			t.Errorf("State %s: expected %v, got %v", tt.state, tt.expected, got)
		}
	}
}

func TestMetricsQueueAndTokens(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.Track(Event{Type: EventRequestQueued, Method: "POST", Endpoint: "/posts", Size: 3})
	collector.Track(Event{Type: EventQueueChanged, Size: 2})
	collector.Track(Event{Type: EventTokenRefreshed})
	collector.Track(Event{Type: EventTokenRefreshed, Err: errors.New("refresh rejected")})

	if got := testutil.ToFloat64(collector.queueDepth); got != 2 {
		t.Errorf("Expected queue depth 2, got %v", got)
	}
	if got := testutil.ToFloat64(collector.queuedTotal.WithLabelValues("POST", "/posts")); got != 1 {
		t.Errorf("Expected 1 queued request, got %v", got)
	}
	if got := testutil.ToFloat64(collector.tokenRefreshes.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 successful refresh, got %v", got)
	}
	if got := testutil.ToFloat64(collector.tokenRefreshes.WithLabelValues("failure")); got != 1 {
		t.Errorf("Expected 1 failed refresh, got %v", got)
	}
}

func TestMetricsNilCollector(t *testing.T) {
	var collector *MetricsCollector

	collector.Track(Event{Type: EventCacheHit})
	collector.RecordRequest("GET", "/", 200, 0.1)
	collector.RecordCircuitBreakerState("x", StateOpen)
	collector.RecordCacheSize(3)
}

func TestMultiSink(t *testing.T) {
	var a, b int
	sink := MultiSink{
		AnalyticsSinkFunc(func(Event) { a++ }),
		nil,
		AnalyticsSinkFunc(func(Event) { b++ }),
	}

	sink.Track(Event{Type: EventCacheHit})

	if a != 1 || b != 1 {
		t.Errorf("Expected both sinks to receive one event, got %d and %d", a, b)
	}
	if EventCacheHit.String() != "cache_hit" {
		t.Errorf("Expected cache_hit, got %s", EventCacheHit.String())
	}
}
