package figrnet

import (
	"fmt"
	"time"
)

// EventType enumerates the structured events emitted to an AnalyticsSink.
type EventType int

const (
	EventRequestStarted EventType = iota
	EventRequestCompleted
	EventRequestFailed
	EventRetry
	EventCacheHit
	EventCacheMiss
	EventCacheEvicted
	EventDeduplicated
	EventCircuitStateChanged
	EventRequestQueued
	EventQueueChanged
	EventTokenRefreshed
	EventRateLimited
)

var eventNames = [...]string{
	EventRequestStarted:      "request_started",
	EventRequestCompleted:    "request_completed",
	EventRequestFailed:       "request_failed",
	EventRetry:               "retry",
	EventCacheHit:            "cache_hit",
	EventCacheMiss:           "cache_miss",
	EventCacheEvicted:        "cache_evicted",
	EventDeduplicated:        "deduplicated",
	EventCircuitStateChanged: "circuit_state_changed",
	EventRequestQueued:       "request_queued",
	EventQueueChanged:        "queue_changed",
	EventTokenRefreshed:      "token_refreshed",
	EventRateLimited:         "rate_limited",
}

func (t EventType) String() string {
	if int(t) >= 0 && int(t) < len(eventNames) {
		return eventNames[t]
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is one structured analytics record. Fields not relevant to Type are
// left zero.
type Event struct {
	Type       EventType
	Time       time.Time
	RequestID  string
	Method     string
	Endpoint   string
	StatusCode int
	Duration   time.Duration
	Attempt    int
	Kind       Kind
	Err        error
	State      CircuitState
	// Size carries a gauge reading: queue depth or cache entry count.
	Size int
}

// AnalyticsSink consumes events. Implementations must be safe for concurrent
// use and must not block.
type AnalyticsSink interface {
	Track(Event)
}

// AnalyticsSinkFunc adapts a function to AnalyticsSink.
type AnalyticsSinkFunc func(Event)

func (f AnalyticsSinkFunc) Track(e Event) { f(e) }

// MultiSink fans events out to every non-nil sink in order.
type MultiSink []AnalyticsSink

func (m MultiSink) Track(e Event) {
	for _, s := range m {
		if s != nil {
			s.Track(e)
		}
	}
}

type nopSink struct{}

func (nopSink) Track(Event) {}
