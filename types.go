package figrnet

import (
	"fmt"
	"net/http"
	"strings"
)

// Middleware wraps the transport call for cross-cutting concerns.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Priority orders offline work and decides what survives backgrounding.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority parses the lower-case names produced by String.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// CachePolicy governs whether and how a response is read from or written to
// the cache. Read preference is resolved by the Client, never by the store.
type CachePolicy int

const (
	CacheNone CachePolicy = iota
	CacheNetworkOnly
	CacheFirst
	CacheNetworkFirst
	CacheOnly
	CacheStaleWhileRevalidate
)

func (p CachePolicy) String() string {
	switch p {
	case CacheNone:
		return "noCache"
	case CacheNetworkOnly:
		return "networkOnly"
	case CacheFirst:
		return "cacheFirst"
	case CacheNetworkFirst:
		return "networkFirst"
	case CacheOnly:
		return "cacheOnly"
	case CacheStaleWhileRevalidate:
		return "staleWhileRevalidate"
	}
	return fmt.Sprintf("CachePolicy(%d)", int(p))
}

// ParseCachePolicy parses the names produced by String. "swr" is accepted
// for staleWhileRevalidate and an empty string means noCache.
func ParseCachePolicy(s string) (CachePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nocache", "none":
		return CacheNone, nil
	case "networkonly":
		return CacheNetworkOnly, nil
	case "cachefirst":
		return CacheFirst, nil
	case "networkfirst":
		return CacheNetworkFirst, nil
	case "cacheonly":
		return CacheOnly, nil
	case "stalewhilerevalidate", "swr":
		return CacheStaleWhileRevalidate, nil
	}
	return CacheNone, fmt.Errorf("unknown cache policy %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *CachePolicy) UnmarshalText(b []byte) error {
	v, err := ParseCachePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Stores reports whether responses fetched under p may be written.
func (p CachePolicy) Stores() bool {
	return p != CacheNone && p != CacheNetworkOnly
}

// EndpointClass tags an endpoint with the family of defaults it gets.
type EndpointClass int

const (
	ClassDefault EndpointClass = iota
	ClassAuth
	ClassRefresh
	ClassUserData
	ClassContent
	ClassSearch
)

func (c EndpointClass) String() string {
	switch c {
	case ClassDefault:
		return "default"
	case ClassAuth:
		return "auth"
	case ClassRefresh:
		return "refresh"
	case ClassUserData:
		return "userData"
	case ClassContent:
		return "content"
	case ClassSearch:
		return "search"
	}
	return fmt.Sprintf("EndpointClass(%d)", int(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c EndpointClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *EndpointClass) UnmarshalText(b []byte) error {
	for _, k := range []EndpointClass{ClassDefault, ClassAuth, ClassRefresh, ClassUserData, ClassContent, ClassSearch} {
		if k.String() == string(b) {
			*c = k
			return nil
		}
	}
	return fmt.Errorf("unknown endpoint class %q", string(b))
}

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// isWriteMethod reports methods whose failures may be queued offline.
func isWriteMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func isReadMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// DefaultIsIdempotent returns true for idempotent HTTP methods.
func DefaultIsIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}
