package figrnet

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func dur(d time.Duration) *time.Duration { return &d }

func TestParseCacheControl(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected CacheDirectives
	}{
		{
			name:     "empty header",
			header:   "",
			expected: CacheDirectives{},
		},
		{
			name:     "max-age directive",
			header:   "max-age=3600",
			expected: CacheDirectives{MaxAge: dur(3600 * time.Second)},
		},
		{
			name:   "multiple directives",
			header: "max-age=3600, no-cache, private",
			expected: CacheDirectives{
				MaxAge:  dur(3600 * time.Second),
				NoCache: true,
				Private: true,
			},
		},
		{
			name:   "stale-while-revalidate",
			header: "max-age=600, stale-while-revalidate=300",
			expected: CacheDirectives{
				MaxAge:               dur(600 * time.Second),
				StaleWhileRevalidate: dur(300 * time.Second),
			},
		},
		{
			name:     "no-store directive",
			header:   "no-store",
			expected: CacheDirectives{NoStore: true},
		},
		{
			name:   "must-revalidate directive",
			header: "max-age=0, must-revalidate",
			expected: CacheDirectives{
				MaxAge:         dur(0),
				MustRevalidate: true,
			},
		},
		{
			name:     "quoted and mixed case",
			header:   `MAX-AGE="60"`,
			expected: CacheDirectives{MaxAge: dur(time.Minute)},
		},
		{
			name:     "invalid and negative values ignored",
			header:   "max-age=abc, stale-while-revalidate=-5",
			expected: CacheDirectives{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseCacheControl(tt.header))
		})
	}
}

func TestResponseFreshness(t *testing.T) {
	receivedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	const endpointMaxAge = 5 * time.Minute
	const grace = 10 * time.Minute

	tests := []struct {
		name     string
		header   http.Header
		expected freshness
	}{
		{
			name:     "endpoint defaults",
			header:   http.Header{},
			expected: freshness{maxAge: endpointMaxAge, grace: grace, store: true},
		},
		{
			name:     "max-age wins",
			header:   http.Header{"Cache-Control": {"max-age=30"}},
			expected: freshness{maxAge: 30 * time.Second, grace: grace, store: true},
		},
		{
			name: "expires",
			header: http.Header{"Expires": {
				receivedAt.Add(2 * time.Minute).Format(http.TimeFormat),
			}},
			expected: freshness{maxAge: 2 * time.Minute, grace: grace, store: true},
		},
		{
			name: "expires in the past",
			header: http.Header{"Expires": {
				receivedAt.Add(-time.Hour).Format(http.TimeFormat),
			}},
			expected: freshness{maxAge: 0, grace: grace, store: true},
		},
		{
			name:     "no-store",
			header:   http.Header{"Cache-Control": {"no-store, max-age=60"}},
			expected: freshness{},
		},
		{
			name:     "no-cache stores for revalidation only",
			header:   http.Header{"Cache-Control": {"no-cache, max-age=60"}},
			expected: freshness{maxAge: 0, grace: 0, store: true},
		},
		{
			name:     "stale-while-revalidate sets grace",
			header:   http.Header{"Cache-Control": {"max-age=60, stale-while-revalidate=30"}},
			expected: freshness{maxAge: time.Minute, grace: 30 * time.Second, store: true},
		},
		{
			name:     "must-revalidate disables grace",
			header:   http.Header{"Cache-Control": {"max-age=60, must-revalidate, stale-while-revalidate=30"}},
			expected: freshness{maxAge: time.Minute, grace: 0, store: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := responseFreshness(tt.header, endpointMaxAge, grace, receivedAt)
			if got != tt.expected {
				t.Errorf("Expected %+v, got %+v", tt.expected, got)
			}
		})
	}
}

func TestParseLastModified(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected bool
	}{
		{name: "empty header", header: "", expected: false},
		{name: "valid RFC1123 format", header: "Wed, 21 Oct 2015 07:28:00 GMT", expected: true},
		{name: "invalid format", header: "invalid-date", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseLastModified(tt.header)
			if !result.IsZero() != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, !result.IsZero())
			}
		})
	}
}

func TestAddConditionalHeaders(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	lastModified := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	addConditionalHeaders(req, &CacheEntry{
		ETag:         `"123456"`,
		LastModified: lastModified,
	})

	if req.Header.Get("If-None-Match") != `"123456"` {
		t.Errorf("Expected If-None-Match header to be set to \"123456\", got %s", req.Header.Get("If-None-Match"))
	}
	expected := lastModified.Format(http.TimeFormat)
	if req.Header.Get("If-Modified-Since") != expected {
		t.Errorf("Expected If-Modified-Since header to be %s, got %s", expected, req.Header.Get("If-Modified-Since"))
	}
}

func TestAddConditionalHeadersWithoutValidators(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)

	addConditionalHeaders(req, &CacheEntry{})
	addConditionalHeaders(req, nil)

	if len(req.Header) != 0 {
		t.Errorf("Expected no conditional headers, got %v", req.Header)
	}
}
