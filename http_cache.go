package figrnet

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CacheDirectives represents parsed Cache-Control directives.
type CacheDirectives struct {
	NoStore              bool
	NoCache              bool
	MaxAge               *time.Duration
	StaleWhileRevalidate *time.Duration
	MustRevalidate       bool
	Private              bool
}

// parseCacheControl parses Cache-Control header into structured directives.
func parseCacheControl(header string) CacheDirectives {
	var directives CacheDirectives
	if header == "" {
		return directives
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}

		key, value, hasValue := strings.Cut(part, "=")
		if hasValue {
			key = strings.TrimSpace(key)
			value = strings.Trim(strings.TrimSpace(value), "\"")
			seconds, err := strconv.Atoi(value)
			if err != nil || seconds < 0 {
				continue
			}
			d := time.Duration(seconds) * time.Second
			switch key {
			case "max-age":
				directives.MaxAge = &d
			case "stale-while-revalidate":
				directives.StaleWhileRevalidate = &d
			}
			continue
		}

		switch part {
		case "no-store":
			directives.NoStore = true
		case "no-cache":
			directives.NoCache = true
		case "must-revalidate":
			directives.MustRevalidate = true
		case "private":
			directives.Private = true
		}
	}

	return directives
}

// freshness is the lifetime a response should be cached with.
type freshness struct {
	maxAge time.Duration
	grace  time.Duration
	store  bool
}

// responseFreshness combines the endpoint defaults with the response's
// Cache-Control and Expires headers. Response directives win.
func responseFreshness(h http.Header, maxAge, grace time.Duration, receivedAt time.Time) freshness {
	cc := parseCacheControl(h.Get("Cache-Control"))
	if cc.NoStore {
		return freshness{}
	}

	f := freshness{maxAge: maxAge, grace: grace, store: true}
	switch {
	case cc.MaxAge != nil:
		f.maxAge = *cc.MaxAge
	case h.Get("Expires") != "":
		if t, err := http.ParseTime(h.Get("Expires")); err == nil {
			f.maxAge = t.Sub(receivedAt)
		}
	}
	if cc.NoCache || cc.MustRevalidate {
		f.grace = 0
	}
	if cc.NoCache {
		// Stored for revalidation only.
		f.maxAge = 0
	}
	if cc.StaleWhileRevalidate != nil && !cc.MustRevalidate {
		f.grace = *cc.StaleWhileRevalidate
	}
	if f.maxAge < 0 {
		f.maxAge = 0
	}
	return f
}

// parseLastModified parses the Last-Modified header.
func parseLastModified(header string) time.Time {
	if header == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(header)
	if err != nil {
		return time.Time{}
	}
	return t
}

// addConditionalHeaders adds If-None-Match and If-Modified-Since headers to a request.
func addConditionalHeaders(req *http.Request, entry *CacheEntry) {
	if entry == nil {
		return
	}
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	}
	if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.UTC().Format(http.TimeFormat))
	}
}
