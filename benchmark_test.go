package figrnet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newBenchServer(calls *int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		w.Header().Set("ETag", `"benchmark-etag"`)
		if r.Header.Get("If-None-Match") == `"benchmark-etag"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Cache-Control", "max-age=3600")
		_, _ = io.WriteString(w, `{"data":{"id":1,"name":"bench"}}`)
	}))
}

// BenchmarkCachePolicies compares dispatch cost across cache policies.
func BenchmarkCachePolicies(b *testing.B) {
	var calls int64
	server := newBenchServer(&calls)
	defer server.Close()

	for _, policy := range []CachePolicy{CacheNone, CacheFirst, CacheStaleWhileRevalidate} {
		b.Run(policy.String(), func(b *testing.B) {
			atomic.StoreInt64(&calls, 0)
			client := New(WithBaseURL(server.URL), WithLogger(NopLogger{}))
			defer client.Close()
			ep := NewEndpoint(http.MethodGet, "/items/1", WithCachePolicy(policy, time.Hour))
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := client.Do(ctx, ep); err != nil {
					b.Fatal(err)
				}
			}

			n := atomic.LoadInt64(&calls)
			b.Logf("Server calls: %d/%d (%.2f%% cache hit rate)", n, b.N, float64(b.N-int(n))/float64(b.N)*100)
		})
	}
}

func BenchmarkDeduplication(b *testing.B) {
	var calls int64
	server := newBenchServer(&calls)
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithLogger(NopLogger{}))
	defer client.Close()
	ep := NewEndpoint(http.MethodGet, "/items/1")
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := client.Do(ctx, ep); err != nil {
				b.Error(err)
			}
		}
	})
	b.Logf("Server calls: %d, joined callers: %d", atomic.LoadInt64(&calls), client.Deduplicator().Hits())
}

func BenchmarkConditionalRequests(b *testing.B) {
	var calls int64
	server := newBenchServer(&calls)
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithLogger(NopLogger{}))
	defer client.Close()
	ep := NewEndpoint(http.MethodGet, "/items/1", WithCachePolicy(CacheNetworkFirst, time.Hour))
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := client.Do(ctx, ep); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkHeaderParsing(b *testing.B) {
	headers := []string{
		"max-age=3600",
		"max-age=3600, must-revalidate",
		"max-age=600, stale-while-revalidate=300",
		"no-cache, no-store, must-revalidate",
		"private, max-age=0",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		parseCacheControl(headers[i%len(headers)])
	}
}

func BenchmarkCircuitBreakerAllow(b *testing.B) {
	registry := NewCircuitBreakerRegistry(nil, DefaultCircuitBreakerConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p, err := registry.Allow("GET /items", nil)
		if err != nil {
			b.Fatal(err)
		}
		registry.Done(p, OutcomeSuccess)
	}
}

func BenchmarkRateLimiterAllow(b *testing.B) {
	rl := NewRateLimiter(1000000, time.Nanosecond)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			rl.Allow()
		}
	})
}

func BenchmarkCacheStore(b *testing.B) {
	cache := NewCacheStore()
	payload := []byte(`{"id":1,"name":"bench"}`)
	for i := 0; i < 1000; i++ {
		cache.Store(fmt.Sprintf("GET /items/%d", i), payload, CacheFirst, "", time.Hour)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Retrieve(fmt.Sprintf("GET /items/%d", i%1000), CacheFirst)
	}
}
