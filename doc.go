// Package figrnet provides a resilient API client built around immutable
// Endpoint descriptors:
//
//   - Bearer token injection with a single coordinated refresh on 401
//   - Retries with exponential, linear or fixed backoff and jitter
//   - Per-endpoint sliding window circuit breakers
//   - Request de-duplication (merges concurrent identical in-flight requests)
//   - A byte-bounded LRU response cache with ETag revalidation and
//     stale-while-revalidate
//   - A persistent, priority ordered offline queue replayed on reconnect
//   - Middleware chain for cross-cutting concerns
//   - Prometheus metrics, OpenTelemetry spans and structured analytics events
//
// Typical usage:
//
//	client := figrnet.New(
//	    figrnet.WithBaseURL("https://api.example.com/v1"),
//	    figrnet.WithTokenStore(store),
//	    figrnet.WithRefreshEndpoint("/auth/refresh"),
//	    figrnet.WithConnectivityMonitor(monitor),
//	)
//	go client.Run(ctx)
//
//	ep := figrnet.NewEndpoint(http.MethodGet, "/items",
//	    figrnet.WithClass(figrnet.ClassContent),
//	    figrnet.WithCachePolicy(figrnet.CacheStaleWhileRevalidate, time.Minute),
//	)
//	res, err := figrnet.Dispatch[[]Item](ctx, client, ep)
//
// Every error returned by the client is an *Error carrying a Kind; use
// errors.Is against the Err sentinels or KindOf to branch on it.
package figrnet
