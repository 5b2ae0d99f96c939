package figrnet

import (
	"net/http"
	"time"
)

// Response is the outcome of a dispatched endpoint. Body is fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
	// FromCache is set when Body came from the cache store.
	FromCache bool
	// Stale is set when a cached body past its max-age was served under
	// stale-while-revalidate.
	Stale bool
	// Revalidated is set when the server answered 304 and the cached body
	// was reused.
	Revalidated bool
	// Queued is set when the request was handed to the offline queue
	// instead of executing. QueueID identifies the queued entry.
	Queued   bool
	QueueID  string
	Attempts int
	Duration time.Duration
}

func (r *Response) clone() *Response {
	c := *r
	c.Header = r.Header.Clone()
	c.Body = append([]byte(nil), r.Body...)
	return &c
}

// Result is a decoded response.
type Result[T any] struct {
	Value    T
	Response *Response
}
