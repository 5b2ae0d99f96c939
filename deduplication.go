package figrnet

import (
	"context"
	"sync/atomic"

	"github.com/EmerBV/figrnet/internal/singleflight"
)

// Deduplicator joins concurrent identical requests into one execution and
// fans the single result out to every caller.
type Deduplicator struct {
	group *singleflight.Group[*Response]
	hits  atomic.Uint64
}

// NewDeduplicator returns an empty deduplicator.
func NewDeduplicator() *Deduplicator {
	d := &Deduplicator{group: singleflight.New[*Response]()}
	d.group.OnJoin(func(string) { d.hits.Add(1) })
	return d
}

// Join runs producer for key unless one is already running, in which case
// the caller waits for that run's outcome instead. Every joined caller
// receives an equal copy of the response or the identical error. joined
// reports whether this caller attached to an existing run.
//
// producer runs detached from ctx; ctx only bounds this caller's wait.
func (d *Deduplicator) Join(ctx context.Context, key string, producer func(context.Context) (*Response, error)) (resp *Response, err error, joined bool) {
	v, err, joined := d.group.Join(ctx, key, producer)
	if v != nil {
		v = v.clone()
	}
	return v, err, joined
}

// InFlight reports whether key has a running execution.
func (d *Deduplicator) InFlight(key string) bool {
	return d.group.InFlight(key)
}

// Waiters returns how many callers are attached to the execution for key.
func (d *Deduplicator) Waiters(key string) int {
	return d.group.Waiters(key)
}

// Len returns the number of running executions.
func (d *Deduplicator) Len() int {
	return d.group.Len()
}

// Hits is the number of callers that attached to an existing run, counted
// when they attach.
func (d *Deduplicator) Hits() uint64 {
	return d.hits.Load()
}
