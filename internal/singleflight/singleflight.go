// Package singleflight joins concurrent calls that share a key into one
// execution whose result is fanned out to every caller.
package singleflight

import (
	"context"
	"fmt"
	"sync"
)

// Group manages a set of in-flight calls keyed by string.
// The zero value is not usable; call New.
type Group[V any] struct {
	mu     sync.Mutex
	m      map[string]*call[V]
	onJoin func(key string)
}

type call[V any] struct {
	done chan struct{}
	val  V
	err  error
	dups int
}

// New creates a new Group.
func New[V any]() *Group[V] {
	return &Group[V]{
		m: make(map[string]*call[V]),
	}
}

// OnJoin registers fn to run each time a caller attaches to a call that is
// already running. fn runs before the caller starts waiting.
func (g *Group[V]) OnJoin(fn func(key string)) {
	g.mu.Lock()
	g.onJoin = fn
	g.mu.Unlock()
}

// Do executes fn once for all concurrent callers of key. fn runs on its own
// goroutine with a context that keeps the first caller's values but not its
// cancellation, so one caller giving up never aborts the shared work. Each
// caller returns early with ctx.Err() when its own ctx ends.
//
// The key is released the moment fn returns, before waiters are woken, so a
// call arriving after completion always starts fresh work.
func (g *Group[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (v V, err error, shared bool) {
	c, joined := g.acquire(ctx, key, fn)
	v, err = wait(ctx, c)
	if joined {
		return v, err, true
	}
	g.mu.Lock()
	shared = c.dups > 0
	g.mu.Unlock()
	return v, err, shared
}

// Join is Do reporting whether this caller attached to a call that was
// already running, rather than whether the result was shared.
func (g *Group[V]) Join(ctx context.Context, key string, fn func(context.Context) (V, error)) (v V, err error, joined bool) {
	c, joined := g.acquire(ctx, key, fn)
	v, err = wait(ctx, c)
	return v, err, joined
}

func (g *Group[V]) acquire(ctx context.Context, key string, fn func(context.Context) (V, error)) (*call[V], bool) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		c.dups++
		hook := g.onJoin
		g.mu.Unlock()
		if hook != nil {
			hook(key)
		}
		return c, true
	}

	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	go g.run(context.WithoutCancel(ctx), key, c, fn)
	return c, false
}

// TryDo behaves like Do but returns ErrInProgress immediately when key is
// already running.
func (g *Group[V]) TryDo(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, error, bool) {
	g.mu.Lock()
	if _, ok := g.m[key]; ok {
		g.mu.Unlock()
		var zero V
		return zero, ErrInProgress, false
	}

	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	go g.run(context.WithoutCancel(ctx), key, c, fn)

	v, err := wait(ctx, c)
	return v, err, true
}

// InFlight reports whether key currently has a running call.
func (g *Group[V]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}

// Waiters returns how many callers joined the running call for key.
func (g *Group[V]) Waiters(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.m[key]; ok {
		return c.dups
	}
	return 0
}

// Len returns the number of running calls.
func (g *Group[V]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}

// Forget releases key so that the next caller starts a new execution while
// the current one finishes for its existing waiters.
func (g *Group[V]) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

func (g *Group[V]) run(ctx context.Context, key string, c *call[V], fn func(context.Context) (V, error)) {
	var (
		val V
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("singleflight: panic in %q: %v", key, r)
			}
		}()
		val, err = fn(ctx)
	}()

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	c.val, c.err = val, err
	g.mu.Unlock()
	close(c.done)
}

func wait[V any](ctx context.Context, c *call[V]) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
