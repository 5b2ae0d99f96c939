package figrnet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const (
	// DefaultQueueCapacity bounds the offline queue.
	DefaultQueueCapacity = 100
	// DefaultQueueMaxRetries is how many failed replays a request survives.
	DefaultQueueMaxRetries = 3
)

var (
	// ErrQueueFull is returned when the queue is at capacity and holds no
	// low priority entry to evict.
	ErrQueueFull = errors.New("offline queue is full")
	// ErrNotQueueable is returned for methods that are never queued.
	ErrNotQueueable = errors.New("request is not eligible for the offline queue")
)

// OfflineRequest is a write request waiting for connectivity.
type OfflineRequest struct {
	ID         string           `json:"id"`
	Seq        uint64           `json:"seq"`
	Endpoint   EndpointSnapshot `json:"endpoint"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
	Priority   Priority         `json:"priority"`
	RetryCount int              `json:"retry_count"`
	MaxRetries int              `json:"max_retries"`
	ExpiresAt  time.Time        `json:"expires_at"`
	LastError  string           `json:"last_error,omitempty"`
}

// ShouldRetry reports retryCount < maxRetries and now before expiresAt.
func (r OfflineRequest) ShouldRetry(now time.Time) bool {
	return r.RetryCount < r.MaxRetries && now.Before(r.ExpiresAt)
}

// Expired reports whether the request outlived its TTL.
func (r OfflineRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// queueLess orders by priority, highest first, then by admission order.
func queueLess(a, b OfflineRequest) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Seq < b.Seq
}

func sortQueue(items []OfflineRequest) {
	sort.SliceStable(items, func(i, j int) bool { return queueLess(items[i], items[j]) })
}

// QueueReport summarises one ProcessQueue pass.
type QueueReport struct {
	Executed int
	Retried  int
	Dropped  int
	Expired  int
}

// ReplayFunc executes a queued request. A nil error removes it.
type ReplayFunc func(ctx context.Context, r OfflineRequest) error

// QueueOption configures an OfflineQueue.
type QueueOption func(*OfflineQueue)

// WithQueueCapacity sets the maximum number of queued requests.
func WithQueueCapacity(n int) QueueOption {
	return func(q *OfflineQueue) { q.capacity = n }
}

// WithQueueStore sets where snapshots are persisted.
func WithQueueStore(s QueueStore) QueueOption {
	return func(q *OfflineQueue) { q.store = s }
}

// WithQueueMaxRetries sets how many failed replays a request survives.
func WithQueueMaxRetries(n int) QueueOption {
	return func(q *OfflineQueue) { q.maxRetries = n }
}

// WithQueueClock sets the clock used for admission and expiry.
func WithQueueClock(clk clock.Clock) QueueOption {
	return func(q *OfflineQueue) { q.clock = clk }
}

// WithQueueLogger sets the logger.
func WithQueueLogger(l Logger) QueueOption {
	return func(q *OfflineQueue) { q.logger = l }
}

// WithQueueAnalytics reports queue admissions and depth changes to sink.
func WithQueueAnalytics(sink AnalyticsSink) QueueOption {
	return func(q *OfflineQueue) { q.sink = sink }
}

// OfflineQueue holds write requests that could not be sent, ordered by
// priority then arrival. Every mutation is followed by a snapshot write.
type OfflineQueue struct {
	mu         sync.Mutex
	items      []OfflineRequest
	seq        uint64
	capacity   int
	maxRetries int
	store      QueueStore
	clock      clock.Clock
	logger     Logger
	sink       AnalyticsSink

	processing sync.Mutex
}

// NewOfflineQueue creates a queue and loads the persisted snapshot. Expired
// entries found at load are purged.
func NewOfflineQueue(opts ...QueueOption) (*OfflineQueue, error) {
	q := &OfflineQueue{
		capacity:   DefaultQueueCapacity,
		maxRetries: DefaultQueueMaxRetries,
		store:      NewMemoryQueueStore(),
		clock:      clock.New(),
		logger:     NopLogger{},
		sink:       nopSink{},
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.capacity <= 0 {
		q.capacity = DefaultQueueCapacity
	}
	if q.maxRetries < 0 {
		q.maxRetries = 0
	}

	items, err := q.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load offline queue: %w", err)
	}
	now := q.clock.Now()
	kept := items[:0]
	for _, r := range items {
		if r.Expired(now) {
			continue
		}
		kept = append(kept, r)
		if r.Seq > q.seq {
			q.seq = r.Seq
		}
	}
	sortQueue(kept)
	if len(kept) > q.capacity {
		kept = kept[:q.capacity]
	}
	q.items = kept
	if len(kept) != len(items) {
		q.persistLocked()
	}
	return q, nil
}

// Enqueue admits a write request. At capacity the oldest low priority entry
// is evicted to make room; without one the request is rejected.
func (q *OfflineQueue) Enqueue(ep Endpoint) (OfflineRequest, error) {
	if !isWriteMethod(ep.Method()) {
		return OfflineRequest{}, ErrNotQueueable
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		victim := -1
		for i := len(q.items) - 1; i >= 0 && q.items[i].Priority == PriorityLow; i-- {
			victim = i
		}
		if victim < 0 {
			return OfflineRequest{}, ErrQueueFull
		}
		q.logger.Warn("Offline queue full, evicting", "id", q.items[victim].ID, "path", q.items[victim].Endpoint.Path)
		q.items = append(q.items[:victim], q.items[victim+1:]...)
	}

	now := q.clock.Now()
	q.seq++
	r := OfflineRequest{
		ID:         uuid.NewString(),
		Seq:        q.seq,
		Endpoint:   ep.Snapshot(),
		EnqueuedAt: now,
		Priority:   ep.Priority(),
		MaxRetries: q.maxRetries,
		ExpiresAt:  now.Add(ep.QueueTTL()),
	}
	q.insertLocked(r)
	q.persistLocked()

	q.sink.Track(Event{Type: EventRequestQueued, Time: now, Method: ep.Method(), Endpoint: ep.Path(), Size: len(q.items)})
	return r, nil
}

func (q *OfflineQueue) insertLocked(r OfflineRequest) {
	i := sort.Search(len(q.items), func(i int) bool { return queueLess(r, q.items[i]) })
	q.items = append(q.items, OfflineRequest{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = r
}

// persistLocked writes the snapshot. A failed write is logged; the in-memory
// queue stays authoritative and the next mutation writes it again.
func (q *OfflineQueue) persistLocked() {
	if err := q.store.Save(append([]OfflineRequest(nil), q.items...)); err != nil {
		q.logger.Error("Offline queue persist failed", "error", err, "size", len(q.items))
	}
}

// QueuedRequests returns the queue in processing order.
func (q *OfflineQueue) QueuedRequests() []OfflineRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]OfflineRequest(nil), q.items...)
}

// Len returns the number of queued requests.
func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Remove drops the request with id.
func (q *OfflineQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.removeLocked(id) {
		return false
	}
	q.persistLocked()
	q.changedLocked()
	return true
}

func (q *OfflineQueue) removeLocked(id string) bool {
	for i, r := range q.items {
		if r.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// updateLocked replaces the stored copy of r, re-inserting it if it was
// evicted while replaying.
func (q *OfflineQueue) updateLocked(r OfflineRequest) {
	for i := range q.items {
		if q.items[i].ID == r.ID {
			q.items[i] = r
			return
		}
	}
	if len(q.items) < q.capacity {
		q.insertLocked(r)
	}
}

// Clear empties the queue.
func (q *OfflineQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.persistLocked()
	q.changedLocked()
}

func (q *OfflineQueue) changedLocked() {
	q.sink.Track(Event{Type: EventQueueChanged, Time: q.clock.Now(), Size: len(q.items)})
}

// purgeExpiredLocked removes expired entries and returns how many.
func (q *OfflineQueue) purgeExpiredLocked(now time.Time) int {
	kept := q.items[:0]
	for _, r := range q.items {
		if !r.Expired(now) {
			kept = append(kept, r)
		}
	}
	n := len(q.items) - len(kept)
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = OfflineRequest{}
	}
	q.items = kept
	return n
}

// ProcessQueue replays queued requests front to back while connected
// reports true. A failed request is retried on a later pass if it has
// retries left and its error is transient; otherwise it is dropped. Only one
// pass runs at a time; a concurrent call returns an empty report.
func (q *OfflineQueue) ProcessQueue(ctx context.Context, replay ReplayFunc, connected func() bool) QueueReport {
	var report QueueReport
	if !q.processing.TryLock() {
		return report
	}
	defer q.processing.Unlock()

	attempted := make(map[string]struct{})
	for {
		if ctx.Err() != nil || (connected != nil && !connected()) {
			break
		}

		q.mu.Lock()
		if n := q.purgeExpiredLocked(q.clock.Now()); n > 0 {
			report.Expired += n
			q.persistLocked()
		}
		idx := -1
		for i, r := range q.items {
			if _, seen := attempted[r.ID]; !seen {
				idx = i
				break
			}
		}
		if idx < 0 {
			q.mu.Unlock()
			break
		}
		// The entry stays queued while it replays so a crash mid-flight
		// does not lose it.
		r := q.items[idx]
		q.mu.Unlock()

		attempted[r.ID] = struct{}{}
		err := replay(ctx, r)

		q.mu.Lock()
		if err == nil {
			report.Executed++
			q.removeLocked(r.ID)
			q.logger.Debug("Offline request replayed", "id", r.ID, "path", r.Endpoint.Path)
		} else {
			r.RetryCount++
			r.LastError = err.Error()
			if IsTransient(err) && r.ShouldRetry(q.clock.Now()) {
				report.Retried++
				q.updateLocked(r)
			} else {
				report.Dropped++
				q.removeLocked(r.ID)
				q.logger.Warn("Offline request dropped", "id", r.ID, "path", r.Endpoint.Path, "retries", r.RetryCount, "error", err)
			}
		}
		q.persistLocked()
		q.mu.Unlock()
	}

	q.mu.Lock()
	q.changedLocked()
	q.mu.Unlock()
	return report
}
