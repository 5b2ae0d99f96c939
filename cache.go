package figrnet

import (
	"context"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	// DefaultCacheBudget is the memory budget of a CacheStore in bytes.
	DefaultCacheBudget int64 = 8 << 20
	// DefaultSweepInterval is how often Run purges expired entries.
	DefaultSweepInterval = 5 * time.Minute
)

// CacheEntry is one stored response. Values handed out by CacheStore are
// copies; mutating them does not affect the store.
type CacheEntry struct {
	Key          string
	URL          string
	Data         []byte
	StatusCode   int
	Header       http.Header
	ETag         string
	LastModified time.Time
	StoredAt     time.Time
	MaxAge       time.Duration
	// StaleGrace is how long past MaxAge the entry may still be served
	// under stale-while-revalidate.
	StaleGrace time.Duration
}

// Age is the time since the entry was stored or last revalidated.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// IsExpired reports age > MaxAge.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return e.Age(now) > e.MaxAge
}

// servableStale reports whether an expired entry is still inside its grace.
func (e *CacheEntry) servableStale(now time.Time) bool {
	return e.Age(now) <= e.MaxAge+e.StaleGrace
}

func (e *CacheEntry) size() int64 {
	n := len(e.Key) + len(e.URL) + len(e.Data) + len(e.ETag)
	for k, vs := range e.Header {
		n += len(k)
		for _, v := range vs {
			n += len(v)
		}
	}
	return int64(n)
}

func (e *CacheEntry) clone() *CacheEntry {
	c := *e
	c.Data = append([]byte(nil), e.Data...)
	c.Header = e.Header.Clone()
	return &c
}

// ConditionalResult is the outcome of ConditionalRetrieve.
type ConditionalResult int

const (
	CacheNotFound ConditionalResult = iota
	CacheModified
	CacheNotModified
)

func (r ConditionalResult) String() string {
	switch r {
	case CacheNotFound:
		return "notFound"
	case CacheModified:
		return "modified"
	case CacheNotModified:
		return "notModified"
	}
	return "unknown"
}

// Conditional pairs a ConditionalResult with the stored entry when one exists.
type Conditional struct {
	Result ConditionalResult
	Entry  *CacheEntry
}

// CacheStats is a point-in-time copy of the store counters.
type CacheStats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
	Entries     int
	Bytes       int64
	Budget      int64
}

// CacheStoreOption configures a CacheStore.
type CacheStoreOption func(*CacheStore)

// WithCacheClock sets the clock used for ages and the sweeper.
func WithCacheClock(clk clock.Clock) CacheStoreOption {
	return func(s *CacheStore) { s.clock = clk }
}

// WithCacheBudget sets the memory budget in bytes.
func WithCacheBudget(bytes int64) CacheStoreOption {
	return func(s *CacheStore) { s.budget = bytes }
}

// WithSweepInterval sets the period of the background sweep.
func WithSweepInterval(d time.Duration) CacheStoreOption {
	return func(s *CacheStore) { s.sweepInterval = d }
}

// WithCacheAnalytics reports evictions to sink.
func WithCacheAnalytics(sink AnalyticsSink) CacheStoreOption {
	return func(s *CacheStore) { s.sink = sink }
}

// CacheStore is an in-memory response store with TTL expiry and a memory
// budget. Entries are ordered by stored-at time; when a write exceeds the
// budget the oldest entries are evicted first. Read preference is decided
// by the caller; the store only stores, retrieves and expires.
type CacheStore struct {
	mu            sync.Mutex
	clock         clock.Clock
	entries       *simplelru.LRU[string, *CacheEntry]
	budget        int64
	bytes         int64
	sweepInterval time.Duration
	sink          AnalyticsSink
	stats         CacheStats
}

// NewCacheStore creates an empty store.
func NewCacheStore(opts ...CacheStoreOption) *CacheStore {
	s := &CacheStore{
		clock:         clock.New(),
		budget:        DefaultCacheBudget,
		sweepInterval: DefaultSweepInterval,
		sink:          nopSink{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.sink == nil {
		s.sink = nopSink{}
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = DefaultSweepInterval
	}
	// Ordering only; the byte budget bounds the size.
	s.entries, _ = simplelru.NewLRU[string, *CacheEntry](math.MaxInt32, nil)
	return s
}

// Store saves data under key. It is a no-op for policies that skip storage
// and returns whether the entry was kept.
func (s *CacheStore) Store(key string, data []byte, policy CachePolicy, etag string, maxAge time.Duration) bool {
	return s.StoreEntry(&CacheEntry{
		Key:        key,
		Data:       data,
		StatusCode: http.StatusOK,
		ETag:       etag,
		MaxAge:     maxAge,
	}, policy)
}

// StoreEntry saves a fully described entry, stamping StoredAt with now.
func (s *CacheStore) StoreEntry(entry *CacheEntry, policy CachePolicy) bool {
	if entry == nil || !policy.Stores() {
		return false
	}
	e := entry.clone()
	size := e.size()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.budget > 0 && size > s.budget {
		return false
	}
	e.StoredAt = s.clock.Now()
	s.put(e, size)
	return true
}

// put inserts e and evicts oldest entries while over budget. Caller holds mu.
func (s *CacheStore) put(e *CacheEntry, size int64) {
	if old, ok := s.entries.Peek(e.Key); ok {
		s.bytes -= old.size()
	}
	s.entries.Add(e.Key, e)
	s.bytes += size

	var evicted int
	for s.budget > 0 && s.bytes > s.budget {
		_, old, ok := s.entries.RemoveOldest()
		if !ok {
			break
		}
		s.bytes -= old.size()
		s.stats.Evictions++
		evicted++
	}
	for i := 0; i < evicted; i++ {
		s.sink.Track(Event{Type: EventCacheEvicted, Size: s.entries.Len()})
	}
}

func (s *CacheStore) remove(key string, e *CacheEntry) {
	if s.entries.Remove(key) {
		s.bytes -= e.size()
	}
}

// Retrieve returns a copy of the entry for key if it is fresh, or, under
// CacheStaleWhileRevalidate, expired but within its grace. Entries past
// their servable lifetime are removed and reported as misses.
func (s *CacheStore) Retrieve(key string, policy CachePolicy) *CacheEntry {
	if !policy.Stores() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries.Peek(key)
	if !ok {
		s.stats.Misses++
		return nil
	}
	now := s.clock.Now()
	if !e.IsExpired(now) {
		s.stats.Hits++
		return e.clone()
	}
	if e.servableStale(now) {
		if policy == CacheStaleWhileRevalidate {
			s.stats.Hits++
			return e.clone()
		}
		s.stats.Misses++
		return nil
	}

	s.remove(key, e)
	s.stats.Expirations++
	s.stats.Misses++
	return nil
}

// Peek returns a copy of the entry for key regardless of expiry, without
// touching statistics.
func (s *CacheStore) Peek(key string) (*CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries.Peek(key)
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

// ConditionalRetrieve compares etag, as sent in If-None-Match, with the
// stored validator. Expiry is ignored: a stale entry can still be
// revalidated.
func (s *CacheStore) ConditionalRetrieve(key, etag string) Conditional {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries.Peek(key)
	if !ok {
		return Conditional{Result: CacheNotFound}
	}
	if etag != "" && etag == e.ETag {
		return Conditional{Result: CacheNotModified, Entry: e.clone()}
	}
	return Conditional{Result: CacheModified, Entry: e.clone()}
}

// Revalidate records a 304 for key: the timestamp is refreshed and the
// payload kept. When the entry has been dropped meanwhile, fallback is
// re-inserted instead. maxAge, when positive, replaces the stored max-age.
func (s *CacheStore) Revalidate(key string, fallback *CacheEntry, maxAge time.Duration) *CacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries.Peek(key)
	if !ok {
		if fallback == nil {
			return nil
		}
		e = fallback.clone()
		e.Key = key
	} else {
		e = e.clone()
	}
	if maxAge > 0 {
		e.MaxAge = maxAge
	}
	e.StoredAt = s.clock.Now()
	s.put(e, e.size())
	return e.clone()
}

// Invalidate removes key.
func (s *CacheStore) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries.Peek(key); ok {
		s.remove(key, e)
	}
}

// InvalidatePrefix removes every key starting with prefix and returns how
// many were removed.
func (s *CacheStore) InvalidatePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.entries.Keys() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if e, ok := s.entries.Peek(k); ok {
			s.remove(k, e)
			n++
		}
	}
	return n
}

// Clear empties the store. Counters are kept.
func (s *CacheStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Purge()
	s.bytes = 0
}

// Sweep purges entries past their servable lifetime and returns the count.
func (s *CacheStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	n := 0
	for _, k := range s.entries.Keys() {
		e, ok := s.entries.Peek(k)
		if !ok || e.servableStale(now) {
			continue
		}
		s.remove(k, e)
		s.stats.Expirations++
		n++
	}
	return n
}

// Run sweeps every sweep interval until ctx is done.
func (s *CacheStore) Run(ctx context.Context) error {
	t := s.clock.Ticker(s.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.Sweep()
		}
	}
}

// Len is the number of stored entries, expired ones included.
func (s *CacheStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// Stats returns a copy of the counters.
func (s *CacheStore) Stats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Entries = s.entries.Len()
	st.Bytes = s.bytes
	st.Budget = s.budget
	return st
}
