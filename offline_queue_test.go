package figrnet

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

func newTestQueue(t *testing.T, opts ...QueueOption) (*OfflineQueue, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	q, err := NewOfflineQueue(append([]QueueOption{WithQueueClock(mock)}, opts...)...)
	require.NoError(t, err)
	return q, mock
}

func postWithPriority(path string, p Priority) Endpoint {
	return NewEndpoint(http.MethodPost, path, WithPriority(p), WithJSONBody(map[string]string{"path": path}))
}

func queuedPaths(q *OfflineQueue) []string {
	var out []string
	for _, r := range q.QueuedRequests() {
		out = append(out, r.Endpoint.Path)
	}
	return out
}

func TestOfflineQueuePriorityOrder(t *testing.T) {
	q, _ := newTestQueue(t)

	for _, ep := range []Endpoint{
		postWithPriority("/low", PriorityLow),
		postWithPriority("/critical", PriorityCritical),
		postWithPriority("/normal", PriorityNormal),
	} {
		_, err := q.Enqueue(ep)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"/critical", "/normal", "/low"}, queuedPaths(q))
}

func TestOfflineQueueFIFOWithinPriority(t *testing.T) {
	q, mock := newTestQueue(t)

	for _, p := range []string{"/a", "/b", "/c"} {
		_, err := q.Enqueue(postWithPriority(p, PriorityHigh))
		require.NoError(t, err)
	}
	mock.Add(time.Second)
	_, err := q.Enqueue(postWithPriority("/urgent", PriorityCritical))
	require.NoError(t, err)

	assert.Equal(t, []string{"/urgent", "/a", "/b", "/c"}, queuedPaths(q))
}

func TestOfflineQueueRejectsReads(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Enqueue(NewEndpoint(http.MethodGet, "/items"))
	assert.True(t, errors.Is(err, ErrNotQueueable))
	assert.Equal(t, 0, q.Len())
}

func TestOfflineQueueOverflowEvictsOldestLow(t *testing.T) {
	q, _ := newTestQueue(t, WithQueueCapacity(3))

	for _, ep := range []Endpoint{
		postWithPriority("/low-1", PriorityLow),
		postWithPriority("/low-2", PriorityLow),
		postWithPriority("/high", PriorityHigh),
	} {
		_, err := q.Enqueue(ep)
		require.NoError(t, err)
	}

	_, err := q.Enqueue(postWithPriority("/normal", PriorityNormal))
	require.NoError(t, err)
	assert.Equal(t, []string{"/high", "/normal", "/low-2"}, queuedPaths(q))
}

func TestOfflineQueueOverflowRejectsWithoutLow(t *testing.T) {
	q, _ := newTestQueue(t, WithQueueCapacity(2))

	_, err := q.Enqueue(postWithPriority("/a", PriorityNormal))
	require.NoError(t, err)
	_, err = q.Enqueue(postWithPriority("/b", PriorityHigh))
	require.NoError(t, err)

	_, err = q.Enqueue(postWithPriority("/c", PriorityCritical))
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, 2, q.Len())
}

func TestOfflineQueueProcessInOrder(t *testing.T) {
	q, _ := newTestQueue(t)
	for _, ep := range []Endpoint{
		postWithPriority("/low", PriorityLow),
		postWithPriority("/critical", PriorityCritical),
		postWithPriority("/normal", PriorityNormal),
	} {
		_, err := q.Enqueue(ep)
		require.NoError(t, err)
	}

	var order []string
	report := q.ProcessQueue(context.Background(), func(ctx context.Context, r OfflineRequest) error {
		order = append(order, r.Endpoint.Path)
		return nil
	}, nil)

	assert.Equal(t, []string{"/critical", "/normal", "/low"}, order)
	assert.Equal(t, QueueReport{Executed: 3}, report)
	assert.Equal(t, 0, q.Len())
}

func TestOfflineQueueDropsExhaustedEntries(t *testing.T) {
	q, _ := newTestQueue(t, WithQueueMaxRetries(1))
	_, err := q.Enqueue(postWithPriority("/flaky", PriorityNormal))
	require.NoError(t, err)

	report := q.ProcessQueue(context.Background(), func(context.Context, OfflineRequest) error {
		return ErrServerError
	}, nil)

	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, 0, q.Len())
}

func TestOfflineQueueRetriesTransientFailuresOnLaterPass(t *testing.T) {
	q, _ := newTestQueue(t, WithQueueMaxRetries(3))
	_, err := q.Enqueue(postWithPriority("/flaky", PriorityNormal))
	require.NoError(t, err)

	calls := 0
	fail := func(context.Context, OfflineRequest) error {
		calls++
		return ErrTimeout
	}

	report := q.ProcessQueue(context.Background(), fail, nil)
	assert.Equal(t, 1, calls, "an entry is attempted once per pass")
	assert.Equal(t, 1, report.Retried)

	items := q.QueuedRequests()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].RetryCount)
	assert.NotEmpty(t, items[0].LastError)

	q.ProcessQueue(context.Background(), fail, nil)
	report = q.ProcessQueue(context.Background(), fail, nil)
	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, 0, q.Len())
}

func TestOfflineQueueDropsStructuralFailures(t *testing.T) {
	q, _ := newTestQueue(t)
	_, err := q.Enqueue(postWithPriority("/bad", PriorityNormal))
	require.NoError(t, err)

	report := q.ProcessQueue(context.Background(), func(context.Context, OfflineRequest) error {
		return ErrBadRequest
	}, nil)

	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, 0, q.Len())
}

func TestOfflineQueuePurgesExpired(t *testing.T) {
	q, mock := newTestQueue(t)
	_, err := q.Enqueue(NewEndpoint(http.MethodPost, "/login", WithClass(ClassAuth)))
	require.NoError(t, err)
	_, err = q.Enqueue(NewEndpoint(http.MethodPost, "/articles", WithClass(ClassContent)))
	require.NoError(t, err)

	mock.Add(10 * time.Minute)

	var replayed []string
	report := q.ProcessQueue(context.Background(), func(ctx context.Context, r OfflineRequest) error {
		replayed = append(replayed, r.Endpoint.Path)
		return nil
	}, nil)

	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, []string{"/articles"}, replayed)
}

func TestOfflineQueueStopsWhenDisconnected(t *testing.T) {
	q, _ := newTestQueue(t)
	for _, p := range []string{"/a", "/b"} {
		_, err := q.Enqueue(postWithPriority(p, PriorityNormal))
		require.NoError(t, err)
	}

	online := true
	report := q.ProcessQueue(context.Background(), func(context.Context, OfflineRequest) error {
		online = false
		return nil
	}, func() bool { return online })

	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, []string{"/b"}, queuedPaths(q))
}

func TestOfflineQueuePersistsEveryMutation(t *testing.T) {
	store := NewMemoryQueueStore()
	q, _ := newTestQueue(t, WithQueueStore(store))

	r, err := q.Enqueue(postWithPriority("/a", PriorityNormal))
	require.NoError(t, err)
	_, err = q.Enqueue(postWithPriority("/b", PriorityNormal))
	require.NoError(t, err)
	assert.Equal(t, 2, store.Saves())

	assert.True(t, q.Remove(r.ID))
	assert.Equal(t, 3, store.Saves())

	saved, err := store.Load()
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "/b", saved[0].Endpoint.Path)
}

func TestOfflineQueueLoadsSnapshotAtStartup(t *testing.T) {
	store := NewMemoryQueueStore()
	first, mock := newTestQueue(t, WithQueueStore(store))
	_, err := first.Enqueue(postWithPriority("/a", PriorityLow))
	require.NoError(t, err)
	_, err = first.Enqueue(NewEndpoint(http.MethodPost, "/login", WithClass(ClassAuth)))
	require.NoError(t, err)

	mock.Add(10 * time.Minute)
	second, err := NewOfflineQueue(WithQueueStore(store), WithQueueClock(mock))
	require.NoError(t, err)

	assert.Equal(t, []string{"/a"}, queuedPaths(second))

	_, err = second.Enqueue(postWithPriority("/b", PriorityLow))
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, queuedPaths(second))
}

func TestOfflineRequestShouldRetry(t *testing.T) {
	now := time.Unix(1000, 0)
	r := OfflineRequest{RetryCount: 1, MaxRetries: 2, ExpiresAt: now.Add(time.Minute)}

	assert.True(t, r.ShouldRetry(now))
	r.RetryCount = 2
	assert.False(t, r.ShouldRetry(now))
	r.RetryCount = 0
	assert.False(t, r.ShouldRetry(now.Add(time.Minute)))
}

func TestOfflineRequestSnapshotReplaysEndpoint(t *testing.T) {
	q, _ := newTestQueue(t)
	ep := NewEndpoint(http.MethodPut, "/profile",
		WithClass(ClassUserData),
		WithQuery("v", "2"),
		WithJSONBody(map[string]string{"name": "ada"}),
	)
	r, err := q.Enqueue(ep)
	require.NoError(t, err)

	replay := r.Endpoint.Endpoint()
	assert.Equal(t, http.MethodPut, replay.Method())
	assert.Equal(t, "/profile", replay.Path())
	assert.Equal(t, ep.Body(), replay.Body())
	assert.Equal(t, "2", replay.Query().Get("v"))
	assert.True(t, replay.RequiresAuth())
	assert.False(t, replay.Queueable())
	assert.Equal(t, PriorityHigh, r.Priority)
}

func TestFileQueueStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue", "offline.json")
	store := NewFileQueueStore(path)

	items, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, items)

	q, err := NewOfflineQueue(WithQueueStore(store))
	require.NoError(t, err)
	_, err = q.Enqueue(postWithPriority("/a", PriorityHigh))
	require.NoError(t, err)

	reloaded, err := NewOfflineQueue(WithQueueStore(NewFileQueueStore(path)))
	require.NoError(t, err)
	assert.Equal(t, []string{"/a"}, queuedPaths(reloaded))
	assert.Equal(t, PriorityHigh, reloaded.QueuedRequests()[0].Priority)
}

func TestLevelDBQueueStoreReplacesSnapshot(t *testing.T) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	defer db.Close()
	store := NewLevelDBQueueStore(db)

	a := OfflineRequest{ID: "a", Seq: 1, Priority: PriorityLow}
	b := OfflineRequest{ID: "b", Seq: 2, Priority: PriorityCritical}
	require.NoError(t, store.Save([]OfflineRequest{b, a}))

	items, err := store.Load()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].ID)

	require.NoError(t, store.Save([]OfflineRequest{a}))
	items, err = store.Load()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)
	assert.NoError(t, store.Close())
}
