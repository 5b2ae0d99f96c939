package cli

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmerBV/figrnet"
)

type ordersServer struct {
	*httptest.Server

	mu    sync.Mutex
	paths []string
}

func newOrdersServer(t *testing.T) *ordersServer {
	t.Helper()
	s := &ordersServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.paths = append(s.paths, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *ordersServer) requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

// seedQueue queues writes through an offline client persisting to path.
func seedQueue(t *testing.T, baseURL, path string, eps ...figrnet.Endpoint) {
	t.Helper()
	client := figrnet.New(
		figrnet.WithBaseURL(baseURL),
		figrnet.WithLogger(figrnet.NopLogger{}),
		figrnet.WithConnectivityMonitor(figrnet.NewManualMonitor(false, figrnet.ConnectionNone)),
		figrnet.WithQueuePersistence(figrnet.NewFileQueueStore(path)),
	)
	for _, ep := range eps {
		resp, err := client.Do(context.Background(), ep)
		require.NoError(t, err)
		require.True(t, resp.Queued)
	}
	require.NoError(t, client.Close())
}

func queueConfig(t *testing.T, baseURL, queuePath string) string {
	return writeConfig(t, "config.yaml", fmt.Sprintf("base_url: %s\nqueue:\n  store: file\n  path: %s\n", baseURL, queuePath))
}

func TestQueueListShowsPersistedRequests(t *testing.T) {
	server := newOrdersServer(t)
	queuePath := filepath.Join(t.TempDir(), "queue.json")
	seedQueue(t, server.URL, queuePath,
		figrnet.NewEndpoint(http.MethodPost, "/orders", figrnet.WithJSONBody(map[string]string{"sku": "pen"})),
		figrnet.NewEndpoint(http.MethodDelete, "/orders/9", figrnet.WithPriority(figrnet.PriorityHigh)),
	)
	cfg := queueConfig(t, server.URL, queuePath)

	out, _, err := execute(t, "--config", cfg, "queue", "list")
	require.NoError(t, err)

	assert.Contains(t, out, "2 queued requests")
	assert.Contains(t, out, "POST /orders")
	assert.Contains(t, out, "DELETE /orders/9")
	assert.Contains(t, out, "high")
	assert.Less(t, strings.Index(out, "DELETE /orders/9"), strings.Index(out, "POST /orders"), "higher priority is listed first")
	assert.Empty(t, server.requests(), "listing never sends requests")
}

func TestQueueDrainReplaysAndReports(t *testing.T) {
	server := newOrdersServer(t)
	queuePath := filepath.Join(t.TempDir(), "queue.json")
	seedQueue(t, server.URL, queuePath,
		figrnet.NewEndpoint(http.MethodPost, "/orders"),
		figrnet.NewEndpoint(http.MethodPost, "/broken"),
	)
	cfg := queueConfig(t, server.URL, queuePath)

	out, logs, err := execute(t, "--config", cfg, "queue", "drain")
	require.NoError(t, err)

	assert.Contains(t, out, "Executed 1")
	assert.Contains(t, out, "Dropped 1 after exhausting retries")
	assert.Contains(t, out, "0 remaining")
	assert.Contains(t, logs, "Replayed 2 queued requests")
	assert.ElementsMatch(t, []string{"POST /orders", "POST /broken"}, server.requests())

	out, _, err = execute(t, "--config", cfg, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Queue is empty")
}

func TestQueueClear(t *testing.T) {
	server := newOrdersServer(t)
	queuePath := filepath.Join(t.TempDir(), "queue.json")
	seedQueue(t, server.URL, queuePath, figrnet.NewEndpoint(http.MethodPut, "/profile"))
	cfg := queueConfig(t, server.URL, queuePath)

	out, _, err := execute(t, "--config", cfg, "queue", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 1 queued request")

	out, _, err = execute(t, "--config", cfg, "queue", "drain")
	require.NoError(t, err)
	assert.Contains(t, out, "Queue is empty")
	assert.Empty(t, server.requests())
}

func TestQueueDisabled(t *testing.T) {
	cfg := writeConfig(t, "config.toml", "[queue]\ndisabled = true\n")

	_, _, err := execute(t, "--config", cfg, "queue", "list")
	assert.ErrorContains(t, err, "offline queue is disabled")
}

func TestPlural(t *testing.T) {
	if got := plural(1, "request"); got != "request" {
		t.Errorf("Expected 'request', got %q", got)
	}
	if got := plural(3, "request"); got != "requests" {
		t.Errorf("Expected 'requests', got %q", got)
	}
}
