package figrnet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "figrnet.yaml", `
base_url: https://api.example.com/v1/
timeout: 10s
headers:
  X-App: demo
auth:
  refresh_path: /auth/refresh
cache:
  max_size: 4MB
  stale_grace: 2m
circuit_breaker:
  failure_threshold: 2
  recovery_timeout: 5s
rate_limit:
  burst: 5
  every: 200ms
  endpoints:
    "POST /orders":
      burst: 1
      every: 1s
queue:
  limit: 20
  store: file
  path: /tmp/queue.json
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/", cfg.BaseURL)
	assert.Equal(t, "4MB", cfg.Cache.MaxSize)
	assert.Equal(t, 2, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, "file", cfg.Queue.Store)

	opts, err := cfg.Options()
	require.NoError(t, err)
	c := New(append(opts, WithLogger(NopLogger{}))...)
	require.True(t, c.IsValid(), "validation: %v", c.ValidationError())

	assert.Equal(t, "https://api.example.com/v1", c.baseURL.String())
	assert.Equal(t, 10*time.Second, c.httpClient.Timeout)
	assert.Equal(t, int64(4000000), c.cacheBudget)
	assert.Equal(t, 2*time.Minute, c.staleGrace)
	assert.Equal(t, 2, c.breakerDefaults.FailureThreshold)
	assert.Equal(t, 5*time.Second, c.breakerDefaults.RecoveryTimeout)
	assert.Equal(t, 20, c.queueCapacity)
	assert.Equal(t, "/auth/refresh", c.refreshPath)
	assert.Equal(t, "demo", c.defaultHeaders.Get("X-App"))
	assert.Equal(t, int64(5), c.RateLimits().Limiter("GET /items").Stats().MaxTokens)
	assert.Equal(t, time.Second, c.RateLimits().Limiter("POST /orders").Stats().RefillRate)
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeConfig(t, "figrnet.toml", `
base_url = "https://api.example.com"
user_agent = "demo/1.0"

[cache]
max_size = "512KiB"

[queue]
disabled = true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	opts, err := cfg.Options()
	require.NoError(t, err)
	c := New(append(opts, WithLogger(NopLogger{}))...)
	assert.True(t, c.IsValid())
	assert.Equal(t, int64(512*1024), c.cacheBudget)
	assert.Equal(t, "demo/1.0", c.userAgent)
	assert.Nil(t, c.Queue())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad.yaml":    "timeout: soon\n",
		"size.yaml":   "cache:\n  max_size: lots\n",
		"store.yaml":  "queue:\n  store: redis\n",
		"path.yaml":   "queue:\n  store: leveldb\n",
		"neg.yaml":    "cache:\n  stale_grace: -1m\n",
		"config.json": "{}",
		"rate.yaml":   "rate_limit:\n  burst: 2\n  every: fast\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, name, body))
			assert.Error(t, err)
		})
	}
}

func TestNewFromConfigOpensLevelDBQueue(t *testing.T) {
	var cfg Config
	cfg.BaseURL = "https://api.example.com"
	cfg.Queue.Store = "leveldb"
	cfg.Queue.Path = filepath.Join(t.TempDir(), "queue")

	c, err := NewFromConfig(cfg, WithLogger(NopLogger{}))
	require.NoError(t, err)

	_, ok := c.queue.store.(*LevelDBQueueStore)
	assert.True(t, ok, "Expected a leveldb backed queue")
	require.Len(t, c.closers, 1)
	assert.NoError(t, c.Close())
}

func TestNewFromConfigProbe(t *testing.T) {
	var cfg Config
	cfg.BaseURL = "https://api.example.com"
	cfg.Connectivity.ProbeURL = "https://api.example.com/health"
	cfg.Connectivity.Interval = "15s"

	c, err := NewFromConfig(cfg, WithLogger(NopLogger{}))
	require.NoError(t, err)
	pm, ok := c.monitor.(*ProbeMonitor)
	require.True(t, ok)
	assert.Equal(t, 15*time.Second, pm.interval)
}

func TestNewFromConfigInvalid(t *testing.T) {
	var cfg Config
	cfg.BaseURL = "ftp://files.example.com"

	_, err := NewFromConfig(cfg, WithLogger(NopLogger{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme")
}
