package figrnet

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

// ConnectionType describes the active network path.
type ConnectionType int

const (
	ConnectionNone ConnectionType = iota
	ConnectionWiFi
	ConnectionCellular
	ConnectionEthernet
	ConnectionOther
)

func (t ConnectionType) String() string {
	switch t {
	case ConnectionNone:
		return "none"
	case ConnectionWiFi:
		return "wifi"
	case ConnectionCellular:
		return "cellular"
	case ConnectionEthernet:
		return "ethernet"
	case ConnectionOther:
		return "other"
	}
	return fmt.Sprintf("ConnectionType(%d)", int(t))
}

// ConnectivityStatus is one observation published to subscribers.
type ConnectivityStatus struct {
	Connected bool
	Type      ConnectionType
	Changed   time.Time
}

// Monitor reports network reachability.
type Monitor interface {
	IsConnected() bool
	ConnectionType() ConnectionType
	// Subscribe delivers every change in connectivity. A slow subscriber
	// only sees the latest status. cancel stops delivery.
	Subscribe() (updates <-chan ConnectivityStatus, cancel func())
}

// ManualMonitor is a Monitor driven by explicit Set calls, for platforms
// that push reachability changes and for tests.
type ManualMonitor struct {
	mu     sync.RWMutex
	status ConnectivityStatus
	subs   map[int]chan ConnectivityStatus
	next   int
	clock  clock.Clock
}

// NewManualMonitor starts in the given state.
func NewManualMonitor(connected bool, t ConnectionType) *ManualMonitor {
	return newManualMonitor(clock.New(), connected, t)
}

func newManualMonitor(clk clock.Clock, connected bool, t ConnectionType) *ManualMonitor {
	if !connected {
		t = ConnectionNone
	}
	return &ManualMonitor{
		status: ConnectivityStatus{Connected: connected, Type: t, Changed: clk.Now()},
		subs:   make(map[int]chan ConnectivityStatus),
		clock:  clk,
	}
}

func (m *ManualMonitor) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Connected
}

func (m *ManualMonitor) ConnectionType() ConnectionType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Type
}

// Status returns the current observation.
func (m *ManualMonitor) Status() ConnectivityStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *ManualMonitor) Subscribe() (<-chan ConnectivityStatus, func()) {
	ch := make(chan ConnectivityStatus, 1)
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Set records a new observation and notifies subscribers if it differs from
// the previous one. It reports whether anything changed.
func (m *ManualMonitor) Set(connected bool, t ConnectionType) bool {
	if !connected {
		t = ConnectionNone
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.Connected == connected && m.status.Type == t {
		return false
	}
	m.status = ConnectivityStatus{Connected: connected, Type: t, Changed: m.clock.Now()}
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- m.status
	}
	return true
}

// Prober checks reachability once.
type Prober func(ctx context.Context) (ConnectionType, error)

// HTTPProber probes with a HEAD request to url. Any HTTP response counts as
// connected.
func HTTPProber(client *http.Client, url string) Prober {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) (ConnectionType, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return ConnectionNone, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return ConnectionNone, err
		}
		resp.Body.Close()
		return ConnectionOther, nil
	}
}

// ProbeMonitor polls a Prober. While connected it probes every interval;
// while disconnected it re-probes on an exponential backoff so that
// reconnection is noticed quickly without hammering the network.
type ProbeMonitor struct {
	*ManualMonitor

	probe    Prober
	interval time.Duration
	timeout  time.Duration
	backoff  *backoff.ExponentialBackOff
	logger   Logger
}

// NewProbeMonitor creates a monitor that assumes connectivity until the
// first probe says otherwise.
func NewProbeMonitor(probe Prober, interval time.Duration, clk clock.Clock, logger Logger) *ProbeMonitor {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = NopLogger{}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = interval
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.25
	b.Clock = clk
	b.Reset()

	return &ProbeMonitor{
		ManualMonitor: newManualMonitor(clk, true, ConnectionOther),
		probe:         probe,
		interval:      interval,
		timeout:       5 * time.Second,
		backoff:       b,
		logger:        logger,
	}
}

// ProbeOnce runs the prober, records the result and returns the delay
// before the next probe.
func (m *ProbeMonitor) ProbeOnce(ctx context.Context) time.Duration {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	t, err := m.probe(pctx)
	cancel()

	if err != nil {
		if m.Set(false, ConnectionNone) {
			m.logger.Warn("Connectivity lost", "error", err)
		}
		d := m.backoff.NextBackOff()
		if d == backoff.Stop || d > m.interval {
			d = m.interval
		}
		return d
	}
	if m.Set(true, t) {
		m.logger.Info("Connectivity restored", "type", t.String())
	}
	m.backoff.Reset()
	return m.interval
}

// Run probes until ctx is done.
func (m *ProbeMonitor) Run(ctx context.Context) error {
	for {
		d := m.ProbeOnce(ctx)
		t := m.clock.Timer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
