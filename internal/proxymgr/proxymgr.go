// Package proxymgr rotates outbound resolver and media traffic over a pool
// of proxies, backing off from the ones that keep failing.
package proxymgr

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/observability"
)

// State represents the current state of a proxy.
type State int

const (
	// StateAvailable indicates the proxy is available for use.
	StateAvailable State = iota
	// StateFailed indicates the proxy has failed and is in backoff.
	StateFailed
)

func (s State) String() string {
	if s == StateFailed {
		return "failed"
	}

	return "available"
}

const (
	healthCheckTimeout = 10 * time.Second
	maxBackoff         = time.Hour
)

type proxyInfo struct {
	url          string
	label        string
	state        State
	failures     int
	lastFailure  time.Time
	backoffUntil time.Time
	lastCheck    time.Time
}

// Stats is a point-in-time snapshot of a proxy.
type Stats struct {
	URL          string
	State        State
	FailureCount int
	LastFailure  time.Time
	BackoffUntil time.Time
	LastCheck    time.Time
}

// Manager tracks proxy health and hands out proxies for requests.
// A nil *Manager behaves as an empty pool.
type Manager struct {
	log         *slog.Logger
	metrics     *observability.Metrics
	maxFailures int
	backoff     time.Duration
	interval    time.Duration
	now         func() time.Time

	mu         sync.Mutex
	proxies    []*proxyInfo
	byURL      map[string]*proxyInfo
	transports map[string]*http.Transport
}

// New creates a new proxy manager from cfg.Proxy.
func New(log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) *Manager {
	mgr := &Manager{
		log:         log.With(slog.String("package", "proxymgr")),
		metrics:     metrics,
		maxFailures: max(cfg.Proxy.MaxFailures, 1),
		backoff:     cfg.Proxy.FailureBackoff,
		interval:    cfg.Proxy.HealthCheckInterval,
		now:         time.Now,
		byURL:       make(map[string]*proxyInfo, len(cfg.Proxy.Proxies)),
		transports:  make(map[string]*http.Transport),
	}

	for _, raw := range cfg.Proxy.Proxies {
		if _, ok := mgr.byURL[raw]; ok {
			continue
		}

		info := &proxyInfo{url: raw, label: redact(raw)}
		mgr.proxies = append(mgr.proxies, info)
		mgr.byURL[raw] = info
	}

	metrics.SetProxiesAvailable(len(mgr.proxies))

	return mgr
}

// GetRandomProxy returns a random available proxy URL, or "" when none is available.
func (m *Manager) GetRandomProxy() string {
	if m == nil {
		return ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	available := m.available()
	if len(available) == 0 {
		return ""
	}

	return available[rand.IntN(len(available))].url
}

// MarkFailed records a failure and puts the proxy into backoff once it
// reaches the failure threshold. Backoff doubles with every further failure.
func (m *Manager) MarkFailed(proxyURL string) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.byURL[proxyURL]
	if !ok {
		return
	}

	now := m.now()
	info.failures++
	info.lastFailure = now
	m.metrics.RecordProxyFailure(info.label)

	if info.failures < m.maxFailures {
		return
	}

	backoff := min(m.backoff<<min(info.failures-m.maxFailures, 16), maxBackoff)
	info.state = StateFailed
	info.backoffUntil = now.Add(backoff)

	m.metrics.SetProxiesAvailable(len(m.available()))
	m.log.Warn("proxy marked as failed",
		slog.String("proxy", info.label),
		slog.Int("failure_count", info.failures),
		slog.Duration("backoff", backoff))
}

// MarkSuccess resets the failure state of a proxy.
func (m *Manager) MarkSuccess(proxyURL string) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.byURL[proxyURL]
	if !ok {
		return
	}

	m.metrics.RecordProxyRequest(info.label)

	if info.state == StateFailed {
		m.log.Info("proxy restored", slog.String("proxy", info.label))
	}

	info.state = StateAvailable
	info.failures = 0
	info.backoffUntil = time.Time{}
	m.metrics.SetProxiesAvailable(len(m.available()))
}

// HealthCheck dials the proxy and updates its state accordingly.
func (m *Manager) HealthCheck(ctx context.Context, proxyURL string) error {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("parse proxy URL: %w", err)
	}

	dialer := &net.Dialer{Timeout: healthCheckTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", parsed.Host)
	if err != nil {
		m.MarkFailed(proxyURL)

		return fmt.Errorf("dial proxy: %w", err)
	}

	_ = conn.Close()

	m.mu.Lock()
	if info, ok := m.byURL[proxyURL]; ok {
		info.lastCheck = m.now()
	}
	m.mu.Unlock()

	m.MarkSuccess(proxyURL)

	return nil
}

// StartHealthChecker checks every proxy periodically until ctx is done.
// It returns immediately when there is nothing to check.
func (m *Manager) StartHealthChecker(ctx context.Context) {
	if m == nil || m.interval <= 0 || len(m.proxies) == 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAll(ctx)
			}
		}
	}()

	m.log.Info("proxy health checker started",
		slog.Duration("interval", m.interval),
		slog.Int("proxy_count", len(m.proxies)))
}

// RoundTripper returns a transport that sends every request through a
// random available proxy and tracks its outcome. base is used as is when
// the pool is empty.
func (m *Manager) RoundTripper(base *http.Transport) http.RoundTripper {
	if m == nil || len(m.proxies) == 0 {
		return base
	}

	return &rotatingTransport{mgr: m, base: base}
}

// Stats returns a snapshot of every proxy in configuration order.
func (m *Manager) Stats() []Stats {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make([]Stats, 0, len(m.proxies))
	for _, info := range m.proxies {
		stats = append(stats, Stats{
			URL:          info.url,
			State:        info.state,
			FailureCount: info.failures,
			LastFailure:  info.lastFailure,
			BackoffUntil: info.backoffUntil,
			LastCheck:    info.lastCheck,
		})
	}

	return stats
}

// HasProxies reports whether any proxies are configured.
func (m *Manager) HasProxies() bool {
	return m != nil && len(m.proxies) > 0
}

// ProxyCount returns the number of configured proxies.
func (m *Manager) ProxyCount() int {
	if m == nil {
		return 0
	}

	return len(m.proxies)
}

// AvailableCount returns the number of proxies not in backoff.
func (m *Manager) AvailableCount() int {
	if m == nil {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.available())
}

// available returns proxies that are healthy or whose backoff expired.
// Callers hold m.mu.
func (m *Manager) available() []*proxyInfo {
	now := m.now()
	out := make([]*proxyInfo, 0, len(m.proxies))

	for _, info := range m.proxies {
		if info.state == StateAvailable || now.After(info.backoffUntil) {
			out = append(out, info)
		}
	}

	return out
}

func (m *Manager) checkAll(ctx context.Context) {
	m.mu.Lock()
	urls := make([]string, 0, len(m.proxies))
	for _, info := range m.proxies {
		urls = append(urls, info.url)
	}
	m.mu.Unlock()

	for _, proxyURL := range urls {
		if ctx.Err() != nil {
			return
		}

		if err := m.HealthCheck(ctx, proxyURL); err != nil {
			m.log.Debug("proxy health check failed",
				slog.String("proxy", redact(proxyURL)),
				slog.Any("error", err))
		}
	}

	for _, st := range m.Stats() {
		if st.State != StateFailed {
			continue
		}

		m.log.Warn("proxy in backoff",
			slog.String("proxy", redact(st.URL)),
			slog.Int("failures", st.FailureCount),
			slog.Time("until", st.BackoffUntil))
	}

	m.log.Debug("proxy health check done", slog.Int("available", m.AvailableCount()))
}

// transport returns the cached per-proxy transport, creating it on first use.
func (m *Manager) transport(base *http.Transport, proxyURL string) (*http.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tr, ok := m.transports[proxyURL]; ok {
		return tr, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy URL: %w", err)
	}

	tr := base.Clone()
	tr.Proxy = http.ProxyURL(parsed)
	m.transports[proxyURL] = tr

	return tr, nil
}

type rotatingTransport struct {
	mgr  *Manager
	base *http.Transport
}

func (t *rotatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	proxyURL := t.mgr.GetRandomProxy()
	if proxyURL == "" {
		return t.base.RoundTrip(req)
	}

	tr, err := t.mgr.transport(t.base, proxyURL)
	if err != nil {
		t.mgr.MarkFailed(proxyURL)

		return nil, err
	}

	resp, err := tr.RoundTrip(req)
	if err != nil {
		if req.Context().Err() == nil {
			t.mgr.MarkFailed(proxyURL)
		}

		return nil, fmt.Errorf("via proxy %s: %w", redact(proxyURL), err)
	}

	t.mgr.MarkSuccess(proxyURL)

	return resp, nil
}

// redact strips credentials from a proxy URL for logs and metric labels.
func redact(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}

	parsed.User = nil

	return parsed.String()
}
