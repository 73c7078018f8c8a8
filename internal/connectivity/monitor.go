// Package connectivity probes the remote store and reports online/offline
// transitions to the sync engine. Connectivity is binary and advisory: the
// drainer's own send failures also flip it offline, so the probe mainly
// accelerates recovery.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pinger is the probe target, satisfied by remote.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Listener receives transitions, satisfied by syncqueue.Engine.
type Listener interface {
	SetOnline(online bool)
}

// Monitor polls the remote on an interval and forwards edge transitions.
type Monitor struct {
	pinger   Pinger
	listener Listener
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	online bool
	known  bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMonitor builds a monitor. interval defaults to 15s, probe timeout to 5s.
func NewMonitor(pinger Pinger, listener Listener, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		pinger:   pinger,
		listener: listener,
		interval: interval,
		timeout:  5 * time.Second,
		logger:   logger.With("component", "connectivity"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start probes once immediately, then on every tick.
func (m *Monitor) Start() {
	go func() {
		defer close(m.done)
		m.probe()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.probe()
			}
		}
	}()
}

// Stop halts probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// Set forces a state, for UI-driven overrides (e.g. an explicit "work
// offline" toggle). The next probe may flip it back.
func (m *Monitor) Set(online bool) {
	m.report(online)
}

// Online returns the last observed state; false until the first probe.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known && m.online
}

func (m *Monitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	err := m.pinger.Ping(ctx)
	cancel()
	m.report(err == nil)
}

func (m *Monitor) report(online bool) {
	m.mu.Lock()
	changed := !m.known || m.online != online
	m.online = online
	m.known = true
	m.mu.Unlock()

	if !changed {
		return
	}
	if online {
		m.logger.Info("remote reachable")
	} else {
		m.logger.Warn("remote unreachable")
	}
	m.listener.SetOnline(online)
}
