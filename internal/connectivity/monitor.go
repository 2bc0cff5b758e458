package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prober checks whether the remote service is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to the Prober interface.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

// Config holds monitor configuration.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Monitor observes network reachability and fires edge-triggered
// callbacks on online/offline transitions. Callbacks run on the monitor
// goroutine, so transitions are naturally serialized.
type Monitor struct {
	prober    Prober
	interval  time.Duration
	timeout   time.Duration
	onOnline  func(ctx context.Context)
	onOffline func(ctx context.Context)
	logger    *slog.Logger

	mu     sync.Mutex
	online bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor. It starts out assuming the service is online;
// the first failed probe fires onOffline.
func New(prober Prober, cfg Config, onOnline, onOffline func(ctx context.Context), logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Monitor{
		prober:    prober,
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		onOnline:  onOnline,
		onOffline: onOffline,
		logger:    logger.With("component", "connectivity"),
		online:    true,
	}
}

// Start begins probing. Starting an active monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop halts probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
}

// Online reports the last observed reachability state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.prober.Probe(probeCtx)
	cancel()

	if ctx.Err() != nil {
		return
	}
	reachable := err == nil

	m.mu.Lock()
	changed := reachable != m.online
	m.online = reachable
	m.mu.Unlock()

	if !changed {
		return
	}

	if reachable {
		m.logger.Info("connectivity restored")
		if m.onOnline != nil {
			m.onOnline(ctx)
		}
	} else {
		m.logger.Warn("connectivity lost", "error", err)
		if m.onOffline != nil {
			m.onOffline(ctx)
		}
	}
}
