package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tidemail/tidemail/internal/metrics"
)

// Trigger nudges the remote worker to advance the send queue by one
// step. Failures are non-fatal; the next tick retries.
type Trigger interface {
	TriggerWorker(ctx context.Context) error
}

// Poller keeps the remote delivery worker alive while a campaign is
// running. The worker may live in an environment without long-lived
// background processes, so the client acts as its periodic wake-up
// source: one trigger immediately on activation, then one per interval.
type Poller struct {
	trigger  Trigger
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a poller.
func New(trigger Trigger, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		trigger:  trigger,
		interval: interval,
		logger:   logger.With("component", "poller"),
		metrics:  m,
	}
}

// Start begins triggering. Starting an already-active poller is a
// no-op, so overlapping running observations stay idempotent.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop halts triggering and waits for the loop to exit. Stopping an
// inactive poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	p.fire(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fire(ctx)
		}
	}
}

func (p *Poller) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := p.trigger.TriggerWorker(ctx); err != nil {
		p.logger.Debug("worker trigger failed", "error", err)
		return
	}
	p.metrics.RecordTrigger()
}
