package connectivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type flappingProber struct {
	reachable atomic.Bool
}

func (f *flappingProber) Probe(ctx context.Context) error {
	if f.reachable.Load() {
		return nil
	}
	return errors.New("unreachable")
}

type transitionLog struct {
	mu      sync.Mutex
	online  int
	offline int
}

func (l *transitionLog) onOnline(ctx context.Context)  { l.mu.Lock(); l.online++; l.mu.Unlock() }
func (l *transitionLog) onOffline(ctx context.Context) { l.mu.Lock(); l.offline++; l.mu.Unlock() }

func (l *transitionLog) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.online, l.offline
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestMonitorDetectsLossAndRecovery(t *testing.T) {
	prober := &flappingProber{}
	prober.reachable.Store(true)
	log := &transitionLog{}

	m := New(prober, Config{Interval: 5 * time.Millisecond, Timeout: time.Second},
		log.onOnline, log.onOffline, testLogger())
	m.Start(context.Background())
	defer m.Stop()

	// Starts online with a reachable service: no transition fires.
	time.Sleep(20 * time.Millisecond)
	if online, offline := log.counts(); online != 0 || offline != 0 {
		t.Fatalf("transitions = %d/%d while stable, want 0/0", online, offline)
	}

	prober.reachable.Store(false)
	waitFor(t, func() bool { _, offline := log.counts(); return offline == 1 }, "offline transition not observed")
	if m.Online() {
		t.Error("Online() = true after loss")
	}

	prober.reachable.Store(true)
	waitFor(t, func() bool { online, _ := log.counts(); return online == 1 }, "online transition not observed")
	if !m.Online() {
		t.Error("Online() = false after recovery")
	}
}

func TestMonitorEdgeTriggered(t *testing.T) {
	prober := &flappingProber{} // permanently unreachable
	log := &transitionLog{}

	m := New(prober, Config{Interval: 2 * time.Millisecond, Timeout: time.Second},
		log.onOnline, log.onOffline, testLogger())
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool { _, offline := log.counts(); return offline >= 1 }, "offline transition not observed")

	// Repeated failed probes must not re-fire the callback.
	time.Sleep(20 * time.Millisecond)
	if _, offline := log.counts(); offline != 1 {
		t.Errorf("offline transitions = %d, want exactly 1", offline)
	}
}

func TestMonitorStop(t *testing.T) {
	prober := &flappingProber{}
	prober.reachable.Store(true)

	m := New(prober, Config{Interval: time.Millisecond, Timeout: time.Second}, nil, nil, testLogger())
	m.Start(context.Background())
	m.Stop()

	// Stopping again is a no-op.
	m.Stop()
}
