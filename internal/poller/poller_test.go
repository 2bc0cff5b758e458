package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type countingTrigger struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingTrigger) TriggerWorker(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *countingTrigger) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPollerFiresImmediately(t *testing.T) {
	trigger := &countingTrigger{}
	p := New(trigger, time.Hour, nil, testLogger())

	p.Start(context.Background())
	defer p.Stop()

	deadline := time.After(time.Second)
	for trigger.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("no trigger fired on start")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPollerFiresPeriodically(t *testing.T) {
	trigger := &countingTrigger{}
	p := New(trigger, 5*time.Millisecond, nil, testLogger())

	p.Start(context.Background())
	defer p.Stop()

	deadline := time.After(time.Second)
	for trigger.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d triggers within deadline, want at least 3", trigger.count())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPollerStop(t *testing.T) {
	trigger := &countingTrigger{}
	p := New(trigger, 5*time.Millisecond, nil, testLogger())

	p.Start(context.Background())
	p.Stop()

	n := trigger.count()
	time.Sleep(25 * time.Millisecond)
	if got := trigger.count(); got != n {
		t.Errorf("triggers after Stop = %d, want %d", got, n)
	}

	// Stopping again is a no-op.
	p.Stop()
}

func TestPollerStartIdempotent(t *testing.T) {
	trigger := &countingTrigger{}
	p := New(trigger, time.Hour, nil, testLogger())

	ctx := context.Background()
	p.Start(ctx)
	p.Start(ctx)
	p.Start(ctx)
	defer p.Stop()

	deadline := time.After(time.Second)
	for trigger.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("no trigger fired")
		case <-time.After(time.Millisecond):
		}
	}

	// With an hour-long interval only the single startup fire may have
	// happened, no matter how often Start was called.
	time.Sleep(10 * time.Millisecond)
	if got := trigger.count(); got != 1 {
		t.Errorf("triggers = %d, want 1", got)
	}
}

func TestPollerSurvivesTriggerFailure(t *testing.T) {
	trigger := &countingTrigger{err: errors.New("unreachable")}
	p := New(trigger, 5*time.Millisecond, nil, testLogger())

	p.Start(context.Background())
	defer p.Stop()

	deadline := time.After(time.Second)
	for trigger.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("poller stopped retrying after a failure")
		case <-time.After(time.Millisecond):
		}
	}
}
