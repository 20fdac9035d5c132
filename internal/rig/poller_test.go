package rig

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakePollTarget struct {
	connected atomic.Bool
	busy      atomic.Bool
	refreshes atomic.Int32
	smeters   atomic.Int32
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	block     chan struct{}
}

func (f *fakePollTarget) IsConnected() bool { return f.connected.Load() }
func (f *fakePollTarget) Busy() bool        { return f.busy.Load() }

func (f *fakePollTarget) RefreshState(ctx context.Context) {
	f.refreshes.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	if n > f.maxFlight.Load() {
		f.maxFlight.Store(n)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
}

func (f *fakePollTarget) UpdateSmeter(context.Context) {
	f.smeters.Add(1)
}

func TestPollerRunsBothLoops(t *testing.T) {
	target := &fakePollTarget{}
	target.connected.Store(true)
	p := NewPoller(target, PollerOptions{MainInterval: 20 * time.Millisecond, SmeterInterval: 5 * time.Millisecond})
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, time.Second, func() bool { return target.refreshes.Load() >= 2 && target.smeters.Load() >= 4 })
}

func TestPollerSkipsTicksWhileDisconnected(t *testing.T) {
	target := &fakePollTarget{}
	p := NewPoller(target, PollerOptions{MainInterval: 5 * time.Millisecond, SmeterInterval: 5 * time.Millisecond})
	p.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	if target.refreshes.Load() != 0 || target.smeters.Load() != 0 {
		t.Fatalf("expected no ticks while disconnected, got %d/%d", target.refreshes.Load(), target.smeters.Load())
	}
}

func TestPollerSkipsTicksWhileBusy(t *testing.T) {
	target := &fakePollTarget{}
	target.connected.Store(true)
	target.busy.Store(true)
	p := NewPoller(target, PollerOptions{MainInterval: 5 * time.Millisecond, SmeterInterval: 5 * time.Millisecond})
	p.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	if target.refreshes.Load() != 0 || target.smeters.Load() != 0 {
		t.Fatalf("expected no ticks during connect/disconnect, got %d/%d", target.refreshes.Load(), target.smeters.Load())
	}
}

func TestPollerNeverOverlapsATick(t *testing.T) {
	target := &fakePollTarget{block: make(chan struct{})}
	target.connected.Store(true)
	p := NewPoller(target, PollerOptions{MainInterval: 2 * time.Millisecond, SmeterInterval: time.Hour})
	p.StartMain(context.Background())

	waitFor(t, time.Second, func() bool { return target.refreshes.Load() == 1 })
	time.Sleep(30 * time.Millisecond)
	if got := target.refreshes.Load(); got != 1 {
		t.Fatalf("expected ticks skipped while the previous one runs, got %d refreshes", got)
	}

	close(target.block)
	waitFor(t, time.Second, func() bool { return target.refreshes.Load() > 1 })
	p.Stop()
	if target.maxFlight.Load() != 1 {
		t.Fatalf("expected at most one refresh in flight, got %d", target.maxFlight.Load())
	}
}

func TestPollerSmeterStopsIndependently(t *testing.T) {
	target := &fakePollTarget{}
	target.connected.Store(true)
	p := NewPoller(target, PollerOptions{MainInterval: 5 * time.Millisecond, SmeterInterval: 5 * time.Millisecond})
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, time.Second, func() bool { return target.smeters.Load() > 0 })
	p.StopSmeter()
	time.Sleep(20 * time.Millisecond)
	stopped := target.smeters.Load()
	time.Sleep(40 * time.Millisecond)
	if target.smeters.Load() != stopped {
		t.Fatalf("smeter loop kept ticking after StopSmeter")
	}
	before := target.refreshes.Load()
	waitFor(t, time.Second, func() bool { return target.refreshes.Load() > before })
}
