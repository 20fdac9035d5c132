package rig

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/riglink/internal/metrics"
)

const (
	DefaultMainInterval   = time.Second
	DefaultSmeterInterval = 250 * time.Millisecond
)

// pollTarget is the slice of Session the poller drives.
type pollTarget interface {
	IsConnected() bool
	Busy() bool
	RefreshState(ctx context.Context)
	UpdateSmeter(ctx context.Context)
}

type PollerOptions struct {
	MainInterval   time.Duration
	SmeterInterval time.Duration
	Logger         *slog.Logger
}

// Poller drives the full-state refresh and the fast S-meter refresh on
// independent tickers. A tick is skipped, not queued, while the previous
// tick of the same loop or a connect/disconnect is still running.
type Poller struct {
	target pollTarget
	opts   PollerOptions
	logger *slog.Logger

	mainBusy   atomic.Bool
	smeterBusy atomic.Bool

	mu           sync.Mutex
	cancelMain   context.CancelFunc
	cancelSmeter context.CancelFunc
	wg           sync.WaitGroup
}

func NewPoller(target pollTarget, opts PollerOptions) *Poller {
	if opts.MainInterval <= 0 {
		opts.MainInterval = DefaultMainInterval
	}
	if opts.SmeterInterval <= 0 {
		opts.SmeterInterval = DefaultSmeterInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "rig.poller")
	}

	return &Poller{target: target, opts: opts, logger: opts.Logger}
}

// Start runs both loops until Stop or ctx is done.
func (p *Poller) Start(ctx context.Context) {
	p.StartMain(ctx)
	p.StartSmeter(ctx)
}

func (p *Poller) StartMain(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelMain != nil {
		return
	}
	ctx, p.cancelMain = context.WithCancel(ctx)
	p.run(ctx, "main", p.opts.MainInterval, &p.mainBusy, p.target.RefreshState)
}

func (p *Poller) StartSmeter(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelSmeter != nil {
		return
	}
	ctx, p.cancelSmeter = context.WithCancel(ctx)
	p.run(ctx, "smeter", p.opts.SmeterInterval, &p.smeterBusy, p.target.UpdateSmeter)
}

func (p *Poller) StopSmeter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelSmeter != nil {
		p.cancelSmeter()
		p.cancelSmeter = nil
	}
}

// Stop cancels both loops and waits for in-flight ticks to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.cancelMain != nil {
		p.cancelMain()
		p.cancelMain = nil
	}
	if p.cancelSmeter != nil {
		p.cancelSmeter()
		p.cancelSmeter = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, name string, interval time.Duration, busy *atomic.Bool, tick func(context.Context)) {
	p.logger.Debug("poll loop started", "loop", name, "interval", interval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("poll loop stopped", "loop", name)
				return
			case <-ticker.C:
				if !p.target.IsConnected() {
					continue
				}
				if p.target.Busy() || !busy.CompareAndSwap(false, true) {
					metrics.Get().PollSkipped.WithLabelValues(name).Inc()
					continue
				}
				p.wg.Add(1)
				go func() {
					defer p.wg.Done()
					defer busy.Store(false)
					tick(ctx)
				}()
			}
		}
	}()
}
