package rig

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/riglink/internal/bus"
	"github.com/skobkin/riglink/internal/connectors"
	"github.com/skobkin/riglink/internal/metrics"
	"github.com/skobkin/riglink/internal/rigctl"
	"github.com/skobkin/riglink/internal/transport"
)

const (
	DefaultCommandTimeout      = 5 * time.Second
	DefaultCapabilitiesTimeout = 10 * time.Second
)

type DispatcherOptions struct {
	CommandTimeout      time.Duration
	CapabilitiesTimeout time.Duration
	// ResetOnTimeout re-dials the socket after a timed-out command so a
	// late reply cannot be taken as the answer to the next command.
	ResetOnTimeout bool
	Bus            bus.Publisher
	Logger         *slog.Logger
}

type laneResult struct {
	resp  rigctl.Response
	lines []string
	err   error
	// sent is set once the command reached the socket.
	sent bool
}

type laneRequest struct {
	command  string
	caps     bool
	deadline time.Time
	result   chan laneResult
}

// Dispatcher runs every command through one worker goroutine, so the
// daemon never sees a second command before the previous RPRT line or
// timeout. Replies are matched purely by arrival order.
type Dispatcher struct {
	conn   *ConnectionManager
	opts   DispatcherOptions
	logger *slog.Logger
	lane   chan laneRequest

	startOnce sync.Once
	stopped   chan struct{}
}

func NewDispatcher(conn *ConnectionManager, opts DispatcherOptions) *Dispatcher {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.CapabilitiesTimeout <= 0 {
		opts.CapabilitiesTimeout = DefaultCapabilitiesTimeout
	}
	if opts.Bus == nil {
		opts.Bus = bus.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "rig")
	}

	return &Dispatcher{
		conn:    conn,
		opts:    opts,
		logger:  opts.Logger,
		lane:    make(chan laneRequest),
		stopped: make(chan struct{}),
	}
}

// Start launches the lane worker. It stops when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		go d.runLane(ctx)
	})
}

// Execute sends command and waits for its reply. A zero timeout uses the
// configured command timeout. The deadline covers queueing and the round trip.
func (d *Dispatcher) Execute(ctx context.Context, command string, timeout time.Duration) (rigctl.Response, error) {
	if timeout <= 0 {
		timeout = d.opts.CommandTimeout
	}
	res := d.submit(ctx, command, false, timeout)

	return res.resp, res.err
}

// GetCapabilities runs dump_caps with the longer capabilities timeout and
// returns the raw capability lines.
func (d *Dispatcher) GetCapabilities(ctx context.Context) ([]string, error) {
	res := d.submit(ctx, rigctl.DumpCaps(), true, d.opts.CapabilitiesTimeout)

	return res.lines, res.err
}

func (d *Dispatcher) submit(ctx context.Context, command string, caps bool, timeout time.Duration) laneResult {
	command = strings.TrimSpace(command)
	if command == "" {
		return laneResult{err: fmt.Errorf("command is empty")}
	}
	if d.conn.activeLink() == nil {
		return laneResult{err: ErrNotConnected}
	}

	req := laneRequest{
		command:  command,
		caps:     caps,
		deadline: time.Now().Add(timeout),
		result:   make(chan laneResult, 1),
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d.lane <- req:
	case <-timer.C:
		return laneResult{err: &commandTimeoutError{command: command}}
	case <-ctx.Done():
		return laneResult{err: ctx.Err()}
	case <-d.stopped:
		return laneResult{err: ErrNotConnected}
	}

	select {
	case res := <-req.result:
		return res
	case <-timer.C:
		return laneResult{err: &commandTimeoutError{command: command}}
	case <-ctx.Done():
		return laneResult{err: ctx.Err()}
	}
}

func (d *Dispatcher) runLane(ctx context.Context) {
	defer close(d.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.lane:
			res := d.process(ctx, req)
			req.result <- res
			if res.sent && isCommandTimeout(res.err) && d.opts.ResetOnTimeout {
				if err := d.conn.Reset(ctx); err != nil {
					d.logger.Warn("reset after timeout failed", "error", err)
				}
			}
		}
	}
}

// process owns the socket for one command. Caller cancellation does not
// interrupt it; only the request deadline does.
func (d *Dispatcher) process(ctx context.Context, req laneRequest) laneResult {
	if !time.Now().Before(req.deadline) {
		return laneResult{err: &commandTimeoutError{command: req.command}}
	}
	link := d.conn.activeLink()
	if link == nil {
		return laneResult{err: ErrNotConnected}
	}

	started := time.Now()
	res := d.roundTrip(ctx, link, req)
	metrics.Get().RecordCommand(commandVerb(req.command), time.Since(started), res.err)
	if isCommandTimeout(res.err) {
		metrics.Get().CommandTimeouts.Inc()
		d.logger.Warn("command timed out", "command", req.command)
	}

	return res
}

func (d *Dispatcher) roundTrip(ctx context.Context, link *transport.Link, req laneRequest) laneResult {
	writeCtx, cancel := context.WithDeadline(ctx, req.deadline)
	defer cancel()
	if err := link.Write(writeCtx, rigctl.EncodeCommand(req.command)); err != nil {
		return laneResult{err: fmt.Errorf("send %q: %w", req.command, err)}
	}
	d.logger.Debug("command sent", "command", req.command)

	var dec rigctl.Decoder
	timer := time.NewTimer(time.Until(req.deadline))
	defer timer.Stop()

	for {
		select {
		case chunk := <-link.Inbound():
			if dec.Feed(chunk) {
				return d.finish(req, &dec)
			}
		case <-link.Done():
			if drainInbound(link, &dec) {
				return d.finish(req, &dec)
			}
			return laneResult{err: fmt.Errorf("%q: %w", req.command, ErrConnectionLost), sent: true}
		case <-timer.C:
			return laneResult{err: &commandTimeoutError{command: req.command}, sent: true}
		case <-ctx.Done():
			return laneResult{err: ctx.Err(), sent: true}
		}
	}
}

func (d *Dispatcher) finish(req laneRequest, dec *rigctl.Decoder) laneResult {
	res := laneResult{sent: true}
	if req.caps {
		res.lines, res.err = dec.DecodeCapabilities()
	} else {
		res.resp, res.err = dec.Decode()
	}

	traffic := connectors.RawTraffic{Command: req.command, Response: strings.Join(res.resp.Values, "\n")}
	if req.caps {
		traffic.Response = fmt.Sprintf("%d capability lines", len(res.lines))
	}
	if res.err != nil {
		traffic.Err = res.err.Error()
		d.logger.Debug("command rejected", "command", req.command, "error", res.err)
	}
	d.opts.Bus.Publish(connectors.TopicRawTraffic, traffic)

	return res
}

// drainInbound feeds chunks the reader queued before the link closed.
func drainInbound(link *transport.Link, dec *rigctl.Decoder) bool {
	for {
		select {
		case chunk := <-link.Inbound():
			if dec.Feed(chunk) {
				return true
			}
		default:
			return false
		}
	}
}

func commandVerb(command string) string {
	if fields := strings.Fields(command); len(fields) > 0 {
		return fields[0]
	}
	return command
}

func isCommandTimeout(err error) bool {
	_, ok := err.(*commandTimeoutError)
	return ok
}
