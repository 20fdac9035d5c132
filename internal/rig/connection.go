package rig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/riglink/internal/bus"
	"github.com/skobkin/riglink/internal/connectors"
	"github.com/skobkin/riglink/internal/metrics"
	"github.com/skobkin/riglink/internal/platform"
	"github.com/skobkin/riglink/internal/transport"
)

const DefaultConnectTimeout = 5 * time.Second

var allConnectionStates = []string{
	string(connectors.ConnectionStateDisconnected),
	string(connectors.ConnectionStateConnecting),
	string(connectors.ConnectionStateConnected),
	string(connectors.ConnectionStateError),
	string(connectors.ConnectionStateChecking),
}

// RigConnection is the read-only view of the connection target.
type RigConnection struct {
	Host      string
	Port      int
	Connected bool
	Model     int
	Device    string
}

// ConnectOptions describe one connect attempt.
type ConnectOptions struct {
	Host               string
	Port               int
	Model              int
	Device             string
	AttemptFirewallFix bool
}

// ConnectResult is returned by a successful connect.
type ConnectResult struct {
	Target   string
	External bool
}

// ManagedChecker tells whether the local supervisor owns the daemon.
type ManagedChecker interface {
	IsManaged() bool
}

type ConnectionDeps struct {
	Dialer         transport.Dialer
	Prober         transport.Prober
	Supervisor     ManagedChecker
	Firewall       platform.Firewall
	Bus            bus.Publisher
	Logger         *slog.Logger
	ConnectTimeout time.Duration
}

// ConnectionManager owns the single daemon socket.
type ConnectionManager struct {
	dialer         transport.Dialer
	prober         transport.Prober
	supervisor     ManagedChecker
	firewall       platform.Firewall
	bus            bus.Publisher
	logger         *slog.Logger
	connectTimeout time.Duration

	// opMu serializes connect, disconnect and reset.
	opMu sync.Mutex
	busy atomic.Bool

	mu            sync.RWMutex
	link          *transport.Link
	conn          RigConnection
	status        connectors.ConnectionStatus
	cancelConnect context.CancelFunc
}

func NewConnectionManager(deps ConnectionDeps) *ConnectionManager {
	if deps.Dialer == nil {
		deps.Dialer = transport.TCPDialer{Timeout: DefaultConnectTimeout}
	}
	if deps.Prober == nil {
		deps.Prober = transport.TCPProber{}
	}
	if deps.Firewall == nil {
		deps.Firewall = platform.NoopFirewall{}
	}
	if deps.Bus == nil {
		deps.Bus = bus.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default().With("component", "rig")
	}
	if deps.ConnectTimeout <= 0 {
		deps.ConnectTimeout = DefaultConnectTimeout
	}

	return &ConnectionManager{
		dialer:         deps.Dialer,
		prober:         deps.Prober,
		supervisor:     deps.Supervisor,
		firewall:       deps.Firewall,
		bus:            deps.Bus,
		logger:         deps.Logger,
		connectTimeout: deps.ConnectTimeout,
		conn:           RigConnection{Host: transport.DefaultHost, Port: transport.DefaultPort},
		status: connectors.ConnectionStatus{
			State:     connectors.ConnectionStateDisconnected,
			Timestamp: time.Now(),
		},
	}
}

// Connect tears down any existing socket, dials the target and reports
// whether the listener is an external rigctld.
func (m *ConnectionManager) Connect(ctx context.Context, opts ConnectOptions) (ConnectResult, error) {
	if opts.Host == "" {
		opts.Host = transport.DefaultHost
	}
	if opts.Port <= 0 {
		opts.Port = transport.DefaultPort
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.busy.Store(true)
	defer m.busy.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.cancelConnect = cancel
	m.conn = RigConnection{Host: opts.Host, Port: opts.Port, Model: opts.Model, Device: opts.Device}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancelConnect = nil
		m.mu.Unlock()
	}()

	target := transport.JoinHostPort(opts.Host, opts.Port)
	logger := m.logger.With("target", target)
	m.setStatus(connectors.ConnectionStatus{State: connectors.ConnectionStateConnecting, Target: target})
	m.closeLink()

	listening := m.prober.Probe(ctx, opts.Host, opts.Port, transport.ListenProbeTimeout)
	external := listening && !m.isManaged()
	switch {
	case external:
		logger.Info("detected external rigctld, will connect to it")
	case !listening:
		logger.Info("no rigctld detected on target")
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, m.connectTimeout)
	conn, err := m.dialer.Dial(dialCtx, opts.Host, opts.Port)
	dialCancel()
	if err != nil {
		connectErr := m.classifyDialError(ctx, opts, err)
		metrics.Get().ConnectAttempts.WithLabelValues(string(connectErr.Kind)).Inc()
		logger.Warn("connect failed", "kind", connectErr.Kind, "error", err)
		m.setStatus(connectors.ConnectionStatus{
			State:       connectors.ConnectionStateError,
			Err:         connectErr.Error(),
			Target:      target,
			Suggestions: connectErr.Suggestions,
		})

		return ConnectResult{}, connectErr
	}

	link := transport.NewLink(target, conn)
	m.mu.Lock()
	m.link = link
	m.conn.Connected = true
	m.mu.Unlock()
	go m.watch(link)

	metrics.Get().ConnectAttempts.WithLabelValues("ok").Inc()
	logger.Info("connected to rigctld", "external", external)
	m.setStatus(connectors.ConnectionStatus{
		State:    connectors.ConnectionStateConnected,
		Target:   target,
		External: external,
	})

	return ConnectResult{Target: target, External: external}, nil
}

// Disconnect is safe at any time, including during a connect or a command.
func (m *ConnectionManager) Disconnect() {
	m.mu.RLock()
	cancel := m.cancelConnect
	m.mu.RUnlock()
	if cancel != nil {
		cancel()
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.busy.Store(true)
	defer m.busy.Store(false)

	m.closeLink()
	m.mu.Lock()
	m.conn.Connected = false
	target := transport.JoinHostPort(m.conn.Host, m.conn.Port)
	m.mu.Unlock()
	m.logger.Info("disconnected from rigctld", "target", target)
	m.setStatus(connectors.ConnectionStatus{State: connectors.ConnectionStateDisconnected, Target: target})
}

// Reset closes the socket and dials the same target again without a
// status round trip through disconnected.
func (m *ConnectionManager) Reset(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if !conn.Connected {
		return ErrNotConnected
	}

	target := transport.JoinHostPort(conn.Host, conn.Port)
	m.closeLink()
	metrics.Get().LinkResets.Inc()

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()
	raw, err := m.dialer.Dial(dialCtx, conn.Host, conn.Port)
	if err != nil {
		m.mu.Lock()
		m.conn.Connected = false
		m.mu.Unlock()
		m.logger.Warn("socket reset failed", "target", target, "error", err)
		m.setStatus(connectors.ConnectionStatus{State: connectors.ConnectionStateError, Err: err.Error(), Target: target})

		return fmt.Errorf("reset link: %w", err)
	}

	link := transport.NewLink(target, raw)
	m.mu.Lock()
	m.link = link
	m.mu.Unlock()
	go m.watch(link)
	m.logger.Info("socket reset after command timeout", "target", target)

	return nil
}

func (m *ConnectionManager) Status() connectors.ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.status
}

func (m *ConnectionManager) Connection() RigConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.conn
}

// Busy reports whether a connect, disconnect or reset is running.
func (m *ConnectionManager) Busy() bool {
	return m.busy.Load()
}

// MarkChecking flips the status to checking for a diagnostics run and
// returns the status it replaced.
func (m *ConnectionManager) MarkChecking() connectors.ConnectionStatus {
	prev := m.Status()
	next := prev
	next.State = connectors.ConnectionStateChecking
	m.setStatus(next)

	return prev
}

// SettleAfterDiagnostics leaves the checking state. A healthy daemon puts
// the status back to connected or disconnected, anything else is an error.
func (m *ConnectionManager) SettleAfterDiagnostics(healthy bool, suggestions []string) {
	m.mu.RLock()
	connected := m.conn.Connected
	target := transport.JoinHostPort(m.conn.Host, m.conn.Port)
	m.mu.RUnlock()

	next := connectors.ConnectionStatus{Target: target}
	switch {
	case !healthy:
		next.State = connectors.ConnectionStateError
		next.Suggestions = suggestions
	case connected:
		next.State = connectors.ConnectionStateConnected
	default:
		next.State = connectors.ConnectionStateDisconnected
	}
	m.setStatus(next)
}

func (m *ConnectionManager) activeLink() *transport.Link {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.link
}

func (m *ConnectionManager) isManaged() bool {
	return m.supervisor != nil && m.supervisor.IsManaged()
}

func (m *ConnectionManager) closeLink() {
	m.mu.Lock()
	link := m.link
	m.link = nil
	m.mu.Unlock()
	if link != nil {
		_ = link.Close()
	}
}

// watch reports a socket failure once. Local closes are silent.
func (m *ConnectionManager) watch(link *transport.Link) {
	<-link.Done()
	if link.ClosedLocally() {
		return
	}

	m.mu.Lock()
	if m.link != link {
		m.mu.Unlock()
		return
	}
	m.link = nil
	m.conn.Connected = false
	m.mu.Unlock()

	err := link.Err()
	if err == nil {
		err = ErrConnectionLost
	}
	m.logger.Warn("rigctld connection lost", "target", link.StatusTarget(), "error", err)
	m.setStatus(connectors.ConnectionStatus{
		State:  connectors.ConnectionStateError,
		Err:    err.Error(),
		Target: link.StatusTarget(),
	})
}

func (m *ConnectionManager) setStatus(status connectors.ConnectionStatus) {
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()

	metrics.Get().SetConnectionState(string(status.State), allConnectionStates...)
	m.bus.Publish(connectors.TopicConnStatus, status)
}

func (m *ConnectionManager) classifyDialError(ctx context.Context, opts ConnectOptions, err error) *ConnectError {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return &ConnectError{Kind: ConnectCanceled, Err: ErrConnectCanceled}
	}
	if isTimeout(err) {
		return &ConnectError{
			Kind:        ConnectTimeout,
			Err:         fmt.Errorf("%w - rigctld may not be responding", ErrConnectTimeout),
			Suggestions: append([]string(nil), timeoutSuggestions...),
		}
	}

	connectErr := &ConnectError{Kind: ConnectFailed, Err: err}
	if !m.prober.Probe(ctx, opts.Host, opts.Port, transport.ListenProbeTimeout) {
		connectErr.Kind = ConnectRefused
		connectErr.Err = ErrConnectRefused
		connectErr.Suggestions = append(connectErr.Suggestions, notRunningSuggestions...)
	}

	if opts.AttemptFirewallFix && m.firewall.Supported() {
		m.applyFirewallFix(ctx, connectErr)
	}

	return connectErr
}

func (m *ConnectionManager) applyFirewallFix(ctx context.Context, connectErr *ConnectError) {
	m.logger.Info("connection failed, attempting to configure firewall")
	err := m.firewall.GrantExceptions(ctx)
	switch {
	case err == nil:
		connectErr.FirewallConfigured = true
		connectErr.ShouldRetry = true
	case errors.Is(err, platform.ErrElevationDeclined):
		connectErr.UserCancelled = true
		connectErr.Suggestions = append(connectErr.Suggestions, "Firewall configuration was cancelled")
	case errors.Is(err, platform.ErrInsufficientRights):
		connectErr.FirewallError = err.Error()
		connectErr.Suggestions = append(connectErr.Suggestions, "Try running riglink as Administrator")
	default:
		connectErr.FirewallError = err.Error()
		connectErr.Suggestions = append(connectErr.Suggestions, "Firewall configuration failed")
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
