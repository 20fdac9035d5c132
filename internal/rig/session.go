package rig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/riglink/internal/bus"
	"github.com/skobkin/riglink/internal/connectors"
	"github.com/skobkin/riglink/internal/metrics"
	"github.com/skobkin/riglink/internal/rigctl"
)

type SessionOptions struct {
	Connection ConnectionDeps
	Dispatcher DispatcherOptions
	Bus        bus.Publisher
	Logger     *slog.Logger
}

// Session owns one rigctld connection and everything scoped to it.
// Lifecycle: NewSession, Start, Connect/Disconnect any number of times, Close.
type Session struct {
	id         string
	conn       *ConnectionManager
	dispatcher *Dispatcher
	bus        bus.Publisher
	logger     *slog.Logger

	cancel context.CancelFunc

	mu     sync.RWMutex
	state  RigState
	caps   *rigctl.Capabilities
	smeter SmeterStatus
	// capsLoaded is set once the post-connect capability load finished,
	// successfully or not. The S-meter gate waits for it.
	capsLoaded bool

	// gateMu makes the S-meter capability check happen once per connection.
	gateMu sync.Mutex
}

func NewSession(opts SessionOptions) *Session {
	id := uuid.NewString()
	if opts.Bus == nil {
		opts.Bus = bus.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "rig")
	}
	logger := opts.Logger.With("session", id)

	if opts.Connection.Bus == nil {
		opts.Connection.Bus = opts.Bus
	}
	if opts.Connection.Logger == nil {
		opts.Connection.Logger = logger
	}
	if opts.Dispatcher.Bus == nil {
		opts.Dispatcher.Bus = opts.Bus
	}
	if opts.Dispatcher.Logger == nil {
		opts.Dispatcher.Logger = logger
	}

	conn := NewConnectionManager(opts.Connection)

	return &Session{
		id:         id,
		conn:       conn,
		dispatcher: NewDispatcher(conn, opts.Dispatcher),
		bus:        opts.Bus,
		logger:     logger,
	}
}

// Start runs the command lane until Close or ctx is done.
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.dispatcher.Start(ctx)
}

// Close disconnects and stops the command lane.
func (s *Session) Close() {
	s.Disconnect()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) ID() string { return s.id }

// Connect opens the connection, loads capabilities and takes one state
// snapshot. When the failed attempt fixed the firewall it retries exactly once.
func (s *Session) Connect(ctx context.Context, opts ConnectOptions) (ConnectResult, error) {
	s.resetConnectionScope()
	res, err := s.conn.Connect(ctx, opts)
	var connectErr *ConnectError
	if errors.As(err, &connectErr) && connectErr.ShouldRetry {
		s.logger.Info("firewall configured, retrying connection once")
		opts.AttemptFirewallFix = false
		res, err = s.conn.Connect(ctx, opts)
	}
	if err != nil {
		return res, err
	}

	s.LoadCapabilities(ctx)
	s.mu.Lock()
	s.capsLoaded = true
	s.mu.Unlock()
	s.RefreshState(ctx)

	return res, nil
}

func (s *Session) Disconnect() {
	s.conn.Disconnect()
	s.mu.Lock()
	s.caps = nil
	s.capsLoaded = false
	s.mu.Unlock()
}

// resetConnectionScope drops capabilities and S-meter status left over
// from a previous connection.
func (s *Session) resetConnectionScope() {
	s.mu.Lock()
	s.caps = nil
	s.capsLoaded = false
	s.smeter = SmeterStatus{}
	smeter := s.smeter
	s.mu.Unlock()
	s.bus.Publish(connectors.TopicSmeterStatus, smeter)
}

// LoadCapabilities fetches dump_caps. Failures are logged and leave the
// capabilities empty, which later marks the S-meter unsupported.
func (s *Session) LoadCapabilities(ctx context.Context) {
	lines, err := s.dispatcher.GetCapabilities(ctx)
	if err != nil {
		s.logger.Warn("failed to load capabilities", "error", err)
		return
	}

	caps := rigctl.ParseCapabilities(lines)
	s.mu.Lock()
	s.caps = &caps
	s.mu.Unlock()
	s.logger.Info("loaded rig capabilities", "model", caps.ModelName, "mfg", caps.MfgName, "levels", len(caps.Levels))
	s.bus.Publish(connectors.TopicCapabilities, caps)
}

// Command runs a raw command. It is the escape hatch for anything the
// typed operations do not cover.
func (s *Session) Command(ctx context.Context, command string) (rigctl.Response, error) {
	if !s.IsConnected() {
		return rigctl.Response{}, ErrNotConnected
	}

	return s.dispatcher.Execute(ctx, command, 0)
}

// FetchCapabilities asks the daemon for a fresh dump and caches it.
func (s *Session) FetchCapabilities(ctx context.Context) (rigctl.Capabilities, error) {
	if !s.IsConnected() {
		return rigctl.Capabilities{}, ErrNotConnected
	}
	lines, err := s.dispatcher.GetCapabilities(ctx)
	if err != nil {
		return rigctl.Capabilities{}, err
	}
	caps := rigctl.ParseCapabilities(lines)
	s.mu.Lock()
	s.caps = &caps
	s.mu.Unlock()

	return caps, nil
}

// RefreshState runs every state query in order. A failed query is logged
// and the previous value kept; it never aborts the remaining queries.
func (s *Session) RefreshState(ctx context.Context) {
	if !s.IsConnected() {
		return
	}

	if v, ok := s.query(ctx, "frequency", rigctl.GetFrequency()); ok {
		s.update(func(st *RigState) { st.FrequencyHz = rigctl.ParseInt(v[0]) })
	}
	if v, ok := s.query(ctx, "mode", rigctl.GetMode()); ok {
		s.update(func(st *RigState) {
			st.Mode = v[0]
			st.PassbandHz = 0
			if len(v) > 1 {
				st.PassbandHz = int(rigctl.ParseInt(v[1]))
			}
		})
	}
	if v, ok := s.query(ctx, "vfo", rigctl.GetVFO()); ok {
		s.update(func(st *RigState) { st.VFO = v[0] })
	}
	if v, ok := s.query(ctx, "ptt", rigctl.GetPTT()); ok {
		s.update(func(st *RigState) { st.PTT = rigctl.ParseBool(v[0]) })
	}
	if v, ok := s.query(ctx, "split", rigctl.GetSplit()); ok {
		split := rigctl.ParseBool(v[0])
		s.update(func(st *RigState) { st.Split = split })
		if split {
			if v, ok := s.query(ctx, "split_frequency", rigctl.GetSplitFrequency()); ok {
				hz := rigctl.ParseInt(v[0])
				s.update(func(st *RigState) { st.SplitFrequencyHz = &hz })
			}
		}
	}
	if v, ok := s.query(ctx, "rit", rigctl.GetRIT()); ok {
		s.update(func(st *RigState) { st.RITHz = int(rigctl.ParseInt(v[0])) })
	}
	if v, ok := s.query(ctx, "xit", rigctl.GetXIT()); ok {
		s.update(func(st *RigState) { st.XITHz = int(rigctl.ParseInt(v[0])) })
	}

	s.UpdateSmeter(ctx)
	s.publishState()
}

// UpdateSmeter reads the signal strength. The first call after connect
// checks the capability list; a rig without STRENGTH is never asked again
// for the lifetime of the connection.
func (s *Session) UpdateSmeter(ctx context.Context) {
	if !s.IsConnected() || !s.smeterGate() {
		return
	}

	resp, err := s.dispatcher.Execute(ctx, rigctl.GetStrength(), 0)
	if err == nil && len(resp.Values) == 0 {
		err = errors.New("empty strength response")
	}
	metrics.Get().RecordSmeterRead(err)

	s.mu.Lock()
	if err != nil {
		s.smeter.ConsecutiveErrors++
		s.smeter.LastError = err.Error()
	} else {
		strength := int(rigctl.ParseInt(resp.Values[0]))
		s.state.SignalStrength = &strength
		s.smeter.ConsecutiveErrors = 0
		s.smeter.LastError = ""
		s.smeter.LastSuccessfulRead = time.Now()
	}
	smeter := s.smeter
	s.mu.Unlock()

	if err != nil {
		s.logger.Debug("s-meter read failed", "error", err, "consecutive_errors", smeter.ConsecutiveErrors)
	}
	s.bus.Publish(connectors.TopicSmeterStatus, smeter)
}

// smeterGate reports whether strength reads are allowed, deciding it on
// the first call after connect.
func (s *Session) smeterGate() bool {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()

	s.mu.RLock()
	supported := s.smeter.Supported
	caps := s.caps
	loaded := s.capsLoaded
	s.mu.RUnlock()

	switch {
	case supported == SupportYes:
		return true
	case supported == SupportNo, !loaded:
		return false
	}

	s.mu.Lock()
	if !caps.HasLevel(rigctl.LevelStrength) {
		s.smeter.Supported = SupportNo
		s.smeter.LastError = "STRENGTH level not supported by this rig"
	} else {
		s.smeter.Supported = SupportYes
	}
	smeter := s.smeter
	s.mu.Unlock()

	s.logger.Info("s-meter capability checked", "supported", smeter.Supported.String())
	s.bus.Publish(connectors.TopicSmeterStatus, smeter)

	return smeter.Supported == SupportYes
}

func (s *Session) SetFrequency(ctx context.Context, hz int64) error {
	return s.set(ctx, "frequency", rigctl.SetFrequency(hz), func(st *RigState) { st.FrequencyHz = hz })
}

func (s *Session) SetMode(ctx context.Context, mode string, passbandHz int) error {
	mode = strings.ToUpper(strings.TrimSpace(mode))
	return s.set(ctx, "mode", rigctl.SetMode(mode, passbandHz), func(st *RigState) {
		st.Mode = mode
		st.PassbandHz = passbandHz
	})
}

func (s *Session) SetVFO(ctx context.Context, vfo string) error {
	return s.set(ctx, "vfo", rigctl.SetVFO(vfo), func(st *RigState) { st.VFO = vfo })
}

func (s *Session) SetPTT(ctx context.Context, on bool) error {
	return s.set(ctx, "ptt", rigctl.SetPTT(on), func(st *RigState) { st.PTT = on })
}

// SetSplit toggles split; disabling it forgets the split frequency and mode.
func (s *Session) SetSplit(ctx context.Context, on bool) error {
	return s.set(ctx, "split", rigctl.SetSplit(on), func(st *RigState) {
		st.Split = on
		if !on {
			st.SplitFrequencyHz = nil
			st.SplitMode = nil
		}
	})
}

func (s *Session) SetSplitFrequency(ctx context.Context, hz int64) error {
	return s.set(ctx, "split_frequency", rigctl.SetSplitFrequency(hz), func(st *RigState) { st.SplitFrequencyHz = &hz })
}

func (s *Session) SetRIT(ctx context.Context, hz int) error {
	return s.set(ctx, "rit", rigctl.SetRIT(hz), func(st *RigState) { st.RITHz = hz })
}

func (s *Session) SetXIT(ctx context.Context, hz int) error {
	return s.set(ctx, "xit", rigctl.SetXIT(hz), func(st *RigState) { st.XITHz = hz })
}

func (s *Session) State() RigState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Capabilities returns the cached capabilities of the current connection.
func (s *Session) Capabilities() (rigctl.Capabilities, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.caps == nil {
		return rigctl.Capabilities{}, false
	}

	return *s.caps, true
}

func (s *Session) Smeter() SmeterStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.smeter
}

func (s *Session) Status() connectors.ConnectionStatus {
	return s.conn.Status()
}

func (s *Session) Connection() RigConnection {
	return s.conn.Connection()
}

func (s *Session) IsConnected() bool {
	return s.conn.Connection().Connected
}

// Busy reports whether a connect or disconnect is running.
func (s *Session) Busy() bool {
	return s.conn.Busy()
}

// Connections exposes the manager for diagnostics status handling.
func (s *Session) Connections() *ConnectionManager {
	return s.conn
}

func (s *Session) query(ctx context.Context, field, command string) ([]string, bool) {
	resp, err := s.dispatcher.Execute(ctx, command, 0)
	if err == nil && len(resp.Values) == 0 {
		err = fmt.Errorf("no data returned for %s", field)
	}
	if err != nil {
		metrics.Get().PollFailures.WithLabelValues(field).Inc()
		s.logger.Debug("state query failed", "field", field, "error", err)

		return nil, false
	}

	return resp.Values, true
}

func (s *Session) set(ctx context.Context, field, command string, apply func(*RigState)) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	if _, err := s.dispatcher.Execute(ctx, command, 0); err != nil {
		s.logger.Warn("set failed", "field", field, "error", err)

		return fmt.Errorf("set %s: %w", field, err)
	}
	s.update(apply)
	s.publishState()

	return nil
}

func (s *Session) update(apply func(*RigState)) {
	s.mu.Lock()
	apply(&s.state)
	s.state.UpdatedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) publishState() {
	s.bus.Publish(connectors.TopicRigState, s.State())
}
