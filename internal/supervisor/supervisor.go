package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/riglink/internal/bus"
	"github.com/skobkin/riglink/internal/connectors"
	"github.com/skobkin/riglink/internal/metrics"
	"github.com/skobkin/riglink/internal/platform"
	"github.com/skobkin/riglink/internal/rigctl"
	"github.com/skobkin/riglink/internal/transport"
)

const (
	DefaultStartupWait = 2 * time.Second
	DefaultSettleDelay = time.Second
	DefaultHost        = "localhost"
	BinaryName         = "rigctld"

	stopTimeout = 5 * time.Second
)

var (
	ErrAlreadyRunning = errors.New("rigctld is already running on the configured port")
	ErrSpawn          = errors.New("failed to start rigctld")
	ErrBinaryNotFound = errors.New("rigctld not found")
	ErrStartupExit    = errors.New("rigctld exited during startup")
)

// Config describes the daemon the supervisor launches.
type Config struct {
	Binary string
	Host   string
	Port   int
	Model  int
	Device string
}

func (c Config) normalized() Config {
	if strings.TrimSpace(c.Host) == "" {
		c.Host = DefaultHost
	}
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.Model <= 0 {
		c.Model = DummyModel
	}

	return c
}

// ProcessInfo is the result of looking for a rigctld process by name.
type ProcessInfo struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Options carries the supervisor's collaborators. Zero values get working defaults.
type Options struct {
	AppID       string
	Prober      transport.Prober
	Runner      platform.CommandRunner
	Finder      ProcessFinder
	Bus         bus.Publisher
	Logger      *slog.Logger
	Devices     DeviceLister
	StartupWait time.Duration
	SettleDelay time.Duration
	LookPath    func(file string) (string, error)
	Lock        func(appID string, port int) (platform.PortLock, error)

	newCommand func(name string, args ...string) *exec.Cmd
}

type managedProcess struct {
	cmd      *exec.Cmd
	lock     platform.PortLock
	done     chan struct{}
	stopping atomic.Bool
	exitErr  error
}

// Supervisor owns at most one rigctld child. An exited child is never
// restarted automatically.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	cfg         Config
	proc        *managedProcess
	everStarted bool

	restartMu sync.Mutex
}

func New(cfg Config, opts Options) *Supervisor {
	if opts.AppID == "" {
		opts.AppID = "riglink"
	}
	if opts.Prober == nil {
		opts.Prober = transport.TCPProber{}
	}
	if opts.Runner == nil {
		opts.Runner = platform.ExecRunner{}
	}
	if opts.Finder == nil {
		opts.Finder = newProcessFinder(opts.Runner)
	}
	if opts.Bus == nil {
		opts.Bus = bus.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "supervisor")
	}
	if opts.StartupWait <= 0 {
		opts.StartupWait = DefaultStartupWait
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if opts.Lock == nil {
		opts.Lock = platform.AcquirePortLock
	}
	if opts.newCommand == nil {
		opts.newCommand = exec.Command
	}

	return &Supervisor{opts: opts, logger: opts.Logger, cfg: cfg.normalized()}
}

func (s *Supervisor) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cfg
}

// SetConfig replaces the launch configuration. A running child keeps the
// arguments it was started with until the next restart.
func (s *Supervisor) SetConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.normalized()
}

// IsManaged reports whether a child started by this supervisor is alive.
func (s *Supervisor) IsManaged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.proc != nil
}

// PID of the managed child, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil || s.proc.cmd.Process == nil {
		return 0
	}

	return s.proc.cmd.Process.Pid
}

// Ownership classifies whoever currently serves the configured port.
func (s *Supervisor) Ownership(ctx context.Context) Ownership {
	ownership, _ := s.Inspect(ctx)

	return ownership
}

// Inspect probes the port once and reports ownership together with whether
// anything accepted the connection. A managed child that has not bound yet
// is ManagedRunning but not listening.
func (s *Supervisor) Inspect(ctx context.Context) (Ownership, bool) {
	cfg := s.Config()
	listening := s.opts.Prober.Probe(ctx, cfg.Host, cfg.Port, transport.ListenProbeTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	return resolveOwnership(s.proc != nil, s.everStarted, listening), listening
}

// ResolveBinary finds the rigctld executable: the configured path when
// set, otherwise rigctld on PATH.
func (s *Supervisor) ResolveBinary() (string, error) {
	binary := strings.TrimSpace(s.Config().Binary)
	if binary == "" {
		binary = BinaryName
	}
	if strings.ContainsAny(binary, `/\`) {
		info, err := os.Stat(binary)
		if err != nil {
			return "", fmt.Errorf("%w at %s: %w", ErrBinaryNotFound, binary, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%w: %s is a directory", ErrBinaryNotFound, binary)
		}
		return binary, nil
	}

	path, err := s.opts.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%w in PATH: %w", ErrBinaryNotFound, err)
	}

	return path, nil
}

// Start launches rigctld unless something already listens on the port.
// It returns after the startup wait once the child is still alive.
func (s *Supervisor) Start(ctx context.Context) error {
	cfg := s.Config()
	logger := s.logger.With("port", cfg.Port, "model", cfg.Model)

	if s.IsManaged() {
		return ErrAlreadyRunning
	}
	if cfg.Model != DummyModel && cfg.Device != "" {
		if check := CheckDevice(cfg.Device, s.opts.Devices); !check.Present {
			logger.Warn("rig device not found, rigctld may fail to open it", "device", cfg.Device, "available", check.Available)
		}
	}
	if s.opts.Prober.Probe(ctx, cfg.Host, cfg.Port, transport.ListenProbeTimeout) {
		logger.Info("port already in use, not starting a second rigctld")
		return ErrAlreadyRunning
	}

	lock, err := s.opts.Lock(s.opts.AppID, cfg.Port)
	switch {
	case errors.Is(err, platform.ErrPortLocked):
		var locked *platform.PortLockedError
		if errors.As(err, &locked) && locked.HolderPID > 0 {
			logger.Info("another riglink process supervises this port", "holder_pid", locked.HolderPID)
		} else {
			logger.Info("another riglink process supervises this port")
		}
		return ErrAlreadyRunning
	case errors.Is(err, platform.ErrPortLockUnsupported):
		logger.Debug("port lock unsupported on this platform")
		lock = nil
	case err != nil:
		return fmt.Errorf("acquire port lock: %w", err)
	}

	proc, err := s.spawn(cfg, lock, logger)
	if err != nil {
		return err
	}

	timer := time.NewTimer(s.opts.StartupWait)
	defer timer.Stop()
	select {
	case <-proc.done:
		return fmt.Errorf("%w: %v", ErrStartupExit, proc.exitErr)
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if s.opts.Prober.Probe(ctx, cfg.Host, cfg.Port, transport.ListenProbeTimeout) {
		logger.Info("rigctld started and listening", "pid", proc.cmd.Process.Pid)
	} else {
		logger.Warn("rigctld started but the port is not listening yet", "pid", proc.cmd.Process.Pid)
	}

	return nil
}

func (s *Supervisor) spawn(cfg Config, lock platform.PortLock, logger *slog.Logger) (*managedProcess, error) {
	releaseLock := func() {
		if lock == nil {
			return
		}
		if err := lock.Release(); err != nil {
			logger.Warn("release port lock failed", "error", err)
		}
	}

	binary, err := s.ResolveBinary()
	if err != nil {
		releaseLock()
		s.publish(connectors.ProcessSpawnFailed, 0, err)
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	args := BuildArgs(cfg.Model, cfg.Device, cfg.Port)
	cmd := s.opts.newCommand(binary, args...)
	cmd.Stdout = newLineLogger(s.logger, "stdout")
	cmd.Stderr = newLineLogger(s.logger, "stderr")
	platform.HideConsoleWindow(cmd)

	logger.Info("starting rigctld", "binary", binary, "args", args)
	if err := cmd.Start(); err != nil {
		releaseLock()
		s.publish(connectors.ProcessSpawnFailed, 0, err)
		logger.Error("rigctld spawn failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	proc := &managedProcess{cmd: cmd, lock: lock, done: make(chan struct{})}
	s.mu.Lock()
	s.proc = proc
	s.everStarted = true
	s.mu.Unlock()

	s.publish(connectors.ProcessStarted, cmd.Process.Pid, nil)
	go s.watch(proc)

	return proc, nil
}

func (s *Supervisor) watch(proc *managedProcess) {
	err := proc.cmd.Wait()
	proc.exitErr = err

	s.mu.Lock()
	if s.proc == proc {
		s.proc = nil
	}
	s.mu.Unlock()

	if proc.lock != nil {
		if releaseErr := proc.lock.Release(); releaseErr != nil {
			s.logger.Warn("release port lock failed", "error", releaseErr)
		}
	}

	pid := proc.cmd.Process.Pid
	if proc.stopping.Load() {
		s.logger.Info("rigctld stopped", "pid", pid)
		s.publish(connectors.ProcessStopped, pid, nil)
	} else {
		s.logger.Warn("rigctld exited unexpectedly", "pid", pid, "error", err)
		s.publish(connectors.ProcessExited, pid, err)
	}
	close(proc.done)
}

// Stop terminates the managed child and waits for it to exit. A daemon
// this supervisor did not start is left alone.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return nil
	}

	proc.stopping.Store(true)
	if err := terminate(proc.cmd.Process); err != nil {
		s.logger.Debug("terminate rigctld", "error", err)
	}

	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-proc.done:
		return nil
	case <-timer.C:
		s.logger.Warn("rigctld ignored terminate, killing", "pid", proc.cmd.Process.Pid)
		_ = proc.cmd.Process.Kill()
	case <-ctx.Done():
		_ = proc.cmd.Process.Kill()
	}
	<-proc.done

	return nil
}

// Restart stops, waits the settle delay and starts again.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()

	if err := s.Stop(ctx); err != nil {
		return fmt.Errorf("stop rigctld: %w", err)
	}
	if err := s.settle(ctx); err != nil {
		return err
	}

	return s.Start(ctx)
}

// StartElevated stops any managed child and launches rigctld through the
// OS elevation prompt. The elevated process is not tracked afterwards.
func (s *Supervisor) StartElevated(ctx context.Context) error {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()

	if err := s.Stop(ctx); err != nil {
		return fmt.Errorf("stop rigctld: %w", err)
	}
	if err := s.settle(ctx); err != nil {
		return err
	}

	binary, err := s.ResolveBinary()
	if err != nil {
		return err
	}
	cfg := s.Config()
	if err := platform.StartElevated(ctx, s.opts.Runner, binary, BuildArgs(cfg.Model, cfg.Device, cfg.Port)); err != nil {
		return err
	}
	s.logger.Info("rigctld started with elevated privileges", "port", cfg.Port)
	metrics.Get().DaemonEvents.WithLabelValues("elevated_start").Inc()

	return nil
}

// FindExternalProcess looks for any rigctld process, managed or not.
func (s *Supervisor) FindExternalProcess(ctx context.Context) (ProcessInfo, error) {
	info, err := s.opts.Finder.FindProcess(ctx, BinaryName)
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("find rigctld process: %w", err)
	}

	return info, nil
}

// ListModels returns the rig models compiled into the rigctld binary.
func (s *Supervisor) ListModels(ctx context.Context) ([]rigctl.Model, error) {
	binary, err := s.ResolveBinary()
	if err != nil {
		return nil, err
	}
	out, err := s.opts.Runner.Run(ctx, binary, "-l")
	if err != nil {
		return nil, fmt.Errorf("list rig models: %w", err)
	}

	return rigctl.ParseModelList(out.Stdout), nil
}

// BinaryVersion returns the Hamlib version of the rigctld binary in
// canonical semver form.
func (s *Supervisor) BinaryVersion(ctx context.Context) (string, error) {
	binary, err := s.ResolveBinary()
	if err != nil {
		return "", err
	}
	out, err := s.opts.Runner.Run(ctx, binary, "-V")
	if err != nil {
		return "", fmt.Errorf("query rigctld version: %w", err)
	}
	version := rigctl.ParseHamlibVersion(out.Stdout + "\n" + out.Stderr)
	if version == "" {
		return "", fmt.Errorf("query rigctld version: no version in %q", strings.TrimSpace(out.Stdout))
	}

	return version, nil
}

func (s *Supervisor) settle(ctx context.Context) error {
	timer := time.NewTimer(s.opts.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) publish(kind connectors.ProcessEventKind, pid int, err error) {
	event := connectors.ProcessEvent{Kind: kind, PID: pid, Timestamp: time.Now()}
	if err != nil {
		event.Err = err.Error()
	}
	metrics.Get().DaemonEvents.WithLabelValues(string(kind)).Inc()
	s.opts.Bus.Publish(connectors.TopicProcessEvent, event)
}
