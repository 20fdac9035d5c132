package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/skobkin/riglink/internal/bus"
	"github.com/skobkin/riglink/internal/config"
	"github.com/skobkin/riglink/internal/connectors"
	"github.com/skobkin/riglink/internal/diagnostics"
	"github.com/skobkin/riglink/internal/logging"
	"github.com/skobkin/riglink/internal/notifications"
	"github.com/skobkin/riglink/internal/platform"
	"github.com/skobkin/riglink/internal/rig"
	"github.com/skobkin/riglink/internal/supervisor"
	"github.com/skobkin/riglink/internal/transport"
)

// Options adjust Initialize. Zero values resolve the real environment.
type Options struct {
	// ConfigPath replaces the per-user config location.
	ConfigPath string
	// Override is applied to the loaded config before validation.
	Override func(cfg *config.AppConfig)
	// Console receives log output; nil means stderr.
	Console io.Writer

	Dialer   transport.Dialer
	Prober   transport.Prober
	Runner   platform.CommandRunner
	Firewall platform.Firewall
	Sender   notifications.Sender
}

type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager    *logging.Manager
	Bus           *bus.PubSubBus
	Firewall      platform.Firewall
	Supervisor    *supervisor.Supervisor
	Session       *rig.Session
	Poller        *rig.Poller
	Diagnostics   *diagnostics.Engine
	Notifications *notifications.Service

	logger *slog.Logger

	connStatusMu    sync.RWMutex
	connStatus      connectors.ConnectionStatus
	connStatusKnown bool
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	paths, err := resolveRuntimePaths(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Override != nil {
		opts.Override(&cfg)
		cfg.FillMissingDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManager()
	if opts.Console != nil {
		logMgr = logging.NewManagerWithOutput(opts.Console)
	}
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	rt.logger = logMgr.Logger("app")
	rt.logger.Info("starting riglink runtime", "version", BuildVersion(), "build_date", BuildDateYMD(), "config", paths.ConfigFile)

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	connSub := b.Subscribe(connectors.TopicConnStatus)
	go rt.captureConnStatus(ctx, connSub)

	runner := opts.Runner
	if runner == nil {
		runner = platform.ExecRunner{}
	}
	prober := opts.Prober
	if prober == nil {
		prober = transport.TCPProber{}
	}

	rt.Supervisor = supervisor.New(rt.supervisorConfig(cfg), supervisor.Options{
		AppID:  Name,
		Prober: prober,
		Runner: runner,
		Bus:    b,
		Logger: logMgr.Logger("supervisor"),
	})

	rt.Firewall = opts.Firewall
	if rt.Firewall == nil {
		appPath, _ := os.Executable()
		rigctldPath, _ := rt.Supervisor.ResolveBinary()
		rt.Firewall = platform.NewFirewall(platform.FirewallOptions{
			AppName:     Name,
			AppPath:     appPath,
			RigctldPath: rigctldPath,
			Runner:      runner,
		})
	}

	rt.Session = rig.NewSession(rig.SessionOptions{
		Connection: rig.ConnectionDeps{
			Dialer:     opts.Dialer,
			Prober:     prober,
			Supervisor: rt.Supervisor,
			Firewall:   rt.Firewall,
		},
		Dispatcher: rig.DispatcherOptions{
			CommandTimeout:      cfg.Polling.CommandTimeout(),
			CapabilitiesTimeout: cfg.Polling.CapabilitiesTimeout(),
			ResetOnTimeout:      cfg.Polling.ResetOnTimeout,
		},
		Bus:    b,
		Logger: logMgr.Logger("rig"),
	})
	rt.Session.Start(ctx)

	rt.Poller = rig.NewPoller(rt.Session, rig.PollerOptions{
		MainInterval:   cfg.Polling.MainInterval(),
		SmeterInterval: cfg.Polling.SmeterInterval(),
		Logger:         logMgr.Logger("rig.poller"),
	})

	rt.Diagnostics = diagnostics.New(diagnostics.Options{
		Processes: rt.Supervisor,
		Prober:    prober,
		Firewall:  rt.Firewall,
		Status:    rt.Session.Connections(),
		Bus:       b,
		Logger:    logMgr.Logger("diagnostics"),
	})

	sender := opts.Sender
	if sender == nil {
		sender = notifications.NewDesktopSender(Name, logMgr.Logger("notifications"))
	}
	rt.Notifications = notifications.NewService(b, rt.CurrentConfig, sender, logMgr.Logger("notifications"))
	rt.Notifications.Start(ctx)

	return rt, nil
}

func resolveRuntimePaths(configPath string) (Paths, error) {
	if configPath = strings.TrimSpace(configPath); configPath != "" {
		return PathsForConfigFile(configPath), nil
	}

	return ResolvePaths()
}

// supervisorConfig falls back to the bundled Hamlib install when no
// explicit path is configured and rigctld is not on PATH.
func (r *Runtime) supervisorConfig(cfg config.AppConfig) supervisor.Config {
	binary := strings.TrimSpace(cfg.Rig.RigctldPath)
	if binary == "" {
		if info, err := os.Stat(r.Paths.BundledRigctld); err == nil && !info.IsDir() {
			binary = r.Paths.BundledRigctld
		}
	}

	return supervisor.Config{
		Binary: binary,
		Host:   cfg.Rig.Host,
		Port:   cfg.Rig.Port,
		Model:  cfg.Rig.Model,
		Device: cfg.Rig.Device,
	}
}

// AutoStart launches the managed rigctld when the config asks for it and
// the endpoint is on this machine.
func (r *Runtime) AutoStart(ctx context.Context) {
	cfg := r.CurrentConfig()
	if !cfg.Rig.AutoStart {
		return
	}
	if !transport.IsLoopbackHost(cfg.Rig.Host) {
		r.logger.Info("rigctld host is remote, not starting a local daemon", "host", cfg.Rig.Host)
		return
	}
	err := r.Supervisor.Start(ctx)
	switch {
	case err == nil:
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		r.logger.Info("rigctld already running, will connect to it")
	default:
		r.logger.Warn("auto-start of rigctld failed", "error", err)
	}
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

// SaveAndApplyConfig persists cfg and applies what can change at runtime.
// Poll intervals and timeouts take effect on the next start.
func (r *Runtime) SaveAndApplyConfig(cfg config.AppConfig) error {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()
		return err
	}
	r.Config = cfg
	r.mu.Unlock()

	if err := r.LogManager.Configure(cfg.Logging, r.Paths.LogFile); err != nil {
		return err
	}
	r.Supervisor.SetConfig(r.supervisorConfig(cfg))

	return nil
}

func (r *Runtime) captureConnStatus(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			status, ok := raw.(connectors.ConnectionStatus)
			if !ok {
				continue
			}
			r.setConnStatus(status)
		}
	}
}

func (r *Runtime) setConnStatus(status connectors.ConnectionStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

func (r *Runtime) CurrentConnStatus() (connectors.ConnectionStatus, bool) {
	r.connStatusMu.RLock()
	status := r.connStatus
	known := r.connStatusKnown
	r.connStatusMu.RUnlock()
	return status, known
}

// Close stops polling, drops the connection and stops a managed rigctld.
func (r *Runtime) Close() error {
	if r.Poller != nil {
		r.Poller.Stop()
	}
	if r.Session != nil {
		r.Session.Close()
	}
	if r.Supervisor != nil {
		if err := r.Supervisor.Stop(context.Background()); err != nil {
			r.logger.Warn("stop rigctld on shutdown", "error", err)
		}
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}
	return nil
}
