package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"golang.org/x/sync/errgroup"

	"github.com/skobkin/riglink/internal/bus"
	"github.com/skobkin/riglink/internal/connectors"
	"github.com/skobkin/riglink/internal/metrics"
	"github.com/skobkin/riglink/internal/platform"
	"github.com/skobkin/riglink/internal/supervisor"
	"github.com/skobkin/riglink/internal/transport"
)

const pingTimeout = time.Second

// Target is what a run inspects.
type Target struct {
	Host   string
	Port   int
	Model  int
	Device string
}

// ProcessSource is the supervisor surface diagnostics reads.
type ProcessSource interface {
	IsManaged() bool
	FindExternalProcess(ctx context.Context) (supervisor.ProcessInfo, error)
	ResolveBinary() (string, error)
}

// VersionSource is implemented by process sources that can ask the
// binary for its Hamlib version.
type VersionSource interface {
	BinaryVersion(ctx context.Context) (string, error)
}

// StatusTracker shows the run on the connection status.
type StatusTracker interface {
	MarkChecking() connectors.ConnectionStatus
	SettleAfterDiagnostics(healthy bool, suggestions []string)
}

// Pinger checks ICMP reachability of host.
type Pinger func(ctx context.Context, host string) error

type Options struct {
	Processes ProcessSource
	Prober    transport.Prober
	Firewall  platform.Firewall
	Status    StatusTracker
	Devices   supervisor.DeviceLister
	Pinger    Pinger
	Bus       bus.Publisher
	Logger    *slog.Logger
}

// Engine runs the read-only probes. Runs are independent and may overlap.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Engine {
	if opts.Prober == nil {
		opts.Prober = transport.TCPProber{}
	}
	if opts.Firewall == nil {
		opts.Firewall = platform.NoopFirewall{}
	}
	if opts.Pinger == nil {
		opts.Pinger = ICMPPing
	}
	if opts.Bus == nil {
		opts.Bus = bus.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "diagnostics")
	}

	return &Engine{opts: opts, logger: opts.Logger}
}

// Run fans out every probe, waits for all of them and builds the report.
func (e *Engine) Run(ctx context.Context, target Target) Report {
	started := time.Now()
	if target.Port <= 0 {
		target.Port = supervisor.DefaultPort
	}
	if strings.TrimSpace(target.Host) == "" {
		target.Host = supervisor.DefaultHost
	}
	if e.opts.Status != nil {
		e.opts.Status.MarkChecking()
	}

	var (
		mu     sync.Mutex
		report = Report{FirewallOK: true}
	)
	record := func(apply func(r *Report)) {
		mu.Lock()
		defer mu.Unlock()
		apply(&report)
	}
	fail := func(probe string, err error) {
		e.logger.Debug("probe failed", "probe", probe, "error", err)
		record(func(r *Report) { r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", probe, err)) })
	}

	var g errgroup.Group
	g.Go(func() error {
		if e.opts.Processes == nil {
			return nil
		}
		info, err := e.opts.Processes.FindExternalProcess(ctx)
		if err != nil {
			fail("process", err)
			return nil
		}
		record(func(r *Report) {
			r.ProcessRunning = info.Running
			r.ProcessPID = info.PID
			r.ProcessPath = info.Path
		})
		return nil
	})
	g.Go(func() error {
		listening := e.opts.Prober.Probe(ctx, target.Host, target.Port, transport.ListenProbeTimeout)
		record(func(r *Report) { r.PortListening = listening })
		return nil
	})
	g.Go(func() error {
		connectable := e.opts.Prober.Probe(ctx, target.Host, target.Port, transport.ConnectProbeTimeout)
		record(func(r *Report) { r.TCPConnectable = connectable })
		return nil
	})
	g.Go(func() error {
		if !e.opts.Firewall.Supported() {
			return nil
		}
		status := e.opts.Firewall.Probe(ctx)
		record(func(r *Report) {
			r.FirewallOK = status.OK
			r.FirewallError = status.Err
		})
		return nil
	})
	g.Go(func() error {
		if e.opts.Processes == nil {
			return nil
		}
		path, err := e.opts.Processes.ResolveBinary()
		record(func(r *Report) {
			r.BinaryFound = err == nil
			r.BinaryPath = path
		})
		versions, ok := e.opts.Processes.(VersionSource)
		if err != nil || !ok {
			return nil
		}
		version, err := versions.BinaryVersion(ctx)
		if err != nil {
			fail("version", err)
			return nil
		}
		record(func(r *Report) { r.BinaryVersion = version })
		return nil
	})
	if target.Model != supervisor.DummyModel && strings.TrimSpace(target.Device) != "" {
		g.Go(func() error {
			check := supervisor.CheckDevice(target.Device, e.opts.Devices)
			record(func(r *Report) {
				r.Device = check.Device
				r.DevicePresent = check.Present
				r.AvailablePorts = check.Available
			})
			if check.Err != "" {
				fail("serial", errors.New(check.Err))
			}
			return nil
		})
	}
	if !transport.IsLoopbackHost(target.Host) {
		g.Go(func() error {
			err := e.opts.Pinger(ctx, target.Host)
			reachable := err == nil
			record(func(r *Report) { r.HostReachable = &reachable })
			if err != nil {
				fail("ping", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	managed := e.opts.Processes != nil && e.opts.Processes.IsManaged()
	if report.PortListening && !managed {
		report.IsExternalRigctld = true
	}
	if report.PortListening && !report.ProcessRunning {
		report.PortInUseByOther = true
	}
	report.Suggestions = Suggest(report, target.Port, e.opts.Firewall.Supported())
	report.Timestamp = time.Now()

	if e.opts.Status != nil {
		e.opts.Status.SettleAfterDiagnostics(report.ProcessRunning && report.TCPConnectable, report.Suggestions)
	}
	m := metrics.Get()
	m.DiagnosticsRuns.Inc()
	m.DiagnosticsDuration.Observe(time.Since(started).Seconds())
	e.opts.Bus.Publish(connectors.TopicDiagnostics, report)
	e.logger.Info("diagnostics finished",
		"process_running", report.ProcessRunning,
		"port_listening", report.PortListening,
		"tcp_connectable", report.TCPConnectable,
		"external", report.IsExternalRigctld,
		"firewall_ok", report.FirewallOK,
		"hamlib", report.BinaryVersion,
		"duration", time.Since(started),
	)

	return report
}

// ICMPPing sends one unprivileged echo request.
func ICMPPing(ctx context.Context, host string) error {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return fmt.Errorf("create pinger: %w", err)
	}
	pinger.Count = 1
	pinger.Timeout = pingTimeout
	pinger.SetPrivileged(false)

	if err := pinger.RunWithContext(ctx); err != nil {
		return err
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("no echo reply from %s", host)
	}

	return nil
}
