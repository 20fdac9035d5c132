package app

import (
	"context"
	"errors"
	"strings"

	"github.com/skobkin/riglink/internal/diagnostics"
	"github.com/skobkin/riglink/internal/rig"
	"github.com/skobkin/riglink/internal/rigctl"
	"github.com/skobkin/riglink/internal/supervisor"
	"github.com/skobkin/riglink/internal/transport"
)

// ConnectData describes an established connection.
type ConnectData struct {
	Connected bool   `json:"connected"`
	Target    string `json:"target,omitempty"`
	External  bool   `json:"isExternal"`
}

// ConnectFailure carries the firewall remediation outcome of a failed connect.
type ConnectFailure struct {
	Kind               rig.ConnectErrorKind `json:"kind"`
	FirewallConfigured bool                 `json:"firewallConfigured,omitempty"`
	ShouldRetry        bool                 `json:"shouldRetry,omitempty"`
	UserCancelled      bool                 `json:"userCancelled,omitempty"`
	FirewallError      string               `json:"firewallError,omitempty"`
}

// RunningStatus answers "is rigctld up, and whose is it".
type RunningStatus struct {
	Running   bool   `json:"running"`
	External  bool   `json:"external"`
	PID       int    `json:"pid,omitempty"`
	Port      int    `json:"port"`
	Ownership string `json:"ownership"`
}

// SnapshotData is the current session view.
type SnapshotData struct {
	Status     string           `json:"status"`
	Target     string           `json:"target,omitempty"`
	State      rig.RigState     `json:"state"`
	Smeter     rig.SmeterStatus `json:"smeter"`
	SmeterText string           `json:"smeterText"`
}

// FirewallData reports an add-firewall-exceptions run.
type FirewallData struct {
	RulesExist bool   `json:"rulesExist"`
	Message    string `json:"message"`
}

// BinaryData reports where rigctld was found.
type BinaryData struct {
	InPath  bool   `json:"inPath"`
	Path    string `json:"path,omitempty"`
	Version string `json:"version,omitempty"`
}

// Connect opens the session against the configured endpoint and starts
// polling when enabled.
func (r *Runtime) Connect(ctx context.Context) Result {
	cfg := r.CurrentConfig()
	res, err := r.Session.Connect(ctx, rig.ConnectOptions{
		Host:               cfg.Rig.Host,
		Port:               cfg.Rig.Port,
		Model:              cfg.Rig.Model,
		Device:             cfg.Rig.Device,
		AttemptFirewallFix: cfg.Rig.AttemptFirewallFix,
	})
	if err != nil {
		result := failed(err)
		var connectErr *rig.ConnectError
		if errors.As(err, &connectErr) {
			result.Suggestions = connectErr.Suggestions
			result.Data = ConnectFailure{
				Kind:               connectErr.Kind,
				FirewallConfigured: connectErr.FirewallConfigured,
				ShouldRetry:        connectErr.ShouldRetry,
				UserCancelled:      connectErr.UserCancelled,
				FirewallError:      connectErr.FirewallError,
			}
		}
		return result
	}

	if cfg.Polling.Enabled {
		r.Poller.Start(r.Ctx)
	}

	return ok(ConnectData{Connected: true, Target: res.Target, External: res.External})
}

func (r *Runtime) Disconnect() Result {
	r.Poller.Stop()
	r.Session.Disconnect()

	return ok(ConnectData{Connected: false})
}

// Command sends one raw command. Data is the list of values, or nil for
// set commands.
func (r *Runtime) Command(ctx context.Context, command string) Result {
	resp, err := r.Session.Command(ctx, strings.TrimSpace(command))
	if err != nil {
		return failed(err)
	}
	if resp.Values == nil {
		return ok(nil)
	}

	return ok(resp.Values)
}

func (r *Runtime) Capabilities(ctx context.Context) Result {
	caps, err := r.Session.FetchCapabilities(ctx)
	if err != nil {
		if errors.Is(err, rig.ErrCommandTimeout) {
			return Result{Error: "Capabilities timeout"}
		}
		return failed(err)
	}

	return ok(caps)
}

// Snapshot returns the cached state without touching the wire.
func (r *Runtime) Snapshot() Result {
	status := r.Session.Status()
	smeter := r.Session.Smeter()

	return ok(SnapshotData{
		Status:     string(status.State),
		Target:     status.Target,
		State:      r.Session.State(),
		Smeter:     smeter,
		SmeterText: smeter.Text(),
	})
}

// Restart restarts the managed rigctld. An external daemon on the port
// is left running and is not an error.
func (r *Runtime) Restart(ctx context.Context) Result {
	err := r.Supervisor.Restart(ctx)
	if err != nil && !errors.Is(err, supervisor.ErrAlreadyRunning) {
		return failed(err, elevationSuggestions(err)...)
	}

	return ok(nil)
}

func (r *Runtime) StartElevated(ctx context.Context) Result {
	if err := r.Supervisor.StartElevated(ctx); err != nil {
		return failed(err, elevationSuggestions(err)...)
	}

	return ok(map[string]string{"message": "rigctld started with administrator privileges"})
}

func (r *Runtime) RunDiagnostics(ctx context.Context) Result {
	cfg := r.CurrentConfig()
	report := r.Diagnostics.Run(ctx, diagnostics.Target{
		Host:   cfg.Rig.Host,
		Port:   cfg.Rig.Port,
		Model:  cfg.Rig.Model,
		Device: cfg.Rig.Device,
	})

	return Result{Success: true, Data: report, Suggestions: report.Suggestions}
}

// CheckRunning reports rigctld as running only once the port accepts
// connections, so a managed child still starting up reads as not running.
func (r *Runtime) CheckRunning(ctx context.Context) Result {
	ownership, listening := r.Supervisor.Inspect(ctx)

	return ok(runningStatus(ownership, listening, r.Supervisor.PID(), r.CurrentConfig().Rig.Port))
}

func runningStatus(ownership supervisor.Ownership, listening bool, pid, port int) RunningStatus {
	status := RunningStatus{
		Running:   listening,
		External:  listening && ownership == supervisor.ExternalRunning,
		Port:      port,
		Ownership: ownership.String(),
	}
	if ownership == supervisor.ManagedRunning {
		status.PID = pid
	}

	return status
}

func (r *Runtime) AddFirewallExceptions(ctx context.Context) Result {
	if !r.Firewall.Supported() {
		return ok(FirewallData{RulesExist: true, Message: "No firewall configuration is needed on this platform"})
	}
	if err := r.Firewall.GrantExceptions(ctx); err != nil {
		return failed(err, elevationSuggestions(err)...)
	}

	return ok(FirewallData{RulesExist: true, Message: "Firewall exceptions are in place for riglink and rigctld"})
}

// Models lists the rigctld model catalogue grouped by manufacturer.
func (r *Runtime) Models(ctx context.Context) Result {
	models, err := r.Supervisor.ListModels(ctx)
	if err != nil {
		return failed(err, elevationSuggestions(err)...)
	}

	return ok(rigctl.GroupModels(models))
}

func (r *Runtime) CheckRigctldInPath(ctx context.Context) Result {
	path, err := r.Supervisor.ResolveBinary()
	if err != nil {
		return Result{Data: BinaryData{}, Error: err.Error(), Suggestions: elevationSuggestions(err)}
	}
	version, err := r.Supervisor.BinaryVersion(ctx)
	if err != nil {
		r.logger.Debug("rigctld version unavailable", "path", path, "error", err)
	}

	return ok(BinaryData{InPath: true, Path: path, Version: version})
}

// Target is the configured endpoint as host:port.
func (r *Runtime) Target() string {
	cfg := r.CurrentConfig()

	return transport.JoinHostPort(cfg.Rig.Host, cfg.Rig.Port)
}
