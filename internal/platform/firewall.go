package platform

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrElevationDeclined means the user dismissed the UAC prompt.
	ErrElevationDeclined = errors.New("elevation prompt was declined")
	// ErrInsufficientRights means the elevated command ran without the rights it needed.
	ErrInsufficientRights = errors.New("insufficient rights")
	// ErrUnsupported marks operations that have no implementation on this OS.
	ErrUnsupported = errors.New("not supported on this platform")
)

// FirewallStatus is the read-only probe result.
type FirewallStatus struct {
	OK  bool
	Err string
}

// Firewall manages allow rules for the app and the daemon binary.
// Probe never changes system state; GrantExceptions may prompt for elevation.
type Firewall interface {
	Supported() bool
	Probe(ctx context.Context) FirewallStatus
	GrantExceptions(ctx context.Context) error
}

// FirewallOptions describe the programs that need allow rules.
type FirewallOptions struct {
	AppName     string
	AppPath     string
	RigctldPath string
	Runner      CommandRunner
}

// NewFirewall returns the platform firewall, or a no-op where the
// platform has nothing to configure.
func NewFirewall(opts FirewallOptions) Firewall {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if strings.TrimSpace(opts.AppName) == "" {
		opts.AppName = "riglink"
	}

	return newFirewall(opts)
}

// NoopFirewall reports success without touching the system.
type NoopFirewall struct{}

func (NoopFirewall) Supported() bool { return false }

func (NoopFirewall) Probe(context.Context) FirewallStatus { return FirewallStatus{OK: true} }

func (NoopFirewall) GrantExceptions(context.Context) error { return nil }

// classifyElevationError maps UAC outcomes onto the sentinel errors.
// 1223 is ERROR_CANCELLED.
func classifyElevationError(err error) error {
	if err == nil {
		return nil
	}
	text := strings.ToLower(err.Error())
	var cmdErr *CommandError
	cancelledExit := errors.As(err, &cmdErr) && cmdErr.ExitCode() == 1223
	switch {
	case cancelledExit, strings.Contains(text, "1223"), strings.Contains(text, "cancelled"), strings.Contains(text, "canceled by the user"):
		return errors.Join(ErrElevationDeclined, err)
	case strings.Contains(text, "access is denied"), strings.Contains(text, "requires elevation"):
		return errors.Join(ErrInsufficientRights, err)
	default:
		return err
	}
}
