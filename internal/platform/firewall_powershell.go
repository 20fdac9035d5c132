package platform

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	firewallProbeTimeout = 5 * time.Second
	firewallGrantTimeout = 30 * time.Second
)

// PowerShellFirewall drives the Windows Defender firewall cmdlets.
type PowerShellFirewall struct {
	opts   FirewallOptions
	logger *slog.Logger
}

func NewPowerShellFirewall(opts FirewallOptions) *PowerShellFirewall {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}

	return &PowerShellFirewall{
		opts:   opts,
		logger: slog.Default().With("component", "platform", "kind", "firewall"),
	}
}

func (f *PowerShellFirewall) Supported() bool { return true }

// Probe looks for any rule carrying the app name. Absence is a finding,
// not a failure.
func (f *PowerShellFirewall) Probe(ctx context.Context) FirewallStatus {
	exists, err := f.rulesExist(ctx, "*"+f.opts.AppName+"*")
	if err != nil {
		f.logger.Debug("firewall probe failed", "error", err)

		return FirewallStatus{Err: "Unable to check firewall rules. May require administrator privileges."}
	}
	if !exists {
		return FirewallStatus{Err: fmt.Sprintf("No firewall rules found for %s or rigctld.", f.opts.AppName)}
	}

	return FirewallStatus{OK: true}
}

// GrantExceptions adds inbound and outbound allow rules for the app and
// rigctld from an elevated PowerShell. Existing rules are left alone and
// no prompt is shown when both sets are already present.
func (f *PowerShellFirewall) GrantExceptions(ctx context.Context) error {
	appRules, appErr := f.rulesExist(ctx, f.opts.AppName+" - *")
	rigRules, rigErr := f.rulesExist(ctx, "rigctld*")
	if appErr == nil && rigErr == nil && appRules && rigRules {
		f.logger.Info("firewall rules already exist, skipping configuration")

		return nil
	}

	script := f.grantScript()
	ctx, cancel := context.WithTimeout(ctx, firewallGrantTimeout)
	defer cancel()

	f.logger.Info("requesting elevated firewall configuration")
	out, err := f.opts.Runner.Run(ctx, "powershell", "-NoProfile", "-Command", elevatedPowerShell(script))
	if err != nil {
		err = classifyElevationError(err)
		f.logger.Warn("firewall configuration failed", "error", err)

		return fmt.Errorf("configure firewall: %w", err)
	}
	if stderr := strings.TrimSpace(out.Stderr); stderr != "" {
		f.logger.Warn("firewall configuration stderr", "stderr", stderr)
	}
	f.logger.Info("firewall configured", "output", strings.TrimSpace(out.Stdout))

	return nil
}

func (f *PowerShellFirewall) rulesExist(ctx context.Context, pattern string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, firewallProbeTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"Get-NetFirewallRule -DisplayName %s -ErrorAction SilentlyContinue | Select-Object -First 1",
		quotePowerShellLiteral(pattern),
	)
	out, err := f.opts.Runner.Run(ctx, "powershell", "-NoProfile", "-Command", query)
	if err != nil {
		return false, err
	}

	return strings.TrimSpace(out.Stdout) != "", nil
}

func (f *PowerShellFirewall) grantScript() string {
	var b strings.Builder
	b.WriteString("try {\n")
	writeRulePair(&b, f.opts.AppName, f.opts.AppName, f.opts.AppPath)
	if f.opts.RigctldPath != "" {
		writeRulePair(&b, "rigctld", "rigctld", f.opts.RigctldPath)
	}
	writeRulePair(&b, "rigctld (any)", "rigctld (any)", "*rigctld.exe")
	b.WriteString("Write-Output 'Firewall configuration completed successfully'\n")
	b.WriteString("} catch {\n")
	b.WriteString("Write-Error \"Failed to configure firewall: $($_.Exception.Message)\"\n")
	b.WriteString("exit 1\n")
	b.WriteString("}\n")

	return b.String()
}

// writeRulePair emits an inbound/outbound rule pair guarded by an existence check.
func writeRulePair(b *strings.Builder, match, name, program string) {
	if program == "" {
		return
	}
	fmt.Fprintf(b, "if (-not (Get-NetFirewallRule -DisplayName %s -ErrorAction SilentlyContinue)) {\n", quotePowerShellLiteral(match+" - *"))
	for _, dir := range []string{"Inbound", "Outbound"} {
		fmt.Fprintf(b, "New-NetFirewallRule -DisplayName %s -Direction %s -Program %s -Action Allow -Profile Any | Out-Null\n",
			quotePowerShellLiteral(name+" - "+dir), dir, quotePowerShellLiteral(program))
	}
	fmt.Fprintf(b, "Write-Output %s\n", quotePowerShellLiteral("Added firewall rules for "+name))
	b.WriteString("}\n")
}

// elevatedPowerShell wraps script in a UAC-elevated, waited PowerShell.
func elevatedPowerShell(script string) string {
	return fmt.Sprintf(
		"Start-Process powershell -ArgumentList '-NoProfile','-Command',%s -Verb RunAs -Wait",
		quotePowerShellLiteral(script),
	)
}
