package platform

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"
)

const elevatedStartTimeout = 30 * time.Second

// StartElevated launches executable with args through a UAC prompt and
// returns once the prompt is answered. The started process is detached.
func StartElevated(ctx context.Context, runner CommandRunner, executable string, args []string) error {
	return startElevatedForOS(ctx, runtime.GOOS, runner, executable, args)
}

func startElevatedForOS(ctx context.Context, goos string, runner CommandRunner, executable string, args []string) error {
	normalizedOS := strings.ToLower(strings.TrimSpace(goos))
	if normalizedOS != "windows" {
		return fmt.Errorf("elevated start: %w: %s", ErrUnsupported, normalizedOS)
	}
	if runner == nil {
		runner = ExecRunner{}
	}

	ctx, cancel := context.WithTimeout(ctx, elevatedStartTimeout)
	defer cancel()

	spec := elevatedStartCommand(executable, args)
	slog.Info("starting elevated process", "executable", executable, "args", args)
	if _, err := spec.run(ctx, runner); err != nil {
		err = classifyElevationError(err)
		slog.Warn("elevated start failed", "executable", executable, "error", err)

		return fmt.Errorf("elevated start: %w", err)
	}

	return nil
}

func elevatedStartCommand(executable string, args []string) commandSpec {
	script := "Start-Process -FilePath " + quotePowerShellLiteral(executable)
	if len(args) > 0 {
		script += " -ArgumentList " + powerShellArgumentList(args)
	}
	script += " -Verb RunAs -WindowStyle Hidden"

	return commandSpec{name: "powershell", args: []string{"-NoProfile", "-Command", script}}
}
