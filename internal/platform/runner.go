package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// CommandRunner executes external tools. Everything that shells out goes
// through it so tests can substitute canned output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (CommandOutput, error)
}

// CommandOutput holds captured process streams.
type CommandOutput struct {
	Stdout string
	Stderr string
}

type commandSpec struct {
	name string
	args []string
}

func (s commandSpec) run(ctx context.Context, runner CommandRunner) (CommandOutput, error) {
	return runner.Run(ctx, s.name, s.args...)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandOutput, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	HideConsoleWindow(cmd)

	err := cmd.Run()
	out := CommandOutput{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		slog.Debug("command failed", "command", name, "error", err, "stderr", strings.TrimSpace(out.Stderr))

		return out, &CommandError{Name: name, Err: err, Stderr: strings.TrimSpace(out.Stderr)}
	}

	return out, nil
}

// CommandError keeps stderr next to the exit error; elevation failures are
// only distinguishable by their text.
type CommandError struct {
	Name   string
	Err    error
	Stderr string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}

	return fmt.Sprintf("%s: %v: %s", e.Name, e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit code, or -1 when the process never ran.
func (e *CommandError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
