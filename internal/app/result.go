package app

import (
	"errors"
	"fmt"

	"github.com/skobkin/riglink/internal/platform"
	"github.com/skobkin/riglink/internal/rig"
	"github.com/skobkin/riglink/internal/rigctl"
	"github.com/skobkin/riglink/internal/supervisor"
)

// Result is the uniform answer of every administrative operation.
type Result struct {
	Success     bool     `json:"success"`
	Data        any      `json:"data,omitempty"`
	Error       string   `json:"error,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func ok(data any) Result {
	return Result{Success: true, Data: data}
}

func failed(err error, suggestions ...string) Result {
	return Result{Error: errorText(err), Suggestions: suggestions}
}

// errorText keeps the wording users already know from the command surface.
func errorText(err error) string {
	var daemonErr *rigctl.DaemonError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, rig.ErrNotConnected):
		return "Not connected to rigctld"
	case errors.Is(err, rig.ErrCommandTimeout):
		return "Command timeout"
	case errors.As(err, &daemonErr):
		return fmt.Sprintf("Rigctld error code: %d", daemonErr.Code)
	case errors.Is(err, rigctl.ErrMalformedResponse):
		return "Invalid response format"
	default:
		return err.Error()
	}
}

// elevationSuggestions explains platform elevation failures.
func elevationSuggestions(err error) []string {
	switch {
	case errors.Is(err, platform.ErrElevationDeclined):
		return []string{"The administrator prompt was cancelled"}
	case errors.Is(err, platform.ErrInsufficientRights):
		return []string{"Try running riglink as Administrator"}
	case errors.Is(err, platform.ErrUnsupported):
		return []string{"Elevated start is only available on Windows"}
	case errors.Is(err, supervisor.ErrBinaryNotFound):
		return []string{"Install Hamlib or set the rigctld path in settings"}
	default:
		return nil
	}
}
