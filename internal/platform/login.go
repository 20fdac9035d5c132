package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const loginEntryName = "riglink"

// LoginEntry describes the per-user entry that starts riglink at login.
type LoginEntry struct {
	Enabled bool
	// Args are passed to the riglink executable, e.g. ["watch"].
	Args []string
}

// LoginLauncher installs or removes the login entry.
type LoginLauncher interface {
	Sync(entry LoginEntry) error
}

func NewLoginLauncher() LoginLauncher {
	return newLoginLauncher()
}

func buildLaunchCommand(entry LoginEntry) (string, []string, error) {
	executable, err := resolveExecutablePath()
	if err != nil {
		return "", nil, err
	}

	args := make([]string, 0, len(entry.Args))
	for _, arg := range entry.Args {
		if arg = strings.TrimSpace(arg); arg != "" {
			args = append(args, arg)
		}
	}

	return executable, args, nil
}

func resolveExecutablePath() (string, error) {
	rawPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	trimmed := strings.TrimSpace(rawPath)
	if trimmed == "" {
		return "", fmt.Errorf("resolve executable path: path is empty")
	}
	if !filepath.IsAbs(trimmed) {
		trimmed, err = filepath.Abs(trimmed)
		if err != nil {
			return "", fmt.Errorf("resolve executable absolute path: %w", err)
		}
	}

	if resolved, err := filepath.EvalSymlinks(trimmed); err == nil {
		trimmed = resolved
	}

	return filepath.Clean(trimmed), nil
}
