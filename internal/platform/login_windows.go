//go:build windows

package platform

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/windows/registry"
)

const runKeyPath = `Software\Microsoft\Windows\CurrentVersion\Run`

type runKeyLoginLauncher struct{}

func newLoginLauncher() LoginLauncher {
	return runKeyLoginLauncher{}
}

// Sync sets or deletes the riglink value under the per-user Run key.
func (runKeyLoginLauncher) Sync(entry LoginEntry) error {
	key, _, err := registry.CreateKey(registry.CURRENT_USER, runKeyPath, registry.QUERY_VALUE|registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("open run registry key: %w", err)
	}
	defer key.Close()

	if !entry.Enabled {
		if err := key.DeleteValue(loginEntryName); err != nil && !isValueNotFound(err) {
			return fmt.Errorf("remove login registry value: %w", err)
		}
		return nil
	}

	executable, args, err := buildLaunchCommand(entry)
	if err != nil {
		return err
	}
	if err := key.SetStringValue(loginEntryName, buildWindowsCommandLine(executable, args)); err != nil {
		return fmt.Errorf("set login registry value: %w", err)
	}

	return nil
}

func isValueNotFound(err error) bool {
	return errors.Is(err, registry.ErrNotExist) || errors.Is(err, syscall.Errno(2))
}
