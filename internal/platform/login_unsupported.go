//go:build !linux && !windows

package platform

import (
	"fmt"
	"runtime"
)

type unsupportedLoginLauncher struct{}

func newLoginLauncher() LoginLauncher {
	return unsupportedLoginLauncher{}
}

func (unsupportedLoginLauncher) Sync(entry LoginEntry) error {
	if !entry.Enabled {
		return nil
	}
	return fmt.Errorf("%w: start at login on %s", ErrUnsupported, runtime.GOOS)
}
