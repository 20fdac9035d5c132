//go:build windows

package platform

import "golang.org/x/sys/windows"

func newFirewall(opts FirewallOptions) Firewall {
	return NewPowerShellFirewall(opts)
}

// IsElevated reports whether the current process token is elevated.
func IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
