//go:build !windows

package platform

import "os"

func newFirewall(_ FirewallOptions) Firewall {
	return NoopFirewall{}
}

// IsElevated reports whether the process runs as root.
func IsElevated() bool {
	return os.Geteuid() == 0
}
