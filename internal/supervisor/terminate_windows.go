//go:build windows

package supervisor

import "os"

// Windows has no SIGTERM for console-less children.
func terminate(p *os.Process) error {
	return p.Kill()
}
