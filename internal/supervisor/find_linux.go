//go:build linux

package supervisor

import "github.com/skobkin/riglink/internal/platform"

func newProcessFinder(_ platform.CommandRunner) ProcessFinder {
	return procFinder{root: "/proc"}
}
