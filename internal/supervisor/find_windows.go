//go:build windows

package supervisor

import "github.com/skobkin/riglink/internal/platform"

func newProcessFinder(runner platform.CommandRunner) ProcessFinder {
	return tasklistFinder{runner: runner}
}
