package platform

import (
	"path/filepath"
	"testing"
)

func TestBuildLaunchCommandDropsBlankArgs(t *testing.T) {
	executable, args, err := buildLaunchCommand(LoginEntry{Enabled: true, Args: []string{" watch ", "", "  "}})
	if err != nil {
		t.Fatalf("build launch command: %v", err)
	}
	if !filepath.IsAbs(executable) {
		t.Fatalf("expected absolute executable, got %q", executable)
	}
	if len(args) != 1 || args[0] != "watch" {
		t.Fatalf("unexpected args %#v", args)
	}
}
