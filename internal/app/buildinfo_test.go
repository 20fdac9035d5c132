package app

import (
	"runtime/debug"
	"testing"
)

func stubBuildInfo(t *testing.T, version string, settings ...debug.BuildSetting) {
	t.Helper()
	origVersion, origDate, origRead := Version, BuildDate, readBuildInfo
	t.Cleanup(func() {
		Version, BuildDate, readBuildInfo = origVersion, origDate, origRead
	})
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: version}, Settings: settings}, true
	}
}

func TestBuildVersion(t *testing.T) {
	tests := []struct {
		name    string
		ldflags string
		module  string
		want    string
	}{
		{name: "ldflags wins", ldflags: " 1.2.3 ", module: "v0.9.0", want: "1.2.3"},
		{name: "module version", ldflags: "dev", module: "v0.9.0", want: "v0.9.0"},
		{name: "devel build", ldflags: "", module: "(devel)", want: "dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubBuildInfo(t, tt.module)
			Version = tt.ldflags
			if got := BuildVersion(); got != tt.want {
				t.Fatalf("BuildVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildDateYMD(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		vcsTime string
		want    string
	}{
		{name: "empty stays empty", want: ""},
		{name: "rfc3339 formatted", in: "2026-01-30T14:55:03Z", want: "2026-01-30"},
		{name: "date only", in: "2026-01-30", want: "2026-01-30"},
		{name: "vcs fallback", vcsTime: "2026-03-02T08:00:00Z", want: "2026-03-02"},
		{name: "unknown format returns as is", in: "not-a-date", want: "not-a-date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var settings []debug.BuildSetting
			if tt.vcsTime != "" {
				settings = append(settings, debug.BuildSetting{Key: "vcs.time", Value: tt.vcsTime})
			}
			stubBuildInfo(t, "", settings...)
			BuildDate = tt.in
			if got := BuildDateYMD(); got != tt.want {
				t.Fatalf("BuildDateYMD() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildVersionWithDate(t *testing.T) {
	stubBuildInfo(t, "")
	Version = "1.0.0"
	BuildDate = "2026-02-01"

	if got := BuildVersionWithDate(); got != "1.0.0 (2026-02-01)" {
		t.Fatalf("unexpected version string %q", got)
	}
}

func TestVCSRevision(t *testing.T) {
	stubBuildInfo(t, "(devel)",
		debug.BuildSetting{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	)
	if got := VCSRevision(); got != "0123456789ab-dirty" {
		t.Fatalf("unexpected revision %q", got)
	}

	stubBuildInfo(t, "(devel)")
	if got := VCSRevision(); got != "" {
		t.Fatalf("expected empty revision without vcs info, got %q", got)
	}
}
