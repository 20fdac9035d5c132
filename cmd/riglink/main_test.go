package main

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/skobkin/riglink/internal/app"
	"github.com/skobkin/riglink/internal/config"
	"github.com/skobkin/riglink/internal/platform"
)

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantCmd string
		wantErr bool
	}{
		{name: "defaults to watch", args: nil, wantCmd: "watch"},
		{name: "flags before command", args: []string{"--host", "rig.lan", "-m", "3073", "state"}, wantCmd: "state"},
		{name: "raw command", args: []string{"cmd", "F", "14074000"}, wantCmd: "cmd"},
		{name: "raw command needs args", args: []string{"cmd"}, wantErr: true},
		{name: "unknown command", args: []string{"tune"}, wantErr: true},
		{name: "extra positional", args: []string{"diag", "now"}, wantErr: true},
		{name: "unknown flag", args: []string{"--nope"}, wantErr: true},
		{name: "bad port", args: []string{"--port", "70000"}, wantErr: true},
		{name: "login on", args: []string{"login", "on"}, wantCmd: "login"},
		{name: "login needs on or off", args: []string{"login", "yes"}, wantErr: true},
		{name: "version", args: []string{"version"}, wantCmd: "version"},
	}

	for _, tc := range tests {
		got, err := parseOptions(tc.args, io.Discard)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error, got nil", tc.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got.Command != tc.wantCmd {
			t.Fatalf("%s: expected command %q, got %q", tc.name, tc.wantCmd, got.Command)
		}
	}
}

func TestParseOptionsHelp(t *testing.T) {
	var out bytes.Buffer
	_, err := parseOptions([]string{"--help"}, &out)
	if !errors.Is(err, errHelp) {
		t.Fatalf("expected help error, got %v", err)
	}
	if !strings.Contains(out.String(), "start-elevated") {
		t.Fatalf("usage does not list commands: %q", out.String())
	}
}

func TestOverride(t *testing.T) {
	opts, err := parseOptions([]string{
		"--host", " rig.lan ", "--port", "4600", "-m", "3073", "-r", "/dev/ttyUSB0",
		"--rigctld", "/opt/hamlib/bin/rigctld", "--no-poll", "--log-level", "debug", "--log-format", "JSON",
		"--metrics-addr", ":9532", "--listen-for", "30s", "watch",
	}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.ListenFor != 30*time.Second {
		t.Fatalf("unexpected listen duration %s", opts.ListenFor)
	}

	cfg := config.Default()
	opts.override(&cfg)

	if cfg.Rig.Host != "rig.lan" || cfg.Rig.Port != 4600 || cfg.Rig.Model != 3073 || cfg.Rig.Device != "/dev/ttyUSB0" {
		t.Fatalf("unexpected rig config %+v", cfg.Rig)
	}
	if cfg.Rig.RigctldPath != "/opt/hamlib/bin/rigctld" || !cfg.Rig.AutoStart {
		t.Fatalf("unexpected rigctld config %+v", cfg.Rig)
	}
	if cfg.Polling.Enabled || cfg.Logging.Level != "debug" || cfg.Logging.Format != config.LogFormatJSON || cfg.Metrics.ListenAddr != ":9532" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestOverrideOneShotCommandsDisableAutoStart(t *testing.T) {
	opts, err := parseOptions([]string{"diag"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := config.Default()
	opts.override(&cfg)
	if cfg.Rig.AutoStart {
		t.Fatalf("expected auto-start to be disabled for one-shot commands")
	}
}

func TestRunVersionSkipsRuntime(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--config", "/nonexistent/riglink.json", "version"}, &out); err != nil {
		t.Fatalf("run version: %v", err)
	}
	if !strings.HasPrefix(out.String(), app.Name+" ") {
		t.Fatalf("unexpected version line %q", out.String())
	}
}

func TestPrintResult(t *testing.T) {
	var out bytes.Buffer
	if err := printResult(&out, app.Result{Success: true, Data: map[string]int{"port": 4532}}); err != nil {
		t.Fatalf("print success: %v", err)
	}
	if !strings.Contains(out.String(), `"port": 4532`) {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	err := printResult(&out, app.Result{Error: "Command timeout"})
	if err == nil || err.Error() != "Command timeout" {
		t.Fatalf("expected result error, got %v", err)
	}
}

func TestPreview(t *testing.T) {
	if got := preview("Frequency: 14074000\nRPRT 0\n"); got != "Frequency: 14074000 | RPRT 0" {
		t.Fatalf("unexpected preview %q", got)
	}
	long := strings.Repeat("x", maxTrafficPreviewLen+10)
	if got := preview(long); len(got) != maxTrafficPreviewLen+3 {
		t.Fatalf("unexpected preview length %d", len(got))
	}

	// "é" is two bytes and straddles the cut
	multi := strings.Repeat("x", maxTrafficPreviewLen-1) + strings.Repeat("é", 5)
	got := preview(multi)
	if !utf8.ValidString(got) {
		t.Fatalf("preview split a rune: %q", got)
	}
	if want := strings.Repeat("x", maxTrafficPreviewLen-1) + "..."; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

type recordingLauncher struct {
	entries []platform.LoginEntry
}

func (r *recordingLauncher) Sync(entry platform.LoginEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func TestSyncLoginCarriesRigFlags(t *testing.T) {
	opts, err := parseOptions([]string{"--config", "/srv/rig.json", "--host", "rig.lan", "-m", "3073", "-r", "/dev/ttyUSB0", "login", "on"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	launcher := &recordingLauncher{}
	var out bytes.Buffer
	if err := syncLogin(launcher, opts, &out); err != nil {
		t.Fatalf("sync login: %v", err)
	}

	if len(launcher.entries) != 1 || !launcher.entries[0].Enabled {
		t.Fatalf("unexpected entries %+v", launcher.entries)
	}
	want := []string{"--config", "/srv/rig.json", "--host", "rig.lan", "--model", "3073", "--device", "/dev/ttyUSB0", "watch"}
	if strings.Join(launcher.entries[0].Args, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected args %v", launcher.entries[0].Args)
	}

	opts.Args = []string{"off"}
	if err := syncLogin(launcher, opts, &out); err != nil {
		t.Fatalf("disable login: %v", err)
	}
	if launcher.entries[1].Enabled {
		t.Fatalf("expected disabled entry")
	}
}
