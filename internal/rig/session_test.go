package rig

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/skobkin/riglink/internal/connectors"
	"github.com/skobkin/riglink/internal/transport"
)

func TestSessionConnectLoadsCapabilitiesAndState(t *testing.T) {
	d := newFakeDaemon(t)
	s := newTestSession(t, d, DispatcherOptions{})

	res, err := s.Connect(context.Background(), ConnectOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !res.External {
		t.Fatalf("expected unmanaged listener to be reported as external")
	}

	caps, ok := s.Capabilities()
	if !ok || caps.MfgName != "Hamlib" {
		t.Fatalf("expected loaded capabilities, got %+v (ok=%v)", caps, ok)
	}

	state := s.State()
	if state.FrequencyHz != 14074000 || state.Mode != "USB" || state.PassbandHz != 2400 || state.VFO != "VFOA" {
		t.Fatalf("unexpected state %+v", state)
	}
	if state.SignalStrength == nil || *state.SignalStrength != -54 {
		t.Fatalf("expected signal strength -54, got %v", state.SignalStrength)
	}
	if got := s.Smeter(); got.Supported != SupportYes || got.Text() != "OK" {
		t.Fatalf("unexpected smeter status %+v", got)
	}
}

func TestSmeterGateDisablesWithoutStrength(t *testing.T) {
	d := newFakeDaemon(t)
	d.reply("dump_caps", testCapsNoStrength)
	s := newTestSession(t, d, DispatcherOptions{})

	if _, err := s.Connect(context.Background(), ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := s.Smeter(); got.Supported != SupportNo || got.Text() != "Not supported" {
		t.Fatalf("expected unsupported after the first check, got %+v", got)
	}

	for range 5 {
		s.UpdateSmeter(context.Background())
		s.RefreshState(context.Background())
	}
	if n := d.count("l STRENGTH"); n != 0 {
		t.Fatalf("expected no strength commands, got %d", n)
	}
}

func TestSmeterGateResetsOnReconnect(t *testing.T) {
	d := newFakeDaemon(t)
	d.reply("dump_caps", testCapsNoStrength)
	s := newTestSession(t, d, DispatcherOptions{})
	if _, err := s.Connect(context.Background(), ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	d.reply("dump_caps", testCaps)
	if _, err := s.Connect(context.Background(), ConnectOptions{}); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got := s.Smeter(); got.Supported != SupportYes {
		t.Fatalf("expected S-meter re-checked on reconnect, got %+v", got)
	}
	if d.count("l STRENGTH") == 0 {
		t.Fatalf("expected strength reads after reconnect")
	}
}

func TestSmeterErrorsDegradeTextWithoutDisabling(t *testing.T) {
	d := newFakeDaemon(t)
	s := newTestSession(t, d, DispatcherOptions{})
	if _, err := s.Connect(context.Background(), ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	d.reply("l STRENGTH", "RPRT -11\n")
	for i := 1; i <= 4; i++ {
		s.UpdateSmeter(context.Background())
		got := s.Smeter()
		if got.ConsecutiveErrors != i {
			t.Fatalf("expected %d consecutive errors, got %d", i, got.ConsecutiveErrors)
		}
		wantText := "OK"
		if i > 3 {
			wantText = "Error"
		}
		if got.Text() != wantText || got.Supported != SupportYes {
			t.Fatalf("after %d errors expected %q and still supported, got %+v", i, wantText, got)
		}
	}

	d.reply("l STRENGTH", "-20\nRPRT 0\n")
	s.UpdateSmeter(context.Background())
	got := s.Smeter()
	if got.ConsecutiveErrors != 0 || got.LastError != "" || got.LastSuccessfulRead.IsZero() {
		t.Fatalf("expected recovery, got %+v", got)
	}
	if st := s.State(); st.SignalStrength == nil || *st.SignalStrength != -20 {
		t.Fatalf("expected strength -20, got %v", st.SignalStrength)
	}
}

func TestRefreshStateKeepsStaleValuesOnFailure(t *testing.T) {
	d := newFakeDaemon(t)
	s := newTestSession(t, d, DispatcherOptions{})
	if _, err := s.Connect(context.Background(), ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	d.reply("v", "RPRT -1\n")
	d.reply("f", "Frequency: 7074000\nRPRT 0\n")
	s.RefreshState(context.Background())

	state := s.State()
	if state.VFO != "VFOA" {
		t.Fatalf("expected stale VFO to be kept, got %q", state.VFO)
	}
	if state.FrequencyHz != 7074000 {
		t.Fatalf("expected queries after the failure to run, got %d", state.FrequencyHz)
	}
	if d.count("z") != 2 {
		t.Fatalf("expected XIT queried on every refresh, got %d", d.count("z"))
	}
}

func TestRefreshStateReadsSplitFrequencyOnlyWhenSplit(t *testing.T) {
	d := newFakeDaemon(t)
	s := newTestSession(t, d, DispatcherOptions{})
	if _, err := s.Connect(context.Background(), ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if d.count("i") != 0 {
		t.Fatalf("split frequency must not be read while split is off")
	}

	d.reply("s", "Split: 1\nTX VFO: VFOB\nRPRT 0\n")
	s.RefreshState(context.Background())
	state := s.State()
	if !state.Split || state.SplitFrequencyHz == nil || *state.SplitFrequencyHz != 14076000 {
		t.Fatalf("unexpected split state %+v", state)
	}
}

func TestSettersUpdateStateOnlyOnSuccess(t *testing.T) {
	d := newFakeDaemon(t)
	s := newTestSession(t, d, DispatcherOptions{})
	if _, err := s.Connect(context.Background(), ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := s.SetMode(context.Background(), "cw", 500); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if st := s.State(); st.Mode != "CW" || st.PassbandHz != 500 {
		t.Fatalf("unexpected mode state %+v", st)
	}
	if d.count("M CW 500") != 1 {
		t.Fatalf("expected M CW 500 on the wire, got %v", d.commands())
	}

	d.reply("T 1", "RPRT -9\n")
	if err := s.SetPTT(context.Background(), true); err == nil {
		t.Fatalf("expected PTT rejection")
	}
	if s.State().PTT {
		t.Fatalf("rejected PTT must not change state")
	}

	if err := s.SetSplitFrequency(context.Background(), 14080000); err != nil {
		t.Fatalf("set split frequency: %v", err)
	}
	if err := s.SetSplit(context.Background(), false); err != nil {
		t.Fatalf("disable split: %v", err)
	}
	if st := s.State(); st.Split || st.SplitFrequencyHz != nil || st.SplitMode != nil {
		t.Fatalf("disabling split must clear split fields, got %+v", st)
	}
}

func TestSettersRequireConnection(t *testing.T) {
	d := newFakeDaemon(t)
	s := newTestSession(t, d, DispatcherOptions{})

	if err := s.SetFrequency(context.Background(), 7074000); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSessionDisconnectClearsCapabilities(t *testing.T) {
	d := newFakeDaemon(t)
	s := newTestSession(t, d, DispatcherOptions{})
	if _, err := s.Connect(context.Background(), ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	s.Disconnect()
	if _, ok := s.Capabilities(); ok {
		t.Fatalf("expected capabilities cleared on disconnect")
	}
	if s.Status().State != connectors.ConnectionStateDisconnected {
		t.Fatalf("expected disconnected, got %s", s.Status().State)
	}
	if s.State().FrequencyHz != 14074000 {
		t.Fatalf("rig state must be retained across disconnect")
	}
}

func TestSessionRetriesOnceAfterFirewallFix(t *testing.T) {
	d := newFakeDaemon(t)
	var attempts atomic.Int32
	inner := d.dialer()
	dialer := transport.DialerFunc(func(ctx context.Context, host string, port int) (net.Conn, error) {
		if attempts.Add(1) == 1 {
			return nil, refusedErr{}
		}
		return inner.Dial(ctx, host, port)
	})
	fw := &fakeFirewall{supported: true}
	s := NewSession(SessionOptions{Connection: ConnectionDeps{Dialer: dialer, Prober: probeResult(true), Firewall: fw}})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.Start(ctx)
	t.Cleanup(s.Close)

	if _, err := s.Connect(context.Background(), ConnectOptions{AttemptFirewallFix: true}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if attempts.Load() != 2 || fw.grants.Load() != 1 {
		t.Fatalf("expected exactly one retry, got %d attempts and %d grants", attempts.Load(), fw.grants.Load())
	}
}

func TestSessionDoesNotRetryTwice(t *testing.T) {
	var attempts atomic.Int32
	dialer := transport.DialerFunc(func(context.Context, string, int) (net.Conn, error) {
		attempts.Add(1)
		return nil, refusedErr{}
	})
	fw := &fakeFirewall{supported: true}
	s := NewSession(SessionOptions{Connection: ConnectionDeps{Dialer: dialer, Prober: probeResult(true), Firewall: fw}})

	_, err := s.Connect(context.Background(), ConnectOptions{AttemptFirewallFix: true})
	if err == nil {
		t.Fatalf("expected connect failure")
	}
	if attempts.Load() != 2 {
		t.Fatalf("expected the original attempt plus one retry, got %d", attempts.Load())
	}
	if fw.grants.Load() != 1 {
		t.Fatalf("retry must not attempt another firewall fix, got %d grants", fw.grants.Load())
	}
}
