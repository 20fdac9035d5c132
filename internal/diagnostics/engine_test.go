package diagnostics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skobkin/riglink/internal/connectors"
	"github.com/skobkin/riglink/internal/platform"
	"github.com/skobkin/riglink/internal/supervisor"
	"github.com/skobkin/riglink/internal/transport"
)

type fakeProcesses struct {
	managed bool
	info    supervisor.ProcessInfo
	findErr error
	binErr  error
}

func (f fakeProcesses) IsManaged() bool { return f.managed }

func (f fakeProcesses) FindExternalProcess(context.Context) (supervisor.ProcessInfo, error) {
	return f.info, f.findErr
}

func (f fakeProcesses) ResolveBinary() (string, error) {
	if f.binErr != nil {
		return "", f.binErr
	}
	return "/usr/bin/rigctld", nil
}

type fakeFirewall struct {
	status platform.FirewallStatus
}

func (fakeFirewall) Supported() bool                                 { return true }
func (f fakeFirewall) Probe(context.Context) platform.FirewallStatus { return f.status }
func (fakeFirewall) GrantExceptions(context.Context) error           { return nil }

type recordingStatus struct {
	mu       sync.Mutex
	checking int
	healthy  []bool
}

func (s *recordingStatus) MarkChecking() connectors.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checking++
	return connectors.ConnectionStatus{}
}

func (s *recordingStatus) SettleAfterDiagnostics(healthy bool, _ []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = append(s.healthy, healthy)
}

// timedProber answers differently for the listen and connect probes.
func timedProber(listening, connectable bool) transport.Prober {
	return transport.ProberFunc(func(_ context.Context, _ string, _ int, timeout time.Duration) bool {
		if timeout == transport.ListenProbeTimeout {
			return listening
		}
		return connectable
	})
}

func localTarget() Target {
	return Target{Host: "localhost", Port: 4532, Model: 1}
}

func TestRunNotRunning(t *testing.T) {
	status := &recordingStatus{}
	engine := New(Options{
		Processes: fakeProcesses{},
		Prober:    timedProber(false, false),
		Status:    status,
	})

	report := engine.Run(context.Background(), localTarget())

	assert.False(t, report.ProcessRunning)
	assert.False(t, report.PortListening)
	assert.Contains(t, report.Suggestions, msgNotRunning)
	assert.NotContains(t, report.Suggestions, MsgHealthy)
	assert.True(t, report.FirewallOK)
	assert.False(t, report.Timestamp.IsZero())
	assert.Equal(t, 1, status.checking)
	assert.Equal(t, []bool{false}, status.healthy)
}

func TestRunNotRunningWithoutBinary(t *testing.T) {
	engine := New(Options{
		Processes: fakeProcesses{binErr: supervisor.ErrBinaryNotFound},
		Prober:    timedProber(false, false),
	})

	report := engine.Run(context.Background(), localTarget())

	assert.False(t, report.BinaryFound)
	assert.Equal(t, []string{msgNotRunning, msgBinaryMissing}, report.Suggestions)
}

func TestRunHealthyEmitsOnlyHealthyMessage(t *testing.T) {
	status := &recordingStatus{}
	engine := New(Options{
		Processes: fakeProcesses{managed: true, info: supervisor.ProcessInfo{Running: true, PID: 42, Path: "/usr/bin/rigctld"}},
		Prober:    timedProber(true, true),
		Firewall:  fakeFirewall{status: platform.FirewallStatus{OK: true}},
		Status:    status,
	})

	report := engine.Run(context.Background(), localTarget())

	require.True(t, report.Healthy())
	assert.Equal(t, []string{MsgHealthy}, report.Suggestions)
	assert.Equal(t, 42, report.ProcessPID)
	assert.False(t, report.IsExternalRigctld)
	assert.False(t, report.PortInUseByOther)
	assert.Equal(t, []bool{true}, status.healthy)
}

func TestRunExternalAndForeignOccupant(t *testing.T) {
	engine := New(Options{
		Processes: fakeProcesses{},
		Prober:    timedProber(true, true),
	})

	report := engine.Run(context.Background(), localTarget())

	assert.True(t, report.IsExternalRigctld)
	assert.True(t, report.PortInUseByOther)
	assert.Contains(t, report.Suggestions, msgExternal)
	assert.Contains(t, report.Suggestions, "Port 4532 is in use by another application. Check if another ham radio program is using rigctld.")
	assert.NotContains(t, report.Suggestions, MsgHealthy)
}

func TestRunListeningButUnreachableWithFirewallGap(t *testing.T) {
	engine := New(Options{
		Processes: fakeProcesses{info: supervisor.ProcessInfo{Running: true}},
		Prober:    timedProber(true, false),
		Firewall:  fakeFirewall{status: platform.FirewallStatus{Err: "No firewall rules found for riglink or rigctld."}},
	})

	report := engine.Run(context.Background(), localTarget())

	assert.False(t, report.FirewallOK)
	assert.Equal(t, []string{
		msgExternal,
		msgUnreachable,
		msgAdministrator,
		msgFirewallMissing,
		"Firewall error: No firewall rules found for riglink or rigctld.",
	}, report.Suggestions)
}

func TestRunProbesTCPIndependentlyOfListenProbe(t *testing.T) {
	engine := New(Options{
		Processes: fakeProcesses{},
		Prober:    timedProber(false, true),
	})

	report := engine.Run(context.Background(), localTarget())

	assert.False(t, report.PortListening)
	assert.True(t, report.TCPConnectable)
}

func TestRunIsIdempotent(t *testing.T) {
	engine := New(Options{
		Processes: fakeProcesses{info: supervisor.ProcessInfo{Running: true, PID: 7}},
		Prober:    timedProber(true, false),
		Firewall:  fakeFirewall{status: platform.FirewallStatus{OK: true}},
	})

	first := engine.Run(context.Background(), localTarget())
	second := engine.Run(context.Background(), localTarget())

	first.Timestamp, second.Timestamp = time.Time{}, time.Time{}
	assert.Equal(t, first, second)
}

func TestRunChecksSerialDevice(t *testing.T) {
	engine := New(Options{
		Processes: fakeProcesses{},
		Prober:    timedProber(false, false),
		Devices:   func() ([]string, error) { return []string{"/dev/ttyUSB0"}, nil },
	})

	report := engine.Run(context.Background(), Target{Host: "localhost", Port: 4532, Model: 3073, Device: "/dev/ttyUSB3"})

	assert.Equal(t, "/dev/ttyUSB3", report.Device)
	assert.False(t, report.DevicePresent)
	assert.Contains(t, report.Suggestions, "Rig device /dev/ttyUSB3 was not found. Available serial ports: /dev/ttyUSB0.")
}

func TestRunPingsOnlyRemoteHosts(t *testing.T) {
	var pinged []string
	var mu sync.Mutex
	engine := New(Options{
		Processes: fakeProcesses{},
		Prober:    timedProber(false, false),
		Pinger: func(_ context.Context, host string) error {
			mu.Lock()
			defer mu.Unlock()
			pinged = append(pinged, host)
			return errors.New("timeout")
		},
	})

	local := engine.Run(context.Background(), Target{Host: "127.0.0.1", Port: 4532})
	assert.Nil(t, local.HostReachable)

	remote := engine.Run(context.Background(), Target{Host: "192.0.2.10", Port: 4532})
	require.NotNil(t, remote.HostReachable)
	assert.False(t, *remote.HostReachable)
	assert.Contains(t, remote.Suggestions, "The rigctld host did not answer ping. Check the network path to it.")
	assert.Equal(t, []string{"192.0.2.10"}, pinged)
}

func TestRunRecordsProcessProbeError(t *testing.T) {
	engine := New(Options{
		Processes: fakeProcesses{findErr: errors.New("tasklist failed")},
		Prober:    timedProber(false, false),
	})

	report := engine.Run(context.Background(), localTarget())

	assert.False(t, report.ProcessRunning)
	assert.Equal(t, []string{"process: tasklist failed"}, report.Errors)
}

type versionedProcesses struct {
	fakeProcesses
	version string
}

func (v versionedProcesses) BinaryVersion(context.Context) (string, error) {
	return v.version, nil
}

func TestRunReportsOutdatedHamlib(t *testing.T) {
	engine := New(Options{
		Processes: versionedProcesses{
			fakeProcesses: fakeProcesses{managed: true, info: supervisor.ProcessInfo{Running: true, PID: 42}},
			version:       "v3.3.0",
		},
		Prober: timedProber(true, true),
	})

	report := engine.Run(context.Background(), localTarget())

	assert.Equal(t, "v3.3.0", report.BinaryVersion)
	require.Len(t, report.Suggestions, 2)
	assert.Contains(t, report.Suggestions[0], "Hamlib 3.3.0 is older than 4.0.0")
	assert.Equal(t, MsgHealthy, report.Suggestions[1])
}

func TestRunSkipsVersionWhenBinaryMissing(t *testing.T) {
	engine := New(Options{
		Processes: versionedProcesses{
			fakeProcesses: fakeProcesses{binErr: supervisor.ErrBinaryNotFound},
			version:       "v3.3.0",
		},
		Prober: timedProber(false, false),
	})

	report := engine.Run(context.Background(), localTarget())

	assert.Empty(t, report.BinaryVersion)
}
