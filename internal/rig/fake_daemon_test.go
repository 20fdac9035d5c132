package rig

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skobkin/riglink/internal/transport"
)

const testCaps = "dump_caps:\n" +
	"Caps dump for model:\t1\n" +
	"Model name:\tDummy\n" +
	"Mfg name:\tHamlib\n" +
	"Mode list:\tAM CW USB LSB FM\n" +
	"Get level:\tPREAMP(0..0/0) STRENGTH(0..0/0) RFPOWER(0..1/0)\n" +
	"RPRT 0\n"

const testCapsNoStrength = "dump_caps:\n" +
	"Model name:\tDummy\n" +
	"Get level:\tPREAMP(0..0/0) RFPOWER(0..1/0)\n" +
	"RPRT 0\n"

// fakeDaemon answers extended-protocol commands over in-memory pipes.
type fakeDaemon struct {
	t *testing.T

	mu        sync.Mutex
	replies   map[string]string
	received  []string
	holds     map[string]chan struct{}
	silent    map[string]bool
	dials     atomic.Int32
	closes    atomic.Int32
	serverEnd []net.Conn
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	d := &fakeDaemon{
		t: t,
		replies: map[string]string{
			"f":          "Frequency: 14074000\nRPRT 0\n",
			"m":          "Mode: USB\nPassband: 2400\nRPRT 0\n",
			"v":          "VFO: VFOA\nRPRT 0\n",
			"t":          "PTT: 0\nRPRT 0\n",
			"s":          "Split: 0\nTX VFO: VFOA\nRPRT 0\n",
			"i":          "TX Frequency: 14076000\nRPRT 0\n",
			"j":          "RIT: 0\nRPRT 0\n",
			"z":          "XIT: 0\nRPRT 0\n",
			"l STRENGTH": "-54\nRPRT 0\n",
			"dump_caps":  testCaps,
		},
		holds:  map[string]chan struct{}{},
		silent: map[string]bool{},
	}
	t.Cleanup(d.shutdown)

	return d
}

func (d *fakeDaemon) reply(command, response string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies[command] = response
}

// hold delays the reply to command until the returned func is called.
func (d *fakeDaemon) hold(command string) func() {
	ch := make(chan struct{})
	d.mu.Lock()
	d.holds[command] = ch
	d.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// mute makes the daemon swallow command without replying.
func (d *fakeDaemon) mute(command string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent[command] = true
}

func (d *fakeDaemon) commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.received...)
}

func (d *fakeDaemon) count(command string) int {
	n := 0
	for _, got := range d.commands() {
		if got == command {
			n++
		}
	}
	return n
}

func (d *fakeDaemon) dialer() transport.Dialer {
	return transport.DialerFunc(func(_ context.Context, _ string, _ int) (net.Conn, error) {
		client, server := net.Pipe()
		d.dials.Add(1)
		d.mu.Lock()
		d.serverEnd = append(d.serverEnd, server)
		d.mu.Unlock()
		go d.serve(server)

		return &countingConn{Conn: client, closes: &d.closes}, nil
	})
}

func (d *fakeDaemon) serve(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		command := strings.TrimPrefix(strings.TrimSpace(line), "+")

		d.mu.Lock()
		d.received = append(d.received, command)
		response, ok := d.replies[command]
		hold := d.holds[command]
		silent := d.silent[command]
		d.mu.Unlock()

		if silent {
			continue
		}
		if hold != nil {
			<-hold
		}
		if !ok {
			response = "RPRT 0\n"
		}
		if _, err := conn.Write([]byte(response)); err != nil {
			return
		}
	}
}

func (d *fakeDaemon) shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.holds {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
	for _, conn := range d.serverEnd {
		_ = conn.Close()
	}
}

// countingConn records how many times the client side was closed.
type countingConn struct {
	net.Conn
	closes *atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

func probeResult(listening bool) transport.Prober {
	return transport.ProberFunc(func(context.Context, string, int, time.Duration) bool { return listening })
}

type managedFlag bool

func (m managedFlag) IsManaged() bool { return bool(m) }

func newTestSession(t *testing.T, d *fakeDaemon, dispatcher DispatcherOptions) *Session {
	t.Helper()
	s := NewSession(SessionOptions{
		Connection: ConnectionDeps{
			Dialer:     d.dialer(),
			Prober:     probeResult(true),
			Supervisor: managedFlag(false),
		},
		Dispatcher: dispatcher,
	})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		s.Close()
		cancel()
	})

	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
