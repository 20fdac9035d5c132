package transport

import (
	"context"
	"net"
	"strings"
	"time"
)

const (
	ListenProbeTimeout  = time.Second
	ConnectProbeTimeout = 3 * time.Second
)

// Prober answers "does host:port accept a TCP connection within timeout".
type Prober interface {
	Probe(ctx context.Context, host string, port int, timeout time.Duration) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, host string, port int, timeout time.Duration) bool

func (f ProberFunc) Probe(ctx context.Context, host string, port int, timeout time.Duration) bool {
	return f(ctx, host, port, timeout)
}

// IsLoopbackHost reports whether host names this machine. An empty host
// dials localhost, so it counts too.
func IsLoopbackHost(host string) bool {
	host = strings.Trim(strings.TrimSpace(host), "[]")
	if host == "" || strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)

	return ip != nil && ip.IsLoopback()
}

// TCPProber opens and immediately closes a throwaway connection.
type TCPProber struct{}

func (TCPProber) Probe(ctx context.Context, host string, port int, timeout time.Duration) bool {
	return ProbePort(ctx, host, port, timeout)
}

// ProbePort reports whether something accepts connections on host:port.
// Refusals, resets and timeouts all count as "not listening".
func ProbePort(ctx context.Context, host string, port int, timeout time.Duration) bool {
	logger := transportLogger("probe", "target", JoinHostPort(host, port), "timeout", timeout)
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(probeCtx, "tcp", JoinHostPort(host, port))
	if err != nil {
		logger.Debug("port probe failed", "error", err)

		return false
	}
	_ = conn.Close()
	logger.Debug("port probe succeeded")

	return true
}
