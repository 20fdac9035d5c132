package transport

import (
	"context"
	"net"
)

// Dialer opens the raw stream socket to the daemon.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (net.Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, host string, port int) (net.Conn, error)

func (f DialerFunc) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	return f(ctx, host, port)
}

type StatusTargetResolver interface {
	StatusTarget() string
}
