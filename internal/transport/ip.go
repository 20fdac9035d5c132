package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 4532

	readChunkSize = 4096
	inboundDepth  = 64
)

// ErrLinkClosed is returned by Write after the link has been torn down.
var ErrLinkClosed = errors.New("link is closed")

// TCPDialer dials rigctld over TCP.
type TCPDialer struct {
	Timeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	target := JoinHostPort(host, port)
	logger := transportLogger("tcp", "target", target)

	if host == "" {
		logger.Warn("dial failed: host is empty")

		return nil, errors.New("tcp host is empty")
	}

	dialer := net.Dialer{Timeout: d.Timeout}
	logger.Info("connecting")
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		logger.Warn("connect failed", "error", err)

		return nil, fmt.Errorf("dial tcp: %w", err)
	}
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return conn, nil
}

// Link owns one open socket. A background reader pushes every chunk it
// reads to Inbound; the first read error ends the link.
type Link struct {
	target string
	conn   net.Conn

	writeMu sync.Mutex
	inbound chan []byte
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
	local     atomic.Bool

	errMu sync.Mutex
	err   error
}

// NewLink takes ownership of conn and starts its reader.
func NewLink(target string, conn net.Conn) *Link {
	l := &Link{
		target:  target,
		conn:    conn,
		inbound: make(chan []byte, inboundDepth),
		done:    make(chan struct{}),
	}
	go l.readLoop()

	return l
}

func (l *Link) StatusTarget() string {
	return l.target
}

// Inbound delivers raw reads in arrival order.
func (l *Link) Inbound() <-chan []byte {
	return l.inbound
}

// Done is closed once the link is torn down for any reason.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err returns the read error that ended the link, or nil after a local Close.
func (l *Link) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()

	return l.err
}

// ClosedLocally reports whether Close was called before the reader failed.
func (l *Link) ClosedLocally() bool {
	return l.local.Load()
}

func (l *Link) Write(ctx context.Context, payload []byte) error {
	logger := transportLogger("tcp", "target", l.target)
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = l.conn.SetWriteDeadline(deadline)
	} else {
		_ = l.conn.SetWriteDeadline(time.Time{})
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.conn.Write(payload); err != nil {
		logger.Warn("write failed", "len", len(payload), "error", err)

		return fmt.Errorf("write: %w", err)
	}
	logger.Debug("write", "len", len(payload))

	return nil
}

// Close tears the socket down exactly once.
func (l *Link) Close() error {
	l.local.Store(true)
	l.shutdown(nil)

	return l.closeErr
}

func (l *Link) shutdown(readErr error) {
	l.closeOnce.Do(func() {
		if readErr != nil && !l.local.Load() {
			l.errMu.Lock()
			l.err = readErr
			l.errMu.Unlock()
		}
		l.closeErr = l.conn.Close()
		close(l.done)
		transportLogger("tcp", "target", l.target).Info("closed", "local", l.local.Load(), "error", readErr)
	})
}

func (l *Link) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case l.inbound <- chunk:
			case <-l.done:
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("connection closed by peer: %w", err)
			}
			l.shutdown(err)

			return
		}
	}
}

func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
