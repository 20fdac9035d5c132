package supervisor

import (
	"bytes"
	"log/slog"
	"sync"
)

// lineLogger forwards daemon output to the log one line at a time.
type lineLogger struct {
	logger *slog.Logger
	stream string

	mu  sync.Mutex
	buf []byte
}

func newLineLogger(logger *slog.Logger, stream string) *lineLogger {
	return &lineLogger{logger: logger, stream: stream}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	for {
		idx := bytes.IndexByte(l.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(l.buf[:idx], "\r")
		if len(line) > 0 {
			l.logger.Debug("rigctld output", "stream", l.stream, "line", string(line))
		}
		l.buf = l.buf[idx+1:]
	}

	return len(p), nil
}
