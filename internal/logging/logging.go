package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/skobkin/riglink/internal/config"
)

// Manager owns the process logger and the optional log file. Console
// output goes to stderr so stdout stays free for command results.
type Manager struct {
	mu      sync.RWMutex
	console io.Writer
	logger  *slog.Logger
	file    *os.File
}

func NewManager() *Manager {
	return NewManagerWithOutput(os.Stderr)
}

// NewManagerWithOutput uses console instead of stderr.
func NewManagerWithOutput(console io.Writer) *Manager {
	if console == nil {
		console = io.Discard
	}

	return &Manager{
		console: console,
		logger:  slog.New(newHandler(console, config.LogFormatText, slog.LevelInfo)),
	}
}

// Configure swaps the handler in place. Loggers handed out earlier keep the
// previous handler.
func (m *Manager) Configure(cfg config.LoggingConfig, filePath string) error {
	level, err := config.ParseLogLevel(cfg.Level)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}

	writer := m.console
	if cfg.LogToFile {
		file, err := openLogFile(filepath.Clean(filePath), int64(cfg.MaxFileSizeMB)<<20)
		if err != nil {
			return err
		}
		m.file = file
		writer = newFanoutWriter(m.console, file)
	}

	m.logger = slog.New(newHandler(writer, cfg.Format, level))
	slog.SetDefault(m.logger)

	return nil
}

func (m *Manager) Logger(component string) *slog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.logger.With("component", component)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil

	return err
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

// openLogFile appends to path, first moving an oversized file to path.1.
// Long watch sessions log every poll failure, so the file needs a ceiling.
func openLogFile(path string, maxBytes int64) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if maxBytes > 0 {
		if info, err := os.Stat(path); err == nil && info.Size() >= maxBytes {
			backup := path + ".1"
			if err := os.Remove(backup); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("remove old log backup: %w", err)
			}
			if err := os.Rename(path, backup); err != nil {
				return nil, fmt.Errorf("rotate log file: %w", err)
			}
		}
	}

	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return file, nil
}

// fanoutWriter keeps the log file going when the console is gone, as it is
// when riglink runs from a login entry without a terminal.
type fanoutWriter struct {
	writers []io.Writer
}

func newFanoutWriter(writers ...io.Writer) io.Writer {
	filtered := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			filtered = append(filtered, w)
		}
	}

	return &fanoutWriter{writers: filtered}
}

// Write succeeds when at least one destination took the whole buffer.
func (w *fanoutWriter) Write(p []byte) (int, error) {
	var firstErr error
	delivered := false
	for _, dst := range w.writers {
		n, err := dst.Write(p)
		if err == nil && n != len(p) {
			err = io.ErrShortWrite
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delivered = true
	}

	if !delivered && firstErr != nil {
		return 0, firstErr
	}

	return len(p), nil
}
