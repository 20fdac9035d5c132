package transport

import "log/slog"

// transportLogger resolves slog.Default lazily so loggers pick up the level
// configured after package init.
func transportLogger(kind string, attrs ...any) *slog.Logger {
	logger := slog.Default().With("component", "transport", "kind", kind)
	if len(attrs) == 0 {
		return logger
	}

	return logger.With(attrs...)
}
