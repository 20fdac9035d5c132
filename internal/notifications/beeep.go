package notifications

import (
	"log/slog"
	"strings"

	"github.com/gen2brain/beeep"
)

// DesktopSender shows native desktop notifications.
type DesktopSender struct {
	logger *slog.Logger
	notify func(title, message string, icon any) error
	alert  func(title, message string, icon any) error
}

func NewDesktopSender(appName string, logger *slog.Logger) *DesktopSender {
	if logger == nil {
		logger = slog.Default().With("component", "notifications")
	}
	if appName = strings.TrimSpace(appName); appName != "" {
		beeep.AppName = appName
	}

	return &DesktopSender{logger: logger, notify: beeep.Notify, alert: beeep.Alert}
}

func (s *DesktopSender) Send(payload Payload) {
	if s == nil {
		return
	}
	title := strings.TrimSpace(payload.Title)
	content := strings.TrimSpace(payload.Content)
	if title == "" && content == "" {
		return
	}
	// A headless session has no notification daemon; that is not an app error.
	show := s.notify
	if payload.Urgency == UrgencyAlert && s.alert != nil {
		show = s.alert
	}
	if err := show(title, content, ""); err != nil {
		s.logger.Debug("desktop notification failed", "error", err)
	}
}
