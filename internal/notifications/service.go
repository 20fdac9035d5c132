package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/skobkin/riglink/internal/bus"
	"github.com/skobkin/riglink/internal/config"
	"github.com/skobkin/riglink/internal/connectors"
)

// Service listens to bus events and emits user-facing notifications.
type Service struct {
	bus           bus.MessageBus
	currentConfig func() config.AppConfig
	sender        Sender
	logger        *slog.Logger

	connStatusMu     sync.Mutex
	lastConnState    connectors.ConnectionState
	lastConnStateSet bool
}

func NewService(messageBus bus.MessageBus, currentConfig func() config.AppConfig, sender Sender, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default().With("component", "notifications")
	}

	return &Service{
		bus:           messageBus,
		currentConfig: currentConfig,
		sender:        sender,
		logger:        logger,
	}
}

// Start subscribes and returns; events are handled until ctx is done.
func (s *Service) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	connSub := s.bus.Subscribe(connectors.TopicConnStatus)
	procSub := s.bus.Subscribe(connectors.TopicProcessEvent)

	go func() {
		defer s.bus.Unsubscribe(connSub, connectors.TopicConnStatus)
		defer s.bus.Unsubscribe(procSub, connectors.TopicProcessEvent)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-connSub:
				if !ok {
					return
				}
				status, ok := raw.(connectors.ConnectionStatus)
				if !ok {
					continue
				}
				s.handleConnectionStatus(status)
			case raw, ok := <-procSub:
				if !ok {
					return
				}
				event, ok := raw.(connectors.ProcessEvent)
				if !ok {
					continue
				}
				s.handleProcessEvent(event)
			}
		}
	}()
}

// Only connected, disconnected and error are worth a popup; checking and
// connecting flip too quickly.
func (s *Service) handleConnectionStatus(status connectors.ConnectionStatus) {
	if status.State == "" {
		return
	}

	s.connStatusMu.Lock()
	if s.lastConnStateSet && s.lastConnState == status.State {
		s.connStatusMu.Unlock()

		return
	}
	s.lastConnState = status.State
	s.lastConnStateSet = true
	s.connStatusMu.Unlock()

	switch status.State {
	case connectors.ConnectionStateConnected, connectors.ConnectionStateDisconnected, connectors.ConnectionStateError:
	default:
		return
	}
	prefs := s.notificationPrefs()
	if !prefs.Enabled || !prefs.Events.ConnectionStatus {
		return
	}

	details := strings.TrimSpace(status.Target)
	if details == "" {
		details = "No connection details"
	}
	if status.External && status.State == connectors.ConnectionStateConnected {
		details += " (external rigctld)"
	}
	if errText := strings.TrimSpace(status.Err); errText != "" && status.State != connectors.ConnectionStateConnected {
		details = fmt.Sprintf("%s (error: %s)", details, errText)
	}

	urgency := UrgencyInfo
	if status.State == connectors.ConnectionStateError {
		urgency = UrgencyAlert
	}
	s.send(Payload{
		Title:   fmt.Sprintf("rigctld - %s", status.State),
		Content: details,
		Urgency: urgency,
	})
}

func (s *Service) handleProcessEvent(event connectors.ProcessEvent) {
	var title string
	switch event.Kind {
	case connectors.ProcessExited:
		title = "rigctld exited unexpectedly"
	case connectors.ProcessSpawnFailed:
		title = "rigctld failed to start"
	default:
		return
	}
	prefs := s.notificationPrefs()
	if !prefs.Enabled || !prefs.Events.DaemonExit {
		return
	}

	content := "It will not be restarted automatically."
	if errText := strings.TrimSpace(event.Err); errText != "" {
		content = errText
	}
	if event.PID > 0 {
		content = fmt.Sprintf("pid %d: %s", event.PID, content)
	}
	s.send(Payload{Title: title, Content: content, Urgency: UrgencyAlert})
}

func (s *Service) notificationPrefs() config.NotificationConfig {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
		cfg.FillMissingDefaults()
	}

	return cfg.Notifications
}

func (s *Service) send(notification Payload) {
	title := strings.TrimSpace(notification.Title)
	content := strings.TrimSpace(notification.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title, "alert", notification.Urgency == UrgencyAlert)
	s.sender.Send(Payload{
		Title:   title,
		Content: content,
		Urgency: notification.Urgency,
	})
}
