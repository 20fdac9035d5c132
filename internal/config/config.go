package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultHost                  = "localhost"
	DefaultPort                  = 4532
	DefaultModel                 = 1
	DefaultMainIntervalMS        = 1000
	DefaultSmeterIntervalMS      = 250
	DefaultCommandTimeoutMS      = 5000
	DefaultCapabilitiesTimeoutMS = 10000

	DefaultMaxLogFileSizeMB = 10

	LogFormatText = "text"
	LogFormatJSON = "json"

	minIntervalMS = 50
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
	// Format is "text" or "json".
	Format string `json:"format"`
	// MaxFileSizeMB rotates the log file to a single ".1" backup once it
	// grows past this size. Zero disables rotation.
	MaxFileSizeMB int `json:"max_file_size_mb"`
}

// RigConfig describes the rigctld endpoint and how to launch it.
type RigConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Model       int    `json:"model"`
	Device      string `json:"device"`
	RigctldPath string `json:"rigctld_path"`
	AutoStart   bool   `json:"auto_start"`
	// AttemptFirewallFix allows the connect path to add firewall rules.
	AttemptFirewallFix bool `json:"attempt_firewall_fix"`
}

// PollingConfig controls the refresh loops and command timeouts.
type PollingConfig struct {
	Enabled               bool `json:"enabled"`
	MainIntervalMS        int  `json:"main_interval_ms"`
	SmeterIntervalMS      int  `json:"smeter_interval_ms"`
	CommandTimeoutMS      int  `json:"command_timeout_ms"`
	CapabilitiesTimeoutMS int  `json:"capabilities_timeout_ms"`
	ResetOnTimeout        bool `json:"reset_on_timeout"`
}

func (p PollingConfig) MainInterval() time.Duration {
	return time.Duration(p.MainIntervalMS) * time.Millisecond
}

func (p PollingConfig) SmeterInterval() time.Duration {
	return time.Duration(p.SmeterIntervalMS) * time.Millisecond
}

func (p PollingConfig) CommandTimeout() time.Duration {
	return time.Duration(p.CommandTimeoutMS) * time.Millisecond
}

func (p PollingConfig) CapabilitiesTimeout() time.Duration {
	return time.Duration(p.CapabilitiesTimeoutMS) * time.Millisecond
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Enabled bool                     `json:"enabled"`
	Events  NotificationEventsConfig `json:"events"`
}

// NotificationEventsConfig stores per-event notification toggles.
type NotificationEventsConfig struct {
	ConnectionStatus bool `json:"connection_status"`
	DaemonExit       bool `json:"daemon_exit"`
}

// MetricsConfig enables the Prometheus endpoint when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Rig           RigConfig          `json:"rig"`
	Polling       PollingConfig      `json:"polling"`
	Logging       LoggingConfig      `json:"logging"`
	Notifications NotificationConfig `json:"notifications"`
	Metrics       MetricsConfig      `json:"metrics"`
}

func Default() AppConfig {
	return AppConfig{
		Rig: RigConfig{
			Host:               DefaultHost,
			Port:               DefaultPort,
			Model:              DefaultModel,
			Device:             "",
			RigctldPath:        "",
			AutoStart:          true,
			AttemptFirewallFix: true,
		},
		Polling: PollingConfig{
			Enabled:               true,
			MainIntervalMS:        DefaultMainIntervalMS,
			SmeterIntervalMS:      DefaultSmeterIntervalMS,
			CommandTimeoutMS:      DefaultCommandTimeoutMS,
			CapabilitiesTimeoutMS: DefaultCapabilitiesTimeoutMS,
			ResetOnTimeout:        true,
		},
		Logging: LoggingConfig{
			Level:         "info",
			LogToFile:     false,
			Format:        LogFormatText,
			MaxFileSizeMB: DefaultMaxLogFileSizeMB,
		},
		Notifications: NotificationConfig{
			Enabled: true,
			Events: NotificationEventsConfig{
				ConnectionStatus: true,
				DaemonExit:       true,
			},
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	c.Rig.Host = strings.TrimSpace(c.Rig.Host)
	if c.Rig.Host == "" {
		c.Rig.Host = DefaultHost
	}
	if c.Rig.Port == 0 {
		c.Rig.Port = DefaultPort
	}
	if c.Rig.Model == 0 {
		c.Rig.Model = DefaultModel
	}
	c.Rig.Device = strings.TrimSpace(c.Rig.Device)
	if c.Polling.MainIntervalMS == 0 {
		c.Polling.MainIntervalMS = DefaultMainIntervalMS
	}
	if c.Polling.SmeterIntervalMS == 0 {
		c.Polling.SmeterIntervalMS = DefaultSmeterIntervalMS
	}
	if c.Polling.CommandTimeoutMS == 0 {
		c.Polling.CommandTimeoutMS = DefaultCommandTimeoutMS
	}
	if c.Polling.CapabilitiesTimeoutMS == 0 {
		c.Polling.CapabilitiesTimeoutMS = DefaultCapabilitiesTimeoutMS
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = LogFormatText
	}
}

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Rig.Host) == "" {
		return errors.New("rig host is required")
	}
	if c.Rig.Port <= 0 || c.Rig.Port > 65535 {
		return fmt.Errorf("rig port out of range: %d", c.Rig.Port)
	}
	if c.Rig.Model <= 0 {
		return fmt.Errorf("rig model must be positive: %d", c.Rig.Model)
	}
	if c.Polling.MainIntervalMS < minIntervalMS {
		return fmt.Errorf("main poll interval must be at least %d ms", minIntervalMS)
	}
	if c.Polling.SmeterIntervalMS < minIntervalMS {
		return fmt.Errorf("s-meter poll interval must be at least %d ms", minIntervalMS)
	}
	if c.Polling.CommandTimeoutMS <= 0 {
		return errors.New("command timeout must be positive")
	}
	if c.Polling.CapabilitiesTimeoutMS <= 0 {
		return errors.New("capabilities timeout must be positive")
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("unknown log format: %q", c.Logging.Format)
	}
	if c.Logging.MaxFileSizeMB < 0 {
		return errors.New("log file size limit must not be negative")
	}
	if addr := strings.TrimSpace(c.Metrics.ListenAddr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("metrics listen address: %w", err)
		}
	}

	return nil
}

// ParseLogLevel maps a config level name to a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", level)
	}
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
