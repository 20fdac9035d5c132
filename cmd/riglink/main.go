package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/skobkin/riglink/internal/app"
	"github.com/skobkin/riglink/internal/bus"
	"github.com/skobkin/riglink/internal/config"
	"github.com/skobkin/riglink/internal/connectors"
	"github.com/skobkin/riglink/internal/platform"
	"github.com/skobkin/riglink/internal/rig"
)

const (
	metricsShutdownTimeout = 5 * time.Second
	maxTrafficPreviewLen   = 120
)

const usage = `riglink - rigctld client and supervisor

Usage:
  riglink [flags] [command] [args...]

Commands:
  watch           connect, poll and log rig state until interrupted (default)
  state           connect once and print the rig state
  cmd <command>   send one raw rigctld command, e.g. "cmd F 14074000"
  caps            print the rig capabilities
  diag            run diagnostics
  check           report whether rigctld is running and who owns it
  models          list rig models known to rigctld
  binary          locate rigctld and report its Hamlib version
  restart         restart the managed rigctld
  start-elevated  start rigctld with administrator rights (Windows)
  firewall        add firewall exceptions (Windows)
  login <on|off>  start "riglink watch" when you log in
  version         print the riglink build version

Flags:
`

type cliOptions struct {
	ConfigPath  string
	Host        string
	Port        int
	Model       int
	Device      string
	Rigctld     string
	NoAutoStart bool
	NoPoll      bool
	LogLevel    string
	LogFormat   string
	MetricsAddr string
	ListenFor   time.Duration
	Traffic     bool

	Command string
	Args    []string
}

var errHelp = errors.New("help requested")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseOptions(args []string, out io.Writer) (cliOptions, error) {
	var opts cliOptions

	flagSet := pflag.NewFlagSet(app.Name, pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVar(&opts.ConfigPath, "config", "", "config file path (default: per-user config dir)")
	flagSet.StringVar(&opts.Host, "host", "", "rigctld host")
	flagSet.IntVar(&opts.Port, "port", 0, "rigctld port")
	flagSet.IntVarP(&opts.Model, "model", "m", 0, "Hamlib rig model number")
	flagSet.StringVarP(&opts.Device, "device", "r", "", "rig serial device")
	flagSet.StringVar(&opts.Rigctld, "rigctld", "", "path to the rigctld binary")
	flagSet.BoolVar(&opts.NoAutoStart, "no-autostart", false, "never start a local rigctld")
	flagSet.BoolVar(&opts.NoPoll, "no-poll", false, "disable state polling")
	flagSet.StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.StringVar(&opts.LogFormat, "log-format", "", "log format: text or json")
	flagSet.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9532")
	flagSet.DurationVar(&opts.ListenFor, "listen-for", 0, "watch duration, e.g. 30s (default: until interrupt)")
	flagSet.BoolVar(&opts.Traffic, "traffic", false, "log raw command traffic while watching")
	flagSet.Usage = func() {
		fmt.Fprint(out, usage)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return opts, errHelp
		}
		return opts, err
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return opts, fmt.Errorf("invalid port %d", opts.Port)
	}
	if opts.ListenFor < 0 {
		return opts, fmt.Errorf("invalid listen duration %s", opts.ListenFor)
	}

	rest := flagSet.Args()
	opts.Command = "watch"
	if len(rest) > 0 {
		opts.Command = rest[0]
		opts.Args = rest[1:]
	}
	switch opts.Command {
	case "watch", "state", "caps", "diag", "check", "models", "binary", "restart", "start-elevated", "firewall", "version":
		if len(opts.Args) > 0 {
			return opts, fmt.Errorf("%s takes no arguments", opts.Command)
		}
	case "cmd":
		if len(opts.Args) == 0 {
			return opts, errors.New("cmd needs a rigctld command")
		}
	case "login":
		if len(opts.Args) != 1 || (opts.Args[0] != "on" && opts.Args[0] != "off") {
			return opts, errors.New("login takes exactly one argument: on or off")
		}
	default:
		return opts, fmt.Errorf("unknown command %q", opts.Command)
	}

	return opts, nil
}

// override applies command line values on top of the loaded config.
func (o cliOptions) override(cfg *config.AppConfig) {
	if host := strings.TrimSpace(o.Host); host != "" {
		cfg.Rig.Host = host
	}
	if o.Port > 0 {
		cfg.Rig.Port = o.Port
	}
	if o.Model > 0 {
		cfg.Rig.Model = o.Model
	}
	if device := strings.TrimSpace(o.Device); device != "" {
		cfg.Rig.Device = device
	}
	if path := strings.TrimSpace(o.Rigctld); path != "" {
		cfg.Rig.RigctldPath = path
	}
	if o.NoAutoStart {
		cfg.Rig.AutoStart = false
	}
	if o.NoPoll {
		cfg.Polling.Enabled = false
	}
	if level := strings.TrimSpace(o.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if format := strings.TrimSpace(o.LogFormat); format != "" {
		cfg.Logging.Format = strings.ToLower(format)
	}
	if addr := strings.TrimSpace(o.MetricsAddr); addr != "" {
		cfg.Metrics.ListenAddr = addr
	}
	// one-shot commands never leave a daemon behind
	if o.Command != "watch" && o.Command != "restart" && o.Command != "start-elevated" {
		cfg.Rig.AutoStart = false
	}
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseOptions(args, stdout)
	if err != nil {
		return err
	}
	switch opts.Command {
	case "login":
		return syncLogin(platform.NewLoginLauncher(), opts, stdout)
	case "version":
		_, err := fmt.Fprintln(stdout, versionLine())
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Initialize(ctx, app.Options{
		ConfigPath: opts.ConfigPath,
		Override:   opts.override,
	})
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer func() {
		_ = rt.Close()
	}()
	logger := rt.LogManager.Logger("cli")

	if addr := rt.CurrentConfig().Metrics.ListenAddr; addr != "" {
		stopMetrics := serveMetrics(addr, logger)
		defer stopMetrics()
	}

	switch opts.Command {
	case "watch":
		return watch(ctx, rt, opts, logger)
	case "state":
		if res := rt.Connect(ctx); !res.Success {
			return printResult(stdout, res)
		}
		return printResult(stdout, rt.Snapshot())
	case "cmd":
		if res := rt.Connect(ctx); !res.Success {
			return printResult(stdout, res)
		}
		return printResult(stdout, rt.Command(ctx, strings.Join(opts.Args, " ")))
	case "caps":
		if res := rt.Connect(ctx); !res.Success {
			return printResult(stdout, res)
		}
		return printResult(stdout, rt.Capabilities(ctx))
	case "diag":
		return printResult(stdout, rt.RunDiagnostics(ctx))
	case "check":
		return printResult(stdout, rt.CheckRunning(ctx))
	case "models":
		return printResult(stdout, rt.Models(ctx))
	case "binary":
		return printResult(stdout, rt.CheckRigctldInPath(ctx))
	case "restart":
		return printResult(stdout, rt.Restart(ctx))
	case "start-elevated":
		return printResult(stdout, rt.StartElevated(ctx))
	case "firewall":
		return printResult(stdout, rt.AddFirewallExceptions(ctx))
	}

	return nil
}

// syncLogin registers the watcher with the login entry carrying the
// connection flags given on this command line.
func syncLogin(launcher platform.LoginLauncher, opts cliOptions, stdout io.Writer) error {
	entry := platform.LoginEntry{Enabled: opts.Args[0] == "on", Args: opts.watchArgs()}
	if err := launcher.Sync(entry); err != nil {
		return fmt.Errorf("update login entry: %w", err)
	}
	if entry.Enabled {
		fmt.Fprintf(stdout, "riglink will start at login: riglink %s\n", strings.Join(entry.Args, " "))
	} else {
		fmt.Fprintln(stdout, "riglink will no longer start at login")
	}

	return nil
}

// watchArgs rebuilds the flags that select the rig for an unattended watch.
func (o cliOptions) watchArgs() []string {
	var args []string
	add := func(flag, value string) {
		if value = strings.TrimSpace(value); value != "" {
			args = append(args, flag, value)
		}
	}
	add("--config", o.ConfigPath)
	add("--host", o.Host)
	if o.Port > 0 {
		add("--port", strconv.Itoa(o.Port))
	}
	if o.Model > 0 {
		add("--model", strconv.Itoa(o.Model))
	}
	add("--device", o.Device)
	add("--rigctld", o.Rigctld)
	add("--metrics-addr", o.MetricsAddr)

	return append(args, "watch")
}

func watch(ctx context.Context, rt *app.Runtime, opts cliOptions, logger *slog.Logger) error {
	rt.AutoStart(ctx)

	topics := []string{connectors.TopicConnStatus, connectors.TopicRigState, connectors.TopicSmeterStatus, connectors.TopicProcessEvent}
	if opts.Traffic {
		topics = append(topics, connectors.TopicRawTraffic)
	}
	sub := rt.Bus.Subscribe(topics...)
	defer rt.Bus.Unsubscribe(sub, topics...)
	go logEvents(ctx, sub, logger)

	res := rt.Connect(ctx)
	if !res.Success {
		logger.Error("connect failed", "error", res.Error, "suggestions", res.Suggestions)
		return fmt.Errorf("connect to %s: %s", rt.Target(), res.Error)
	}

	if opts.ListenFor > 0 {
		logger.Info("watching", "target", rt.Target(), "duration", opts.ListenFor)
		select {
		case <-ctx.Done():
		case <-time.After(opts.ListenFor):
		}
		return nil
	}

	logger.Info("watching until interrupt", "target", rt.Target())
	<-ctx.Done()

	return nil
}

func logEvents(ctx context.Context, sub bus.Subscription, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			switch event := raw.(type) {
			case connectors.ConnectionStatus:
				logger.Info("conn", "state", event.State, "target", event.Target, "external", event.External, "error", event.Err)
			case rig.RigState:
				logger.Info("state", "freq_hz", event.FrequencyHz, "mode", event.Mode, "passband_hz", event.PassbandHz,
					"vfo", event.VFO, "ptt", event.PTT, "split", event.Split, "rit_hz", event.RITHz, "xit_hz", event.XITHz)
			case rig.SmeterStatus:
				logger.Debug("smeter", "status", event.Text(), "supported", event.Supported.String(), "errors", event.ConsecutiveErrors)
			case connectors.ProcessEvent:
				logger.Info("rigctld", "event", event.Kind, "pid", event.PID, "error", event.Err)
			case connectors.RawTraffic:
				logger.Info("traffic", "command", event.Command, "response", preview(event.Response), "error", event.Err)
			}
		}
	}
}

// serveMetrics exposes the default Prometheus registry until the returned
// func is called.
func serveMetrics(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("shutdown metrics server", "error", err)
		}
	}
}

func printResult(w io.Writer, res app.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if !res.Success {
		return errors.New(res.Error)
	}

	return nil
}

func preview(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " | ")
	if len(s) <= maxTrafficPreviewLen {
		return s
	}
	// back off to a rune boundary so the log never carries half a character
	cut := maxTrafficPreviewLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func versionLine() string {
	line := app.Name + " " + app.BuildVersionWithDate()
	if rev := app.VCSRevision(); rev != "" {
		line += " " + rev
	}

	return line
}
