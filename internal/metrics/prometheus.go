package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all rig client metrics.
type Registry struct {
	// Command lane
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	CommandTimeouts prometheus.Counter
	LinkResets      prometheus.Counter

	// Connection
	ConnectionState *prometheus.GaugeVec
	ConnectAttempts *prometheus.CounterVec

	// Polling
	PollFailures *prometheus.CounterVec
	PollSkipped  *prometheus.CounterVec
	SmeterReads  *prometheus.CounterVec

	// Daemon process
	DaemonEvents *prometheus.CounterVec

	// Diagnostics
	DiagnosticsRuns     prometheus.Counter
	DiagnosticsDuration prometheus.Histogram
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riglink_commands_total",
		Help: "Commands executed against rigctld by command and outcome",
	}, []string{"command", "outcome"})

	r.CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riglink_command_duration_seconds",
		Help:    "Round trip time of rigctld commands",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"command"})

	r.CommandTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riglink_command_timeouts_total",
		Help: "Commands that produced no RPRT line before their deadline",
	})

	r.LinkResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riglink_link_resets_total",
		Help: "Sockets re-dialed after a command timeout",
	})

	r.ConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "riglink_connection_state",
		Help: "1 for the current connection state, 0 otherwise",
	}, []string{"state"})

	r.ConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riglink_connect_attempts_total",
		Help: "Connect attempts by result",
	}, []string{"result"})

	r.PollFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riglink_poll_failures_total",
		Help: "Failed poll sub-queries by field",
	}, []string{"field"})

	r.PollSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riglink_poll_skipped_total",
		Help: "Poll ticks skipped because work was still outstanding",
	}, []string{"poller"})

	r.SmeterReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riglink_smeter_reads_total",
		Help: "S-meter reads by outcome",
	}, []string{"outcome"})

	r.DaemonEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riglink_daemon_events_total",
		Help: "Managed rigctld lifecycle events",
	}, []string{"kind"})

	r.DiagnosticsRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riglink_diagnostics_runs_total",
		Help: "Diagnostics runs",
	})

	r.DiagnosticsDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riglink_diagnostics_duration_seconds",
		Help:    "Wall time of a diagnostics run",
		Buckets: prometheus.DefBuckets,
	})

	return r
}

// RecordCommand records one lane round trip.
func (r *Registry) RecordCommand(command string, duration time.Duration, err error) {
	r.CommandsTotal.WithLabelValues(command, outcome(err)).Inc()
	r.CommandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// SetConnectionState flips the state gauge so exactly one label reads 1.
func (r *Registry) SetConnectionState(current string, all ...string) {
	for _, state := range all {
		value := 0.0
		if state == current {
			value = 1
		}
		r.ConnectionState.WithLabelValues(state).Set(value)
	}
}

// RecordSmeterRead counts an S-meter read outcome.
func (r *Registry) RecordSmeterRead(err error) {
	r.SmeterReads.WithLabelValues(outcome(err)).Inc()
}

// Outcome labels are kept coarse to bound cardinality.
type outcomeClassifier interface {
	MetricOutcome() string
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var classified outcomeClassifier
	if errors.As(err, &classified) {
		return classified.MetricOutcome()
	}
	return "error"
}
