package connectors

import (
	"time"
)

// ConnectionState describes the rigctld connection lifecycle.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateError        ConnectionState = "error"
	ConnectionStateChecking     ConnectionState = "checking"
)

// ConnectionStatus is a bus event snapshot of the current connection status.
type ConnectionStatus struct {
	State       ConnectionState
	Err         string
	Target      string
	External    bool
	Suggestions []string
	Timestamp   time.Time
}

// ProcessEventKind tags daemon lifecycle events emitted by the supervisor.
type ProcessEventKind string

const (
	ProcessStarted     ProcessEventKind = "started"
	ProcessStopped     ProcessEventKind = "stopped"
	ProcessExited      ProcessEventKind = "exited"
	ProcessSpawnFailed ProcessEventKind = "spawn_failed"
)

// ProcessEvent reports a managed rigctld process transition.
type ProcessEvent struct {
	Kind      ProcessEventKind
	PID       int
	Err       string
	Timestamp time.Time
}

// RawTraffic carries wire traffic for debug views.
type RawTraffic struct {
	Command  string
	Response string
	Err      string
}
