package rig

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected    = errors.New("not connected to rigctld")
	ErrCommandTimeout  = errors.New("command timeout")
	ErrConnectTimeout  = errors.New("connection timeout")
	ErrConnectRefused  = errors.New("rigctld is not running or not listening on the configured port")
	ErrConnectionLost  = errors.New("connection to rigctld lost")
	ErrConnectCanceled = errors.New("connect superseded by disconnect")
)

// ConnectErrorKind classifies why a connect attempt failed.
type ConnectErrorKind string

const (
	ConnectTimeout  ConnectErrorKind = "timeout"
	ConnectRefused  ConnectErrorKind = "refused"
	ConnectFailed   ConnectErrorKind = "failed"
	ConnectCanceled ConnectErrorKind = "canceled"
)

// ConnectError carries the remediation hints for a failed connect.
type ConnectError struct {
	Kind        ConnectErrorKind
	Err         error
	Suggestions []string

	// Firewall remediation outcome, set only when a fix was attempted.
	FirewallConfigured bool
	ShouldRetry        bool
	UserCancelled      bool
	FirewallError      string
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connect %s", e.Kind)
	}
	return e.Err.Error()
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func (e *ConnectError) MetricOutcome() string {
	return string(e.Kind)
}

var (
	timeoutSuggestions = []string{
		"Check if rigctld is running",
		"Verify the host and port are correct",
		"Check firewall settings",
	}
	notRunningSuggestions = []string{
		"Make sure rigctld is started",
		"Check that the port number is correct",
	}
)

// commandTimeoutError keeps errors.Is(err, ErrCommandTimeout) working while
// naming the command that timed out.
type commandTimeoutError struct {
	command string
}

func (e *commandTimeoutError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCommandTimeout, e.command)
}

func (e *commandTimeoutError) Is(target error) bool {
	return target == ErrCommandTimeout
}

func (e *commandTimeoutError) MetricOutcome() string {
	return "timeout"
}
