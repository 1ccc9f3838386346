package engine

import (
	"context"
	"errors"
	"fmt"
)

// FailureClass classifies a step failure for retry and reporting logic.
type FailureClass string

const (
	// FailureConnection is a transport-level failure: unreachable host,
	// broken channel, or the reserved exit code 255. Timeouts are also
	// classified as connection failures. Retried up to the policy limit.
	FailureConnection FailureClass = "connection"

	// FailureScript means the remote command ran and returned a nonzero
	// status. Never retried: the script may have partially mutated host
	// state.
	FailureScript FailureClass = "script"

	// FailureConfig is a malformed framework or command definition.
	FailureConfig FailureClass = "config"
)

// ConnectionError is a connection-class failure against a host.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ScriptError means a script ran to completion but exited nonzero.
type ScriptError struct {
	Host     string
	ExitCode int
	Stderr   string
}

func (e *ScriptError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("script on %s exited with code %d: %s", e.Host, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("script on %s exited with code %d", e.Host, e.ExitCode)
}

// StepError wraps a step failure with the command and host it occurred on.
type StepError struct {
	Command  string
	Host     string
	Index    int
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) on %s failed after %d attempt(s): %v",
		e.Index, e.Command, e.Host, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// IsConnectionFailure reports whether err is a connection-class failure.
// Timeouts count as connection failures for retry purposes.
func IsConnectionFailure(err error) bool {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsScriptFailure reports whether err is a script-class failure.
func IsScriptFailure(err error) bool {
	var se *ScriptError
	return errors.As(err, &se)
}

// IsCancelled reports whether err stems from external cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Classify returns the failure class of err for reporting.
func Classify(err error) FailureClass {
	switch {
	case IsScriptFailure(err):
		return FailureScript
	case IsConnectionFailure(err):
		return FailureConnection
	default:
		return FailureConfig
	}
}
