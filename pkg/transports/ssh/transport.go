// Package ssh provides the SSH transport used to execute framework
// scripts on remote hosts. Script bodies are uploaded over SFTP and
// executed in their own session, so shebang lines select the
// interpreter the same way they would locally.
package ssh

import (
	"fmt"
	"time"
)

// Result is the outcome of one remote execution. It is populated even
// when the script exits nonzero; only transport-level failures surface
// as errors.
type Result struct {
	// Stdout is the trimmed standard output.
	Stdout string

	// Stderr is the trimmed standard error output.
	Stderr string

	// ExitCode is the remote process exit code.
	ExitCode int

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// TransportError is a transport-level failure: connecting, opening a
// session, transferring the script, or losing the channel mid-run.
type TransportError struct {
	// Op names the operation that failed.
	Op string

	// Host is the target host.
	Host string

	// Err is the underlying error.
	Err error

	// Temporary marks failures worth retrying (connection-class).
	Temporary bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ssh %s on %s: %v", e.Op, e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
