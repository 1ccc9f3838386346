package engine

import (
	"context"
)

// Transport executes scripts on a single target host. Implementations
// must return the script's stdout, stderr and exit code even on nonzero
// exits; an error return is reserved for transport-level failures
// (unreachable host, broken channel, timeout).
type Transport interface {
	// Probe performs a lightweight reachability check.
	Probe(ctx context.Context) error

	// Execute runs a script body on the host and blocks until the
	// remote process exits or ctx is done.
	Execute(ctx context.Context, script string) (ExecResult, error)

	// Close releases the underlying connection.
	Close() error
}

// TransportFactory opens transports to target hosts.
type TransportFactory interface {
	Dial(ctx context.Context, host string) (Transport, error)
}

// StateStore persists restart bookmarks and run records.
type StateStore interface {
	// GetRestartInfo returns the bookmark for (framework, host), or
	// (nil, nil) when none exists.
	GetRestartInfo(ctx context.Context, frameworkID, host string) (*RestartInfo, error)

	// SaveRestartInfo durably records the bookmark. LastSuccessful must
	// never move backwards for an existing record.
	SaveRestartInfo(ctx context.Context, info *RestartInfo) error

	// DeleteRestartInfo removes the bookmark for (framework, host).
	DeleteRestartInfo(ctx context.Context, frameworkID, host string) error

	// CreateRun records a newly started run.
	CreateRun(ctx context.Context, run *ExecutionRun) error

	// FinishRun records the terminal state of a run.
	FinishRun(ctx context.Context, run *ExecutionRun) error
}

// FrameworkReader fetches framework definitions. The engine depends on
// read access only; the full persistence facade lives outside the core.
type FrameworkReader interface {
	ReadFramework(ctx context.Context, id string) (*Framework, error)
}
