package engine

import (
	"time"
)

// Bindings is a set of named values carried between steps of a run.
// Values are JSON-shaped scalars: string, float64, or bool.
type Bindings map[string]any

// Clone returns an independent copy of the bindings.
func (b Bindings) Clone() Bindings {
	if b == nil {
		return Bindings{}
	}
	out := make(Bindings, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Merge copies all entries from other into b, overwriting existing keys.
func (b Bindings) Merge(other Bindings) {
	for k, v := range other {
		b[k] = v
	}
}

// Command is one step of a framework: a script plus its execution target.
// Position within the framework is significant; the step index is the
// unit of resume tracking.
type Command struct {
	// Name is the display name of the step.
	Name string `json:"name" validate:"required"`

	// Target overrides where the step runs: a specific host, "local"
	// for the controller machine, or empty to run on the run's host.
	Target string `json:"target,omitempty"`

	// Script is the script body. Bindings are substituted into
	// {{ name }} placeholders before execution.
	Script string `json:"script" validate:"required"`

	// TimeoutMs overrides the policy's per-step timeout, in milliseconds.
	TimeoutMs int `json:"timeout_ms,omitempty" validate:"omitempty,gt=0"`
}

// Framework is a named, ordered sequence of commands. It is immutable
// once loaded for a run.
type Framework struct {
	// ID is the opaque framework identifier.
	ID string `json:"id"`

	// Name is the human-readable framework name.
	Name string `json:"name" validate:"required"`

	// Commands is the ordered step sequence.
	Commands []Command `json:"commands" validate:"required,min=1,dive"`

	// Defaults are binding values used when no input overrides them.
	Defaults Bindings `json:"defaults,omitempty"`
}

// RunState is the lifecycle state of an execution run.
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
	RunStateCancelled RunState = "cancelled"
)

// Terminal reports whether the state is a terminal state.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateCompleted, RunStateFailed, RunStateCancelled:
		return true
	}
	return false
}

// ExecutionRun is one invocation of a framework against a single host.
// It is owned exclusively by the engine for the duration of the run.
type ExecutionRun struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// FrameworkID identifies the framework being executed.
	FrameworkID string `json:"framework_id"`

	// Host is the target host identifier.
	Host string `json:"host"`

	// State is the current lifecycle state.
	State RunState `json:"state"`

	// StepIndex is the index of the step currently executing, or of the
	// step that terminated the run.
	StepIndex int `json:"step_index"`

	// Inputs, Outputs and Defaults are the accumulated binding sets.
	Inputs   Bindings `json:"inputs"`
	Outputs  Bindings `json:"outputs"`
	Defaults Bindings `json:"defaults"`

	// Err is the failure that terminated the run, if any.
	Err error `json:"-"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run reached a terminal state.
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// bindings returns the merged view used for template substitution:
// defaults, overridden by inputs, overridden by outputs.
func (r *ExecutionRun) bindings() Bindings {
	merged := r.Defaults.Clone()
	merged.Merge(r.Inputs)
	merged.Merge(r.Outputs)
	return merged
}

// RestartInfo is the durable snapshot of an execution run sufficient to
// resume it: the last successfully completed step index (-1 if none) and
// the three binding sets. LastSuccessful never decreases within a run
// and is only advanced after a step's result is durably recorded.
type RestartInfo struct {
	// FrameworkID and Host key the record.
	FrameworkID string `json:"framework_id"`
	Host        string `json:"host"`

	// LastSuccessful is the index of the last completed step, -1 if none.
	LastSuccessful int `json:"last_successful"`

	Inputs   Bindings `json:"inputs"`
	Outputs  Bindings `json:"outputs"`
	Defaults Bindings `json:"defaults"`

	// UpdatedAt is when the snapshot was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecResult is the outcome of one remote command execution.
type ExecResult struct {
	// Stdout is the standard output of the command.
	Stdout string

	// Stderr is the standard error output of the command.
	Stderr string

	// ExitCode is the command's exit code. Exit code 255 is reserved
	// for connection-class failures by the remote shell.
	ExitCode int

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// RunOptions control how a framework run starts.
type RunOptions struct {
	// Fresh forces execution from step 0 with empty bindings, ignoring
	// any persisted restart bookmark.
	Fresh bool

	// Inputs are the caller-provided input bindings.
	Inputs Bindings
}
