// Package messages defines the progress events emitted during framework
// execution and the channel they are published on. Observers (the UI
// layer, the CLI) subscribe to the channel and receive events in
// emission order; non-partial events carry a global index establishing
// one total order across all concurrent runs.
package messages

import (
	"fmt"
)

// UnfinishedExitCode is reported on partial and error messages, where no
// final exit status is available.
const UnfinishedExitCode = -1

// FieldViolation is one structured validation finding from a malformed
// framework or command definition. It is preserved verbatim on error
// messages for downstream diagnostics.
type FieldViolation struct {
	// Field is the offending field, in struct navigation form.
	Field string `json:"field"`

	// Rule is the validation rule that failed.
	Rule string `json:"rule"`

	// Detail is the human-readable description of the violation.
	Detail string `json:"detail"`
}

func (v FieldViolation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Field, v.Detail, v.Rule)
}

// Validated is implemented by errors that carry structured validation
// detail. EmitError preserves the detail on the emitted message.
type Validated interface {
	ValidationDetail() []FieldViolation
}

// Message is an emitted progress event. Partial messages are provisional
// streaming reports for a still-executing step; exactly one non-partial
// message is emitted per finished step.
type Message struct {
	// Command is the display name of the step this event reports on.
	Command string `json:"command"`

	// Input is the text fed to the step so far. Only set on partial
	// messages.
	Input string `json:"input,omitempty"`

	// Result is the step's output text, or nil for error messages
	// without output.
	Result *string `json:"result"`

	// Stderr is the standard-error text accumulated so far.
	Stderr string `json:"stderr"`

	// ExitCode is the step's exit code. UnfinishedExitCode on partial
	// and error messages.
	ExitCode int `json:"exit_code"`

	// Hostname labels the target host, when known.
	Hostname string `json:"hostname,omitempty"`

	// Partial marks a provisional streaming report. Partial messages
	// carry no global index; their ordering within a step is emission
	// order only.
	Partial bool `json:"partial"`

	// Index is the global monotonically increasing index. Set only on
	// non-partial messages.
	Index int64 `json:"index,omitempty"`

	// Validation carries structured schema-level detail when the
	// underlying failure was a validation error.
	Validation []FieldViolation `json:"validation,omitempty"`
}

// Final reports whether the message is the final report for its step.
func (m Message) Final() bool { return !m.Partial }
