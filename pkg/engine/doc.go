// Package engine drives the execution of frameworks (ordered command
// sequences) against remote hosts. It owns the run state machine
// (Idle -> Running -> Completed/Failed/Cancelled), consults persisted
// restart bookmarks so an interrupted run resumes past already-completed
// steps, applies the retry/timeout policy to each step, and streams
// progress messages to subscribers while hosts execute concurrently.
package engine
