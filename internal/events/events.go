// Package events defines the typed payloads workers deliver to the single
// consumer, and the bus that carries them.
//
// The event set is closed: the consumer switches exhaustively over the kinds
// below, so adding a kind is a compile-time-visible change. Events from the
// same source, session, or request are delivered in production order; no
// ordering holds across different producers.
package events

import "github.com/dockhand/dockhand/internal/shared/id"

// Event is the closed set of payloads carried by the Bus.
type Event interface {
	isEvent()
}

// ProcessOutputLine is one line of a streamed child's output.
type ProcessOutputLine struct {
	Source id.SourceID
	Text   string
}

// ProcessExited is the terminal event of a streamed child. Signal is empty
// unless the child was terminated by a signal, in which case ExitCode is -1.
type ProcessExited struct {
	Source   id.SourceID
	ExitCode int
	Signal   string
}

// Record maps schema field names to the values split from one output line.
type Record map[string]string

// ParseError describes a single line that did not match the expected schema.
// It is collected alongside successfully parsed siblings, never fatal to the
// batch.
type ParseError struct {
	Line    int
	Text    string
	Message string
}

// CommandResult is the single result of a one-shot command execution. Err is
// non-nil only for a top-level failure: the process could not be spawned, or
// exited with a failure status producing no parseable output.
type CommandResult struct {
	RequestID  string
	Records    []Record
	ParseErrs  []ParseError
	Stderr     string
	ExitCode   int
	Err        error
}

// TerminalOutput is a raw chunk read from a terminal session. Chunk
// boundaries carry no meaning.
type TerminalOutput struct {
	Session id.SessionID
	Data    []byte
}

// Error reports a worker failure the consumer should surface. Every failure
// path in the subsystem produces one of these or a CommandResult.Err; nothing
// disappears into a log alone.
type Error struct {
	Context string
	Err     error
}

func (ProcessOutputLine) isEvent() {}
func (ProcessExited) isEvent()     {}
func (CommandResult) isEvent()     {}
func (TerminalOutput) isEvent()    {}
func (Error) isEvent()             {}
