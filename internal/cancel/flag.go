// Package cancel provides the shared cancellation signal checked by every
// background worker loop.
//
// A Flag is a set-once boolean: the shutdown coordinator is the only writer,
// workers poll it cooperatively at bounded intervals (at most one I/O
// operation's latency). Clones share the same underlying state, so a flag
// handed to a worker at spawn time observes the coordinator's Set.
package cancel

import "sync/atomic"

// Flag is a shared, set-once cancellation signal.
type Flag struct {
	state *atomic.Bool
}

// New creates an unset flag.
func New() *Flag {
	return &Flag{state: new(atomic.Bool)}
}

// Clone returns a handle sharing the same underlying signal.
func (f *Flag) Clone() *Flag {
	return &Flag{state: f.state}
}

// Set marks the flag cancelled. It is never reset.
func (f *Flag) Set() {
	f.state.Store(true)
}

// IsSet reports whether cancellation has been requested.
func (f *Flag) IsSet() bool {
	return f.state.Load()
}
