package terminal

import (
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/dockhand/dockhand/internal/cancel"
	"github.com/dockhand/dockhand/internal/shared/id"
)

// State is a session's lifecycle position. Transitions only move forward:
// Starting → Running → Closing → Closed.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one PTY-backed shell. The broker owns it; consumers hold only
// its ID.
type Session struct {
	ID        id.SessionID
	Shell     string
	StartedAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File
	flag *cancel.Flag
	done chan struct{}

	mu    sync.RWMutex
	state State
	rows  int
	cols  int
}

// Info is the consumer-visible snapshot of a session.
type Info struct {
	ID        id.SessionID `json:"id"`
	Shell     string       `json:"shell"`
	Rows      int          `json:"rows"`
	Cols      int          `json:"cols"`
	StartedAt time.Time    `json:"started_at"`
	State     string       `json:"state"`
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// setState advances the lifecycle, never backwards.
func (s *Session) setState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next > s.state {
		s.state = next
	}
}

func (s *Session) size() (rows, cols int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows, s.cols
}

func (s *Session) setSize(rows, cols int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
	s.cols = cols
}

func (s *Session) info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:        s.ID,
		Shell:     s.Shell,
		Rows:      s.rows,
		Cols:      s.cols,
		StartedAt: s.StartedAt,
		State:     s.state.String(),
	}
}
