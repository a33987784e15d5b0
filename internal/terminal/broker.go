// Package terminal owns PTY-backed interactive shell sessions.
//
// Input goes in through Write, output comes back as TerminalOutput events in
// per-session order, with no framing on chunk boundaries. Sessions are fully
// independent: a stalled or dead session never blocks another. Each session's
// child is registered with the supervisor, so shutdown reaps it like any
// other worker.
package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/dockhand/dockhand/internal/cancel"
	"github.com/dockhand/dockhand/internal/events"
	"github.com/dockhand/dockhand/internal/infrastructure/logging"
	"github.com/dockhand/dockhand/internal/infrastructure/monitoring"
	"github.com/dockhand/dockhand/internal/shared/id"
	"github.com/dockhand/dockhand/internal/supervisor"
)

// ErrSessionNotFound reports an unknown session ID.
var ErrSessionNotFound = fmt.Errorf("terminal: session not found")

// ErrSessionNotRunning reports an operation on a session past Running.
var ErrSessionNotRunning = fmt.Errorf("terminal: session not running")

const (
	readChunkSize  = 4096
	publishBackoff = 5 * time.Millisecond
)

// Broker manages every terminal session.
type Broker struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*Session

	shell   string
	bus     *events.Bus
	sup     *supervisor.Supervisor
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewBroker creates a broker. shell may be empty, in which case $SHELL and
// then /bin/bash are tried per session.
func NewBroker(shell string, bus *events.Bus, sup *supervisor.Supervisor, log *logging.Logger, metrics *monitoring.Metrics) *Broker {
	return &Broker{
		sessions: make(map[id.SessionID]*Session),
		shell:    shell,
		bus:      bus,
		sup:      sup,
		log:      log.Named("terminal"),
		metrics:  metrics,
	}
}

// Open allocates a PTY, spawns a shell in it, and returns the new session's
// ID. The session is Running on return.
func (b *Broker) Open(rows, cols int) (id.SessionID, error) {
	shell := b.shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/bash"
	}
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}

	sid := id.NewSessionID()

	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	session := &Session{
		ID:        sid,
		Shell:     shell,
		StartedAt: time.Now(),
		cmd:       cmd,
		flag:      cancel.New(),
		done:      make(chan struct{}),
		state:     StateStarting,
		rows:      rows,
		cols:      cols,
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return "", fmt.Errorf("failed to allocate pty: %w", err)
	}
	session.ptmx = ptmx
	session.setState(StateRunning)

	if err := b.sup.Register(&supervisor.Managed{
		ID:     sid.String(),
		Name:   "terminal " + shell,
		Proc:   cmd.Process,
		Flag:   session.flag,
		Done:   session.done,
		Cancel: func() { session.setState(StateClosing); ptmx.Close() },
	}); err != nil {
		ptmx.Close()
		cmd.Process.Kill()
		cmd.Wait()
		return "", err
	}

	b.mu.Lock()
	b.sessions[sid] = session
	b.mu.Unlock()

	b.metrics.SessionsOpened.Inc()
	b.metrics.SessionsActive.Inc()
	b.log.Info("session opened",
		zap.String("session", sid.String()),
		zap.String("shell", shell),
		zap.Int("rows", rows),
		zap.Int("cols", cols))

	go b.readOutput(session)
	go b.reap(session)

	return sid, nil
}

// readOutput forwards PTY output as raw chunks. A single reader per session
// preserves per-session order.
func (b *Broker) readOutput(session *Session) {
	buf := make([]byte, readChunkSize)
	for {
		if session.flag.IsSet() {
			return
		}
		n, err := session.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !b.publish(session, events.TerminalOutput{Session: session.ID, Data: chunk}) {
				return
			}
		}
		if err != nil {
			// EIO is the normal end of a closed PTY; anything on a live
			// session is a real read failure.
			if session.State() == StateRunning && !session.flag.IsSet() {
				b.publish(session, events.Error{
					Context: "terminal session " + session.ID.String(),
					Err:     err,
				})
			}
			return
		}
	}
}

// publish delivers ev, backing off while the buffer is full. The session's
// flag aborts the wait so a stalled consumer cannot strand the reader
// goroutine past shutdown.
func (b *Broker) publish(session *Session, ev events.Event) bool {
	for {
		if b.bus.TryPublish(ev) {
			return true
		}
		if session.flag.IsSet() {
			return false
		}
		time.Sleep(publishBackoff)
	}
}

// reap waits on the shell exactly once, finishes the lifecycle, and
// deregisters.
func (b *Broker) reap(session *Session) {
	session.cmd.Wait()

	session.setState(StateClosing)
	session.ptmx.Close()
	session.setState(StateClosed)
	close(session.done)

	b.mu.Lock()
	delete(b.sessions, session.ID)
	b.mu.Unlock()

	b.metrics.SessionsActive.Dec()
	b.sup.Deregister(session.ID.String())
	b.log.Info("session closed", zap.String("session", session.ID.String()))
}

// Write sends raw input bytes (keystrokes, paste) to a session. Sessions
// past Running reject input instead of dropping it.
func (b *Broker) Write(sid id.SessionID, p []byte) error {
	session, err := b.lookup(sid)
	if err != nil {
		return err
	}
	if state := session.State(); state != StateRunning {
		return fmt.Errorf("%w: %s is %s", ErrSessionNotRunning, sid, state)
	}

	if _, err := session.ptmx.Write(p); err != nil {
		return fmt.Errorf("terminal write failed: %w", err)
	}
	return nil
}

// Resize changes a session's dimensions. Takes effect asynchronously in the
// shell; buffered output is unaffected.
func (b *Broker) Resize(sid id.SessionID, rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return fmt.Errorf("terminal: invalid size %dx%d", rows, cols)
	}
	session, err := b.lookup(sid)
	if err != nil {
		return err
	}
	if state := session.State(); state != StateRunning {
		return fmt.Errorf("%w: %s is %s", ErrSessionNotRunning, sid, state)
	}

	if err := pty.Setsize(session.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	}); err != nil {
		return fmt.Errorf("terminal resize failed: %w", err)
	}
	session.setSize(rows, cols)
	return nil
}

// Close begins an orderly teardown: the PTY master is closed, the shell gets
// EOF and exits, the reaper collects it. Forced termination stays with the
// supervisor.
func (b *Broker) Close(sid id.SessionID) error {
	session, err := b.lookup(sid)
	if err != nil {
		return err
	}
	if state := session.State(); state != StateRunning {
		return fmt.Errorf("%w: %s is %s", ErrSessionNotRunning, sid, state)
	}

	session.setState(StateClosing)
	session.flag.Set()
	session.ptmx.Close()
	return nil
}

// Session returns a snapshot of one session.
func (b *Broker) Session(sid id.SessionID) (Info, error) {
	session, err := b.lookup(sid)
	if err != nil {
		return Info{}, err
	}
	return session.info(), nil
}

// Sessions lists the live sessions. Reaped sessions are pruned from the
// registry; their IDs resolve to ErrSessionNotFound afterwards.
func (b *Broker) Sessions() []Info {
	b.mu.RLock()
	defer b.mu.RUnlock()

	infos := make([]Info, 0, len(b.sessions))
	for _, session := range b.sessions {
		infos = append(infos, session.info())
	}
	return infos
}

func (b *Broker) lookup(sid id.SessionID) (*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	session, ok := b.sessions[sid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sid)
	}
	return session, nil
}
