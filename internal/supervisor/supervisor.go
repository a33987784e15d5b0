// Package supervisor tracks every spawned child process and worker
// goroutine, and coordinates shutdown.
//
// Each worker registers a Managed entry at spawn and deregisters it when its
// supervising goroutine has reaped the child and exited. At any moment the
// registry holds exactly the children the application is responsible for.
// ShutdownAll flips every cancellation flag, waits out the grace period, and
// force-kills whatever is left; it is the only place in the subsystem allowed
// to hard-kill a child.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dockhand/dockhand/internal/cancel"
	"github.com/dockhand/dockhand/internal/infrastructure/logging"
	"github.com/dockhand/dockhand/internal/infrastructure/monitoring"
)

// ErrShuttingDown is returned by Register once ShutdownAll has begun.
var ErrShuttingDown = errors.New("supervisor: shutdown in progress")

// reapTimeout bounds the wait for a supervising goroutine to collect its
// child after a kill. The child is dead by then; only the reap is pending.
const reapTimeout = 2 * time.Second

// Managed is one supervised worker: an optional child process, the
// cancellation flag its loop polls, and the channel its supervising goroutine
// closes after the child has been waited on exactly once.
type Managed struct {
	ID   string
	Name string
	Proc *os.Process // nil for loops that own no child process
	Flag *cancel.Flag
	Done <-chan struct{}

	// Cancel, if non-nil, is invoked alongside Flag.Set to nudge workers
	// whose blocking read cannot observe the flag (a PTY master, say). It
	// must request a cooperative stop, never kill.
	Cancel func()
}

// Supervisor owns the live-worker registry.
type Supervisor struct {
	mu           sync.Mutex
	workers      map[string]*Managed
	shuttingDown bool

	log     *logging.Logger
	metrics *monitoring.Metrics
}

// New creates a supervisor.
func New(log *logging.Logger, metrics *monitoring.Metrics) *Supervisor {
	return &Supervisor{
		workers: make(map[string]*Managed),
		log:     log.Named("supervisor"),
		metrics: metrics,
	}
}

// Register adds a worker to the registry. Workers spawned after shutdown has
// begun are rejected so nothing can leak past the final reap.
func (s *Supervisor) Register(m *Managed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shuttingDown {
		return ErrShuttingDown
	}
	if _, exists := s.workers[m.ID]; exists {
		return fmt.Errorf("supervisor: duplicate worker id %s", m.ID)
	}

	s.workers[m.ID] = m
	s.metrics.WorkersActive.Inc()
	s.log.Debug("worker registered", zap.String("id", m.ID), zap.String("name", m.Name))
	return nil
}

// Deregister removes a worker after its supervising goroutine has reaped the
// child and is about to exit. Safe to call for unknown IDs.
func (s *Supervisor) Deregister(workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workers[workerID]; !exists {
		return
	}
	delete(s.workers, workerID)
	s.metrics.WorkersActive.Dec()
	s.metrics.ProcessesReaped.Inc()
	s.log.Debug("worker deregistered", zap.String("id", workerID))
}

// Active returns the number of registered, not-yet-reaped workers.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Stop cancels a single worker, waits up to grace for a clean exit, then
// escalates to a kill. This is the path components use to tear down one log
// stream or session without touching the rest of the registry.
func (s *Supervisor) Stop(workerID string, grace time.Duration) error {
	s.mu.Lock()
	m, ok := s.workers[workerID]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("supervisor: unknown worker %s", workerID)
	}
	if m.Flag != nil {
		m.Flag.Set()
	}
	if m.Cancel != nil {
		m.Cancel()
	}
	err := s.await(m, time.Now().Add(grace))
	s.Deregister(workerID)
	return err
}

// ShutdownAll cancels every worker, waits up to grace for clean exits, then
// force-kills and reaps stragglers. After it returns no registered child is
// alive and none is left as a zombie.
func (s *Supervisor) ShutdownAll(grace time.Duration) error {
	s.mu.Lock()
	s.shuttingDown = true
	snapshot := make([]*Managed, 0, len(s.workers))
	for _, m := range s.workers {
		snapshot = append(snapshot, m)
	}
	s.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}
	s.log.Info("shutting down workers", zap.Int("count", len(snapshot)), zap.Duration("grace", grace))

	for _, m := range snapshot {
		if m.Flag != nil {
			m.Flag.Set()
		}
		if m.Cancel != nil {
			m.Cancel()
		}
	}

	deadline := time.Now().Add(grace)
	var errs []error
	for _, m := range snapshot {
		if err := s.await(m, deadline); err != nil {
			errs = append(errs, err)
		}
		s.Deregister(m.ID)
	}
	return errors.Join(errs...)
}

// await waits for one worker until the shared deadline, escalating to a kill
// once the grace period has elapsed.
func (s *Supervisor) await(m *Managed, deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining > 0 {
		select {
		case <-m.Done:
			return nil
		case <-time.After(remaining):
		}
	} else {
		select {
		case <-m.Done:
			return nil
		default:
		}
	}

	if m.Proc == nil {
		// No process to kill; the loop must notice its flag. Give it one
		// more bounded wait before declaring it leaked.
		select {
		case <-m.Done:
			return nil
		case <-time.After(time.Second):
			return fmt.Errorf("supervisor: worker %s did not exit", m.ID)
		}
	}

	s.log.Warn("grace period exceeded, killing", zap.String("id", m.ID), zap.String("name", m.Name))
	s.metrics.ForcedKills.Inc()
	if err := m.Proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Error("kill failed", zap.String("id", m.ID), zap.Error(err))
	}

	// The supervising goroutine's Wait returns once the child dies. Give it
	// a bounded window to reap; a goroutine that still cannot finish is
	// reported rather than waited on forever.
	select {
	case <-m.Done:
		return nil
	case <-time.After(reapTimeout):
		return fmt.Errorf("supervisor: worker %s not reaped after kill", m.ID)
	}
}
