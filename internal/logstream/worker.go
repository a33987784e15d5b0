// Package logstream attaches to a long-running child's output and forwards
// it line-by-line as events.
//
// A worker is single-use: it reads until the child closes its output or the
// cancellation flag is set, reaps the child exactly once, emits a final
// ProcessExited, and exits. A new attachment needs a new worker.
package logstream

import (
	"bufio"
	"io"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dockhand/dockhand/internal/cancel"
	"github.com/dockhand/dockhand/internal/events"
	"github.com/dockhand/dockhand/internal/infrastructure/logging"
	"github.com/dockhand/dockhand/internal/shared/id"
)

const (
	initialBufSize = 64 * 1024
	maxLineSize    = 1024 * 1024
	publishBackoff = 5 * time.Millisecond
)

// Worker streams one child's output onto the bus.
type Worker struct {
	source id.SourceID
	cmd    *exec.Cmd
	out    io.ReadCloser
	flag   *cancel.Flag
	bus    *events.Bus
	log    *logging.Logger
	onExit func()
	done   chan struct{}
}

// Start launches a worker for an already-started child whose stdout pipe is
// out. onExit, if non-nil, runs after the child has been reaped (callers use
// it to deregister from the supervisor).
func Start(source id.SourceID, cmd *exec.Cmd, out io.ReadCloser, flag *cancel.Flag, bus *events.Bus, log *logging.Logger, onExit func()) *Worker {
	w := &Worker{
		source: source,
		cmd:    cmd,
		out:    out,
		flag:   flag,
		bus:    bus,
		log:    log.Named("logstream"),
		onExit: onExit,
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Done is closed once the child has been reaped and the final ProcessExited
// published.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) run() {
	defer close(w.done)

	scanner := bufio.NewScanner(w.out)
	scanner.Buffer(make([]byte, 0, initialBufSize), maxLineSize)

	// The flag is checked at every line boundary, so cancellation latency is
	// bounded by one line read plus the child's reaction to the closed pipe.
	for scanner.Scan() {
		if w.flag.IsSet() {
			break
		}
		if !w.publish(events.ProcessOutputLine{Source: w.source, Text: scanner.Text()}) {
			break
		}
	}

	if err := scanner.Err(); err != nil && !w.flag.IsSet() {
		w.publish(events.Error{
			Context: "log stream " + w.source.String(),
			Err:     err,
		})
	}

	// Closing our end of the pipe makes a still-running child take SIGPIPE
	// on its next write, so the reap below stays bounded even when we leave
	// the loop before EOF.
	w.out.Close()

	exitCode, signal := w.reap()
	exited := events.ProcessExited{
		Source:   w.source,
		ExitCode: exitCode,
		Signal:   signal,
	}
	if !w.publish(exited) {
		// Cancelled with a full buffer: best-effort only, the reap must
		// not wait on the consumer.
		w.bus.TryPublish(exited)
	}
	w.log.Debug("stream ended",
		zap.String("source", w.source.String()),
		zap.Int("exit_code", exitCode),
		zap.String("signal", signal))

	if w.onExit != nil {
		w.onExit()
	}
}

// publish delivers ev, backing off while the buffer is full. A set flag
// aborts the wait so a worker can never block shutdown behind a consumer
// that has stopped draining. Reports whether ev was delivered.
func (w *Worker) publish(ev events.Event) bool {
	for {
		if w.bus.TryPublish(ev) {
			return true
		}
		if w.flag.IsSet() {
			return false
		}
		time.Sleep(publishBackoff)
	}
}

// reap waits on the child exactly once and reports how it ended.
func (w *Worker) reap() (exitCode int, signal string) {
	w.cmd.Wait()

	state := w.cmd.ProcessState
	if state == nil {
		return -1, ""
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, ws.Signal().String()
	}
	return state.ExitCode(), ""
}
