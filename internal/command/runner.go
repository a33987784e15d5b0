// Package command executes external CLI invocations on worker goroutines and
// parses their delimiter-separated output into typed records.
//
// Arguments are always a discrete vector handed to the OS, never a
// concatenated shell line, so injection is ruled out by construction. Each
// execution emits exactly one CommandResult on the bus.
package command

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dockhand/dockhand/internal/cancel"
	"github.com/dockhand/dockhand/internal/events"
	"github.com/dockhand/dockhand/internal/infrastructure/logging"
	"github.com/dockhand/dockhand/internal/infrastructure/monitoring"
	"github.com/dockhand/dockhand/internal/supervisor"
)

// Request describes one command execution.
type Request struct {
	RequestID string
	Program   string
	Args      []string
	Dir       string
	Env       []string // appended to the inherited environment
	Schema    *Schema  // nil disables output parsing
}

// Runner executes requests on dedicated worker goroutines.
type Runner struct {
	bus     *events.Bus
	sup     *supervisor.Supervisor
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewRunner creates a runner.
func NewRunner(bus *events.Bus, sup *supervisor.Supervisor, log *logging.Logger, metrics *monitoring.Metrics) *Runner {
	return &Runner{
		bus:     bus,
		sup:     sup,
		log:     log.Named("command"),
		metrics: metrics,
	}
}

// Execute spawns the request's program on a worker goroutine, captures its
// output, waits for exit, and publishes one CommandResult. The child is
// registered with the supervisor for the duration, so shutdown can reap it.
// There is no implicit timeout; the command runs until exit or shutdown.
func (r *Runner) Execute(req Request) {
	go r.run(req)
}

func (r *Runner) run(req Request) {
	start := time.Now()

	cmd := exec.Command(req.Program, req.Args...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		r.metrics.CommandsTotal.WithLabelValues("spawn_error").Inc()
		r.log.Warn("spawn failed", zap.String("program", req.Program), zap.Error(err))
		r.bus.Publish(events.CommandResult{
			RequestID: req.RequestID,
			ExitCode:  -1,
			Err:       fmt.Errorf("failed to spawn %s: %w", req.Program, err),
		})
		return
	}

	done := make(chan struct{})
	if err := r.sup.Register(&supervisor.Managed{
		ID:   req.RequestID,
		Name: req.Program,
		Proc: cmd.Process,
		Flag: cancel.New(),
		Done: done,
	}); err != nil {
		// Registration refused means shutdown has begun and nothing will
		// ever supervise this child. Kill and reap it here so it cannot
		// outlive the application, then report the refusal best-effort
		// (the consumer is likely gone).
		cmd.Process.Kill()
		cmd.Wait()
		close(done)
		r.metrics.CommandsTotal.WithLabelValues("rejected").Inc()
		r.log.Warn("execution rejected", zap.String("program", req.Program), zap.Error(err))
		r.bus.TryPublish(events.CommandResult{
			RequestID: req.RequestID,
			ExitCode:  -1,
			Err:       fmt.Errorf("cannot run %s: %w", req.Program, err),
		})
		return
	}

	waitErr := cmd.Wait()
	close(done)
	r.sup.Deregister(req.RequestID)

	result := events.CommandResult{
		RequestID: req.RequestID,
		Stderr:    stderr.String(),
		ExitCode:  cmd.ProcessState.ExitCode(),
	}

	if req.Schema != nil {
		result.Records, result.ParseErrs = ParseOutput(stdout.String(), *req.Schema)
	}

	if waitErr != nil && len(result.Records) == 0 {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = waitErr.Error()
		}
		result.Err = fmt.Errorf("%s exited with failure: %s", req.Program, detail)
		r.metrics.CommandsTotal.WithLabelValues("exit_error").Inc()
	} else {
		r.metrics.CommandsTotal.WithLabelValues("ok").Inc()
	}
	r.metrics.CommandDuration.Observe(time.Since(start).Seconds())

	r.bus.Publish(result)
}

// Capture runs a command synchronously and returns its output. For short
// probes issued from inside already-supervised worker loops (engine checks,
// stats sampling); the child is waited on before returning, so it cannot
// leak.
func Capture(program string, args []string, dir string) (stdout, stderr string, exitCode int, err error) {
	cmd := exec.Command(program, args...)
	cmd.Dir = dir

	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Start(); err != nil {
		return "", "", -1, fmt.Errorf("failed to spawn %s: %w", program, err)
	}
	cmd.Wait()
	return out.String(), errOut.String(), cmd.ProcessState.ExitCode(), nil
}
