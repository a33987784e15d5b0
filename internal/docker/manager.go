// Package docker drives the container-engine CLI on behalf of the consumer.
//
// Every operation is asynchronous: it spawns a supervised worker and returns
// a request or source ID the consumer can correlate against events. The CLI
// is always invoked with a discrete argument vector and explicit --format
// flags, so output parsing is deterministic.
package docker

import (
	"fmt"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dockhand/dockhand/internal/cancel"
	"github.com/dockhand/dockhand/internal/command"
	"github.com/dockhand/dockhand/internal/events"
	"github.com/dockhand/dockhand/internal/infrastructure/config"
	"github.com/dockhand/dockhand/internal/infrastructure/logging"
	"github.com/dockhand/dockhand/internal/logstream"
	"github.com/dockhand/dockhand/internal/shared/id"
	"github.com/dockhand/dockhand/internal/supervisor"
)

// ContainerSchema matches the --format template used by RefreshContainers.
var ContainerSchema = command.Schema{
	Fields: []string{"id", "name", "image", "status", "ports", "state"},
}

const containerFormat = "{{.ID}}|{{.Names}}|{{.Image}}|{{.Status}}|{{.Ports}}|{{.State}}"

// Container is one row of container listing output.
type Container struct {
	ID     string
	Name   string
	Image  string
	Status string
	Ports  string
	State  string
}

// ContainerFromRecord builds a Container from a parsed listing record.
func ContainerFromRecord(rec events.Record) Container {
	return Container{
		ID:     rec["id"],
		Name:   rec["name"],
		Image:  rec["image"],
		Status: rec["status"],
		Ports:  rec["ports"],
		State:  rec["state"],
	}
}

// Manager is the consumer-facing façade over the engine CLI.
type Manager struct {
	cfg    config.DockerConfig
	runner *command.Runner
	bus    *events.Bus
	sup    *supervisor.Supervisor
	log    *logging.Logger

	available  atomic.Bool
	usePlugin  atomic.Bool
	apiVersion atomic.Pointer[string]
}

// NewManager creates a manager.
func NewManager(cfg config.DockerConfig, runner *command.Runner, bus *events.Bus, sup *supervisor.Supervisor, log *logging.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		runner: runner,
		bus:    bus,
		sup:    sup,
		log:    log.Named("docker"),
	}
}

// Available reports the result of the last engine check.
func (m *Manager) Available() bool {
	return m.available.Load()
}

// APIVersion reports the engine server API version seen at the last check,
// or empty if unknown.
func (m *Manager) APIVersion() string {
	if v := m.apiVersion.Load(); v != nil {
		return *v
	}
	return ""
}

// CheckEngine probes engine availability, compose-plugin support, and the
// server API version on a worker goroutine. The outcome arrives as a
// CommandResult carrying a single record with fields "available",
// "compose_plugin", and "api_version".
func (m *Manager) CheckEngine() string {
	requestID := id.NewRequestID()

	go func() {
		_, _, code, err := command.Capture(m.cfg.Binary, []string{"info"}, "")
		available := err == nil && code == 0
		m.available.Store(available)

		_, _, code, err = command.Capture(m.cfg.Binary, []string{"compose", "version"}, "")
		hasPlugin := err == nil && code == 0
		m.usePlugin.Store(hasPlugin)

		version := ""
		if available {
			out, _, code, err := command.Capture(m.cfg.Binary,
				[]string{"version", "--format", "{{.Server.APIVersion}}"}, "")
			if err == nil && code == 0 {
				version = strings.TrimSpace(out)
				m.apiVersion.Store(&version)
			}
		}

		m.log.Info("engine checked",
			zap.Bool("available", available),
			zap.Bool("compose_plugin", hasPlugin),
			zap.String("api_version", version))

		m.bus.Publish(events.CommandResult{
			RequestID: requestID,
			Records: []events.Record{{
				"available":      boolString(available),
				"compose_plugin": boolString(hasPlugin),
				"api_version":    version,
			}},
		})
	}()

	return requestID
}

// RefreshContainers lists the project's containers. Records parsed against
// ContainerSchema arrive in one CommandResult.
func (m *Manager) RefreshContainers() string {
	requestID := id.NewRequestID()
	m.runner.Execute(command.Request{
		RequestID: requestID,
		Program:   m.cfg.Binary,
		Args: []string{
			"ps", "-a",
			"--filter", "label=com.docker.compose.project=" + m.cfg.Project,
			"--format", containerFormat,
		},
		Schema: &ContainerSchema,
	})
	return requestID
}

// StartStack brings the project's services up detached.
func (m *Manager) StartStack() string {
	return m.compose("up", "-d", "--remove-orphans")
}

// StopStack takes the project's services down.
func (m *Manager) StopStack() string {
	return m.compose("down")
}

// RestartStack takes services down and brings them back up. The down phase
// runs synchronously inside the worker; its failure is surfaced as an Error
// event and aborts the restart.
func (m *Manager) RestartStack() string {
	requestID := id.NewRequestID()
	prog, args := m.composeArgs("down")

	go func() {
		_, stderr, code, err := command.Capture(prog, args, m.cfg.ProjectDir)
		if err != nil || code != 0 {
			detail := strings.TrimSpace(stderr)
			if detail == "" && err != nil {
				detail = err.Error()
			}
			m.bus.Publish(events.Error{
				Context: "restart: stopping services",
				Err:     fmt.Errorf("%s exited with %d: %s", prog, code, detail),
			})
			return
		}

		upProg, upArgs := m.composeArgs("up", "-d", "--remove-orphans")
		m.runner.Execute(command.Request{
			RequestID: requestID,
			Program:   upProg,
			Args:      upArgs,
			Dir:       m.cfg.ProjectDir,
		})
	}()

	return requestID
}

// StreamLogs attaches a log stream worker to the project's aggregated
// service logs. Lines arrive as ProcessOutputLine events until the stream is
// stopped or the child exits.
func (m *Manager) StreamLogs() (id.SourceID, error) {
	source := id.NewSourceID()
	prog, args := m.composeArgs("logs", "-f", "--tail", "100")

	cmd := exec.Command(prog, args...)
	cmd.Dir = m.cfg.ProjectDir
	out, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	if err := cmd.Start(); err != nil {
		return "", err
	}

	flag := cancel.New()
	w := logstream.Start(source, cmd, out, flag, m.bus, m.log, func() {
		m.sup.Deregister(source.String())
	})

	if err := m.sup.Register(&supervisor.Managed{
		ID:   source.String(),
		Name: "log stream",
		Proc: cmd.Process,
		Flag: flag,
		Done: w.Done(),
	}); err != nil {
		flag.Set()
		cmd.Process.Kill()
		<-w.Done()
		return "", err
	}

	m.log.Info("log stream started", zap.String("source", source.String()))
	return source, nil
}

// StopLogStream stops one log stream through the supervisor, which may
// escalate to a kill after grace.
func (m *Manager) StopLogStream(source id.SourceID, grace time.Duration) error {
	return m.sup.Stop(source.String(), grace)
}

// compose runs a compose subcommand through the executor.
func (m *Manager) compose(sub ...string) string {
	requestID := id.NewRequestID()
	prog, args := m.composeArgs(sub...)
	m.runner.Execute(command.Request{
		RequestID: requestID,
		Program:   prog,
		Args:      args,
		Dir:       m.cfg.ProjectDir,
	})
	return requestID
}

// composeArgs picks between the compose plugin and the standalone binary,
// mirroring the engine check's detection.
func (m *Manager) composeArgs(sub ...string) (string, []string) {
	if m.usePlugin.Load() {
		return m.cfg.Binary, append([]string{"compose"}, sub...)
	}
	return m.cfg.ComposeBinary, sub
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
