// Package tui is the single consumer of the event bus: a bubbletea program
// that drains pending events once per tick and folds them into view state.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dockhand/dockhand/internal/docker"
	"github.com/dockhand/dockhand/internal/events"
	"github.com/dockhand/dockhand/internal/infrastructure/monitoring"
	"github.com/dockhand/dockhand/internal/monitor"
	"github.com/dockhand/dockhand/internal/shared/id"
	"github.com/dockhand/dockhand/internal/terminal"
)

const (
	tickInterval    = 250 * time.Millisecond
	refreshInterval = 2 * time.Second
	logRingSize     = 500
	termBufSize     = 64 * 1024
)

type view string

const (
	viewContainers view = "containers"
	viewLogs       view = "logs"
	viewTerminal   view = "terminal"
)

// resultKind tags an in-flight request so its CommandResult can be routed.
type resultKind string

const (
	resultEngine  resultKind = "engine"
	resultRefresh resultKind = "refresh"
	resultStack   resultKind = "stack"
)

type tickMsg time.Time

// Model is the bubbletea model. All state lives here; workers never touch it.
type Model struct {
	bus     *events.Bus
	manager *docker.Manager
	broker  *terminal.Broker
	monitor *monitor.Monitor
	metrics *monitoring.Metrics

	state      view
	containers []docker.Container
	cursor     int
	pending    map[string]resultKind
	logLines   []string
	logSource  id.SourceID
	termID     id.SessionID
	termBuf    []byte
	engineNote string
	status     string
	width      int
	height     int
	lastFresh  time.Time
}

// New builds the model. The monitor may be nil when sampling is disabled.
func New(bus *events.Bus, mgr *docker.Manager, broker *terminal.Broker, mon *monitor.Monitor, metrics *monitoring.Metrics) *Model {
	return &Model{
		bus:     bus,
		manager: mgr,
		broker:  broker,
		monitor: mon,
		metrics: metrics,
		state:   viewContainers,
		pending: make(map[string]resultKind),
	}
}

func (m *Model) Init() tea.Cmd {
	m.track(m.manager.CheckEngine(), resultEngine)
	m.track(m.manager.RefreshContainers(), resultRefresh)
	m.lastFresh = time.Now()
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) track(requestID string, kind resultKind) {
	m.pending[requestID] = kind
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case tickMsg:
		for _, ev := range m.bus.Drain() {
			m.handleEvent(ev)
		}
		if time.Since(m.lastFresh) >= refreshInterval {
			m.track(m.manager.RefreshContainers(), resultRefresh)
			m.lastFresh = time.Now()
		}
		return m, tick()
	case tea.KeyMsg:
		if m.state == viewTerminal {
			return m.handleTerminalKey(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

// handleEvent folds one bus event into view state. The switch is exhaustive
// over the event kinds; an unknown kind is a bug in the producer set.
func (m *Model) handleEvent(ev events.Event) {
	m.metrics.EventsPublished.WithLabelValues(eventKind(ev)).Inc()
	switch ev := ev.(type) {
	case events.ProcessOutputLine:
		if ev.Source != m.logSource {
			return
		}
		m.logLines = append(m.logLines, ev.Text)
		if len(m.logLines) > logRingSize {
			m.logLines = m.logLines[len(m.logLines)-logRingSize:]
		}
	case events.ProcessExited:
		if ev.Source != m.logSource {
			return
		}
		m.logSource = ""
		if ev.Signal != "" {
			m.logLines = append(m.logLines, fmt.Sprintf("[log stream ended: signal %s]", ev.Signal))
		} else {
			m.logLines = append(m.logLines, fmt.Sprintf("[log stream ended: exit %d]", ev.ExitCode))
		}
	case events.CommandResult:
		kind, ok := m.pending[ev.RequestID]
		if !ok {
			return
		}
		delete(m.pending, ev.RequestID)
		m.handleResult(kind, ev)
	case events.TerminalOutput:
		if ev.Session != m.termID {
			return
		}
		m.termBuf = append(m.termBuf, ev.Data...)
		if len(m.termBuf) > termBufSize {
			m.termBuf = m.termBuf[len(m.termBuf)-termBufSize:]
		}
	case events.Error:
		m.status = fmt.Sprintf("error: %s: %v", ev.Context, ev.Err)
	}
}

func eventKind(ev events.Event) string {
	switch ev.(type) {
	case events.ProcessOutputLine:
		return "process_output_line"
	case events.ProcessExited:
		return "process_exited"
	case events.CommandResult:
		return "command_result"
	case events.TerminalOutput:
		return "terminal_output"
	case events.Error:
		return "error"
	}
	return "unknown"
}

func (m *Model) handleResult(kind resultKind, res events.CommandResult) {
	switch kind {
	case resultEngine:
		if res.Err != nil || len(res.Records) == 0 {
			m.engineNote = "engine: unreachable"
			return
		}
		rec := res.Records[0]
		if rec["available"] != "true" {
			m.engineNote = "engine: unavailable"
			return
		}
		m.engineNote = "engine: up"
		if v := rec["api_version"]; v != "" {
			m.engineNote += " (api " + v + ")"
		}
	case resultRefresh:
		if res.Err != nil {
			m.status = fmt.Sprintf("refresh failed: %v", res.Err)
			return
		}
		list := make([]docker.Container, 0, len(res.Records))
		for _, rec := range res.Records {
			list = append(list, docker.ContainerFromRecord(rec))
		}
		m.containers = list
		if m.cursor >= len(list) {
			m.cursor = max(0, len(list)-1)
		}
		if n := len(res.ParseErrs); n > 0 {
			m.status = fmt.Sprintf("refresh: %d unparseable lines", n)
		}
	case resultStack:
		if res.Err != nil {
			m.status = fmt.Sprintf("stack operation failed: %v", res.Err)
			return
		}
		m.status = "stack operation complete"
		m.track(m.manager.RefreshContainers(), resultRefresh)
		m.lastFresh = time.Now()
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.containers)-1 {
			m.cursor++
		}
	case "r":
		m.track(m.manager.RefreshContainers(), resultRefresh)
		m.lastFresh = time.Now()
		m.status = "refreshing"
	case "s":
		m.track(m.manager.StartStack(), resultStack)
		m.status = "starting stack"
	case "x":
		m.track(m.manager.StopStack(), resultStack)
		m.status = "stopping stack"
	case "R":
		m.track(m.manager.RestartStack(), resultStack)
		m.status = "restarting stack"
	case "l":
		if m.state == viewLogs {
			m.state = viewContainers
			return m, nil
		}
		m.state = viewLogs
		if m.logSource == "" {
			src, err := m.manager.StreamLogs()
			if err != nil {
				m.status = fmt.Sprintf("logs: %v", err)
				return m, nil
			}
			m.logSource = src
			m.logLines = nil
		}
	case "t":
		if m.termID == "" {
			rows, cols := m.paneSize()
			sid, err := m.broker.Open(rows, cols)
			if err != nil {
				m.status = fmt.Sprintf("terminal: %v", err)
				return m, nil
			}
			m.termID = sid
			m.termBuf = nil
		}
		m.state = viewTerminal
	case "esc":
		m.state = viewContainers
	}
	return m, nil
}

// handleTerminalKey forwards keystrokes to the pty. Esc returns to the
// container view without closing the session.
func (m *Model) handleTerminalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "esc" {
		m.state = viewContainers
		return m, nil
	}
	if err := m.broker.Write(m.termID, keyBytes(msg)); err != nil {
		// The session may still be Running after a transient write error;
		// begin its teardown before dropping the only handle to it. The
		// close fails harmlessly when the session is already gone.
		m.broker.Close(m.termID)
		m.termID = ""
		m.state = viewContainers
		m.status = fmt.Sprintf("terminal: %v", err)
	}
	return m, nil
}

// keyBytes maps a bubbletea key to the byte sequence a shell expects.
func keyBytes(msg tea.KeyMsg) []byte {
	switch msg.Type {
	case tea.KeyRunes:
		return []byte(string(msg.Runes))
	case tea.KeyEnter:
		return []byte{'\r'}
	case tea.KeySpace:
		return []byte{' '}
	case tea.KeyTab:
		return []byte{'\t'}
	case tea.KeyBackspace:
		return []byte{0x7f}
	case tea.KeyCtrlC:
		return []byte{0x03}
	case tea.KeyCtrlD:
		return []byte{0x04}
	case tea.KeyUp:
		return []byte("\x1b[A")
	case tea.KeyDown:
		return []byte("\x1b[B")
	case tea.KeyRight:
		return []byte("\x1b[C")
	case tea.KeyLeft:
		return []byte("\x1b[D")
	}
	return []byte(msg.String())
}

// paneSize guesses a sensible pty size from the window, defaulting before the
// first WindowSizeMsg arrives.
func (m *Model) paneSize() (rows, cols int) {
	rows, cols = 24, 80
	if m.height > 4 {
		rows = m.height - 4
	}
	if m.width > 0 {
		cols = m.width
	}
	return rows, cols
}

func (m *Model) terminalTail(lines int) string {
	s := string(m.termBuf)
	parts := strings.Split(s, "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "\n")
}
