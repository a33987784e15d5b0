package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// styles
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	upStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	downStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func (m *Model) View() string {
	var body string
	switch m.state {
	case viewLogs:
		body = m.renderLogs()
	case viewTerminal:
		body = m.renderTerminal()
	default:
		body = m.renderContainers()
	}
	return body + "\n" + m.renderStatusBar()
}

func (m *Model) renderContainers() string {
	out := titleStyle.Render("Dockhand — Containers") + "\n"
	out += headerStyle.Render(fmt.Sprintf("  %-14s %-24s %-28s %-10s %s", "ID", "NAME", "IMAGE", "STATE", "STATUS")) + "\n"
	if len(m.containers) == 0 {
		out += dimStyle.Render("  no containers in this project") + "\n"
	}
	for i, c := range m.containers {
		marker := " "
		if i == m.cursor {
			marker = "▶"
		}
		state := c.State
		switch c.State {
		case "running":
			state = upStyle.Render(c.State)
		case "exited", "dead":
			state = downStyle.Render(c.State)
		}
		out += fmt.Sprintf("%s %-14s %-24s %-28s %-10s %s\n", marker, short(c.ID, 12), short(c.Name, 24), short(c.Image, 28), state, c.Status)
	}
	out += "\n" + dimStyle.Render("[s] up  [x] down  [R] restart  [r] refresh  [l] logs  [t] terminal  [q] quit")
	return out
}

func (m *Model) renderLogs() string {
	out := titleStyle.Render("Dockhand — Logs") + "\n"
	lines := m.logLines
	if limit := m.bodyHeight(); len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	if len(lines) == 0 {
		out += dimStyle.Render("waiting for output…") + "\n"
	} else {
		out += strings.Join(lines, "\n") + "\n"
	}
	out += dimStyle.Render("[l]/[esc] back  [q] quit")
	return out
}

func (m *Model) renderTerminal() string {
	out := titleStyle.Render("Dockhand — Terminal") + " " + dimStyle.Render("(esc to detach)") + "\n"
	out += m.terminalTail(m.bodyHeight())
	return out
}

func (m *Model) renderStatusBar() string {
	parts := []string{m.engineNote}
	if m.monitor != nil {
		host := m.monitor.Host()
		parts = append(parts, fmt.Sprintf("cpu %.1f%%", host.CPUPercent), fmt.Sprintf("mem %.1f%%", host.MemPercent))
	}
	bar := dimStyle.Render(strings.Join(parts, "  "))
	if m.status != "" {
		style := dimStyle
		if strings.HasPrefix(m.status, "error") || strings.Contains(m.status, "failed") {
			style = errStyle
		}
		bar += "  " + style.Render(m.status)
	}
	return bar
}

func (m *Model) bodyHeight() int {
	if m.height > 4 {
		return m.height - 4
	}
	return 20
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
