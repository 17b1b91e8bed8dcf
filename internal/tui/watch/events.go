package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/sensorhook/internal/dispatch"
	"github.com/mattjoyce/sensorhook/internal/events"
)

const maxVisibleEvents = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for sensors..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= maxVisibleEvents {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))
	p := decodePayload(e)

	style := theme.Dim
	switch e.Type {
	case dispatch.EventDispatchStarted:
		style = theme.StatusRunning
	case dispatch.EventScriptCompleted:
		style = theme.StatusOK
		if p.Error != "" || p.ExitCode != 0 || p.TimedOut {
			style = theme.StatusFailed
		}
	case dispatch.EventDispatchCompleted:
		style = theme.StatusOK
		if p.Succeeded != p.ScriptsRun {
			style = theme.StatusFailed
		}
	}

	typeName := style.Render(fmt.Sprintf("%-18s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e.Type, p))
}

func extractEventDesc(eventType string, p eventPayload) string {
	var parts []string

	if id := p.DispatchID; id != "" {
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", id))
	}
	if p.Sensor != "" {
		parts = append(parts, p.Sensor)
	}

	switch eventType {
	case dispatch.EventDispatchStarted:
		parts = append(parts, fmt.Sprintf("%d entries", p.Entries))
	case dispatch.EventScriptCompleted:
		parts = append(parts, p.Script)
		switch {
		case p.Error != "":
			parts = append(parts, "start failed")
		case p.TimedOut:
			parts = append(parts, "timed out")
		default:
			parts = append(parts, fmt.Sprintf("exit %d", p.ExitCode))
		}
		parts = append(parts, fmt.Sprintf("%dms", p.DurationMS))
	case dispatch.EventDispatchCompleted:
		parts = append(parts, fmt.Sprintf("%d/%d ok", p.Succeeded, p.ScriptsRun))
	}

	return strings.Join(parts, " ")
}
