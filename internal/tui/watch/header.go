package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks server health from /healthz polling.
type HealthState struct {
	Status        string
	Sensors       int
	UptimeSeconds int64
	Connected     bool
	LastCheck     time.Time
}

func renderHeader(health HealthState, spin spinner.Model, activity Activity, theme Theme, target string, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	switch {
	case !health.Connected:
		statusText = theme.StatusFailed.Render("CONNECTING")
	case health.Status != "ok" && health.Status != "":
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	lastEvent := "never"
	if !activity.LastEvent().IsZero() {
		lastEvent = formatDuration(now.Sub(activity.LastEvent())) + " ago"
	}

	title := fmt.Sprintf(" SENSORHOOK WATCH %s %s", spin.View(), theme.Dim.Render(target))
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(title) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  Uptime: %s  Sensors configured: %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.Sensors,
	)
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, activity.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
