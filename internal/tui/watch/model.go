package watch

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/sensorhook/internal/events"
)

const maxEventLog = 50

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	serverURL string
	basePath  string

	width  int
	height int

	health   HealthState
	sensors  map[string]*SensorState
	eventLog []events.Event

	table    table.Model
	spinner  spinner.Model
	activity Activity
	theme    Theme

	hubEvents chan events.Event
	lastID    *atomic.Int64

	lastError string
	now       func() time.Time
}

// New creates a watch model for the server at serverURL (scheme and host)
// with the sensor routes mounted at basePath.
func New(serverURL, basePath string) *Model {
	theme := NewDefaultTheme()

	t := table.New(
		table.WithColumns(sensorColumns(80)),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	t.SetStyles(theme.TableStyles())

	return &Model{
		serverURL: strings.TrimRight(serverURL, "/"),
		basePath:  "/" + strings.Trim(basePath, "/"),
		sensors:   make(map[string]*SensorState),
		table:     t,
		spinner:   spinner.New(spinner.WithSpinner(spinner.MiniDot)),
		theme:     theme,
		hubEvents: make(chan events.Event, 100),
		lastID:    new(atomic.Int64),
		now:       time.Now,
	}
}

func (m Model) eventsURL() string { return m.serverURL + m.basePath + "/events" }
func (m Model) healthURL() string { return m.serverURL + "/healthz" }

func (m Model) Init() tea.Cmd {
	healthURL := m.healthURL()
	return tea.Batch(
		subscribeToEvents(m.eventsURL(), m.lastID, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(healthURL) },
		m.spinner.Tick,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(sensorColumns(m.width - 8))
		m.table.SetWidth(m.width - 6)

	case tickMsg:
		m.activity.Decay(m.now())
		m.table.SetRows(sensorRows(m.sensors, m.now()))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		e := events.Event(msg)

		// Newest first.
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}

		m.activity.OnEvent(m.now())
		updateSensorState(m.sensors, e)
		m.table.SetRows(sensorRows(m.sensors, m.now()))

		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.Sensors = msg.Sensors
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""

		healthURL := m.healthURL()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(healthURL)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps waiting on the same channel.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.eventsURL(), m.lastID, m.hubEvents)

	case errMsg:
		m.health.Connected = false
		m.lastError = msg.Error()
		healthURL := m.healthURL()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(healthURL)
		})
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to sensorhook..."
	}

	header := renderHeader(m.health, m.spinner, m.activity, m.theme, m.serverURL, m.width, m.now())

	sensorPanel := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("SENSORS"),
		m.table.View(),
	)
	if len(m.sensors) == 0 {
		sensorPanel = lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("SENSORS"),
			m.theme.Dim.Render("  No dispatches yet"),
		)
	}
	sensorPanel = m.theme.Border.Width(m.width - 4).Render(sensorPanel)

	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, sensorPanel, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [↑/↓] Select sensor"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
