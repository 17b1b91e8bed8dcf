package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/mattjoyce/sensorhook/internal/dispatch"
	"github.com/mattjoyce/sensorhook/internal/events"
)

// Sensor statuses shown in the table.
const (
	statusRunning = "running"
	statusOK      = "ok"
	statusFailed  = "failed"
	statusEmpty   = "no scripts"
)

// SensorState tracks one sensor as seen through dispatch events.
type SensorState struct {
	ID            string
	Status        string
	Dispatches    int
	ScriptsRun    int
	Succeeded     int
	NonZeroExit   int
	StartFailures int
	LastScript    string
	LastSeen      time.Time
}

// eventPayload is the union of the dispatch event payloads.
type eventPayload struct {
	DispatchID    string `json:"dispatch_id"`
	Sensor        string `json:"sensor"`
	Entries       int    `json:"entries"`
	Script        string `json:"script"`
	ExitCode      int    `json:"exit_code"`
	Error         string `json:"error"`
	TimedOut      bool   `json:"timed_out"`
	DurationMS    int64  `json:"duration_ms"`
	ScriptsRun    int    `json:"scripts_run"`
	Succeeded     int    `json:"succeeded"`
	NonZeroExit   int    `json:"non_zero_exit"`
	StartFailures int    `json:"start_failures"`
}

func decodePayload(e events.Event) eventPayload {
	var p eventPayload
	_ = json.Unmarshal(e.Data, &p)
	return p
}

// updateSensorState applies a dispatch event to the sensor map.
func updateSensorState(sensors map[string]*SensorState, e events.Event) {
	p := decodePayload(e)
	if p.Sensor == "" {
		return
	}

	s, ok := sensors[p.Sensor]
	if !ok {
		s = &SensorState{ID: p.Sensor}
		sensors[p.Sensor] = s
	}
	s.LastSeen = e.At

	switch e.Type {
	case dispatch.EventDispatchStarted:
		s.Dispatches++
		s.Status = statusRunning
		s.ScriptsRun, s.Succeeded, s.NonZeroExit, s.StartFailures = 0, 0, 0, 0
		s.LastScript = ""
	case dispatch.EventScriptCompleted:
		s.LastScript = p.Script
		s.ScriptsRun++
		switch {
		case p.Error != "":
			s.StartFailures++
		case p.ExitCode == 0 && !p.TimedOut:
			s.Succeeded++
		default:
			s.NonZeroExit++
		}
	case dispatch.EventDispatchCompleted:
		s.ScriptsRun = p.ScriptsRun
		s.Succeeded = p.Succeeded
		s.NonZeroExit = p.NonZeroExit
		s.StartFailures = p.StartFailures
		switch {
		case p.ScriptsRun == 0:
			s.Status = statusEmpty
		case p.Succeeded == p.ScriptsRun:
			s.Status = statusOK
		default:
			s.Status = statusFailed
		}
	}
}

func sensorColumns(width int) []table.Column {
	idWidth := width - 56
	if idWidth < 12 {
		idWidth = 12
	}
	return []table.Column{
		{Title: "Sensor", Width: idWidth},
		{Title: "Status", Width: 10},
		{Title: "Runs", Width: 5},
		{Title: "OK", Width: 4},
		{Title: "Exit≠0", Width: 6},
		{Title: "NoStart", Width: 7},
		{Title: "Last seen", Width: 10},
	}
}

// sensorRows orders sensors most recently seen first.
func sensorRows(sensors map[string]*SensorState, now time.Time) []table.Row {
	list := make([]*SensorState, 0, len(sensors))
	for _, s := range sensors {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].LastSeen.Equal(list[j].LastSeen) {
			return list[i].LastSeen.After(list[j].LastSeen)
		}
		return list[i].ID < list[j].ID
	})

	rows := make([]table.Row, 0, len(list))
	for _, s := range list {
		rows = append(rows, table.Row{
			s.ID,
			s.Status,
			fmt.Sprintf("%d", s.Dispatches),
			fmt.Sprintf("%d", s.Succeeded),
			fmt.Sprintf("%d", s.NonZeroExit),
			fmt.Sprintf("%d", s.StartFailures),
			formatDuration(now.Sub(s.LastSeen)) + " ago",
		})
	}
	return rows
}
