package watch

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/sensorhook/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status        string `json:"status"`
	Sensors       int    `json:"sensors"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// --- Commands ---

// subscribeToEvents connects to the event stream and feeds events into ch
// until the connection drops. Reconnects resume after lastID.
func subscribeToEvents(eventsURL string, lastID *atomic.Int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, eventsURL, nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Accept", "text/event-stream")
		if id := lastID.Load(); id > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(id, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return sseDisconnectedMsg{}
		}

		readStream(resp.Body, lastID, ch)
		return sseDisconnectedMsg{}
	}
}

// readStream parses SSE frames from r until EOF.
func readStream(r io.Reader, lastID *atomic.Int64, ch chan<- events.Event) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var ev events.Event
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if ev.Data != nil {
				ev.At = time.Now()
				ch <- ev
				lastID.Store(ev.ID)
			}
			ev = events.Event{}
		case strings.HasPrefix(line, ":"):
			// keep-alive
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				ev.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			ev.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			ev.Data = json.RawMessage(line[6:])
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries GET /healthz.
func fetchHealth(healthURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(healthURL)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
