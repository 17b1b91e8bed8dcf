package webhook

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sensorhook/internal/dispatch"
	"github.com/mattjoyce/sensorhook/internal/events"
	"github.com/mattjoyce/sensorhook/internal/sensormap"
)

type sseFrame struct {
	id, event, data string
}

// readFrame reads one SSE frame, skipping keep-alive comments.
func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.id != "" {
				return f
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			f.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, url, lastEventID string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body)
}

func TestEvents_NotRoutedWithoutSource(t *testing.T) {
	server := New(Config{}, &mockDispatcher{}, testLogger())
	rec := serve(t, server, http.MethodGet, "/api/v1/events")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvents_ReplayThenLive(t *testing.T) {
	hub := events.NewHub(8)
	hub.Publish(dispatch.EventDispatchStarted, map[string]string{"sensor": "early"})

	server := New(Config{}, &mockDispatcher{}, testLogger(), WithEvents(hub))
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	stream := openStream(t, ts.URL+"/api/v1/events", "")

	first := readFrame(t, stream)
	assert.Equal(t, "1", first.id)
	assert.Equal(t, dispatch.EventDispatchStarted, first.event)
	assert.JSONEq(t, `{"sensor":"early"}`, first.data)

	hub.Publish(dispatch.EventDispatchCompleted, map[string]string{"sensor": "live"})
	second := readFrame(t, stream)
	assert.Equal(t, "2", second.id)
	assert.Equal(t, dispatch.EventDispatchCompleted, second.event)
}

func TestEvents_LastEventIDSkipsSeen(t *testing.T) {
	hub := events.NewHub(8)
	hub.Publish("one", nil)
	hub.Publish("two", nil)
	hub.Publish("three", nil)

	server := New(Config{}, &mockDispatcher{}, testLogger(), WithEvents(hub))
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	stream := openStream(t, ts.URL+"/api/v1/events", "2")
	frame := readFrame(t, stream)
	assert.Equal(t, "3", frame.id)
	assert.Equal(t, "three", frame.event)
}

func TestEvents_StreamsRealDispatch(t *testing.T) {
	hub := events.NewHub(8)
	store := sensormap.NewStore(t.TempDir(), nil)
	disp := dispatch.New(store, nil, testLogger(), dispatch.WithPublisher(hub))

	server := New(Config{}, disp, testLogger(), WithEvents(hub))
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	stream := openStream(t, ts.URL+"/api/v1/events", "")

	resp, err := http.Post(ts.URL+"/api/v1/sensor/ghost", "text/plain", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()

	started := readFrame(t, stream)
	assert.Equal(t, dispatch.EventDispatchStarted, started.event)
	assert.Contains(t, started.data, `"sensor":"ghost"`)

	done := readFrame(t, stream)
	assert.Equal(t, dispatch.EventDispatchCompleted, done.event)
	assert.Contains(t, done.data, `"scripts_run":0`)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(17), parseLastEventID("17"))
}

func TestEventStream_SkipsAlreadySentIDs(t *testing.T) {
	rec := httptest.NewRecorder()
	es := &eventStream{w: rec, sent: 2}

	require.NoError(t, es.send(events.Event{ID: 2, Type: "dispatch.started", Data: json.RawMessage(`{}`)}))
	require.NoError(t, es.send(events.Event{ID: 3, Type: "dispatch.completed", Data: json.RawMessage(`{"sensor":"door"}`)}))
	require.NoError(t, es.send(events.Event{ID: 3, Type: "dispatch.completed", Data: json.RawMessage(`{}`)}))

	assert.Equal(t, "id: 3\nevent: dispatch.completed\ndata: {\"sensor\":\"door\"}\n\n", rec.Body.String())
	assert.Equal(t, int64(3), es.sent)
}

func TestEncodeEvent_OmitsEmptyType(t *testing.T) {
	got := string(encodeEvent(events.Event{ID: 9, Data: json.RawMessage(`[]`)}))
	assert.Equal(t, "id: 9\ndata: []\n\n", got)
}
