package webhook

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/sensorhook/internal/events"
)

var keepAliveFrame = []byte(": ping\n\n")

// eventStream writes text/event-stream frames to one client and remembers the
// highest id sent so replayed and live events are never duplicated.
type eventStream struct {
	w    http.ResponseWriter
	sent int64
}

func (es *eventStream) send(ev events.Event) error {
	if ev.ID <= es.sent {
		return nil
	}
	if _, err := es.w.Write(encodeEvent(ev)); err != nil {
		return err
	}
	es.sent = ev.ID
	return nil
}

func (es *eventStream) ping() error {
	_, err := es.w.Write(keepAliveFrame)
	return err
}

// handleEvents streams dispatch events as server-sent events. A client
// reconnecting with Last-Event-ID gets the buffered events it missed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported"})
		return
	}

	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	es := &eventStream{w: w, sent: parseLastEventID(r.Header.Get("Last-Event-ID"))}
	for _, ev := range s.events.SnapshotSince(es.sent) {
		if es.send(ev) != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case <-s.shutdown:
			return
		case ev, open := <-live:
			if !open {
				return
			}
			err = es.send(ev)
		case <-ticker.C:
			err = es.ping()
		}
		if err != nil {
			return
		}
		flusher.Flush()
	}
}

// parseLastEventID returns 0 for a missing or unusable header.
func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// encodeEvent renders one frame. Data is compact JSON and fits a single
// data line.
func encodeEvent(ev events.Event) []byte {
	var buf bytes.Buffer
	buf.WriteString("id: ")
	buf.WriteString(strconv.FormatInt(ev.ID, 10))
	buf.WriteByte('\n')
	if ev.Type != "" {
		buf.WriteString("event: ")
		buf.WriteString(ev.Type)
		buf.WriteByte('\n')
	}
	buf.WriteString("data: ")
	buf.Write(ev.Data)
	buf.WriteString("\n\n")
	return buf.Bytes()
}
