package webhook

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sensorhook/internal/dispatch"
	"github.com/mattjoyce/sensorhook/internal/runner"
	"github.com/mattjoyce/sensorhook/internal/sensormap"
)

// mockDispatcher is a mock implementation of SensorDispatcher for testing.
type mockDispatcher struct {
	mu       sync.Mutex
	handleFn func(id string) dispatch.Response
	calls    []string
}

func (m *mockDispatcher) Handle(id string) dispatch.Response {
	m.mu.Lock()
	m.calls = append(m.calls, id)
	m.mu.Unlock()
	if m.handleFn != nil {
		return m.handleFn(id)
	}
	return dispatch.Response{SensorID: id}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func serve(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleSensor_PlainResponse(t *testing.T) {
	md := &mockDispatcher{}
	server := New(Config{Listen: "127.0.0.1:0"}, md, testLogger())

	rec := serve(t, server, http.MethodPost, "/api/v1/sensor/temp-1")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Sensor: temp-1", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{"temp-1"}, md.calls)
}

func TestHandleSensor_OutcomesNotExposedByDefault(t *testing.T) {
	md := &mockDispatcher{
		handleFn: func(id string) dispatch.Response {
			return dispatch.Response{
				SensorID: id,
				Executions: []dispatch.Execution{
					{Script: "broken.sh", Result: runner.Result{ExitCode: 1}},
				},
			}
		},
	}
	server := New(Config{}, md, testLogger())

	rec := serve(t, server, http.MethodPost, "/api/v1/sensor/door")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Sensor: door", rec.Body.String())
}

func TestHandleSensor_VerboseQuery(t *testing.T) {
	md := &mockDispatcher{
		handleFn: func(id string) dispatch.Response {
			return dispatch.Response{
				DispatchID:     "d-1",
				SensorID:       id,
				EntriesMatched: 1,
				Executions: []dispatch.Execution{
					{Script: "a.sh", Result: runner.Result{ScriptPath: "/s/a.sh", Stdout: []byte("hi")}},
					{Script: "b.sh", Result: runner.Result{ScriptPath: "/s/b.sh", ExitCode: 4}},
				},
			}
		},
	}
	server := New(Config{}, md, testLogger())

	rec := serve(t, server, http.MethodPost, "/api/v1/sensor/door?verbose=true")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var summary dispatch.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	assert.Equal(t, "door", summary.Sensor)
	assert.Equal(t, 2, summary.ScriptsRun)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.NonZeroExit)
	assert.Equal(t, "hi", summary.Results[0].Stdout)
}

func TestHandleSensor_SummaryMode(t *testing.T) {
	server := New(Config{Summary: true}, &mockDispatcher{}, testLogger())

	rec := serve(t, server, http.MethodPost, "/api/v1/sensor/missing")

	require.Equal(t, http.StatusOK, rec.Code)
	var summary dispatch.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	assert.Equal(t, "missing", summary.Sensor)
	assert.Zero(t, summary.ScriptsRun)
}

func TestHandleSensor_VerboseFalseStaysPlain(t *testing.T) {
	server := New(Config{}, &mockDispatcher{}, testLogger())

	rec := serve(t, server, http.MethodPost, "/api/v1/sensor/a?verbose=false")

	assert.Equal(t, "Sensor: a", rec.Body.String())
}

func TestHandleSensor_PercentEncodedID(t *testing.T) {
	md := &mockDispatcher{}
	server := New(Config{}, md, testLogger())

	rec := serve(t, server, http.MethodPost, "/api/v1/sensor/hall%2Fdoor")
	assert.Equal(t, "Sensor: hall/door", rec.Body.String())

	rec = serve(t, server, http.MethodPost, "/api/v1/sensor/living%20room")
	assert.Equal(t, "Sensor: living room", rec.Body.String())

	assert.Equal(t, []string{"hall/door", "living room"}, md.calls)
}

func TestHandleSensor_CustomBasePath(t *testing.T) {
	server := New(Config{BasePath: "/hooks"}, &mockDispatcher{}, testLogger())

	rec := serve(t, server, http.MethodPost, "/hooks/sensor/x")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, server, http.MethodPost, "/api/v1/sensor/x")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSensor_WrongMethod(t *testing.T) {
	md := &mockDispatcher{}
	server := New(Config{}, md, testLogger())

	rec := serve(t, server, http.MethodGet, "/api/v1/sensor/temp-1")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, md.calls)
}

func TestHealthz(t *testing.T) {
	server := New(Config{Sensors: 3}, &mockDispatcher{}, testLogger())

	rec := serve(t, server, http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 3, health.Sensors)
}

func TestEndToEnd_RealScripts(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "record.sh"),
		[]byte("#!/bin/sh\necho \"$1\" >> "+out+"\n"), 0o755))

	store := sensormap.NewStore(dir, []sensormap.SensorEntry{
		{ID: "dual", Scripts: []string{"record.sh one", "missing.sh"}},
		{ID: "dual", Scripts: []string{"record.sh two"}},
	})

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))
	d := dispatch.New(store, &runner.ShellRunner{}, logger)
	server := New(Config{}, d, logger)

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/sensor/dual", "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Sensor: dual", body.String())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
	assert.Contains(t, logBuf.String(), "script start failed")
}
