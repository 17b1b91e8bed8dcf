package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sensorhook/internal/config"
	"github.com/mattjoyce/sensorhook/internal/dispatch"
	"github.com/mattjoyce/sensorhook/internal/doctor"
	"github.com/mattjoyce/sensorhook/internal/events"
	"github.com/mattjoyce/sensorhook/internal/runner"
	"github.com/mattjoyce/sensorhook/internal/sensormap"
	"github.com/mattjoyce/sensorhook/internal/webhook"
)

func repoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// internal/e2e -> internal -> repo root
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startExampleServer serves the repository's example sensor map.
func startExampleServer(t *testing.T, hub *events.Hub) *httptest.Server {
	t.Helper()
	root := repoRoot(t)

	store, err := sensormap.Load(filepath.Join(root, "sensormap.example.yml"), root)
	require.NoError(t, err)

	disp := dispatch.New(store, &runner.ShellRunner{Timeout: 10 * time.Second}, quietLogger(),
		dispatch.WithPublisher(hub))
	server := webhook.New(webhook.Config{Sensors: store.Len()}, disp, quietLogger(), webhook.WithEvents(hub))

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestExampleConfigPassesCheck(t *testing.T) {
	root := repoRoot(t)
	s := config.Defaults()
	s.ScriptsDirectory = root
	s.YAMLPath = filepath.Join(root, "sensormap.example.yml")
	s.ScriptTimeout = time.Minute

	result := doctor.New(s).Validate()
	assert.True(t, result.Valid, "errors: %v", result.Errors)
	assert.Equal(t, 2, result.Sensors)
	assert.Equal(t, 3, result.Scripts)
}

func TestExampleSensorPlainResponse(t *testing.T) {
	ts := startExampleServer(t, events.NewHub(16))

	status, body := post(t, ts.URL+"/api/v1/sensor/front-door")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Sensor: front-door", body)

	status, body = post(t, ts.URL+"/api/v1/sensor/not-configured")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Sensor: not-configured", body)
}

func TestExampleSensorVerboseRunsScriptsInOrder(t *testing.T) {
	ts := startExampleServer(t, events.NewHub(16))

	status, body := post(t, ts.URL+"/api/v1/sensor/temp-1?verbose=true")
	require.Equal(t, http.StatusOK, status)

	var summary dispatch.Summary
	require.NoError(t, json.Unmarshal([]byte(body), &summary))
	assert.Equal(t, "temp-1", summary.Sensor)
	assert.Equal(t, 2, summary.ScriptsRun)
	assert.Equal(t, 2, summary.Succeeded)
	require.Len(t, summary.Results, 2)
	assert.Contains(t, summary.Results[0].Stdout, "sensor=temp-1 event=reading")
	assert.Contains(t, summary.Results[1].Stdout, "sensor=temp-1 event=logged")
}

func TestExampleSensorEventsStream(t *testing.T) {
	hub := events.NewHub(16)
	ts := startExampleServer(t, hub)

	_, _ = post(t, ts.URL+"/api/v1/sensor/front-door")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// The dispatch already happened; it is replayed from the buffer.
	var types []string
	reader := bufio.NewReader(resp.Body)
	for len(types) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: ") {
			types = append(types, strings.TrimSpace(strings.TrimPrefix(line, "event: ")))
		}
	}
	assert.Equal(t, []string{
		dispatch.EventDispatchStarted,
		dispatch.EventScriptCompleted,
		dispatch.EventDispatchCompleted,
	}, types)
}
