package dispatch

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mattjoyce/sensorhook/internal/runner"
	"github.com/mattjoyce/sensorhook/internal/sensormap"
)

// maxLoggedOutputBytes caps the amount of stdout/stderr written to a log line.
const maxLoggedOutputBytes = 64 * 1024

// SensorStore is the read-only view of the sensor map the dispatcher needs.
type SensorStore interface {
	Lookup(id string) []sensormap.SensorEntry
	ResolvePath(scriptFilename string) string
}

// Publisher receives dispatch lifecycle events. events.Hub implements it.
type Publisher interface {
	Publish(eventType string, data any)
}

// Event types published during a dispatch.
const (
	EventDispatchStarted   = "dispatch.started"
	EventScriptCompleted   = "script.completed"
	EventDispatchCompleted = "dispatch.completed"
)

// Dispatcher runs the scripts configured for a sensor. It holds no per-request
// state and is safe for concurrent use.
type Dispatcher struct {
	store     SensorStore
	runner    runner.ScriptRunner
	logger    *slog.Logger
	publisher Publisher
	newID     func() string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPublisher sends lifecycle events to p.
func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) {
		d.publisher = p
	}
}

// New creates a Dispatcher.
func New(store SensorStore, r runner.ScriptRunner, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		runner: r,
		logger: logger,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type startedEvent struct {
	DispatchID string `json:"dispatch_id"`
	Sensor     string `json:"sensor"`
	Entries    int    `json:"entries"`
}

type scriptEvent struct {
	DispatchID string `json:"dispatch_id"`
	Sensor     string `json:"sensor"`
	ScriptSummary
}

type completedEvent struct {
	DispatchID    string `json:"dispatch_id"`
	Sensor        string `json:"sensor"`
	ScriptsRun    int    `json:"scripts_run"`
	Succeeded     int    `json:"succeeded"`
	NonZeroExit   int    `json:"non_zero_exit"`
	StartFailures int    `json:"start_failures"`
}

func (d *Dispatcher) publish(eventType string, data any) {
	if d.publisher != nil {
		d.publisher.Publish(eventType, data)
	}
}

// Handle runs every script configured for id, sequentially, and returns the
// collected results. It never fails: unknown sensors and failing scripts are
// reported in the Response.
func (d *Dispatcher) Handle(id string) Response {
	resp := Response{
		DispatchID: d.newID(),
		SensorID:   id,
	}
	logger := d.logger.With("sensor", id, "dispatch_id", resp.DispatchID)

	entries := d.store.Lookup(id)
	resp.EntriesMatched = len(entries)
	d.publish(EventDispatchStarted, startedEvent{DispatchID: resp.DispatchID, Sensor: id, Entries: len(entries)})
	if len(entries) == 0 {
		logger.Info("no scripts configured for sensor")
		d.publishCompleted(resp)
		return resp
	}

	start := time.Now()
	for _, entry := range entries {
		for _, script := range entry.Scripts {
			path := d.store.ResolvePath(script)
			res := d.runner.Run(path)
			ex := Execution{Script: script, Result: res}
			resp.Executions = append(resp.Executions, ex)
			logExecution(logger, script, res)
			d.publish(EventScriptCompleted, scriptEvent{DispatchID: resp.DispatchID, Sensor: id, ScriptSummary: ex.summary()})
		}
	}

	logger.Info("dispatch complete",
		"entries", resp.EntriesMatched,
		"scripts_run", len(resp.Executions),
		"succeeded", resp.Succeeded(),
		"non_zero_exit", resp.NonZeroExits(),
		"start_failures", resp.StartFailures(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	d.publishCompleted(resp)
	return resp
}

func (d *Dispatcher) publishCompleted(resp Response) {
	d.publish(EventDispatchCompleted, completedEvent{
		DispatchID:    resp.DispatchID,
		Sensor:        resp.SensorID,
		ScriptsRun:    len(resp.Executions),
		Succeeded:     resp.Succeeded(),
		NonZeroExit:   resp.NonZeroExits(),
		StartFailures: resp.StartFailures(),
	})
}

func logExecution(logger *slog.Logger, script string, res runner.Result) {
	if !res.Started() {
		logger.Error("script start failed",
			"script", script,
			"path", res.ScriptPath,
			"reason", res.FailureReason(),
			"exit_code", res.ExitCode,
			"stdout", truncate(res.Stdout),
			"stderr", truncate(res.Stderr),
		)
		return
	}

	level := slog.LevelInfo
	if !res.Succeeded() {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "script output",
		"script", script,
		"path", res.ScriptPath,
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
		"stdout", truncate(res.Stdout),
		"stderr", truncate(res.Stderr),
		"duration_ms", res.Duration.Milliseconds(),
	)
}

// truncate caps output to maxLoggedOutputBytes without splitting a UTF-8
// sequence at the cut.
func truncate(b []byte) string {
	if len(b) <= maxLoggedOutputBytes {
		return string(b)
	}
	cut := maxLoggedOutputBytes
	for i := 0; i < utf8.UTFMax && cut > 0 && !utf8.RuneStart(b[cut]); i++ {
		cut--
	}
	return string(b[:cut])
}
