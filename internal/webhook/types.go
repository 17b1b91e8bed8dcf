package webhook

import (
	"time"

	"github.com/mattjoyce/sensorhook/internal/dispatch"
	"github.com/mattjoyce/sensorhook/internal/events"
)

// SensorDispatcher runs the scripts for a sensor id.
type SensorDispatcher interface {
	Handle(id string) dispatch.Response
}

// EventSource provides the dispatch event stream served at {BasePath}/events.
type EventSource interface {
	SnapshotSince(lastID int64) []events.Event
	Subscribe() (<-chan events.Event, func())
}

// Config holds webhook server configuration.
type Config struct {
	// Listen is the TCP address, e.g. "0.0.0.0:8000".
	Listen string

	// BasePath is where the sensor route is mounted (default: "/api/v1").
	BasePath string

	// Summary makes every response a JSON dispatch summary instead of plain text.
	Summary bool

	// Sensors is reported by /healthz.
	Sensors int
}

// HealthResponse is the JSON body of GET /healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	Sensors       int    `json:"sensors"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ErrorResponse is the JSON response for routing errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultBasePath = "/api/v1"

	// keepAliveInterval spaces SSE comment lines on idle streams.
	keepAliveInterval = 15 * time.Second
)
