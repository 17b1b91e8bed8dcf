package sensormap

import "errors"

var (
	// ErrConfigUnreadable is returned when the configuration document cannot be opened or read.
	ErrConfigUnreadable = errors.New("config unreadable")

	// ErrConfigMalformed is returned when the document does not parse or has the wrong shape.
	ErrConfigMalformed = errors.New("config malformed")

	// ErrIntegrity is returned when the document does not match its locked checksum.
	ErrIntegrity = errors.New("config integrity check failed")
)

// SensorEntry maps one sensor id to the scripts run for it, in order.
type SensorEntry struct {
	ID      string   `yaml:"id" json:"id"`
	Scripts []string `yaml:"scripts" json:"scripts"`
}

// SensorConfig is the parsed configuration: the base directory for scripts and
// the sensor entries in document order.
type SensorConfig struct {
	ScriptsDirectory string        `json:"scripts_directory"`
	Sensors          []SensorEntry `json:"sensors"`
}
