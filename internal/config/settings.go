package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names read at startup.
const (
	EnvScriptsDirectory = "SCRIPTS_DIRECTORY"
	EnvYAMLPath         = "YAML_PATH"
	EnvListenAddr       = "LISTEN_ADDR"
	EnvBasePath         = "BASE_PATH"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
	EnvResponseMode     = "RESPONSE_MODE"
	EnvExecMode         = "EXEC_MODE"
	EnvScriptShell      = "SCRIPT_SHELL"
	EnvScriptTimeout    = "SCRIPT_TIMEOUT"
	EnvPIDFile          = "PID_FILE"
)

// Response modes for the sensor endpoint.
const (
	ResponsePlain   = "plain"
	ResponseSummary = "summary"
)

// Execution modes for configured scripts.
const (
	ExecShell = "shell"
	ExecArgv  = "argv"
)

// Settings is the process-wide startup configuration. It is read once and
// never changes for the lifetime of the process.
type Settings struct {
	ScriptsDirectory string
	YAMLPath         string
	Listen           string
	BasePath         string
	LogLevel         string
	LogFormat        string
	ResponseMode     string
	ExecMode         string
	Shell            string
	// ScriptTimeout of zero means scripts may run forever.
	ScriptTimeout time.Duration
	PIDFile       string
}

// Defaults returns Settings with the values used when nothing is set.
func Defaults() Settings {
	return Settings{
		ScriptsDirectory: ".",
		YAMLPath:         "./sensormap.example.yml",
		Listen:           "0.0.0.0:8000",
		BasePath:         "/api/v1",
		LogLevel:         "info",
		LogFormat:        "json",
		ResponseMode:     ResponsePlain,
		ExecMode:         ExecShell,
		Shell:            "sh",
	}
}

// LoadSettings loads envFile (if present) into the process environment and
// then builds Settings from the environment. Variables already set in the
// environment take precedence over the file.
func LoadSettings(envFile string) (Settings, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Settings{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds Settings from a lookup function, applying defaults and
// validating enumerations.
func FromEnv(lookup func(string) (string, bool)) (Settings, error) {
	s := Defaults()

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str(EnvScriptsDirectory, &s.ScriptsDirectory)
	str(EnvYAMLPath, &s.YAMLPath)
	str(EnvListenAddr, &s.Listen)
	str(EnvBasePath, &s.BasePath)
	str(EnvLogLevel, &s.LogLevel)
	str(EnvLogFormat, &s.LogFormat)
	str(EnvResponseMode, &s.ResponseMode)
	str(EnvExecMode, &s.ExecMode)
	str(EnvScriptShell, &s.Shell)
	str(EnvPIDFile, &s.PIDFile)

	if v, ok := lookup(EnvScriptTimeout); ok && v != "" && v != "0" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Settings{}, fmt.Errorf("%s: invalid duration %q: %w", EnvScriptTimeout, v, err)
		}
		s.ScriptTimeout = d
	}

	s.LogLevel = strings.ToLower(s.LogLevel)
	s.LogFormat = strings.ToLower(s.LogFormat)
	s.ResponseMode = strings.ToLower(s.ResponseMode)
	s.ExecMode = strings.ToLower(s.ExecMode)

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks enumerations and required fields.
func (s Settings) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[s.LogLevel] {
		return fmt.Errorf("%s must be one of: debug, info, warn, error (got %q)", EnvLogLevel, s.LogLevel)
	}
	if s.LogFormat != "json" && s.LogFormat != "text" {
		return fmt.Errorf("%s must be one of: json, text (got %q)", EnvLogFormat, s.LogFormat)
	}
	if s.ResponseMode != ResponsePlain && s.ResponseMode != ResponseSummary {
		return fmt.Errorf("%s must be one of: %s, %s (got %q)", EnvResponseMode, ResponsePlain, ResponseSummary, s.ResponseMode)
	}
	if s.ExecMode != ExecShell && s.ExecMode != ExecArgv {
		return fmt.Errorf("%s must be one of: %s, %s (got %q)", EnvExecMode, ExecShell, ExecArgv, s.ExecMode)
	}
	if s.ScriptTimeout < 0 {
		return fmt.Errorf("%s must not be negative", EnvScriptTimeout)
	}
	if s.Listen == "" {
		return fmt.Errorf("%s is required", EnvListenAddr)
	}
	if !strings.HasPrefix(s.BasePath, "/") {
		return fmt.Errorf("%s must start with '/' (got %q)", EnvBasePath, s.BasePath)
	}
	return nil
}
