package dispatch

import "github.com/mattjoyce/sensorhook/internal/runner"

// Execution pairs a configured script filename with its result.
type Execution struct {
	Script string
	Result runner.Result
}

// Response is everything a single Handle call observed.
type Response struct {
	DispatchID     string
	SensorID       string
	EntriesMatched int
	Executions     []Execution
}

// Body is the plain-text response returned to callers by default.
func (r Response) Body() string {
	return "Sensor: " + r.SensorID
}

// Succeeded counts scripts that exited zero.
func (r Response) Succeeded() int {
	n := 0
	for _, e := range r.Executions {
		if e.Result.Succeeded() {
			n++
		}
	}
	return n
}

// NonZeroExits counts scripts that ran but did not exit zero.
func (r Response) NonZeroExits() int {
	n := 0
	for _, e := range r.Executions {
		if e.Result.Started() && !e.Result.Succeeded() {
			n++
		}
	}
	return n
}

// StartFailures counts scripts that could not be launched.
func (r Response) StartFailures() int {
	n := 0
	for _, e := range r.Executions {
		if !e.Result.Started() {
			n++
		}
	}
	return n
}

// Summary is the JSON shape of an opt-in verbose response.
type Summary struct {
	Sensor        string          `json:"sensor"`
	DispatchID    string          `json:"dispatch_id"`
	Entries       int             `json:"entries"`
	ScriptsRun    int             `json:"scripts_run"`
	Succeeded     int             `json:"succeeded"`
	NonZeroExit   int             `json:"non_zero_exit"`
	StartFailures int             `json:"start_failures"`
	Results       []ScriptSummary `json:"results"`
}

// ScriptSummary reports one execution.
type ScriptSummary struct {
	Script     string `json:"script"`
	Path       string `json:"path"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Error      string `json:"error,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Summary builds the verbose view of the response.
func (r Response) Summary() Summary {
	s := Summary{
		Sensor:        r.SensorID,
		DispatchID:    r.DispatchID,
		Entries:       r.EntriesMatched,
		ScriptsRun:    len(r.Executions),
		Succeeded:     r.Succeeded(),
		NonZeroExit:   r.NonZeroExits(),
		StartFailures: r.StartFailures(),
		Results:       make([]ScriptSummary, 0, len(r.Executions)),
	}
	for _, e := range r.Executions {
		s.Results = append(s.Results, e.summary())
	}
	return s
}

func (e Execution) summary() ScriptSummary {
	return ScriptSummary{
		Script:     e.Script,
		Path:       e.Result.ScriptPath,
		ExitCode:   e.Result.ExitCode,
		Stdout:     truncate(e.Result.Stdout),
		Stderr:     truncate(e.Result.Stderr),
		Error:      e.Result.FailureReason(),
		TimedOut:   e.Result.TimedOut,
		DurationMS: e.Result.Duration.Milliseconds(),
	}
}
