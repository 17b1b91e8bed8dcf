// Package runner executes configured scripts as child processes.
//
// A ScriptRunner spawns exactly one process per Run call and blocks until it
// terminates or fails to start. Output is captured in full.
//
// Outcomes are data, not errors:
//   - Process ran, any exit code → Result.Started() is true, ExitCode set
//   - Process could not be launched → Result.StartErr set, FailureReason() describes it
//
// ShellRunner passes the configured string to "sh -c", so arguments and
// pipelines embedded in the configuration are honoured. In that mode the shell
// itself always starts; statuses 126 (not executable) and 127 (not found) are
// therefore reported as start failures. ArgvRunner splits on whitespace and
// executes the first word directly with no shell interpretation.
//
// No timeout is applied unless Timeout is set. When it is, the process gets
// SIGTERM, then SIGKILL after a 5 second grace period.
package runner
