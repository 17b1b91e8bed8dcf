// Package dispatch turns a sensor id into script executions.
//
// For each request the Dispatcher looks up every matching sensor entry and runs
// each configured script strictly in order: entries in document order, scripts
// in listed order. Every script is attempted regardless of how earlier ones
// fared. Each outcome is logged with the script's captured output.
//
// Outcome handling:
//   - Unknown sensor → success, zero scripts run
//   - Script could not start → logged at ERROR, next script runs
//   - Script exited non-zero → logged at WARN, next script runs
//   - Script exited zero → logged at INFO
//
// The default HTTP body is "Sensor: {id}" whatever the outcomes were; Summary
// exposes the per-script results for callers that opt in.
//
// Known limitation: there is no cancellation. A script that never exits keeps
// its request blocked unless the runner was built with a timeout.
package dispatch
