// Package webhook exposes the sensor notification endpoint over HTTP.
//
// # Routes
//
//	POST {base}/sensor/{id}   run every script configured for {id}
//	GET  /healthz             liveness
//
// {base} defaults to /api/v1. The id is taken from the path verbatim (after a
// single percent-decoding pass) and used as the lookup key.
//
// # Responses
//
// The sensor route always answers 200. In plain mode the body is the text
// "Sensor: {id}" regardless of how many scripts ran or how they exited;
// outcomes are only visible in the server log. In summary mode, or when the
// request carries ?verbose=true, the body is a JSON dispatch summary.
//
// Requests are handled concurrently by net/http; the scripts for any single
// request run one after another inside its handler.
package webhook
