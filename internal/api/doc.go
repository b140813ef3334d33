// Package api hosts the HTTP server, middleware, and REST handlers for the
// archiver. Notable routes:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - GET /v1/auth/status for the caller's resolved identity.
//   - /v1/captures for synchronous and queued captures, listing, download
//     links, hash verification and admin deletion.
//   - /v1/schedules for recurring capture definitions and manual runs.
package api
