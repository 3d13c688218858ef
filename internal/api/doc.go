// Package api hosts the status HTTP server. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id} for harvest run progress, read
//     through the store.RunRepository interface.
package api
