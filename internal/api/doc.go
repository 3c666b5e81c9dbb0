// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/ingest runs one search synchronously.
//   - POST /v1/jobs queues a search for the workers.
//   - GET /v1/runs and /v1/runs/{run_id} read the run ledger.
//   - GET /v1/quota reports the daily provider allowance.
package api
