// Package api hosts the HTTP trigger surface. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs queues a run; POST /v1/runs/sync runs inline.
//   - GET /v1/runs/{run_id} and GET /v1/cursor for inspection.
package api
