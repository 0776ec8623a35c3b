// Package api hosts the status HTTP server. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes (readyz pings Postgres).
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{source} for per-source monitoring rows via the
//     MonitorRepository interface.
package api
