// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to submit a crawl for a city, state and category list.
//   - GET /v1/jobs/{job_id} to read a job's status and counters.
package api
