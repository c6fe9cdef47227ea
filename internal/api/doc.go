// Package api hosts the HTTP server, middleware, and handlers for the
// content brief service. Notable routes:
//   - POST /jobs to submit a topic, GET /jobs/{id} to poll it.
//   - GET /jobs/{id}/stream for server-sent progress events.
//   - GET /jobs/{id}/report for the rendered HTML artifact.
//   - GET /health, /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - /api/content-brief/... aliases that accept {"keyword": ...}.
package api
