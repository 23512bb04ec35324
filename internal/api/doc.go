// Package api hosts the HTTP server, middleware, and ingress routes.
// Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/batches for enqueuing a batch of (source_url, target_domain) pairs.
//   - GET /v1/projects/{projectID}/events for a Server-Sent-Events subscription.
package api
