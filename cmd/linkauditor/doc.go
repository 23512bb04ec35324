// Command linkauditor is the service entrypoint. It loads
// configuration via internal/config, builds every component through
// internal/app.Build, and runs until an interrupt or termination
// signal arrives.
//
// Configuration is read from an optional file (-config) layered under
// LINKAUDITOR_-prefixed environment variables; see internal/config for
// the full set of keys and their defaults.
//
// Routes exposed by the HTTP server:
//
//	POST /v1/batches                         submit a batch of (source_url, target_domain) pairs
//	GET  /v1/projects/{projectID}/events      subscribe to a project's event stream (SSE)
//	GET  /healthz, /readyz                    liveness and readiness probes
//	GET  /metrics                             Prometheus scrape endpoint
//
// The worker pool and recurring sheet scheduler run in the same
// process, started by internal/app.App.Run alongside the HTTP server.
package main
