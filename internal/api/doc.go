// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/orgs/{org_id}/... for campaigns, runs, generated comments, Reddit
//     accounts and their posting queues.
//
// Every JSON response is wrapped in leadgen.Result.
package api
