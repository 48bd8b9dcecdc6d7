// Package api hosts the HTTP server, middleware, and handlers of the webhook
// service. Notable routes:
//   - POST /webhook accepts form submissions and upserts them into the CRM.
//   - GET /admin renders the submission log as an HTML table.
//   - GET /api/submissions returns the submission log as JSON.
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
package api
