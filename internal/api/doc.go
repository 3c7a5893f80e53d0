// Package api hosts the read-only HTTP surface for display clients. Notable routes:
//   - GET /api/v1/contests and /api/v1/meta serve the published snapshot.
//   - GET /images/{name} serves derived thumbnails from the blob store.
//   - POST /api/v1/refresh starts a build out of schedule.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus scraping.
package api
