// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - POST /api/crawl runs one crawl attempt and returns the stored record.
//   - GET /api/pages and /api/pages/{id} read the record store.
//   - GET /api/events streams page_crawled notifications as Server-Sent Events.
//   - GET /api/health, /healthz, /readyz and /metrics for probes and scraping.
package api
