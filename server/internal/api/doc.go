// Package api implements the relay's HTTP surface.
//
// New(opts) returns an http.Handler that serves:
//
//	GET /api/v1/health   bus state, cid, transport and client count; 503 while the bus is down
//	GET /api/v1/clients  connected WebSocket clients ordered by id
//	GET /api/v1/stats    relay counters (metrics.Stats)
//
// NewRouter puts it together with the other handlers. A request carrying a
// WebSocket upgrade goes to the hub regardless of its path; /metrics and /map
// are routed when configured; anything else is served from the static root.
//
// All /api/v1 endpoints respond with Content-Type: application/json and
// return a JSON 405 for non-GET methods.
package api
