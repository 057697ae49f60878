// Package api implements the read-only HTTP REST API for collabhub-server.
//
// New(deps) returns an http.Handler that serves:
//
//	GET /api/v1/health           storage reachability and connection load; 503 when storage is down
//	GET /api/v1/stats            the dashboard:stats payload
//	GET /api/v1/users            users currently online or away
//	GET /api/v1/messages         history page: ?before=<RFC3339>&limit=<n>, newest first
//	GET /api/v1/polls            all polls, newest first
//	GET /api/v1/polls/{id}       single poll; 404 if unknown
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for non-GET methods
//   - Map domain errors to HTTP status and carry the same code as the
//     WebSocket error event
//
// Writes happen over the WebSocket hub only. No external HTTP framework is used.
package api
