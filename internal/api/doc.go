// Package api implements the labdash relay server: a small REST API over the
// device registry and the relay WebSocket that dashboards stream from.
//
// This package provides:
//   - GET /api/v1/health and /api/v1/metrics
//   - Paginated device listing and manual registration
//   - Latest and historical sensor frames per device
//   - The access audit trail (/api/v1/audit) when a repository is wired
//   - The relay WebSocket hub (/api/v1/ws) carrying sensorData/<id>,
//     command-response/<id> and history/<id> channels, device fetches,
//     history pages and actuator commands
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// When security.jwt.secret is set, the REST routes and the WebSocket require
// an HS256 bearer token, sent in the Authorization header or, for browsers
// that cannot set headers on a WebSocket handshake, as the token query
// parameter. An empty secret leaves the server open for bench use.
//
// # Graceful Degradation
//
// The server runs without an upstream broker. Reads and streaming keep
// working; commands are recorded as FAILED and reported to the sender.
package api
