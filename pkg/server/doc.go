// Package server exposes the governance service over HTTP.
//
// The server maps JSON requests onto the service operations and errors onto
// HTTP status codes. Routing uses chi. Caller identity is taken from two
// headers set by the upstream gateway (X-Actor-ID and X-Actor-Role by
// default); the server performs no authentication of its own.
//
// # Routes
//
//   - POST /v1/validate - evaluate a plan and return the Decision
//   - POST /v1/execute - validate and execute (or dry-run) a plan
//   - GET /v1/audit - query the audit ledger; format=json|ndjson|csv
//   - GET /v1/schema - table metadata declared by the active policy
//   - PUT /v1/admin/policy - replace the active policy document (admin only)
//   - GET /health - readiness (ledger, data store, policy)
//   - GET /health/live - liveness
//   - GET /metrics - Prometheus metrics, when enabled
//
// # Middleware Chain
//
// Requests pass through the following middleware (outermost first):
//  1. Recovery: recovers from panics and returns 500
//  2. RequestID: reads or generates X-Request-ID
//  3. Tracing: extracts the incoming trace context
//  4. Logging: logs request completion
//  5. Actor: resolves the caller identity (/v1 routes only)
//  6. BodyLimit: caps request bodies (/v1 routes only)
//
// # Graceful Shutdown
//
// Start blocks until its context is cancelled, then drains connections for
// up to server.shutdown_timeout. Signal handling belongs to the caller.
package server
