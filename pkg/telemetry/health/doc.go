// Package health provides liveness and readiness checks.
//
// Components register named checks; readiness runs them concurrently, each
// bounded by the check timeout. Warden registers:
//
//   - ledger: the audit ledger answers a ping
//   - datastore: the governed database answers a ping
//   - policy: a policy has been loaded
//
// GET /health returns 200 when every check passes and 503 otherwise.
package health
