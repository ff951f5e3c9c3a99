// Package service is the boundary the transport layers call into. It exposes
// four operations:
//
//   - Validate evaluates a plan and returns the Decision.
//   - Execute validates, conditionally executes, and records exactly one
//     audit record per call regardless of the outcome.
//   - QueryAudit reads the ledger, redacting internal failure detail for
//     non-admin actors.
//   - ReloadPolicy lets an admin replace the active policy document.
//
// The service owns no resources of its own; callers construct the policy
// store, engines and ledger and close them on shutdown.
package service
