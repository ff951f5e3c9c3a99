// Package verify checks the integrity of an audit ledger.
//
// Verification walks every stored entry in sequence order and checks that
//
//   - the stored hash matches the SHA-256 of the stored payload,
//   - the sequence id inside the payload matches the stored one,
//   - sequence ids strictly increase without gaps.
//
// A Scheduler runs verification on a cron schedule and logs any problems
// found. The audit verify command runs it once on demand.
package verify
