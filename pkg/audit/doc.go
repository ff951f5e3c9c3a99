// Package audit defines the append-only audit ledger.
//
// Every execute call, every recorded validate call and every policy reload
// produces exactly one Record. The ledger assigns each record a sequence id
// that is strictly greater than every id issued before it, including across
// restarts, and seals the record with a SHA-256 hash of its canonical JSON
// encoding. Records are never updated or deleted; corrections are new
// records.
//
// Storage backends live in the storage subpackage. The verify subpackage
// recomputes hashes and checks sequence order.
package audit
