// Package storage provides audit ledger backends.
//
// The SQLite backend is durable: a record is committed before Append returns
// and the next sequence id is kept in a counter row updated in the same
// transaction, so ids are never reused across restarts. Triggers reject
// UPDATE and DELETE on stored records.
//
// The memory backend keeps records in process and is intended for tests and
// ephemeral deployments.
//
// Both backends serve queries as lazy keyset-paginated sequences bounded by
// the highest sequence id at the time iteration starts.
package storage
