// Package export writes audit records out for offline review.
//
// Exporters consume the lazy sequences returned by audit.Ledger.Query, so a
// full ledger export never holds more than one page of records in memory.
//
// Supported formats:
//
//   - json:   a single JSON array
//   - ndjson: one JSON object per line
//   - csv:    flattened rows with a header
package export
