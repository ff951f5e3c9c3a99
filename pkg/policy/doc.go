// Package policy provides the governance policy model and the store that
// holds the active policy.
//
// A policy document declares roles, optional table metadata, a permission
// matrix and an ordered list of safety rules:
//
//	version: "2025-01"
//	roles: [clinician, analyst, admin]
//	tables:
//	  Patient: {columns: [id, mrn, dob, gender], sensitive: [mrn]}
//	permissions:
//	  clinician:
//	    Encounter: {read: allow}
//	  analyst:
//	    Patient:
//	      read: allow
//	      update: {verdict: allow, columns: [gender, dob]}
//	  admin:
//	    "*": {read: allow, delete: require-justification}
//	safety_rules:
//	  - name: no-unfiltered-writes
//	    deny_without_filter: {operations: [delete, update]}
//	  - name: bulk-update-approval
//	    max_rows_without_justification: {threshold: 100}
//
// # Safety Rules
//
// Rules are a closed set of variants, each with parameters:
//
//   - deny_without_filter{operations}: deny writes that carry no filter
//   - max_rows_without_justification{threshold, operations}: require justification above a row estimate
//   - max_rows{threshold, operations}: deny above a row estimate
//   - deny_sensitive_columns{exempt_roles}: deny references to sensitive columns
//   - deny_operations{operations}: deny the listed operations
//   - require_justification{operations}: require justification for the listed operations
//
// Every rule also accepts a "tables" list and "exempt_roles".
//
// # Store
//
// Store keeps the active policy behind an atomic pointer. Current never
// blocks and always returns a complete snapshot; Replace validates before
// swapping so a bad document never becomes active:
//
//	store := policy.NewStore()
//	if _, err := store.Reload(ctx, src); err != nil {
//	    var cfgErr *policy.ConfigError
//	    if errors.As(err, &cfgErr) { ... }
//	}
//	p, err := store.Current()
package policy
