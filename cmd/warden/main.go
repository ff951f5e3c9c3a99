// Warden is a query governance and execution engine.
//
// Callers submit declarative query plans on behalf of an actor. Warden
// validates each plan against a versioned policy of role permissions and
// safety rules, executes approved plans against the governed database, and
// appends every decision and outcome to a tamper-evident audit ledger.
//
// Usage:
//
//	# Start the HTTP server
//	warden serve --config warden.yaml
//
//	# Validate a plan without executing it
//	warden validate --plan plan.json --actor alice --role analyst
//
//	# Execute a plan as a dry run
//	warden execute --plan plan.json --actor alice --role analyst --dry-run
//
//	# Query and verify the audit ledger
//	warden audit query --verdict deny --limit 20
//	warden audit verify
//
//	# Check a policy document
//	warden policy lint --file policy.yaml
package main

func main() {
	Execute()
}
