/*
Package plan defines the structured representation of a proposed database
operation.

A Plan is produced upstream (by an interpretation service that turns a
natural-language request into structured intent) and is consumed read-only by
the validation and execution engines. Plans are value objects: callers build
them once and the governance core never mutates them.

	p := plan.Plan{
		Operation: plan.OpUpdate,
		Table:     "Patient",
		Values:    map[string]any{"deidentified": 1},
		Filter:    plan.MustParseFilter("gender = 'F'"),
	}
	if err := p.Validate(); err != nil {
		// *plan.MalformedPlanError
	}

Filters are conjunctions of simple column comparisons. They can be supplied
either as structured conditions or as a compact string form
("mrn = 'MRN001' AND dob >= '1980-01-01'") which is parsed by ParseFilter.
*/
package plan
