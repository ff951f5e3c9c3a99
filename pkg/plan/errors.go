package plan

import "fmt"

// MalformedPlanError is returned when a plan violates the caller contract:
// a missing operation or table, an unknown operation, or an unusable filter
// or payload.
type MalformedPlanError struct {
	// Field names the offending part of the plan (e.g. "table", "filter[0]").
	Field string

	// Message describes the problem.
	Message string
}

// Error implements the error interface.
func (e *MalformedPlanError) Error() string {
	return fmt.Sprintf("malformed plan: %s: %s", e.Field, e.Message)
}

// NewMalformedPlanError creates a new MalformedPlanError.
func NewMalformedPlanError(field, message string) *MalformedPlanError {
	return &MalformedPlanError{
		Field:   field,
		Message: message,
	}
}
