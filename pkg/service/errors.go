package service

import (
	"fmt"

	"mercator-hq/warden/pkg/audit"
)

// AuditWriteError reports that a request was processed but its audit record
// could not be persisted.
type AuditWriteError struct {
	Kind  audit.Kind
	Cause error
}

// Error implements the error interface.
func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit write failed [kind=%s]: %v", e.Kind, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *AuditWriteError) Unwrap() error {
	return e.Cause
}

// NewAuditWriteError creates a new AuditWriteError.
func NewAuditWriteError(kind audit.Kind, cause error) *AuditWriteError {
	return &AuditWriteError{
		Kind:  kind,
		Cause: cause,
	}
}
