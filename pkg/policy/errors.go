package policy

import (
	"fmt"
)

// ConfigError reports a malformed or internally inconsistent policy document.
// A reload that fails with a ConfigError leaves the active policy in place.
type ConfigError struct {
	// Field is the path to the offending element (e.g. "permissions.analyst.Patient.update").
	Field string

	// Message describes the problem.
	Message string

	// Cause is the underlying parser error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := "policy config error"
	if e.Field != "" {
		msg += " at " + e.Field
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements the errors.Unwrap interface for error chain support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

func configErrorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PolicyMissingError is returned when no policy has been loaded yet.
type PolicyMissingError struct{}

// Error implements the error interface.
func (e *PolicyMissingError) Error() string {
	return "no policy loaded"
}

// ErrPolicyMissing is the sentinel returned by Store.Current before the first
// successful load.
var ErrPolicyMissing = &PolicyMissingError{}
