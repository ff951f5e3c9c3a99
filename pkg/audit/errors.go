package audit

import "fmt"

// StorageError represents an error from the ledger backend.
type StorageError struct {
	Backend   string // "sqlite", "memory"
	Operation string // "open", "append", "query", ...
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// QueryError represents an invalid ledger query.
type QueryError struct {
	Filter Filter
	Cause  error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("audit query error: %v", e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// NewQueryError creates a new QueryError.
func NewQueryError(filter Filter, cause error) *QueryError {
	return &QueryError{
		Filter: filter,
		Cause:  cause,
	}
}

// ExportError represents a failure while writing records out.
type ExportError struct {
	Format  string
	Written int
	Cause   error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	return fmt.Sprintf("audit export error [format=%s, written=%d]: %v", e.Format, e.Written, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

// NewExportError creates a new ExportError.
func NewExportError(format string, written int, cause error) *ExportError {
	return &ExportError{
		Format:  format,
		Written: written,
		Cause:   cause,
	}
}
