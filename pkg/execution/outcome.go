package execution

// Status is the result of attempting to execute a plan.
type Status string

const (
	StatusExecuted Status = "executed"
	StatusDryRun   Status = "dry-run-simulated"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Outcome reports what happened to a plan.
type Outcome struct {
	// Status is executed, dry-run-simulated, rejected or failed.
	Status Status `json:"status"`

	// RowsAffected is the measured row impact. For dry runs it is the impact
	// the plan would have had.
	RowsAffected int64 `json:"rows_affected"`

	// Rows holds the rows returned by a real read, capped at the configured
	// maximum. Rows are never written to the audit ledger.
	Rows []map[string]any `json:"rows,omitempty"`

	// Truncated reports that the read matched more rows than were returned.
	Truncated bool `json:"truncated,omitempty"`

	// ErrorKind classifies the failure for rejected and failed outcomes.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// Error is the failure detail.
	Error string `json:"error,omitempty"`

	// Attempts is the number of transactions started.
	Attempts int `json:"attempts,omitempty"`
}

// Succeeded reports whether the plan ran to completion.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusExecuted || o.Status == StatusDryRun
}

// WithoutRows returns a copy without returned row data, suitable for the
// audit ledger.
func (o Outcome) WithoutRows() Outcome {
	o.Rows = nil
	return o
}

// Rejected builds the outcome for a plan that never reached the data store.
func Rejected(err error) Outcome {
	return Outcome{
		Status:    StatusRejected,
		ErrorKind: Classify(err),
		Error:     err.Error(),
	}
}

func failed(err error, attempts int) Outcome {
	return Outcome{
		Status:    StatusFailed,
		ErrorKind: Classify(err),
		Error:     err.Error(),
		Attempts:  attempts,
	}
}
