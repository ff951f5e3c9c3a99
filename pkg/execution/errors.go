package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mercator-hq/warden/pkg/plan"
	"mercator-hq/warden/pkg/policy"
)

// ErrorKind is the stable classification of a failed or rejected request.
type ErrorKind string

const (
	KindNotAuthorized           ErrorKind = "not_authorized"
	KindMalformedPlan           ErrorKind = "malformed_plan"
	KindPolicyMissing           ErrorKind = "policy_missing"
	KindInvalidPolicy           ErrorKind = "invalid_policy"
	KindImpactThresholdExceeded ErrorKind = "impact_threshold_exceeded"
	KindTimeout                 ErrorKind = "timeout"
	KindCancelled               ErrorKind = "cancelled"
	KindDataStore               ErrorKind = "data_store"
	KindInternal                ErrorKind = "internal"
)

var (
	// ErrTimeout is matched by errors.Is for executions that exceeded their
	// timeout.
	ErrTimeout = errors.New("execution timed out")

	// ErrClosed is returned by Execute after Close.
	ErrClosed = errors.New("execution engine is closed")
)

// NotAuthorizedError reports a plan the decision does not permit.
type NotAuthorizedError struct {
	Verdict policy.Verdict
	Reason  string
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("not authorized (%s): %s", e.Verdict, e.Reason)
}

// ImpactThresholdExceededError reports a destructive operation whose measured
// row impact exceeded the configured threshold.
type ImpactThresholdExceededError struct {
	Operation    plan.Operation
	Table        string
	RowsAffected int64
	Threshold    int64
}

func (e *ImpactThresholdExceededError) Error() string {
	return fmt.Sprintf("%s on %s affected %d rows, above the threshold of %d",
		e.Operation, e.Table, e.RowsAffected, e.Threshold)
}

// DataStoreError wraps a failure from the governed database.
type DataStoreError struct {
	Operation string // begin, exec, query, scan, commit
	Transient bool
	Cause     error
}

func (e *DataStoreError) Error() string {
	return fmt.Sprintf("data store error [operation=%s, transient=%t]: %v", e.Operation, e.Transient, e.Cause)
}

func (e *DataStoreError) Unwrap() error {
	return e.Cause
}

func newDataStoreError(op string, cause error) *DataStoreError {
	return &DataStoreError{
		Operation: op,
		Transient: IsTransient(cause),
		Cause:     cause,
	}
}

// TimeoutError reports an execution that exceeded its timeout and was rolled
// back.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution exceeded timeout of %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// Classify maps an error to its ErrorKind.
func Classify(err error) ErrorKind {
	var (
		notAuthorized *NotAuthorizedError
		malformed     *plan.MalformedPlanError
		missing       *policy.PolicyMissingError
		invalid       *policy.ConfigError
		impact        *ImpactThresholdExceededError
		dataStore     *DataStoreError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &notAuthorized):
		return KindNotAuthorized
	case errors.As(err, &malformed):
		return KindMalformedPlan
	case errors.As(err, &missing):
		return KindPolicyMissing
	case errors.As(err, &invalid):
		return KindInvalidPolicy
	case errors.As(err, &impact):
		return KindImpactThresholdExceeded
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrClosed), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.As(err, &dataStore):
		return KindDataStore
	default:
		return KindInternal
	}
}
