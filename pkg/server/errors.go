package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"mercator-hq/warden/pkg/audit"
	"mercator-hq/warden/pkg/execution"
	"mercator-hq/warden/pkg/plan"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/service"
)

const (
	kindBadRequest       = "bad_request"
	kindUnauthenticated  = "unauthenticated"
	kindInvalidQuery     = "invalid_query"
	kindAuditWriteFailed = "audit_write_failed"
	kindInternal         = string(execution.KindInternal)

	genericFailure = "an internal error occurred"
)

// ErrorBody is the error detail returned to clients.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse wraps ErrorBody for endpoints that return nothing else.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// requestError reports a request the transport could not decode.
type requestError struct {
	msg string
}

func (e *requestError) Error() string {
	return e.msg
}

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

// classify maps a service error to an HTTP status and a client-safe body.
// Internal detail is shown to admin actors only.
func classify(err error, admin bool) (int, ErrorBody) {
	var (
		reqErr        *requestError
		auditErr      *service.AuditWriteError
		malformed     *plan.MalformedPlanError
		notAuthorized *execution.NotAuthorizedError
		impact        *execution.ImpactThresholdExceededError
		configErr     *policy.ConfigError
		queryErr      *audit.QueryError
	)

	body := ErrorBody{Kind: string(execution.Classify(err)), Message: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &reqErr):
		status, body.Kind = http.StatusBadRequest, kindBadRequest
	case errors.As(err, &auditErr):
		status, body.Kind = http.StatusInternalServerError, kindAuditWriteFailed
	case errors.As(err, &malformed):
		status = http.StatusBadRequest
	case errors.As(err, &queryErr):
		status, body.Kind = http.StatusBadRequest, kindInvalidQuery
	case errors.As(err, &notAuthorized):
		status = http.StatusForbidden
	case errors.As(err, &impact):
		status = http.StatusConflict
	case errors.As(err, &configErr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, policy.ErrPolicyMissing):
		status = http.StatusServiceUnavailable
	default:
		switch execution.ErrorKind(body.Kind) {
		case execution.KindTimeout:
			status = http.StatusGatewayTimeout
		case execution.KindCancelled:
			status = http.StatusServiceUnavailable
		}
	}

	if status >= 500 && !admin {
		body.Message = genericFailure
	}
	return status, body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body ErrorBody) {
	writeJSON(w, status, ErrorResponse{Error: body})
}
