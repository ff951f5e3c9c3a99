package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"mercator-hq/warden/pkg/audit"
	"mercator-hq/warden/pkg/audit/export"
	"mercator-hq/warden/pkg/execution"
	"mercator-hq/warden/pkg/plan"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/service"
	"mercator-hq/warden/pkg/validation"
)

// Service is the governance boundary the handlers call.
type Service interface {
	Validate(ctx context.Context, actor policy.Actor, p *plan.Plan) (validation.Decision, error)
	Execute(ctx context.Context, actor policy.Actor, p *plan.Plan, opts service.ExecuteOptions) (execution.Outcome, error)
	QueryAudit(ctx context.Context, actor policy.Actor, f audit.Filter) ([]*audit.Record, error)
	ReloadPolicy(ctx context.Context, actor policy.Actor, document []byte) error
	Schema() (*service.Schema, error)
	IsAdmin(actor policy.Actor) bool
}

// ValidateRequest is the body of POST /v1/validate.
type ValidateRequest struct {
	Plan *plan.Plan `json:"plan"`
}

// ExecuteRequest is the body of POST /v1/execute.
type ExecuteRequest struct {
	Plan          *plan.Plan `json:"plan"`
	DryRun        bool       `json:"dry_run"`
	Justification string     `json:"justification,omitempty"`
}

// ExecuteResponse carries the outcome, and the error for rejected and failed
// executions.
type ExecuteResponse struct {
	Outcome execution.Outcome `json:"outcome"`
	Error   *ErrorBody        `json:"error,omitempty"`
}

// AuditResponse is the JSON body of GET /v1/audit.
type AuditResponse struct {
	Records []*audit.Record `json:"records"`
	Count   int             `json:"count"`

	// NextAfterSeq resumes the query after the last returned record.
	NextAfterSeq int64 `json:"next_after_seq"`
}

// ReloadResponse is the body of a successful policy reload.
type ReloadResponse struct {
	Status        string `json:"status"`
	PolicyVersion string `json:"policy_version"`
}

type handlers struct {
	svc Service
}

func (h *handlers) actor(r *http.Request) policy.Actor {
	actor, _ := ActorFromContext(r.Context())
	return actor
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err, h.svc.IsAdmin(h.actor(r)))
	writeError(w, status, body)
}

// handleValidate handles POST /v1/validate. Every evaluated plan returns
// 200, including denials.
func (h *handlers) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	decision, err := h.svc.Validate(r.Context(), h.actor(r), req.Plan)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// handleExecute handles POST /v1/execute.
func (h *handlers) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	actor := h.actor(r)
	outcome, err := h.svc.Execute(r.Context(), actor, req.Plan, service.ExecuteOptions{
		DryRun:        req.DryRun,
		Justification: req.Justification,
	})
	if err != nil {
		status, body := classify(err, h.svc.IsAdmin(actor))
		if status >= 500 && !h.svc.IsAdmin(actor) {
			outcome.Error = body.Message
		}
		writeJSON(w, status, ExecuteResponse{Outcome: outcome, Error: &body})
		return
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{Outcome: outcome})
}

// handleAudit handles GET /v1/audit.
func (h *handlers) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := parseFilter(q)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	records, err := h.svc.QueryAudit(r.Context(), h.actor(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	format := q.Get("format")
	if format == "" || format == "json" {
		resp := AuditResponse{Records: records, Count: len(records), NextAfterSeq: filter.AfterSeq}
		if n := len(records); n > 0 {
			resp.NextAfterSeq = records[n-1].Seq
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	exporter, err := export.New(export.Format(format))
	if err != nil {
		h.fail(w, r, badRequest(err.Error()))
		return
	}
	w.Header().Set("Content-Type", contentType(export.Format(format)))
	w.WriteHeader(http.StatusOK)
	// Headers are already sent; a write failure only reaches the log.
	_, _ = exporter.Export(r.Context(), sliceSeq(records), w)
}

// handleReloadPolicy handles PUT /v1/admin/policy. The body is the raw YAML
// document.
func (h *handlers) handleReloadPolicy(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(r.Body)
	if err != nil {
		h.fail(w, r, badRequest(fmt.Sprintf("failed to read body: %v", err)))
		return
	}
	if len(bytes.TrimSpace(doc)) == 0 {
		h.fail(w, r, badRequest("policy document is empty"))
		return
	}

	if err := h.svc.ReloadPolicy(r.Context(), h.actor(r), doc); err != nil {
		h.fail(w, r, err)
		return
	}

	resp := ReloadResponse{Status: "reloaded"}
	if schema, err := h.svc.Schema(); err == nil {
		resp.PolicyVersion = schema.PolicyVersion
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSchema handles GET /v1/schema.
func (h *handlers) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.svc.Schema()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return badRequest(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		}
		return badRequest(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// parseFilter builds an audit filter from query parameters. Times are
// RFC 3339.
func parseFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		ActorID: q.Get("actor_id"),
		Role:    q.Get("role"),
		Status:  execution.Status(q.Get("status")),
		Kind:    audit.Kind(q.Get("kind")),
	}

	if v := q.Get("verdict"); v != "" {
		f.Verdict = policy.Verdict(v)
		if parsed, ok := policy.ParseVerdict(v); ok {
			f.Verdict = parsed
		}
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"since", &f.Since},
		{"until", &f.Until},
	} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, badRequest(fmt.Sprintf("invalid %s: %v", p.name, err))
			}
			*p.dst = &t
		}
	}

	if v := q.Get("after_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, badRequest(fmt.Sprintf("invalid after_seq: %v", err))
		}
		f.AfterSeq = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, badRequest(fmt.Sprintf("invalid limit: %v", err))
		}
		f.Limit = n
	}
	return f, nil
}

func sliceSeq(records []*audit.Record) iter.Seq2[*audit.Record, error] {
	return func(yield func(*audit.Record, error) bool) {
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func contentType(f export.Format) string {
	switch f {
	case export.FormatCSV:
		return "text/csv"
	case export.FormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}
