package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on Warden spans. Plan values and filter literals are
// never attached.
const (
	AttrRequestID = "warden.request_id"
	AttrActorID   = "warden.actor.id"
	AttrActorRole = "warden.actor.role"

	AttrOperation = "warden.plan.operation"
	AttrTable     = "warden.plan.table"

	AttrVerdict       = "warden.decision.verdict"
	AttrReason        = "warden.decision.reason"
	AttrOverride      = "warden.decision.override"
	AttrPolicyVersion = "warden.policy.version"

	AttrStatus       = "warden.outcome.status"
	AttrRowsAffected = "warden.outcome.rows_affected"
	AttrAttempts     = "warden.outcome.attempts"
	AttrDryRun       = "warden.dry_run"

	AttrAuditSeq = "warden.audit.seq"
)

// SetActorAttributes sets the request and actor attributes.
func SetActorAttributes(span trace.Span, requestID, actorID, role string) {
	span.SetAttributes(
		attribute.String(AttrRequestID, requestID),
		attribute.String(AttrActorID, actorID),
		attribute.String(AttrActorRole, role),
	)
}

// SetPlanAttributes sets the plan shape attributes.
func SetPlanAttributes(span trace.Span, operation, table string) {
	span.SetAttributes(
		attribute.String(AttrOperation, operation),
		attribute.String(AttrTable, table),
	)
}

// SetDecisionAttributes sets the decision attributes.
func SetDecisionAttributes(span trace.Span, verdict, reason string, override bool, policyVersion string) {
	span.SetAttributes(
		attribute.String(AttrVerdict, verdict),
		attribute.String(AttrReason, reason),
		attribute.Bool(AttrOverride, override),
		attribute.String(AttrPolicyVersion, policyVersion),
	)
}

// SetOutcomeAttributes sets the execution outcome attributes.
func SetOutcomeAttributes(span trace.Span, status string, rowsAffected int64, attempts int, dryRun bool) {
	span.SetAttributes(
		attribute.String(AttrStatus, status),
		attribute.Int64(AttrRowsAffected, rowsAffected),
		attribute.Int(AttrAttempts, attempts),
		attribute.Bool(AttrDryRun, dryRun),
	)
}
