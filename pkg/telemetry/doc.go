// Package telemetry groups Warden's observability packages.
//
//   - logging: slog construction, redaction and request-scoped fields
//   - metrics: Prometheus collectors for decisions, executions, the ledger
//     and policy reloads
//   - tracing: OpenTelemetry spans exported over OTLP gRPC
//   - health: liveness and readiness checks
//
// Each package is configured from the telemetry section of the config file
// and is wired together by the serve command.
package telemetry
