// Package tracing provides OpenTelemetry tracing for Warden.
//
// When enabled, spans are exported over OTLP gRPC and W3C Trace Context is
// propagated from incoming HTTP requests. When disabled, a noop tracer is
// used and span creation costs almost nothing.
//
// Span names used by the service:
//
//	warden.validate
//	warden.execute
//	warden.audit.query
//	warden.policy.reload
//
// # Sampling Strategies
//
//   - always: sample all traces
//   - never: sample no traces
//   - ratio: sample a fraction of traces by trace ID
//
// All samplers respect the parent span's decision.
package tracing
