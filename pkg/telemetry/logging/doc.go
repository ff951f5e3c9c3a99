// Package logging builds the process logger and carries request-scoped
// fields through contexts.
//
// # Overview
//
//   - JSON or text output through log/slog
//   - Redaction of sensitive attribute keys and PII patterns in messages
//   - Request-scoped loggers carrying request_id, actor_id, role and trace_id
//
// # Usage
//
//	logger, err := logging.New(cfg.Telemetry.Logging, os.Stderr)
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, requestID)
//	ctx = logging.WithActor(ctx, actor.ID, actor.Role)
//	logging.FromContext(ctx, logger).Info("plan executed", "rows_affected", n)
//
// Components derive their own logger with
//
//	slog.Default().With("component", "execution.engine")
package logging
