// Package logging builds the zap loggers used across patchd.
//
// Loggers write JSON (or console) lines to stderr so that command output on
// stdout stays machine-readable, optionally tee to an OpenTelemetry log
// provider, redact sensitive fields and sample high-volume levels. Errors
// are never sampled.
//
// Context-aware methods add correlation fields taken from the context:
// trace and span ids, the HTTP request id, and the plan and task envelope
// ids of the patch being applied.
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	ctx = logging.WithPlanID(ctx, plan.ID)
//	logger.Info(ctx, "plan applied", zap.Int("operations", n))
package logging
