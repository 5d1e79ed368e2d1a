// Package logging provides structured logging for implflow.
//
// Logger wraps zap with context-first methods. Every entry picks up the
// correlation fields stored on the context (trace and span ids, workflow
// session id, task reference, phase), so a session can be followed across
// the CLI, the HTTP API, the MCP server and Temporal activities.
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	ctx = logging.WithSession(ctx, session.ID, string(session.Task))
//	logger.Info(ctx, "gate answered", zap.String("gate", "plan-approval"))
//
// Output goes to stdout and, when a log provider is supplied, to
// OpenTelemetry through the otelzap bridge. Field names such as token, pat
// and password are redacted by the encoder; use Secret for config.Secret
// values. Errors are never sampled.
package logging
