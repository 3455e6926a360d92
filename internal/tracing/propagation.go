package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	c := logger.With()
	if tc.TraceID != "" {
		c = c.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		c = c.Str("run_id", tc.RunID)
	}
	if tc.SessionKey != "" {
		c = c.Str("session_key", tc.SessionKey)
	}
	if tc.Persona != "" {
		c = c.Str("persona", tc.Persona)
	}
	if tc.Room != "" {
		c = c.Str("room", tc.Room)
	}
	return c.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// Detach returns a background context carrying the same tracing values.
// Used for work that must outlive the request, such as persisting a turn after the client hung up.
func Detach(ctx context.Context) context.Context {
	tc := FromContext(ctx)
	out := context.Background()
	if tc.TraceID != "" {
		out = WithTraceID(out, tc.TraceID)
	}
	if tc.RunID != "" {
		out = WithRunID(out, tc.RunID)
	}
	if tc.SessionKey != "" {
		out = WithSessionKey(out, tc.SessionKey)
	}
	if tc.Persona != "" {
		out = WithPersona(out, tc.Persona)
	}
	if tc.Room != "" {
		out = WithRoom(out, tc.Room)
	}
	return out
}
