package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for a single agent run
	RunIDKey ContextKey = "run_id"
	// SessionKeyKey is the context key for the conversation session key
	SessionKeyKey ContextKey = "session_key"
	// PersonaKey is the context key for the persona serving the session
	PersonaKey ContextKey = "persona"
	// RoomKey is the context key for the transport room (websocket client or console)
	RoomKey ContextKey = "room"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID    string
	RunID      string
	SessionKey string
	Persona    string
	Room       string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(orBackground(ctx), TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(orBackground(ctx), RunIDKey, runID)
}

// WithSessionKey adds a session key to the context
func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(orBackground(ctx), SessionKeyKey, sessionKey)
}

// WithPersona adds the persona id to the context
func WithPersona(ctx context.Context, persona string) context.Context {
	return context.WithValue(orBackground(ctx), PersonaKey, persona)
}

// WithRoom adds the room name to the context
func WithRoom(ctx context.Context, room string) context.Context {
	return context.WithValue(orBackground(ctx), RoomKey, room)
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	return stringValue(ctx, RunIDKey)
}

// GetSessionKey retrieves the session key from the context
func GetSessionKey(ctx context.Context) string {
	return stringValue(ctx, SessionKeyKey)
}

// GetPersona retrieves the persona id from the context
func GetPersona(ctx context.Context) string {
	return stringValue(ctx, PersonaKey)
}

// GetRoom retrieves the room name from the context
func GetRoom(ctx context.Context) string {
	return stringValue(ctx, RoomKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:    GetTraceID(ctx),
		RunID:      GetRunID(ctx),
		SessionKey: GetSessionKey(ctx),
		Persona:    GetPersona(ctx),
		Room:       GetRoom(ctx),
	}
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewCallContext tags a context with everything known about a call at session start.
func NewCallContext(ctx context.Context, sessionKey, persona, room string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = NewRequestContext(ctx)
	}
	ctx = WithSessionKey(ctx, sessionKey)
	ctx = WithPersona(ctx, persona)
	if room != "" {
		ctx = WithRoom(ctx, room)
	}
	return ctx
}
