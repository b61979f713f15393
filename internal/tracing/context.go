package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// SessionIDKey is the context key for session ID
	SessionIDKey ContextKey = "session_id"
	// InstanceIDKey is the context key for pooled instance ID
	InstanceIDKey ContextKey = "instance_id"
)

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithInstanceID adds an instance ID to the context
func WithInstanceID(ctx context.Context, instanceID string) context.Context {
	return context.WithValue(ctx, InstanceIDKey, instanceID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

// GetInstanceID retrieves the instance ID from the context
func GetInstanceID(ctx context.Context) string {
	if instanceID, ok := ctx.Value(InstanceIDKey).(string); ok {
		return instanceID
	}
	return ""
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	if traceID := GetTraceID(ctx); traceID != "" {
		baseLogger = baseLogger.With().Str("trace_id", traceID).Logger()
	}
	if sessionID := GetSessionID(ctx); sessionID != "" {
		baseLogger = baseLogger.With().Str("session_id", sessionID).Logger()
	}
	if instanceID := GetInstanceID(ctx); instanceID != "" {
		baseLogger = baseLogger.With().Str("instance_id", instanceID).Logger()
	}
	return baseLogger
}
