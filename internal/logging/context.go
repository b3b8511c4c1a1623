package logging

import (
	"context"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.@:-]+$`)

type (
	requestCtxKey   struct{}
	userCtxKey      struct{}
	operationCtxKey struct{}
	loggerCtxKey    struct{}
)

// ValidateID reports whether id is usable as a correlation identifier.
// User IDs arriving over HTTP are checked with it before they reach a log
// line or a storage key.
func ValidateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds maximum length of %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters: %q", name, id)
	}
	return nil
}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id := UserIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("user.id", id))
	}
	if id := OperationIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("operation.id", id))
	}
	return fields
}

func withID(ctx context.Context, key any, id string) context.Context {
	if ValidateID(id, "id") != nil {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key any) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// WithRequestID attaches a request ID. Invalid IDs are ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestCtxKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string { return idFrom(ctx, requestCtxKey{}) }

// WithUserID attaches the conversation owner. Invalid IDs are ignored.
func WithUserID(ctx context.Context, id string) context.Context {
	return withID(ctx, userCtxKey{}, id)
}

func UserIDFromContext(ctx context.Context) string { return idFrom(ctx, userCtxKey{}) }

// WithOperationID attaches an async ingestion operation ID.
func WithOperationID(ctx context.Context, id string) context.Context {
	return withID(ctx, operationCtxKey{}, id)
}

func OperationIDFromContext(ctx context.Context) string { return idFrom(ctx, operationCtxKey{}) }

// WithLogger stores a logger in ctx.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, l)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
