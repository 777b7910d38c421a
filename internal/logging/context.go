package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data riders attach to a context:
// trace/span IDs, and the conversation/session ID the ingester or
// search engine is currently operating on.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if conversationID := ConversationIDFromContext(ctx); conversationID != "" {
		fields = append(fields, zap.String("conversation_id", conversationID))
	}

	return fields
}

type conversationCtxKey struct{}

// ConversationIDFromContext extracts the conversation ID a pipeline
// stage is currently processing, for correlating its log lines.
func ConversationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(conversationCtxKey{}).(string); ok {
		return id
	}
	return ""
}

// WithConversationID tags ctx with the conversation ID being processed.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationCtxKey{}, conversationID)
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from context, or a no-op logger if absent.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
