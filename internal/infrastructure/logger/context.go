package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
	companyKey   contextKey = "company"
	subjectKey   contextKey = "subject"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context. Falls back to a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID stores the request id and returns the enriched logger
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	enriched := logger.With(zap.String("request_id", requestID))
	return WithContext(ctx, enriched), enriched
}

// WithCompany stores the authenticated company and returns the enriched logger
func WithCompany(ctx context.Context, logger *zap.Logger, company string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, companyKey, company)
	enriched := logger.With(zap.String("company", company))
	return WithContext(ctx, enriched), enriched
}

// WithSubject stores the token subject (user or system caller)
func WithSubject(ctx context.Context, logger *zap.Logger, subject string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, subjectKey, subject)
	enriched := logger.With(zap.String("subject", subject))
	return WithContext(ctx, enriched), enriched
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// GetCompany retrieves the company from context
func GetCompany(ctx context.Context) string {
	v, _ := ctx.Value(companyKey).(string)
	return v
}

// GetSubject retrieves the token subject from context
func GetSubject(ctx context.Context) string {
	v, _ := ctx.Value(subjectKey).(string)
	return v
}

// WithTraceContext adds trace_id and span_id from the active span.
// Without a valid span the logger is returned unchanged.
func WithTraceContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		zap.String("trace_id", spanCtx.TraceID().String()),
		zap.String("span_id", spanCtx.SpanID().String()),
	)
}

// L returns the context logger correlated with the active span.
// Usage: logger.L(ctx).Info("message", zap.String("key", "value"))
func L(ctx context.Context) *zap.Logger {
	return WithTraceContext(ctx, FromContext(ctx))
}

// For returns fallback correlated with the active span, unless the context
// carries a request-scoped logger, which wins.
func For(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return WithTraceContext(ctx, l)
	}
	return WithTraceContext(ctx, fallback)
}
