package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	providerKey  contextKey = "provider"
	requestIDKey contextKey = "request_id"
)

// WithJobID stores a job identifier in the context for structured logging.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier when present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(jobIDKey).(string)
	return id, ok && id != ""
}

// WithProvider stores the active provider name in the context.
func WithProvider(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, providerKey, name)
}

// ProviderFromContext extracts the active provider name when present.
func ProviderFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(providerKey).(string)
	return name, ok && name != ""
}

// WithRequestID stores an API correlation identifier in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier when present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}
