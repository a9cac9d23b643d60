package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	queueIDKey   contextKey = "queue_id"
	stageKey     contextKey = "stage"
	workerIDKey  contextKey = "worker_id"
	requestIDKey contextKey = "request_id"
)

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithJobID annotates context with the job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	return withString(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, jobIDKey)
}

// WithQueueID annotates context with the queue item identifier.
func WithQueueID(ctx context.Context, id string) context.Context {
	return withString(ctx, queueIDKey, id)
}

// QueueIDFromContext extracts the queue item identifier if present.
func QueueIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, queueIDKey)
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, stageKey)
}

// WithWorkerID annotates context with the claiming worker.
func WithWorkerID(ctx context.Context, id string) context.Context {
	return withString(ctx, workerIDKey, id)
}

// WorkerIDFromContext returns the worker identifier if present.
func WorkerIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, workerIDKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}
