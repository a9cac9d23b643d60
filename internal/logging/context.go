package logging

import (
	"context"
	"log/slog"

	"finalcut/internal/services"
)

// Field keys shared by every component. The console handler lifts the
// component, job, stage and chunk fields into the line prefix.
const (
	FieldComponent     = "component"
	FieldJobID         = "job_id"
	FieldQueueID       = "queue_id"
	FieldStage         = "stage"
	FieldChunkIndex    = "chunk_index" // zero-based
	FieldWorkerID      = "worker_id"
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a line for filtering, e.g. job_claimed or stage_failed.
	FieldEventType = "event_type"
	// FieldErrorHint carries an operator-facing next step on warnings and errors.
	FieldErrorHint     = "error_hint"
	FieldErrorCategory = "error_category"
	// FieldAlert marks anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields returns the id attributes carried by ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if id, ok := services.QueueIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldQueueID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if worker, ok := services.WorkerIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWorkerID, worker))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns logger annotated with ContextFields(ctx).
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
