package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"finalcut/internal/logging"
	"finalcut/internal/queue"
)

// jobLogHandler persists Info and above records as job log rows so the API
// and CLI can show per-job history.
type jobLogHandler struct {
	repo  Repository
	jobID string
	stage queue.Stage
	attrs []slog.Attr
}

func newJobLogHandler(repo Repository, jobID string, st queue.Stage) slog.Handler {
	return &jobLogHandler{repo: repo, jobID: jobID, stage: st}
}

func (h *jobLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (h *jobLogHandler) Handle(ctx context.Context, record slog.Record) error {
	var detail []string
	collect := func(a slog.Attr) bool {
		switch a.Key {
		case "error", "reason", "next_stage", logging.FieldErrorCategory:
			if v := strings.TrimSpace(a.Value.String()); v != "" {
				detail = append(detail, fmt.Sprintf("%s=%s", a.Key, v))
			}
		}
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	record.Attrs(collect)

	message := record.Message
	if len(detail) > 0 {
		message += " (" + strings.Join(detail, ", ") + ")"
	}
	return h.repo.AddLog(context.WithoutCancel(ctx), queue.LogEntry{
		JobID:   h.jobID,
		Stage:   h.stage,
		Level:   strings.ToLower(record.Level.String()),
		Message: message,
	})
}

func (h *jobLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *jobLogHandler) WithGroup(string) slog.Handler { return h }
