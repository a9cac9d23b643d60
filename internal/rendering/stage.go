package rendering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"finalcut/internal/config"
	"finalcut/internal/logging"
	"finalcut/internal/queue"
	"finalcut/internal/rendertimeline"
	"finalcut/internal/services"
	"finalcut/internal/stage"
	"finalcut/internal/storage"
)

// Repository persists the render id while polling.
type Repository interface {
	UpdateJob(ctx context.Context, id string, update queue.JobUpdate) error
}

// Option customises a Handler.
type Option func(*Handler)

// WithPollInterval overrides the status poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.poll = d
		}
	}
}

// Handler is the render_video stage handler.
type Handler struct {
	repo       Repository
	backend    Backend
	store      storage.Store
	poll       time.Duration
	quality    string
	resolution string
	defaultFPS float64
	logger     *slog.Logger
}

// New wires the render stage.
func New(cfg *config.Config, repo Repository, backend Backend, store storage.Store, logger *slog.Logger, opts ...Option) *Handler {
	poll := time.Duration(cfg.Render.PollIntervalSeconds) * time.Second
	if poll <= 0 {
		poll = 10 * time.Second
	}
	h := &Handler{
		repo:       repo,
		backend:    backend,
		store:      store,
		poll:       poll,
		quality:    cfg.Render.Quality,
		resolution: cfg.Render.Resolution,
		defaultFPS: cfg.Render.DefaultFPS,
		logger:     logging.NewComponentLogger(logger, "rendering"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Stage implements stage.Handler.
func (h *Handler) Stage() queue.Stage { return queue.StageRenderVideo }

// Prepare checks the job has something to render and a stored source.
func (h *Handler) Prepare(_ context.Context, req *stage.Request) error {
	if _, err := stage.DecodePayload[queue.RenderPayload](req.Item); err != nil {
		return err
	}
	result := req.Job.Result
	if result.Timeline.Empty() {
		return services.Wrap(services.ErrValidation, string(h.Stage()), "prepare", "Timeline keeps nothing; there is nothing to render", nil)
	}
	if result.Upload == nil || result.Upload.StorageKey == "" {
		return services.Wrap(services.ErrValidation, string(h.Stage()), "prepare", "Source video was never stored", nil)
	}
	return nil
}

// Execute submits the render (or resumes an in-flight one) and waits for it.
func (h *Handler) Execute(ctx context.Context, req *stage.Request) (stage.Outcome, error) {
	logger := logging.WithContext(ctx, h.logger)
	payload, err := stage.DecodePayload[queue.RenderPayload](req.Item)
	if err != nil {
		return stage.Outcome{}, err
	}
	fps := h.frameRate(req.Job, payload)
	clips, err := rendertimeline.Build(req.Job.Result.Timeline.RenderInstructions.Keeps, fps)
	if err != nil {
		if errors.Is(err, rendertimeline.ErrDiscontinuity) {
			return stage.Outcome{}, services.Wrap(services.ErrSystem, string(h.Stage()), "build clips", "", err)
		}
		return stage.Outcome{}, services.Wrap(services.ErrValidation, string(h.Stage()), "build clips", "", err)
	}
	result := &queue.RenderResult{
		Clips:    len(clips),
		Duration: rendertimeline.TotalLength(clips),
		FPS:      fps,
	}

	if prev := req.Job.Result.Render; prev != nil && prev.RenderID != "" && (prev.State == StateQueued || prev.State == StateProcessing) {
		result.RenderID = prev.RenderID
		logger.Info("resuming render",
			logging.String(logging.FieldEventType, "render_resumed"),
			logging.String("render_id", prev.RenderID),
		)
	} else {
		sourceURL, err := h.store.URL(ctx, req.Job.Result.Upload.StorageKey)
		if err != nil {
			return stage.Outcome{}, services.Wrap(services.ErrUpload, string(h.Stage()), "source url", "", err)
		}
		id, err := h.backend.Submit(ctx, Request{
			SourceVideoURL: sourceURL,
			Clips:          clips,
			FPS:            fps,
			Resolution:     firstSet(payload.Resolution, req.Job.Options.RenderResolution, h.resolution),
			Quality:        firstSet(payload.Quality, req.Job.Options.RenderQuality, h.quality),
			Reference:      req.Job.ID,
		})
		if errors.Is(err, ErrNotConfigured) {
			return stage.Outcome{}, services.Wrap(services.ErrSystem, string(h.Stage()), "submit", "", err)
		}
		if err != nil {
			return stage.Outcome{}, services.Wrap(services.ErrRender, string(h.Stage()), "submit", "", err)
		}
		result.RenderID = id
		logger.Info("render submitted",
			logging.String(logging.FieldEventType, "render_submitted"),
			logging.String("render_id", id),
			logging.Int("clips", len(clips)),
			logging.Float64("output_duration", result.Duration),
		)
	}
	result.State = StateQueued
	h.checkpoint(ctx, logger, req.Job.ID, result)
	req.Report(5, "Render submitted")

	status, err := h.wait(ctx, req, result.RenderID)
	if err != nil {
		return stage.Outcome{}, err
	}
	result.State = status.State
	result.OutputURL = status.OutputURL
	if status.State == StateFailed {
		result.Error = status.Error
		h.checkpoint(ctx, logger, req.Job.ID, result)
		return stage.Outcome{}, services.Wrap(services.ErrRender, string(h.Stage()), "render", status.Error, nil)
	}
	logger.Info("render completed",
		logging.String(logging.FieldEventType, "render_completed"),
		logging.String("render_id", result.RenderID),
		logging.String("output_url", result.OutputURL),
	)
	return stage.Outcome{Result: queue.JobResult{Render: result}}, nil
}

func (h *Handler) wait(ctx context.Context, req *stage.Request, renderID string) (Status, error) {
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()
	for {
		status, err := h.backend.Status(ctx, renderID)
		if err != nil {
			return Status{}, services.Wrap(services.ErrRender, string(h.Stage()), "poll status", renderID, err)
		}
		if status.Terminal() {
			return status, nil
		}
		req.Report(min(max(status.Progress, 5), 99), fmt.Sprintf("Render %s", status.State))
		select {
		case <-ctx.Done():
			return Status{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// checkpoint saves the render id so an interrupted attempt resumes it.
func (h *Handler) checkpoint(ctx context.Context, logger *slog.Logger, jobID string, result *queue.RenderResult) {
	snapshot := *result
	if err := h.repo.UpdateJob(ctx, jobID, queue.JobUpdate{Result: &queue.JobResult{Render: &snapshot}}); err != nil {
		logging.WarnWithContext(logger, "render checkpoint failed", "render_checkpoint_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "a retried attempt will submit a new render"),
		)
	}
}

func (h *Handler) frameRate(job *queue.Job, payload queue.RenderPayload) float64 {
	if payload.FPS > 0 {
		return payload.FPS
	}
	if job.Options.FPSOverride > 0 {
		return job.Options.FPSOverride
	}
	if up := job.Result.Upload; up != nil && up.FPS > 0 {
		return up.FPS
	}
	if h.defaultFPS > 0 {
		return h.defaultFPS
	}
	return 30
}

// HealthCheck implements stage.Handler.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if h.backend == nil {
		return stage.Unhealthy(string(h.Stage()), "render backend not configured")
	}
	if c, ok := h.backend.(interface{ Configured() bool }); ok && !c.Configured() {
		return stage.Unhealthy(string(h.Stage()), "render.base_url is empty")
	}
	return stage.Healthy(string(h.Stage()))
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
