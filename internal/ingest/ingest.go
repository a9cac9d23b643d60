// Package ingest implements the upload stage: it validates the source video,
// probes it with ffprobe, and copies it into object storage so the render
// backend can fetch it later.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"finalcut/internal/config"
	"finalcut/internal/logging"
	"finalcut/internal/media/ffprobe"
	"finalcut/internal/queue"
	"finalcut/internal/services"
	"finalcut/internal/stage"
	"finalcut/internal/storage"
)

// Handler is the upload stage handler.
type Handler struct {
	prober     ffprobe.Prober
	store      storage.Store
	maxSizeMB  int
	extensions []string
	logger     *slog.Logger
}

// New wires the upload stage. store may be nil, in which case the source is
// not copied and rendering must reach it some other way.
func New(cfg *config.Config, prober ffprobe.Prober, store storage.Store, logger *slog.Logger) *Handler {
	return &Handler{
		prober:     prober,
		store:      store,
		maxSizeMB:  cfg.Pipeline.MaxFileSizeMB,
		extensions: cfg.Pipeline.AllowedExtensions,
		logger:     logging.NewComponentLogger(logger, "ingest"),
	}
}

// Stage implements stage.Handler.
func (h *Handler) Stage() queue.Stage { return queue.StageUpload }

// Prepare validates the file before any probing.
func (h *Handler) Prepare(_ context.Context, req *stage.Request) error {
	payload, err := stage.DecodePayload[queue.UploadPayload](req.Item)
	if err != nil {
		return err
	}
	_, err = h.validate(payload, req.Job.Options.MaxFileSizeMB)
	return err
}

func (h *Handler) validate(payload queue.UploadPayload, overrideMB int) (os.FileInfo, error) {
	if strings.TrimSpace(payload.SourcePath) == "" {
		return nil, services.Wrap(services.ErrValidation, string(h.Stage()), "validate", "Source path is empty", nil)
	}
	name := payload.OriginalName
	if name == "" {
		name = payload.SourcePath
	}
	ext := strings.ToLower(filepath.Ext(name))
	if len(h.extensions) > 0 && !slices.Contains(h.extensions, ext) {
		return nil, services.Wrap(services.ErrValidation, string(h.Stage()), "validate",
			fmt.Sprintf("Unsupported file type %q (allowed: %s)", ext, strings.Join(h.extensions, ", ")), nil)
	}
	info, err := os.Stat(payload.SourcePath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, string(h.Stage()), "stat source", "Source file is not readable", err)
	}
	if info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, string(h.Stage()), "validate", "Source path is a directory", nil)
	}
	if info.Size() == 0 {
		return nil, services.Wrap(services.ErrValidation, string(h.Stage()), "validate", "Source file is empty", nil)
	}
	limit := h.maxSizeMB
	if overrideMB > 0 {
		limit = overrideMB
	}
	if limitBytes := int64(limit) << 20; limit > 0 && info.Size() > limitBytes {
		return nil, services.Wrap(services.ErrValidation, string(h.Stage()), "validate",
			fmt.Sprintf("Source is %s, larger than the %s limit", humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(limitBytes))), nil)
	}
	return info, nil
}

// Execute probes the source and copies it into storage.
func (h *Handler) Execute(ctx context.Context, req *stage.Request) (stage.Outcome, error) {
	logger := logging.WithContext(ctx, h.logger)
	payload, err := stage.DecodePayload[queue.UploadPayload](req.Item)
	if err != nil {
		return stage.Outcome{}, err
	}
	info, err := h.validate(payload, req.Job.Options.MaxFileSizeMB)
	if err != nil {
		return stage.Outcome{}, err
	}
	req.Report(10, "Inspecting source")

	probe, err := h.prober.Inspect(ctx, payload.SourcePath)
	if err != nil {
		return stage.Outcome{}, services.Wrap(services.ErrValidation, string(h.Stage()), "ffprobe", "Source could not be inspected", err)
	}
	media, err := ffprobe.Summarize(probe)
	if err != nil {
		return stage.Outcome{}, services.Wrap(services.ErrValidation, string(h.Stage()), "ffprobe", "Source is not a usable video", err)
	}
	fps := media.FPS
	if v := req.Job.Options.FPSOverride; v > 0 {
		fps = v
	}
	size := media.SizeBytes
	if size <= 0 {
		size = info.Size()
	}
	result := &queue.UploadResult{
		SourcePath: payload.SourcePath,
		SizeBytes:  size,
		Duration:   media.Duration,
		FPS:        fps,
		Width:      media.Width,
		Height:     media.Height,
		VideoCodec: media.VideoCodec,
	}

	if h.store != nil {
		req.Report(40, "Storing source")
		name := payload.OriginalName
		if name == "" {
			name = filepath.Base(payload.SourcePath)
		}
		obj, err := storage.PutFile(ctx, h.store, storage.SourceKey(req.Job.ID, name), payload.SourcePath)
		if err != nil {
			return stage.Outcome{}, services.Wrap(services.ErrUpload, string(h.Stage()), "store source", "", err)
		}
		result.StorageKey = obj.Key
	}
	req.Report(100, "Source ready")

	logger.Info("source ingested",
		logging.String(logging.FieldEventType, "source_ingested"),
		logging.String("source_path", payload.SourcePath),
		logging.String("size", humanize.IBytes(uint64(size))),
		logging.Float64("duration", media.Duration),
		logging.Float64("fps", fps),
		logging.String("resolution", fmt.Sprintf("%dx%d", media.Width, media.Height)),
		logging.Bool("has_audio", media.HasAudio),
	)
	if !media.HasAudio {
		logger.Warn("source has no audio stream",
			logging.String(logging.FieldEventType, "source_no_audio"),
			logging.String(logging.FieldErrorHint, "analysis relies on speech; expect few segments"),
		)
	}

	return stage.Outcome{
		Result: queue.JobResult{Upload: result},
		Next:   queue.SplitPayload{SourcePath: payload.SourcePath, Duration: media.Duration, FPS: fps},
	}, nil
}

// HealthCheck implements stage.Handler.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if h.prober == nil {
		return stage.Unhealthy(string(h.Stage()), "ffprobe not configured")
	}
	return stage.Healthy(string(h.Stage()))
}
