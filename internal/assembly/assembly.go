// Package assembly implements the assemble_timeline stage. It gathers every
// chunk's remove segments, runs the timeline assembler over the whole video,
// and stores the resulting edit on the job. The job completes here; a render
// only happens when one is requested.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"finalcut/internal/config"
	"finalcut/internal/logging"
	"finalcut/internal/queue"
	"finalcut/internal/services"
	"finalcut/internal/stage"
	"finalcut/internal/timeline"
)

// Repository is the chunk access the stage needs.
type Repository interface {
	Chunks(ctx context.Context, jobID string) ([]*queue.Chunk, error)
}

// Handler is the assemble_timeline stage handler.
type Handler struct {
	repo          Repository
	minConfidence float64
	logger        *slog.Logger
}

// New wires the stage.
func New(cfg *config.Config, repo Repository, logger *slog.Logger) *Handler {
	return &Handler{
		repo:          repo,
		minConfidence: cfg.Analysis.MinConfidence,
		logger:        logging.NewComponentLogger(logger, "assembly"),
	}
}

// Stage implements stage.Handler.
func (h *Handler) Stage() queue.Stage { return queue.StageAssembleTimeline }

// Prepare implements stage.Handler.
func (h *Handler) Prepare(_ context.Context, req *stage.Request) error {
	_, err := stage.DecodePayload[queue.AssemblyPayload](req.Item)
	return err
}

// Execute builds the ProcessedTimeline.
func (h *Handler) Execute(ctx context.Context, req *stage.Request) (stage.Outcome, error) {
	logger := logging.WithContext(ctx, h.logger)
	payload, err := stage.DecodePayload[queue.AssemblyPayload](req.Item)
	if err != nil {
		return stage.Outcome{}, err
	}
	chunks, err := h.repo.Chunks(ctx, req.Job.ID)
	if err != nil {
		return stage.Outcome{}, services.Wrap(services.ErrSystem, string(h.Stage()), "load chunks", "", err)
	}
	if err := queue.VerifyChunkSequence(chunks, 0); err != nil {
		return stage.Outcome{}, services.Wrap(services.ErrChunking, string(h.Stage()), "verify chunks", "", err)
	}

	var removes []timeline.Segment
	for _, c := range chunks {
		if c.Analysis == nil {
			return stage.Outcome{}, services.Wrap(services.ErrValidation, string(h.Stage()), "collect segments",
				fmt.Sprintf("chunk %d has not been analysed", c.Index), nil)
		}
		removes = append(removes, c.Analysis.Segments...)
	}
	req.Report(50, fmt.Sprintf("Assembling %d segments", len(removes)))

	duration := payload.Duration
	if duration <= 0 {
		duration = chunks[len(chunks)-1].EndTime
	}
	minConfidence := h.minConfidence
	if v := req.Job.Options.MinConfidence; v > 0 {
		minConfidence = v
	}
	assembler := timeline.NewAssembler(logger, timeline.WithMinConfidence(minConfidence))
	processed, err := assembler.Assemble(removes, duration)
	switch {
	case errors.Is(err, timeline.ErrNothingToKeep):
		logging.WarnWithContext(logger, "timeline removes the entire video", "timeline_empty",
			logging.Float64("duration", duration),
			logging.Int("segments", len(removes)),
			logging.String(logging.FieldErrorHint, "review the analysis; this timeline will not be rendered"),
		)
	case err != nil:
		return stage.Outcome{}, services.Wrap(services.ErrValidation, string(h.Stage()), "assemble", "", err)
	}
	req.Report(100, "Timeline ready for review")

	return stage.Outcome{Result: queue.JobResult{Timeline: processed}}, nil
}

// HealthCheck implements stage.Handler.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(string(h.Stage()))
}
