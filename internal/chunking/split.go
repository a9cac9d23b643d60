package chunking

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"finalcut/internal/config"
	"finalcut/internal/logging"
	"finalcut/internal/media/ffmpeg"
	"finalcut/internal/memory"
	"finalcut/internal/queue"
	"finalcut/internal/services"
	"finalcut/internal/stage"
)

const memoryRetryDelay = 30 * time.Second

// Splitter is the split_chunks stage handler.
type Splitter struct {
	repo      Repository
	extractor ffmpeg.Extractor
	memory    *memory.Manager
	workDir   string
	chunk     float64
	minTail   float64
	parallel  int
	logger    *slog.Logger
}

// NewSplitter wires the split stage. mem may be nil.
func NewSplitter(cfg *config.Config, repo Repository, extractor ffmpeg.Extractor, mem *memory.Manager, logger *slog.Logger) *Splitter {
	return &Splitter{
		repo:      repo,
		extractor: extractor,
		memory:    mem,
		workDir:   cfg.Paths.WorkDir,
		chunk:     cfg.Chunking.ChunkDurationSeconds,
		minTail:   cfg.Chunking.MinTailSeconds,
		parallel:  max(cfg.Chunking.Parallelism, 1),
		logger:    logging.NewComponentLogger(logger, "chunking"),
	}
}

// Stage implements stage.Handler.
func (s *Splitter) Stage() queue.Stage { return queue.StageSplitChunks }

// Prepare checks the source is still readable.
func (s *Splitter) Prepare(_ context.Context, req *stage.Request) error {
	payload, err := stage.DecodePayload[queue.SplitPayload](req.Item)
	if err != nil {
		return err
	}
	if _, err := os.Stat(payload.SourcePath); err != nil {
		return services.Wrap(services.ErrValidation, string(s.Stage()), "stat source", "Source video is missing", err)
	}
	return nil
}

// Execute cuts the source into chunks.
func (s *Splitter) Execute(ctx context.Context, req *stage.Request) (stage.Outcome, error) {
	logger := logging.WithContext(ctx, s.logger)
	payload, err := stage.DecodePayload[queue.SplitPayload](req.Item)
	if err != nil {
		return stage.Outcome{}, err
	}
	chunkLen := s.chunk
	if v := req.Job.Options.ChunkDurationSeconds; v > 0 {
		chunkLen = v
	}
	spans, err := Plan(payload.Duration, chunkLen, s.minTail)
	if err != nil {
		return stage.Outcome{}, services.Wrap(services.ErrChunking, string(s.Stage()), "plan", "Cannot plan chunks", err)
	}

	dir := filepath.Join(s.workDir, req.Job.ID, "chunks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return stage.Outcome{}, services.Wrap(services.ErrSystem, string(s.Stage()), "create work dir", "", err)
	}
	existing, err := s.repo.Chunks(ctx, req.Job.ID)
	if err != nil {
		return stage.Outcome{}, services.Wrap(services.ErrSystem, string(s.Stage()), "load chunks", "", err)
	}
	if stalePlan(existing, spans) {
		removed, err := s.repo.DeleteChunks(ctx, req.Job.ID)
		if err != nil {
			return stage.Outcome{}, services.Wrap(services.ErrSystem, string(s.Stage()), "reset chunks", "", err)
		}
		logger.Info("discarded chunks from a different plan",
			logging.String(logging.FieldEventType, "chunk_plan_reset"),
			logging.Int64("chunks_removed", removed),
			logging.Int("chunks_planned", len(spans)),
		)
		existing = nil
	}
	done := completedSpans(existing, spans)

	ext := strings.ToLower(filepath.Ext(payload.SourcePath))
	if ext == "" {
		ext = ".mp4"
	}
	bytesPerSecond := 0.0
	if up := req.Job.Result.Upload; up != nil && up.Duration > 0 {
		bytesPerSecond = float64(up.SizeBytes) / up.Duration
	}

	var finished atomic.Int32
	finished.Store(int32(len(done)))
	report := func() {
		req.Report(float64(finished.Load())/float64(len(spans))*100, fmt.Sprintf("%d/%d chunks cut", finished.Load(), len(spans)))
	}
	report()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for _, span := range spans {
		if done[span.Index] {
			continue
		}
		g.Go(func() error {
			allocID := fmt.Sprintf("%s/chunk/%d", req.Job.ID, span.Index)
			if s.memory != nil {
				sizeMB := math.Max(bytesPerSecond*span.Duration()/(1<<20), 1)
				if !s.memory.Allocate(allocID, sizeMB, "chunk_extract") {
					return stage.Defer(memoryRetryDelay, "memory ceiling reached while cutting chunks")
				}
				defer s.memory.Release(allocID)
			}
			out := filepath.Join(dir, fmt.Sprintf("chunk_%04d%s", span.Index, ext))
			if err := s.extractor.Extract(gctx, ffmpeg.Clip{
				Source:   payload.SourcePath,
				Start:    span.Start,
				Duration: span.Duration(),
				Output:   out,
			}); err != nil {
				return services.Wrap(services.ErrChunking, string(s.Stage()), "extract", fmt.Sprintf("chunk %d", span.Index), err)
			}
			var size int64
			if info, err := os.Stat(out); err == nil {
				size = info.Size()
			}
			if err := s.repo.UpsertChunk(gctx, &queue.Chunk{
				JobID:     req.Job.ID,
				Index:     span.Index,
				LocalPath: out,
				StartTime: span.Start,
				EndTime:   span.End,
				Duration:  span.Duration(),
				FileSize:  size,
			}); err != nil {
				return services.Wrap(services.ErrSystem, string(s.Stage()), "record chunk", "", err)
			}
			finished.Add(1)
			report()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if _, ok := stage.AsDefer(err); ok {
			logger.Info("chunk split paused for memory",
				logging.String(logging.FieldEventType, "chunk_split_deferred"),
				logging.Int("chunks_done", int(finished.Load())),
				logging.Int("chunks_total", len(spans)),
			)
		}
		return stage.Outcome{}, err
	}

	logger.Info("chunks cut",
		logging.String(logging.FieldEventType, "chunks_cut"),
		logging.Int("chunk_count", len(spans)),
		logging.Int("resumed", len(done)),
		logging.Float64("chunk_duration", chunkLen),
	)
	return stage.Outcome{
		Result: queue.JobResult{Chunks: &queue.ChunksResult{Count: len(spans), ChunkDuration: chunkLen, WorkDir: dir}},
		Next:   queue.StoragePayload{ChunkCount: len(spans)},
	}, nil
}

// HealthCheck implements stage.Handler.
func (s *Splitter) HealthCheck(context.Context) stage.Health {
	if s.extractor == nil {
		return stage.Unhealthy(string(s.Stage()), "ffmpeg extractor not configured")
	}
	return stage.Healthy(string(s.Stage()))
}

// stalePlan reports whether recorded chunks were cut with different
// boundaries than spans.
func stalePlan(existing []*queue.Chunk, spans []Span) bool {
	for _, c := range existing {
		if c.Index >= len(spans) {
			return true
		}
		sp := spans[c.Index]
		if math.Abs(c.StartTime-sp.Start) > 1e-6 || math.Abs(c.EndTime-sp.End) > 1e-6 {
			return true
		}
	}
	return false
}

// completedSpans marks planned spans whose chunk row exists and whose local
// file is still on disk.
func completedSpans(existing []*queue.Chunk, spans []Span) map[int]bool {
	done := make(map[int]bool)
	for _, c := range existing {
		if c.Index >= len(spans) {
			continue
		}
		if c.LocalPath == "" {
			continue
		}
		if _, err := os.Stat(c.LocalPath); err != nil {
			continue
		}
		done[c.Index] = true
	}
	return done
}
