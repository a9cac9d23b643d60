package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"finalcut/internal/config"
	"finalcut/internal/logging"
	"finalcut/internal/queue"
	"finalcut/internal/services"
	"finalcut/internal/stage"
	"finalcut/internal/storage"
	"finalcut/internal/timeline"
)

// Repository is the chunk persistence the analysis stages need.
type Repository interface {
	Chunks(ctx context.Context, jobID string) ([]*queue.Chunk, error)
	SaveChunkAnalysis(ctx context.Context, jobID string, index int, analysis queue.ChunkAnalysis) error
}

// Dispatcher is the queue_analysis stage handler.
type Dispatcher struct {
	repo   Repository
	model  string
	logger *slog.Logger
}

// NewDispatcher wires the queue_analysis stage.
func NewDispatcher(cfg *config.Config, repo Repository, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, model: cfg.LLM.Model, logger: logging.NewComponentLogger(logger, "analysis-queue")}
}

// Stage implements stage.Handler.
func (d *Dispatcher) Stage() queue.Stage { return queue.StageQueueAnalysis }

// Prepare implements stage.Handler.
func (d *Dispatcher) Prepare(_ context.Context, req *stage.Request) error {
	_, err := stage.DecodePayload[queue.QueueAnalysisPayload](req.Item)
	return err
}

// Execute verifies every chunk is stored and lists them for analysis.
func (d *Dispatcher) Execute(ctx context.Context, req *stage.Request) (stage.Outcome, error) {
	payload, err := stage.DecodePayload[queue.QueueAnalysisPayload](req.Item)
	if err != nil {
		return stage.Outcome{}, err
	}
	chunks, err := d.repo.Chunks(ctx, req.Job.ID)
	if err != nil {
		return stage.Outcome{}, services.Wrap(services.ErrSystem, string(d.Stage()), "load chunks", "", err)
	}
	if err := queue.VerifyChunkSequence(chunks, payload.ChunkCount); err != nil {
		return stage.Outcome{}, services.Wrap(services.ErrChunking, string(d.Stage()), "verify chunks", "", err)
	}
	indexes := make([]int, 0, len(chunks))
	for _, c := range chunks {
		if !c.Uploaded || c.StoragePath == "" {
			return stage.Outcome{}, services.Wrap(services.ErrUpload, string(d.Stage()), "verify chunks",
				fmt.Sprintf("chunk %d is not in storage", c.Index), nil)
		}
		indexes = append(indexes, c.Index)
	}
	model := d.model
	if m := req.Job.Options.AnalysisModel; m != "" {
		model = m
	}
	req.Report(100, fmt.Sprintf("%d chunks queued for analysis", len(indexes)))
	logging.WithContext(ctx, d.logger).Info("chunks queued for analysis",
		logging.String(logging.FieldEventType, "analysis_queued"),
		logging.Int("chunk_count", len(indexes)),
		logging.String("model", model),
	)
	return stage.Outcome{Next: queue.AnalysisPayload{ChunkIndexes: indexes, Model: model}}, nil
}

// HealthCheck implements stage.Handler.
func (d *Dispatcher) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(string(d.Stage()))
}

// Processor is the gemini_processing stage handler.
type Processor struct {
	repo     Repository
	store    storage.Store
	analyzer Analyzer
	format   timeline.TimestampFormat
	parallel int
	logger   *slog.Logger
}

// NewProcessor wires the gemini_processing stage.
func NewProcessor(cfg *config.Config, repo Repository, store storage.Store, analyzer Analyzer, logger *slog.Logger) (*Processor, error) {
	format, err := timeline.ParseTimestampFormat(cfg.Analysis.TimestampFormat)
	if err != nil {
		return nil, err
	}
	return &Processor{
		repo:     repo,
		store:    store,
		analyzer: analyzer,
		format:   format,
		parallel: max(cfg.Analysis.Parallelism, 1),
		logger:   logging.NewComponentLogger(logger, "analysis"),
	}, nil
}

// Stage implements stage.Handler.
func (p *Processor) Stage() queue.Stage { return queue.StageGeminiProcessing }

// Prepare implements stage.Handler.
func (p *Processor) Prepare(_ context.Context, req *stage.Request) error {
	payload, err := stage.DecodePayload[queue.AnalysisPayload](req.Item)
	if err != nil {
		return err
	}
	if len(payload.ChunkIndexes) == 0 {
		return services.Wrap(services.ErrValidation, string(p.Stage()), "prepare", "No chunks to analyse", nil)
	}
	return nil
}

// Execute analyses every listed chunk that has no saved analysis.
func (p *Processor) Execute(ctx context.Context, req *stage.Request) (stage.Outcome, error) {
	logger := logging.WithContext(ctx, p.logger)
	payload, err := stage.DecodePayload[queue.AnalysisPayload](req.Item)
	if err != nil {
		return stage.Outcome{}, err
	}
	chunks, err := p.repo.Chunks(ctx, req.Job.ID)
	if err != nil {
		return stage.Outcome{}, services.Wrap(services.ErrSystem, string(p.Stage()), "load chunks", "", err)
	}
	byIndex := make(map[int]*queue.Chunk, len(chunks))
	for _, c := range chunks {
		byIndex[c.Index] = c
	}
	var pending []*queue.Chunk
	for _, idx := range payload.ChunkIndexes {
		c, ok := byIndex[idx]
		if !ok {
			return stage.Outcome{}, services.Wrap(services.ErrChunking, string(p.Stage()), "load chunks", fmt.Sprintf("chunk %d missing", idx), nil)
		}
		if !c.Processed {
			pending = append(pending, c)
		}
	}

	var fps, duration float64
	if up := req.Job.Result.Upload; up != nil {
		fps, duration = up.FPS, up.Duration
	}
	total := len(payload.ChunkIndexes)
	var done atomic.Int32
	done.Store(int32(total - len(pending)))
	report := func() {
		req.Report(float64(done.Load())/float64(total)*100, fmt.Sprintf("%d/%d chunks analysed", done.Load(), total))
	}
	report()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)
	for _, c := range pending {
		g.Go(func() error {
			step := fmt.Sprintf("chunk %d", c.Index)
			req.ReportStep(step, 0, "analysing")
			analysis, err := p.analyze(gctx, logger, c, payload.Model, fps)
			if err != nil {
				return err
			}
			if err := p.repo.SaveChunkAnalysis(gctx, req.Job.ID, c.Index, analysis); err != nil {
				return services.Wrap(services.ErrSystem, string(p.Stage()), "save analysis", "", err)
			}
			req.ReportStep(step, 100, fmt.Sprintf("%d segments", len(analysis.Segments)))
			done.Add(1)
			report()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stage.Outcome{}, err
	}

	chunks, err = p.repo.Chunks(ctx, req.Job.ID)
	if err != nil {
		return stage.Outcome{}, services.Wrap(services.ErrSystem, string(p.Stage()), "load chunks", "", err)
	}
	result := &queue.AnalysisResult{Model: payload.Model}
	for _, c := range chunks {
		if c.Analysis == nil {
			continue
		}
		result.ChunksAnalyzed++
		result.SegmentsFound += len(c.Analysis.Segments)
		if c.Analysis.Summary != "" {
			result.Summaries = append(result.Summaries, c.Analysis.Summary)
		}
		if duration <= 0 && c.EndTime > duration {
			duration = c.EndTime
		}
	}
	logger.Info("chunk analysis finished",
		logging.String(logging.FieldEventType, "analysis_finished"),
		logging.Int("chunks_analyzed", result.ChunksAnalyzed),
		logging.Int("segments_found", result.SegmentsFound),
		logging.Int("resumed", total-len(pending)),
	)
	return stage.Outcome{
		Result: queue.JobResult{Analysis: result},
		Next:   queue.AssemblyPayload{Duration: duration},
	}, nil
}

func (p *Processor) analyze(ctx context.Context, logger *slog.Logger, c *queue.Chunk, model string, fps float64) (queue.ChunkAnalysis, error) {
	url, err := p.store.URL(ctx, c.StoragePath)
	if err != nil {
		return queue.ChunkAnalysis{}, services.Wrap(services.ErrUpload, string(p.Stage()), "chunk url", fmt.Sprintf("chunk %d", c.Index), err)
	}
	resp, err := p.analyzer.Analyze(ctx, Request{
		VideoURL:      url,
		ChunkIndex:    c.Index,
		ChunkStart:    c.StartTime,
		ChunkDuration: c.Duration,
		Model:         model,
	})
	if err != nil {
		return queue.ChunkAnalysis{}, fmt.Errorf("analyze chunk %d: %w", c.Index, err)
	}
	segments, dropped := ToSegments(resp.Segments, c.StartTime, c.Duration, p.format, fps)
	for _, d := range dropped {
		logger.Warn("analysis segment dropped",
			logging.String(logging.FieldEventType, "analysis_segment_dropped"),
			logging.Int(logging.FieldChunkIndex, c.Index),
			logging.String("start_time", string(d.Segment.StartTime)),
			logging.String("end_time", string(d.Segment.EndTime)),
			logging.String("reason", d.Reason),
		)
	}
	if resp.Model != "" {
		model = resp.Model
	}
	return queue.ChunkAnalysis{Model: model, Summary: resp.Summary, Segments: segments, Dropped: len(dropped)}, nil
}

// HealthCheck implements stage.Handler.
func (p *Processor) HealthCheck(context.Context) stage.Health {
	if p.analyzer == nil {
		return stage.Unhealthy(string(p.Stage()), "analyzer not configured")
	}
	if c, ok := p.analyzer.(interface{ Configured() bool }); ok && !c.Configured() {
		return stage.Unhealthy(string(p.Stage()), "llm api key missing")
	}
	return stage.Healthy(string(p.Stage()))
}
