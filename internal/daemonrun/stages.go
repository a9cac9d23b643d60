package daemonrun

import (
	"fmt"
	"log/slog"

	"finalcut/internal/analysis"
	"finalcut/internal/assembly"
	"finalcut/internal/chunking"
	"finalcut/internal/config"
	"finalcut/internal/ingest"
	"finalcut/internal/media/ffmpeg"
	"finalcut/internal/media/ffprobe"
	"finalcut/internal/memory"
	"finalcut/internal/queue"
	"finalcut/internal/rendering"
	"finalcut/internal/services/llm"
	"finalcut/internal/storage"
	"finalcut/internal/workflow"
)

// BuildStages constructs every pipeline stage handler against the production
// collaborators: ffprobe, ffmpeg, the LLM endpoint, and the render backend.
func BuildStages(cfg *config.Config, store *queue.Store, objects storage.Store, mem *memory.Manager, logger *slog.Logger) (workflow.StageSet, error) {
	prober := ffprobe.Command{Binary: cfg.Pipeline.FFprobeBinary}
	extractor := ffmpeg.Command{Binary: cfg.Chunking.FFmpegBinary}

	client := llm.NewClient(llm.ConfigFrom(cfg.LLM))
	processor, err := analysis.NewProcessor(cfg, store, objects, analysis.NewLLMAnalyzer(client), logger)
	if err != nil {
		return workflow.StageSet{}, fmt.Errorf("analysis stage: %w", err)
	}

	return workflow.StageSet{
		Upload:           ingest.New(cfg, prober, objects, logger),
		SplitChunks:      chunking.NewSplitter(cfg, store, extractor, mem, logger),
		StoreChunks:      chunking.NewUploader(cfg, store, objects, logger),
		QueueAnalysis:    analysis.NewDispatcher(cfg, store, logger),
		GeminiProcessing: processor,
		AssembleTimeline: assembly.New(cfg, store, logger),
		RenderVideo:      rendering.New(cfg, store, rendering.NewHTTPBackend(cfg.Render), objects, logger),
	}, nil
}
