package chunking

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"finalcut/internal/config"
	"finalcut/internal/logging"
	"finalcut/internal/queue"
	"finalcut/internal/services"
	"finalcut/internal/stage"
	"finalcut/internal/storage"
)

// Uploader is the store_chunks stage handler.
type Uploader struct {
	repo     Repository
	store    storage.Store
	parallel int
	logger   *slog.Logger
}

// NewUploader wires the store stage.
func NewUploader(cfg *config.Config, repo Repository, store storage.Store, logger *slog.Logger) *Uploader {
	return &Uploader{
		repo:     repo,
		store:    store,
		parallel: max(cfg.Storage.UploadConcurrency, 1),
		logger:   logging.NewComponentLogger(logger, "chunk-store"),
	}
}

// Stage implements stage.Handler.
func (u *Uploader) Stage() queue.Stage { return queue.StageStoreChunks }

// Prepare implements stage.Handler.
func (u *Uploader) Prepare(_ context.Context, req *stage.Request) error {
	_, err := stage.DecodePayload[queue.StoragePayload](req.Item)
	return err
}

// Execute uploads every chunk not yet in storage.
func (u *Uploader) Execute(ctx context.Context, req *stage.Request) (stage.Outcome, error) {
	logger := logging.WithContext(ctx, u.logger)
	payload, err := stage.DecodePayload[queue.StoragePayload](req.Item)
	if err != nil {
		return stage.Outcome{}, err
	}
	chunks, err := u.repo.Chunks(ctx, req.Job.ID)
	if err != nil {
		return stage.Outcome{}, services.Wrap(services.ErrSystem, string(u.Stage()), "load chunks", "", err)
	}
	if err := queue.VerifyChunkSequence(chunks, payload.ChunkCount); err != nil {
		return stage.Outcome{}, services.Wrap(services.ErrChunking, string(u.Stage()), "verify chunks", "", err)
	}

	var (
		uploaded atomic.Int32
		mu       sync.Mutex
		total    int64
	)
	for _, c := range chunks {
		if c.Uploaded {
			uploaded.Add(1)
			total += c.FileSize
		}
	}
	resumed := int(uploaded.Load())
	report := func() {
		req.Report(float64(uploaded.Load())/float64(len(chunks))*100, fmt.Sprintf("%d/%d chunks stored", uploaded.Load(), len(chunks)))
	}
	report()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.parallel)
	for _, c := range chunks {
		if c.Uploaded {
			continue
		}
		g.Go(func() error {
			if c.LocalPath == "" {
				return services.Wrap(services.ErrChunking, string(u.Stage()), "upload", fmt.Sprintf("chunk %d has no local file", c.Index), nil)
			}
			step := fmt.Sprintf("chunk %d", c.Index)
			req.ReportStep(step, 0, "uploading")
			key := storage.ChunkKey(req.Job.ID, c.Index, filepath.Ext(c.LocalPath))
			obj, err := storage.PutFile(gctx, u.store, key, c.LocalPath)
			if err != nil {
				return services.Wrap(services.ErrUpload, string(u.Stage()), "upload", fmt.Sprintf("chunk %d", c.Index), err)
			}
			if err := u.repo.MarkChunkUploaded(gctx, req.Job.ID, c.Index, obj.Key); err != nil {
				return services.Wrap(services.ErrSystem, string(u.Stage()), "record upload", "", err)
			}
			req.ReportStep(step, 100, "")
			mu.Lock()
			total += obj.Size
			mu.Unlock()
			uploaded.Add(1)
			report()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stage.Outcome{}, err
	}

	logger.Info("chunks stored",
		logging.String(logging.FieldEventType, "chunks_stored"),
		logging.Int("chunk_count", len(chunks)),
		logging.Int("resumed", resumed),
		logging.String("backend", u.store.Backend()),
		logging.Int64("bytes_total", total),
	)
	return stage.Outcome{
		Result: queue.JobResult{Storage: &queue.StorageResult{
			Stored:     len(chunks),
			Prefix:     storage.JobPrefix(req.Job.ID),
			BytesTotal: total,
		}},
		Next: queue.QueueAnalysisPayload{ChunkCount: len(chunks)},
	}, nil
}

// HealthCheck implements stage.Handler.
func (u *Uploader) HealthCheck(context.Context) stage.Health {
	if u.store == nil {
		return stage.Unhealthy(string(u.Stage()), "object storage not configured")
	}
	return stage.Healthy(string(u.Stage()) + " (" + u.store.Backend() + ")")
}
