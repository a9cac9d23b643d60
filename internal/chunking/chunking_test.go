package chunking_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"finalcut/internal/chunking"
	"finalcut/internal/memory"
	"finalcut/internal/queue"
	"finalcut/internal/services"
	"finalcut/internal/stage"
	"finalcut/internal/storage"
	"finalcut/internal/testsupport"
)

func item(t *testing.T, payload queue.Payload) *queue.QueueItem {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &queue.QueueItem{ID: "q1", Stage: payload.Stage(), Payload: raw}
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		chunk    float64
		minTail  float64
		want     [][2]float64
	}{
		{"exact", 600, 300, 10, [][2]float64{{0, 300}, {300, 600}}},
		{"short tail merges", 605, 300, 10, [][2]float64{{0, 300}, {300, 605}}},
		{"long tail kept", 650, 300, 10, [][2]float64{{0, 300}, {300, 600}, {600, 650}}},
		{"shorter than one chunk", 42, 300, 10, [][2]float64{{0, 42}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spans, err := chunking.Plan(tc.duration, tc.chunk, tc.minTail)
			if err != nil {
				t.Fatalf("Plan: %v", err)
			}
			if len(spans) != len(tc.want) {
				t.Fatalf("expected %d spans, got %+v", len(tc.want), spans)
			}
			for i, sp := range spans {
				if sp.Index != i || sp.Start != tc.want[i][0] || sp.End != tc.want[i][1] {
					t.Fatalf("span %d = %+v, want %v", i, sp, tc.want[i])
				}
			}
		})
	}
	if _, err := chunking.Plan(0, 300, 10); err == nil {
		t.Fatal("expected error for zero duration")
	}
	if _, err := chunking.Plan(100, 0, 10); err == nil {
		t.Fatal("expected error for zero chunk length")
	}
}

func TestSplitterCutsAndResumes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Chunking.ChunkDurationSeconds = 60
	cfg.Chunking.MinTailSeconds = 5
	cfg.Chunking.Parallelism = 2
	store := testsupport.MustOpenStore(t, cfg)
	src := testsupport.WriteVideo(t, t.TempDir(), "talk.mp4", 1024)
	job := testsupport.NewJob(t, store, src)

	extractor := &testsupport.FakeExtractor{}
	splitter := chunking.NewSplitter(cfg, store, extractor, nil, nil)
	var last float64
	req := &stage.Request{
		Job:      job,
		Item:     item(t, queue.SplitPayload{SourcePath: src, Duration: 150, FPS: 30}),
		Progress: func(pct float64, _ string) { last = pct },
	}
	ctx := context.Background()
	if err := splitter.Prepare(ctx, req); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	outcome, err := splitter.Execute(ctx, req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Result.Chunks == nil || outcome.Result.Chunks.Count != 3 {
		t.Fatalf("unexpected chunks result %+v", outcome.Result.Chunks)
	}
	next, ok := outcome.Next.(queue.StoragePayload)
	if !ok || next.ChunkCount != 3 {
		t.Fatalf("unexpected next payload %#v", outcome.Next)
	}
	if last != 100 {
		t.Fatalf("expected final progress 100, got %v", last)
	}

	chunks, err := store.Chunks(ctx, job.ID)
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	if err := queue.VerifyChunkSequence(chunks, 3); err != nil {
		t.Fatalf("sequence: %v", err)
	}
	if chunks[2].StartTime != 120 || chunks[2].EndTime != 150 || chunks[2].FileSize == 0 {
		t.Fatalf("unexpected last chunk %+v", chunks[2])
	}
	if filepath.Dir(chunks[0].LocalPath) != filepath.Join(cfg.Paths.WorkDir, job.ID, "chunks") {
		t.Fatalf("unexpected chunk location %s", chunks[0].LocalPath)
	}

	// A second run finds every chunk on disk and cuts nothing.
	if _, err := splitter.Execute(ctx, req); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if got := len(extractor.Clips()); got != 3 {
		t.Fatalf("expected 3 extractions in total, got %d", got)
	}

	if err := os.Remove(chunks[1].LocalPath); err != nil {
		t.Fatalf("remove chunk: %v", err)
	}
	if _, err := splitter.Execute(ctx, req); err != nil {
		t.Fatalf("third Execute: %v", err)
	}
	clips := extractor.Clips()
	if len(clips) != 4 || clips[3].Start != 60 {
		t.Fatalf("expected only the missing chunk to be recut, got %+v", clips)
	}
}

func TestSplitterResetsChunksFromOtherPlan(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Chunking.ChunkDurationSeconds = 60
	cfg.Chunking.MinTailSeconds = 5
	store := testsupport.MustOpenStore(t, cfg)
	src := testsupport.WriteVideo(t, t.TempDir(), "talk.mp4", 64)
	job := testsupport.NewJob(t, store, src)
	ctx := context.Background()
	// Left over from a run with 30 second chunks.
	for i := range 4 {
		start := float64(i) * 30
		if err := store.UpsertChunk(ctx, &queue.Chunk{JobID: job.ID, Index: i, LocalPath: src, StartTime: start, EndTime: start + 30, Duration: 30}); err != nil {
			t.Fatalf("UpsertChunk: %v", err)
		}
	}

	extractor := &testsupport.FakeExtractor{}
	splitter := chunking.NewSplitter(cfg, store, extractor, nil, nil)
	req := &stage.Request{Job: job, Item: item(t, queue.SplitPayload{SourcePath: src, Duration: 120})}
	if _, err := splitter.Execute(ctx, req); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := len(extractor.Clips()); got != 2 {
		t.Fatalf("expected both chunks recut, got %d", got)
	}
	chunks, err := store.Chunks(ctx, job.ID)
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	if err := queue.VerifyChunkSequence(chunks, 2); err != nil {
		t.Fatalf("sequence: %v", err)
	}
}

func TestSplitterJobOverrideAndFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	src := testsupport.WriteVideo(t, t.TempDir(), "talk.mp4", 16)
	job := testsupport.NewJob(t, store, src)
	job.Options.ChunkDurationSeconds = 50

	extractor := &testsupport.FakeExtractor{FailAt: map[float64]error{50: errors.New("ffmpeg exploded")}}
	splitter := chunking.NewSplitter(cfg, store, extractor, nil, nil)
	req := &stage.Request{Job: job, Item: item(t, queue.SplitPayload{SourcePath: src, Duration: 100})}
	_, err := splitter.Execute(context.Background(), req)
	if !errors.Is(err, services.ErrChunking) {
		t.Fatalf("expected chunking error, got %v", err)
	}
}

func TestSplitterDefersOnMemoryCeiling(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Chunking.ChunkDurationSeconds = 10
	store := testsupport.MustOpenStore(t, cfg)
	src := testsupport.WriteVideo(t, t.TempDir(), "talk.mp4", 16)
	job := testsupport.NewJob(t, store, src)

	mem := memory.New(memory.Config{LimitMB: 1}, nil)
	if !mem.Allocate("other", 1, "test") {
		t.Fatal("expected seed allocation to fit")
	}
	splitter := chunking.NewSplitter(cfg, store, &testsupport.FakeExtractor{}, mem, nil)
	req := &stage.Request{Job: job, Item: item(t, queue.SplitPayload{SourcePath: src, Duration: 30})}
	_, err := splitter.Execute(context.Background(), req)
	if _, ok := stage.AsDefer(err); !ok {
		t.Fatalf("expected deferral, got %v", err)
	}
	if len(mem.Allocations()) != 1 {
		t.Fatalf("expected chunk allocations released, got %+v", mem.Allocations())
	}
}

func TestSplitterPrepareMissingSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	splitter := chunking.NewSplitter(cfg, nil, &testsupport.FakeExtractor{}, nil, nil)
	req := &stage.Request{
		Job:  &queue.Job{ID: "j1"},
		Item: item(t, queue.SplitPayload{SourcePath: filepath.Join(t.TempDir(), "gone.mp4"), Duration: 10}),
	}
	if err := splitter.Prepare(context.Background(), req); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUploaderStoresPendingChunks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Chunking.ChunkDurationSeconds = 60
	store := testsupport.MustOpenStore(t, cfg)
	src := testsupport.WriteVideo(t, t.TempDir(), "talk.mp4", 16)
	job := testsupport.NewJob(t, store, src)
	ctx := context.Background()

	splitter := chunking.NewSplitter(cfg, store, &testsupport.FakeExtractor{}, nil, nil)
	if _, err := splitter.Execute(ctx, &stage.Request{Job: job, Item: item(t, queue.SplitPayload{SourcePath: src, Duration: 120})}); err != nil {
		t.Fatalf("split: %v", err)
	}
	objects, err := storage.NewLocal(cfg.Storage.LocalDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if err := store.MarkChunkUploaded(ctx, job.ID, 0, storage.ChunkKey(job.ID, 0, ".mp4")); err != nil {
		t.Fatalf("MarkChunkUploaded: %v", err)
	}

	uploader := chunking.NewUploader(cfg, store, objects, nil)
	req := &stage.Request{Job: job, Item: item(t, queue.StoragePayload{ChunkCount: 2})}
	outcome, err := uploader.Execute(ctx, req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Result.Storage == nil || outcome.Result.Storage.Stored != 2 || outcome.Result.Storage.Prefix != "jobs/"+job.ID+"/" {
		t.Fatalf("unexpected storage result %+v", outcome.Result.Storage)
	}
	if next, ok := outcome.Next.(queue.QueueAnalysisPayload); !ok || next.ChunkCount != 2 {
		t.Fatalf("unexpected next payload %#v", outcome.Next)
	}
	stored, _ := objects.Path(storage.ChunkKey(job.ID, 1, ".mp4"))
	if _, err := os.Stat(stored); err != nil {
		t.Fatalf("expected chunk 1 in storage: %v", err)
	}
	skipped, _ := objects.Path(storage.ChunkKey(job.ID, 0, ".mp4"))
	if _, err := os.Stat(skipped); !os.IsNotExist(err) {
		t.Fatalf("chunk 0 was already uploaded and should be skipped, got %v", err)
	}
	chunks, _ := store.Chunks(ctx, job.ID)
	for _, c := range chunks {
		if !c.Uploaded || c.StoragePath == "" {
			t.Fatalf("chunk %d not marked uploaded: %+v", c.Index, c)
		}
	}
}

func TestUploaderRejectsGap(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "/videos/a.mp4")
	ctx := context.Background()
	for _, idx := range []int{0, 2} {
		if err := store.UpsertChunk(ctx, &queue.Chunk{JobID: job.ID, Index: idx, LocalPath: "x.mp4", EndTime: 1, Duration: 1}); err != nil {
			t.Fatalf("UpsertChunk: %v", err)
		}
	}
	objects, _ := storage.NewLocal(cfg.Storage.LocalDir)
	uploader := chunking.NewUploader(cfg, store, objects, nil)
	_, err := uploader.Execute(ctx, &stage.Request{Job: job, Item: item(t, queue.StoragePayload{ChunkCount: 3})})
	if !errors.Is(err, queue.ErrChunkGap) || !errors.Is(err, services.ErrChunking) {
		t.Fatalf("expected chunk gap, got %v", err)
	}
}
