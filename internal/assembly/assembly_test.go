package assembly_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"finalcut/internal/assembly"
	"finalcut/internal/queue"
	"finalcut/internal/services"
	"finalcut/internal/stage"
	"finalcut/internal/testsupport"
	"finalcut/internal/timeline"
)

func request(t *testing.T, job *queue.Job, duration float64) *stage.Request {
	t.Helper()
	raw, err := json.Marshal(queue.AssemblyPayload{Duration: duration})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &stage.Request{Job: job, Item: &queue.QueueItem{ID: "q1", Stage: queue.StageAssembleTimeline, Payload: raw}}
}

func seed(t *testing.T, store *queue.Store, jobID string, perChunk ...[]timeline.Segment) {
	t.Helper()
	ctx := context.Background()
	for i, segs := range perChunk {
		start := float64(i) * 60
		if err := store.UpsertChunk(ctx, &queue.Chunk{JobID: jobID, Index: i, StartTime: start, EndTime: start + 60, Duration: 60}); err != nil {
			t.Fatalf("UpsertChunk: %v", err)
		}
		if segs == nil {
			continue
		}
		if err := store.SaveChunkAnalysis(ctx, jobID, i, queue.ChunkAnalysis{Model: "m", Segments: segs}); err != nil {
			t.Fatalf("SaveChunkAnalysis: %v", err)
		}
	}
}

func TestAssemblesAcrossChunks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "/videos/a.mp4")
	seed(t, store, job.ID,
		[]timeline.Segment{timeline.NewRemove(10, 15, "pause"), timeline.NewRemove(30, 35, "um")},
		[]timeline.Segment{timeline.NewRemove(60, 65, "pause"), timeline.NewRemove(105, 150, "outro")},
	)

	h := assembly.New(cfg, store, nil)
	outcome, err := h.Execute(context.Background(), request(t, job, 120))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Next != nil {
		t.Fatalf("assembly should finish the job, got next %#v", outcome.Next)
	}
	tl := outcome.Result.Timeline
	if tl == nil || len(tl.SegmentsToKeep) != 4 {
		t.Fatalf("unexpected timeline %+v", tl)
	}
	if tl.Summary.FinalDuration != 90 || tl.Summary.ReductionPercentage != 25 {
		t.Fatalf("unexpected summary %+v", tl.Summary)
	}
}

func TestEmptyTimelineIsStoredNotFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "/videos/a.mp4")
	seed(t, store, job.ID, []timeline.Segment{timeline.NewRemove(0, 60, "all noise")})

	outcome, err := assembly.New(cfg, store, nil).Execute(context.Background(), request(t, job, 60))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !outcome.Result.Timeline.Empty() || len(outcome.Result.Timeline.Warnings) == 0 {
		t.Fatalf("expected flagged empty timeline, got %+v", outcome.Result.Timeline)
	}
}

func TestMinConfidenceOverride(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "/videos/a.mp4")
	low := timeline.NewRemove(5, 10, "maybe")
	low.Confidence = 0.3
	high := timeline.NewRemove(20, 25, "surely")
	high.Confidence = 0.95
	seed(t, store, job.ID, []timeline.Segment{low, high})
	job.Options.MinConfidence = 0.5

	outcome, err := assembly.New(cfg, store, nil).Execute(context.Background(), request(t, job, 60))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	tl := outcome.Result.Timeline
	if len(tl.SegmentsToRemove) != 1 || tl.SegmentsToRemove[0].StartTime != 20 || len(tl.Discarded) != 1 {
		t.Fatalf("expected low-confidence segment discarded, got %+v", tl)
	}
}

func TestUnanalysedChunkFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "/videos/a.mp4")
	seed(t, store, job.ID, []timeline.Segment{}, nil)

	_, err := assembly.New(cfg, store, nil).Execute(context.Background(), request(t, job, 120))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
