package progress_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"finalcut/internal/progress"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestOverallProgressAndEstimate(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tracker := progress.NewTracker(progress.WithClock(clock.Now))
	tracker.Start("job-1", []string{"upload", "split", "analyze", "assemble"})

	if err := tracker.CompleteStage("job-1", "upload"); err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if err := tracker.SkipStage("job-1", "split", "already chunked"); err != nil {
		t.Fatalf("SkipStage: %v", err)
	}
	if err := tracker.UpdateStageProgress("job-1", "analyze", 40, "chunk 2/5"); err != nil {
		t.Fatalf("UpdateStageProgress: %v", err)
	}
	clock.now = clock.now.Add(60 * time.Second)

	snap, ok := tracker.Snapshot("job-1")
	if !ok {
		t.Fatal("expected snapshot")
	}
	if snap.OverallProgress != 60 {
		t.Fatalf("expected overall 60, got %v", snap.OverallProgress)
	}
	if snap.Elapsed != time.Minute || snap.EstimatedTotal != 100*time.Second || snap.EstimatedRemaining != 40*time.Second {
		t.Fatalf("unexpected estimate: elapsed=%s total=%s remaining=%s", snap.Elapsed, snap.EstimatedTotal, snap.EstimatedRemaining)
	}
	if snap.Stages[2].Status != progress.StatusActive || snap.Stages[2].Message != "chunk 2/5" {
		t.Fatalf("unexpected analyze stage: %+v", snap.Stages[2])
	}
}

func TestNoEstimateBeforeProgress(t *testing.T) {
	tracker := progress.NewTracker()
	tracker.Start("job-1", []string{"upload"})
	snap, _ := tracker.Snapshot("job-1")
	if snap.OverallProgress != 0 || snap.EstimatedTotal != 0 {
		t.Fatalf("expected no estimate at zero progress: %+v", snap)
	}
}

func TestSubStagesAndSnapshotsAreCopies(t *testing.T) {
	tracker := progress.NewTracker()
	tracker.Start("job-1", []string{"store"})
	if err := tracker.UpdateSubStage("job-1", "store", "chunk-0", 100, ""); err != nil {
		t.Fatalf("UpdateSubStage: %v", err)
	}
	if err := tracker.UpdateSubStage("job-1", "store", "chunk-1", 30, "uploading"); err != nil {
		t.Fatalf("UpdateSubStage: %v", err)
	}

	snap, _ := tracker.Snapshot("job-1")
	subs := snap.Stages[0].SubStages
	if len(subs) != 2 || subs[0].Status != progress.StatusCompleted || subs[1].Status != progress.StatusActive {
		t.Fatalf("unexpected sub stages: %+v", subs)
	}
	subs[1].Progress = 99
	again, _ := tracker.Snapshot("job-1")
	if again.Stages[0].SubStages[1].Progress != 30 {
		t.Fatal("snapshot mutation leaked into tracker")
	}
}

func TestUnknownJobAndStage(t *testing.T) {
	tracker := progress.NewTracker()
	if err := tracker.StartStage("missing", "upload"); !errors.Is(err, progress.ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
	tracker.Start("job-1", []string{"upload"})
	if err := tracker.FailStage("job-1", "render", "boom"); !errors.Is(err, progress.ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
	if tracker.Ensure("job-1", []string{"other"}) {
		t.Fatal("Ensure must not replace a tracked job")
	}
	tracker.Remove("job-1")
	if _, ok := tracker.Snapshot("job-1"); ok {
		t.Fatal("expected job removed")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	tracker := progress.NewTracker()
	tracker.Start("job-1", []string{"a", "b"})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(p float64) {
			defer wg.Done()
			_ = tracker.UpdateStageProgress("job-1", "a", p, "")
		}(float64(i))
		go func() {
			defer wg.Done()
			_, _ = tracker.Snapshot("job-1")
		}()
	}
	wg.Wait()
	if err := tracker.CompleteStage("job-1", "a"); err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	snap, _ := tracker.Snapshot("job-1")
	if snap.OverallProgress != 50 {
		t.Fatalf("expected 50, got %v", snap.OverallProgress)
	}
}

func TestEnsureStartsOnceUnderContention(t *testing.T) {
	tracker := progress.NewTracker()
	stages := []string{"upload", "split"}
	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.Ensure("job-1", stages) {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if started != 1 {
		t.Fatalf("expected exactly one Ensure to start the job, got %d", started)
	}

	if err := tracker.StartStage("job-1", "upload"); err != nil {
		t.Fatalf("StartStage: %v", err)
	}
	if tracker.Ensure("job-1", stages) {
		t.Fatal("Ensure must not restart a tracked job")
	}
	snap, _ := tracker.Snapshot("job-1")
	if snap.Stages[0].Status != progress.StatusActive {
		t.Fatalf("Ensure reset stage state: %+v", snap.Stages[0])
	}
}
