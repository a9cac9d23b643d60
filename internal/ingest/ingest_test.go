package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"finalcut/internal/ingest"
	"finalcut/internal/queue"
	"finalcut/internal/services"
	"finalcut/internal/stage"
	"finalcut/internal/storage"
	"finalcut/internal/testsupport"
)

func request(t *testing.T, job *queue.Job, payload queue.UploadPayload) *stage.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &stage.Request{Job: job, Item: &queue.QueueItem{ID: "q1", Stage: queue.StageUpload, Payload: raw}}
}

func TestExecuteProbesAndStores(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	objects, err := storage.NewLocal(cfg.Storage.LocalDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	src := testsupport.WriteVideo(t, t.TempDir(), "talk.mp4", 2048)
	handler := ingest.New(cfg, testsupport.FakeProber{Duration: 125.5, FPS: "30000/1001"}, objects, nil)
	job := &queue.Job{ID: "job-1"}
	req := request(t, job, queue.UploadPayload{SourcePath: src, OriginalName: "My Talk.mp4"})

	if err := handler.Prepare(context.Background(), req); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	outcome, err := handler.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	up := outcome.Result.Upload
	if up == nil || up.Duration != 125.5 || up.SizeBytes != 2048 || up.Width != 1920 || up.VideoCodec != "h264" {
		t.Fatalf("unexpected upload result %+v", up)
	}
	if up.FPS < 29.96 || up.FPS > 29.98 {
		t.Fatalf("unexpected fps %v", up.FPS)
	}
	if up.StorageKey != "jobs/job-1/source/My Talk.mp4" {
		t.Fatalf("unexpected storage key %q", up.StorageKey)
	}
	path, _ := objects.Path(up.StorageKey)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("source not stored: %v", err)
	}
	next, ok := outcome.Next.(queue.SplitPayload)
	if !ok || next.SourcePath != src || next.Duration != 125.5 {
		t.Fatalf("unexpected next payload %#v", outcome.Next)
	}
}

func TestExecuteHonoursFPSOverride(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	src := testsupport.WriteVideo(t, t.TempDir(), "talk.mov", 16)
	handler := ingest.New(cfg, testsupport.FakeProber{Duration: 10}, nil, nil)
	job := &queue.Job{ID: "job-2", Options: queue.Options{FPSOverride: 24}}
	outcome, err := handler.Execute(context.Background(), request(t, job, queue.UploadPayload{SourcePath: src}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Result.Upload.FPS != 24 || outcome.Result.Upload.StorageKey != "" {
		t.Fatalf("unexpected result %+v", outcome.Result.Upload)
	}
}

func TestValidationFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Pipeline.MaxFileSizeMB = 1
	dir := t.TempDir()
	big := testsupport.WriteVideo(t, dir, "big.mp4", 2<<20)
	text := testsupport.WriteVideo(t, dir, "notes.txt", 10)

	handler := ingest.New(cfg, testsupport.FakeProber{Duration: 10}, nil, nil)
	tests := []struct {
		name    string
		payload queue.UploadPayload
	}{
		{"missing", queue.UploadPayload{SourcePath: dir + "/missing.mp4"}},
		{"too large", queue.UploadPayload{SourcePath: big}},
		{"extension", queue.UploadPayload{SourcePath: text}},
		{"empty path", queue.UploadPayload{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := handler.Prepare(context.Background(), request(t, &queue.Job{ID: "j"}, tc.payload))
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	job := &queue.Job{ID: "j", Options: queue.Options{MaxFileSizeMB: 4}}
	if err := handler.Prepare(context.Background(), request(t, job, queue.UploadPayload{SourcePath: big})); err != nil {
		t.Fatalf("per-job size override should allow the file: %v", err)
	}
}

func TestExecuteRejectsUnprobeableSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	src := testsupport.WriteVideo(t, t.TempDir(), "talk.mp4", 16)
	handler := ingest.New(cfg, testsupport.FakeProber{Err: errors.New("moov atom not found")}, nil, nil)
	_, err := handler.Execute(context.Background(), request(t, &queue.Job{ID: "j"}, queue.UploadPayload{SourcePath: src}))
	if services.Classify(err) != services.CategoryValidation {
		t.Fatalf("expected validation category, got %v", err)
	}
}
