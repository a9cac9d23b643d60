package daemon_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"finalcut/internal/api"
	"finalcut/internal/config"
	"finalcut/internal/daemon"
	"finalcut/internal/logging"
	"finalcut/internal/memory"
	"finalcut/internal/queue"
	"finalcut/internal/stage"
	"finalcut/internal/testsupport"
	"finalcut/internal/workflow"
)

type noopStage struct{}

func (noopStage) Stage() queue.Stage                           { return queue.StageUpload }
func (noopStage) Prepare(context.Context, *stage.Request) error { return nil }
func (noopStage) Execute(context.Context, *stage.Request) (stage.Outcome, error) {
	return stage.Outcome{}, nil
}
func (noopStage) HealthCheck(context.Context) stage.Health { return stage.Healthy("upload") }

func newDaemon(t *testing.T, cfg *config.Config, store *queue.Store, opts ...daemon.Option) *daemon.Daemon {
	t.Helper()
	mgr := workflow.NewManager(cfg, store, logging.NewNop())
	if err := mgr.ConfigureStages(workflow.StageSet{Upload: noopStage{}}); err != nil {
		t.Fatalf("ConfigureStages: %v", err)
	}
	d, err := daemon.New(cfg, store, logging.NewNop(), mgr, opts...)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d := newDaemon(t, cfg, store, daemon.WithMemory(memory.FromConfig(cfg, logging.NewNop())))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || status.APIAddress == "" {
		t.Fatalf("expected running daemon with api address, got %+v", status)
	}
	if status.LockPath != cfg.LockPath() {
		t.Fatalf("unexpected lock path %q", status.LockPath)
	}
	if status.Memory == nil {
		t.Fatal("expected memory stats")
	}
	if len(status.Maintenance) != 3 {
		t.Fatalf("expected 3 maintenance tasks, got %+v", status.Maintenance)
	}

	client := api.NewClient(status.APIAddress, 2*time.Second)
	if err := client.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}
	job, err := client.CreateJob(ctx, api.CreateJobRequest{SourcePath: "/videos/a.mp4"})
	if err != nil {
		t.Fatalf("CreateJob over daemon api: %v", err)
	}
	if job.ID == "" || job.SourcePath != "/videos/a.mp4" {
		t.Fatalf("unexpected job %+v", job)
	}

	if err := d.Start(ctx); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected second start to fail with ErrAlreadyRunning, got %v", err)
	}

	other := newDaemon(t, cfg, store)
	if err := other.Start(ctx); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected lock contention, got %v", err)
	}

	d.Stop()
	if d.Running() {
		t.Fatal("expected daemon to be stopped")
	}
	if d.APIAddress() != "" {
		t.Fatal("api address should clear after stop")
	}
	if err := client.Health(ctx); err == nil {
		t.Fatal("api should be unreachable after stop")
	}
}

func TestDaemonAPIDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.API.Bind = ""
	store := testsupport.MustOpenStore(t, cfg)
	d := newDaemon(t, cfg, store)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if d.APIAddress() != "" {
		t.Fatalf("expected no api address, got %q", d.APIAddress())
	}
}

func TestPurgeFinished(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Maintenance.RetentionDays = 14
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	done := testsupport.NewJob(t, store, "/videos/done.mp4")
	testsupport.MustEnqueue(t, store, done.ID, queue.UploadPayload{SourcePath: done.SourcePath})
	if err := store.CancelJob(ctx, done.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	active := testsupport.NewJob(t, store, "/videos/active.mp4")
	testsupport.MustEnqueue(t, store, active.ID, queue.UploadPayload{SourcePath: active.SourcePath})

	later := func() time.Time { return time.Now().Add(15 * 24 * time.Hour) }
	d := newDaemon(t, cfg, store, daemon.WithClock(later))

	removed, err := d.PurgeFinished(ctx)
	if err != nil {
		t.Fatalf("PurgeFinished: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 purged job, got %d", removed)
	}
	if _, err := store.GetJob(ctx, done.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("cancelled job should be purged, got %v", err)
	}
	if _, err := store.GetJob(ctx, active.ID); err != nil {
		t.Fatalf("active job should survive: %v", err)
	}

	cfg.Maintenance.RetentionDays = 0
	if removed, err := d.PurgeFinished(ctx); err != nil || removed != 0 {
		t.Fatalf("zero retention should keep everything, got %d, %v", removed, err)
	}
}

func TestReportExpiredClaims(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "/videos/a.mp4")
	testsupport.MustEnqueue(t, store, job.ID, queue.UploadPayload{SourcePath: job.SourcePath})
	if _, err := store.ClaimNextJob(ctx, queue.StageUpload, "worker-1", time.Minute); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	d := newDaemon(t, cfg, store)
	if n, err := d.ReportExpiredClaims(ctx); err != nil || n != 0 {
		t.Fatalf("fresh claim should not be expired, got %d, %v", n, err)
	}

	later := newDaemon(t, cfg, store, daemon.WithClock(func() time.Time { return time.Now().Add(time.Hour) }))
	if n, err := later.ReportExpiredClaims(ctx); err != nil || n != 1 {
		t.Fatalf("expected 1 expired claim, got %d, %v", n, err)
	}
}

func TestInvalidMaintenanceSchedule(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Maintenance.PurgeSchedule = "every tuesday"
	store := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, store, logging.NewNop())
	if _, err := daemon.New(cfg, store, logging.NewNop(), mgr); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
