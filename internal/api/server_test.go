package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"finalcut/internal/api"
	"finalcut/internal/events"
	"finalcut/internal/logging"
	"finalcut/internal/queue"
	"finalcut/internal/stage"
	"finalcut/internal/testsupport"
	"finalcut/internal/worker"
	"finalcut/internal/workflow"
)

type recorder struct {
	mu     sync.Mutex
	woken  []queue.Stage
	events []events.Event
}

func (r *recorder) Wake(st queue.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.woken = append(r.woken, st)
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type fixedStatus struct{ summary workflow.StatusSummary }

func (f fixedStatus) Status(context.Context) workflow.StatusSummary { return f.summary }

type harness struct {
	store  *queue.Store
	client *api.Client
	rec    *recorder
}

func newHarness(t *testing.T, status api.StatusProvider) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	rec := &recorder{}
	svc := api.NewJobService(store, api.WithPublisher(rec), api.WithWaker(rec), api.WithDefaultPriority(5))
	srv := httptest.NewServer(api.NewServer(svc, status, logging.NewNop(), 5*time.Second).Handler())
	t.Cleanup(srv.Close)
	return &harness{store: store, client: api.NewClient(srv.URL, 5*time.Second), rec: rec}
}

func TestCreateJobQueuesUpload(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	job, err := h.client.CreateJob(ctx, api.CreateJobRequest{
		SourcePath:    "/videos/talk.mp4",
		OriginalName:  "talk.mp4",
		MinConfidence: 0.7,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status != string(queue.StatusQueued) || job.CurrentStage != string(queue.StageUpload) {
		t.Fatalf("unexpected job state: %s / %s", job.Status, job.CurrentStage)
	}
	if job.Priority != 5 {
		t.Fatalf("expected default priority 5, got %d", job.Priority)
	}
	if job.Options.MinConfidence != 0.7 {
		t.Fatalf("options not stored: %+v", job.Options)
	}
	if job.StageLabel != "Upload" {
		t.Fatalf("unexpected stage label %q", job.StageLabel)
	}

	desc, err := h.client.DescribeJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("DescribeJob: %v", err)
	}
	if len(desc.Items) != 1 || desc.Items[0].Stage != string(queue.StageUpload) {
		t.Fatalf("expected one upload item, got %+v", desc.Items)
	}

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if len(h.rec.woken) != 1 || h.rec.woken[0] != queue.StageUpload {
		t.Fatalf("expected upload pool woken, got %v", h.rec.woken)
	}
	if len(h.rec.events) != 1 || h.rec.events[0].Type != events.JobQueued {
		t.Fatalf("expected job.queued event, got %+v", h.rec.events)
	}
}

func TestCreateJobValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		req   api.CreateJobRequest
		field string
		rule  string
	}{
		{name: "missing source", req: api.CreateJobRequest{}, field: "source_path", rule: "required"},
		{name: "confidence range", req: api.CreateJobRequest{SourcePath: "/a.mp4", MinConfidence: 2}, field: "min_confidence", rule: "lte=1"},
		{name: "quality enum", req: api.CreateJobRequest{SourcePath: "/a.mp4", RenderQuality: "ultra"}, field: "render_quality", rule: "oneof=low medium high"},
		{name: "chunk too short", req: api.CreateJobRequest{SourcePath: "/a.mp4", ChunkDurationSeconds: 2}, field: "chunk_duration_seconds", rule: "gte=10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.client.CreateJob(ctx, tc.req)
			var statusErr *api.StatusError
			if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %v", err)
			}
			if !errors.Is(err, api.ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
			if got := statusErr.Fields[tc.field]; got != tc.rule {
				t.Fatalf("expected %s=%s, got fields %v", tc.field, tc.rule, statusErr.Fields)
			}
		})
	}

	jobs, err := h.client.ListJobs(ctx, nil, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("rejected requests must not create jobs, got %d", len(jobs))
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	handler := api.NewServer(api.NewJobService(store), nil, logging.NewNop(), 0).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"source_path":"/a.mp4","colour":"red"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestJobLifecycleErrors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.client.DescribeJob(ctx, "missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	job, err := h.client.CreateJob(ctx, api.CreateJobRequest{SourcePath: "/videos/a.mp4"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := h.client.RenderJob(ctx, job.ID, api.RenderRequest{}); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("render of queued job should conflict, got %v", err)
	}
	if _, err := h.client.JobTimeline(ctx, job.ID); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("timeline before assembly should conflict, got %v", err)
	}

	cancelled, err := h.client.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if cancelled.Status != string(queue.StatusCancelled) {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if _, err := h.client.CancelJob(ctx, job.ID); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("second cancel should conflict, got %v", err)
	}

	listed, err := h.client.ListJobs(ctx, []string{"cancelled"}, 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != job.ID {
		t.Fatalf("expected the cancelled job, got %+v", listed)
	}
	if _, err := h.client.ListJobs(ctx, []string{"sideways"}, 0); !errors.Is(err, api.ErrInvalidRequest) {
		t.Fatalf("unknown status should be rejected, got %v", err)
	}

	retried, err := h.client.RetryJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if retried.Status != string(queue.StatusQueued) || retried.CurrentStage != string(queue.StageUpload) {
		t.Fatalf("unexpected retried state: %s / %s", retried.Status, retried.CurrentStage)
	}
}

func TestJobLogs(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	job, err := h.client.CreateJob(ctx, api.CreateJobRequest{SourcePath: "/videos/a.mp4"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	for i, msg := range []string{"probing source", "source ingested"} {
		entry := queue.LogEntry{
			JobID:     job.ID,
			Stage:     queue.StageUpload,
			Level:     "INFO",
			Message:   msg,
			CreatedAt: time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
		}
		if err := h.store.AddLog(ctx, entry); err != nil {
			t.Fatalf("AddLog: %v", err)
		}
	}

	logs, err := h.client.JobLogs(ctx, job.ID, 10)
	if err != nil {
		t.Fatalf("JobLogs: %v", err)
	}
	if len(logs.Entries) != 2 || logs.Entries[0].Message != "probing source" {
		t.Fatalf("unexpected log entries: %+v", logs.Entries)
	}
	if _, err := h.client.JobLogs(ctx, "missing", 0); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.client.Status(context.Background()); err == nil {
		t.Fatal("expected 503 without a workflow")
	}

	summary := workflow.StatusSummary{
		Running: true,
		Workers: []worker.Stats{{WorkerID: "w-1", Stage: queue.StageUpload, Running: true, Concurrency: 2}},
		QueueStats: queue.Stats{
			Jobs:  map[queue.Status]int{queue.StatusQueued: 3},
			Items: map[queue.Stage]int{queue.StageUpload: 3},
		},
		StageHealth: map[string]stage.Health{
			"render_video": stage.Unhealthy("render_video", "render.base_url is empty"),
			"upload":       stage.Healthy("upload"),
		},
	}
	h = newHarness(t, fixedStatus{summary: summary})
	status, err := h.client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.Ready {
		t.Fatalf("expected running and not ready, got %+v", status)
	}
	if status.JobCounts["queued"] != 3 || len(status.Workers) != 1 {
		t.Fatalf("unexpected counts: %+v", status)
	}
	if len(status.StageHealth) != 2 || status.StageHealth[0].Name != "upload" {
		t.Fatalf("stage health not in pipeline order: %+v", status.StageHealth)
	}
	if err := h.client.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestServiceValidatesWithoutServer(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	svc := api.NewJobService(store)

	_, err := svc.Create(context.Background(), api.CreateJobRequest{SourcePath: "/a.mp4", FPSOverride: -1})
	var verr *api.ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, api.ErrInvalidRequest) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Fields["fps_override"] != "gt=0" {
		t.Fatalf("unexpected fields %v", verr.Fields)
	}
}
