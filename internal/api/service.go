package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"finalcut/internal/events"
	"finalcut/internal/logging"
	"finalcut/internal/progress"
	"finalcut/internal/queue"
)

// ErrInvalidRequest marks caller mistakes that map to 400 responses.
var ErrInvalidRequest = errors.New("invalid request")

// JobStore is the repository surface the service needs.
type JobStore interface {
	CreateJob(ctx context.Context, spec queue.NewJob) (*queue.Job, error)
	EnqueueJob(ctx context.Context, jobID string, payload queue.Payload, priority int) (*queue.QueueItem, error)
	GetJob(ctx context.Context, id string) (*queue.Job, error)
	ListJobs(ctx context.Context, filter queue.JobFilter) ([]*queue.Job, error)
	CancelJob(ctx context.Context, jobID string) error
	RetryJob(ctx context.Context, jobID string) (*queue.QueueItem, error)
	RequestRender(ctx context.Context, jobID string, payload queue.RenderPayload) (*queue.QueueItem, error)
	Logs(ctx context.Context, jobID string, limit int) ([]queue.LogEntry, error)
	QueueItems(ctx context.Context, filter queue.ItemFilter) ([]*queue.QueueItem, error)
}

// Waker nudges the pool for a stage after new work is queued.
type Waker interface {
	Wake(stage queue.Stage)
}

// ServiceOption configures a JobService.
type ServiceOption func(*JobService)

// WithPublisher emits job.queued and job.cancelled events.
func WithPublisher(p events.Publisher) ServiceOption {
	return func(s *JobService) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithWaker wakes stage pools when work is queued.
func WithWaker(w Waker) ServiceOption {
	return func(s *JobService) { s.waker = w }
}

// WithTracker attaches live progress snapshots to job views.
func WithTracker(t *progress.Tracker) ServiceOption {
	return func(s *JobService) { s.tracker = t }
}

// WithDefaultPriority sets the priority used when a request leaves it zero.
func WithDefaultPriority(priority int) ServiceOption {
	return func(s *JobService) { s.defaultPriority = priority }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *JobService) { s.logger = logging.NewComponentLogger(logger, "api") }
}

// JobService implements the job operations behind the HTTP API.
type JobService struct {
	store           JobStore
	publisher       events.Publisher
	waker           Waker
	tracker         *progress.Tracker
	defaultPriority int
	logger          *slog.Logger
}

// NewJobService wraps store.
func NewJobService(store JobStore, opts ...ServiceOption) *JobService {
	s := &JobService{
		store:     store,
		publisher: events.Noop{},
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a job and queues its upload stage.
func (s *JobService) Create(ctx context.Context, req CreateJobRequest) (Job, error) {
	if err := Validate(req); err != nil {
		return Job{}, err
	}
	source := strings.TrimSpace(req.SourcePath)
	if source == "" {
		return Job{}, fmt.Errorf("%w: source_path is required", ErrInvalidRequest)
	}
	priority := req.Priority
	if priority == 0 {
		priority = s.defaultPriority
	}
	job, err := s.store.CreateJob(ctx, queue.NewJob{
		SourcePath:   source,
		OriginalName: strings.TrimSpace(req.OriginalName),
		Priority:     priority,
		MaxRetries:   req.MaxRetries,
		Options: queue.Options{
			ChunkDurationSeconds: req.ChunkDurationSeconds,
			AnalysisModel:        strings.TrimSpace(req.AnalysisModel),
			MinConfidence:        req.MinConfidence,
			FPSOverride:          req.FPSOverride,
			RenderQuality:        req.RenderQuality,
			RenderResolution:     req.RenderResolution,
			MaxFileSizeMB:        req.MaxFileSizeMB,
		},
	})
	if err != nil {
		return Job{}, err
	}
	payload := queue.UploadPayload{SourcePath: job.SourcePath, OriginalName: job.OriginalName}
	if _, err := s.store.EnqueueJob(ctx, job.ID, payload, priority); err != nil {
		if cancelErr := s.store.CancelJob(ctx, job.ID); cancelErr != nil {
			s.logger.Warn("failed to cancel unqueued job",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(cancelErr),
				logging.String(logging.FieldEventType, "job_orphaned"),
				logging.String(logging.FieldErrorHint, "cancel the job manually"),
			)
		}
		return Job{}, fmt.Errorf("queue upload: %w", err)
	}
	s.logger.Info("job created",
		logging.String(logging.FieldEventType, "job_created"),
		logging.String(logging.FieldJobID, job.ID),
		logging.String("source_path", job.SourcePath),
		logging.Int("priority", priority),
	)
	s.publish(ctx, events.JobQueued, job.ID, queue.StageUpload, "queued "+displayName(job))
	s.wake(queue.StageUpload)
	return s.Get(ctx, job.ID)
}

// Get describes one job.
func (s *JobService) Get(ctx context.Context, id string) (Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return Job{}, err
	}
	return WithLive(FromJob(job), s.tracker), nil
}

// Describe returns the job plus its pending queue items.
func (s *JobService) Describe(ctx context.Context, id string) (JobResponse, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return JobResponse{}, err
	}
	items, err := s.store.QueueItems(ctx, queue.ItemFilter{JobID: id})
	if err != nil {
		return JobResponse{}, err
	}
	return JobResponse{Job: job, Items: FromQueueItems(items, time.Now())}, nil
}

// List returns jobs newest first, optionally filtered by status.
func (s *JobService) List(ctx context.Context, statuses []string, limit int) ([]Job, error) {
	filter := queue.JobFilter{Limit: limit}
	for _, raw := range statuses {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		status, ok := queue.ParseStatus(raw)
		if !ok {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, raw)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	jobs, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := FromJobs(jobs)
	for i := range out {
		out[i] = WithLive(out[i], s.tracker)
	}
	return out, nil
}

// Cancel stops a job from advancing. Running handlers finish their attempt.
func (s *JobService) Cancel(ctx context.Context, id string) (Job, error) {
	if err := s.store.CancelJob(ctx, id); err != nil {
		return Job{}, err
	}
	s.publish(ctx, events.JobCancelled, id, "", "cancelled by user")
	return s.Get(ctx, id)
}

// Retry requeues a failed or cancelled job at the stage it stopped in.
func (s *JobService) Retry(ctx context.Context, id string) (Job, error) {
	item, err := s.store.RetryJob(ctx, id)
	if err != nil {
		return Job{}, err
	}
	s.publish(ctx, events.JobQueued, id, item.Stage, "retry queued")
	s.wake(item.Stage)
	return s.Get(ctx, id)
}

// Render queues the render stage for a completed job.
func (s *JobService) Render(ctx context.Context, id string, req RenderRequest) (Job, error) {
	if err := Validate(req); err != nil {
		return Job{}, err
	}
	item, err := s.store.RequestRender(ctx, id, queue.RenderPayload{
		FPS:        req.FPS,
		Resolution: req.Resolution,
		Quality:    req.Quality,
	})
	if err != nil {
		return Job{}, err
	}
	s.publish(ctx, events.JobQueued, id, item.Stage, "render queued")
	s.wake(item.Stage)
	return s.Get(ctx, id)
}

// Logs returns up to limit log lines for a job, oldest first.
func (s *JobService) Logs(ctx context.Context, id string, limit int) (LogsResponse, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return LogsResponse{}, err
	}
	entries, err := s.store.Logs(ctx, id, limit)
	if err != nil {
		return LogsResponse{}, err
	}
	return LogsResponse{JobID: id, Entries: FromLogEntries(entries)}, nil
}

// Timeline returns the assembled timeline. Jobs that have not reached
// assembly yet report queue.ErrInvalidTransition.
func (s *JobService) Timeline(ctx context.Context, id string) (TimelineResponse, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return TimelineResponse{}, err
	}
	if job.Result.Timeline == nil {
		return TimelineResponse{}, fmt.Errorf("%w: job %s has no timeline yet", queue.ErrInvalidTransition, id)
	}
	return TimelineResponse{JobID: id, Timeline: job.Result.Timeline}, nil
}

func (s *JobService) publish(ctx context.Context, typ events.Type, jobID string, st queue.Stage, message string) {
	event := events.Event{
		Type:      typ,
		JobID:     jobID,
		Stage:     string(st),
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Debug("event publish failed",
			logging.String(logging.FieldJobID, jobID),
			logging.String("event", string(typ)),
			logging.Error(err),
		)
	}
}

func (s *JobService) wake(st queue.Stage) {
	if s.waker != nil {
		s.waker.Wake(st)
	}
}

func displayName(job *queue.Job) string {
	if job.OriginalName != "" {
		return job.OriginalName
	}
	return job.SourcePath
}
