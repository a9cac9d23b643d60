package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"finalcut/internal/events"
	"finalcut/internal/logging"
	"finalcut/internal/progress"
	"finalcut/internal/queue"
	"finalcut/internal/stage"
)

// Repository is the slice of the job store a worker needs.
type Repository interface {
	ClaimNextJob(ctx context.Context, stage queue.Stage, workerID string, lease time.Duration) (*queue.QueueItem, error)
	GetJob(ctx context.Context, id string) (*queue.Job, error)
	StartJobStage(ctx context.Context, jobID string, stage queue.Stage) error
	UpdateJob(ctx context.Context, id string, update queue.JobUpdate) error
	CompleteJobStage(ctx context.Context, queueID, workerID string, result queue.JobResult, next queue.Payload) error
	FailJobStage(ctx context.Context, queueID, workerID string, failure queue.Failure, policy queue.RetryPolicy) (queue.FailOutcome, error)
	ReleaseJobClaim(ctx context.Context, queueID, workerID string, delay time.Duration) error
	AddLog(ctx context.Context, entry queue.LogEntry) error
}

// Option configures optional Worker collaborators.
type Option func(*Worker)

// WithPublisher routes lifecycle events to p.
func WithPublisher(p events.Publisher) Option {
	return func(w *Worker) {
		if p != nil {
			w.publisher = p
		}
	}
}

// WithTracker mirrors stage progress into an in-memory tracker.
func WithTracker(t *progress.Tracker) Option {
	return func(w *Worker) { w.tracker = t }
}

// Stats are the worker's counters.
type Stats struct {
	WorkerID      string      `json:"worker_id"`
	Stage         queue.Stage `json:"stage"`
	Running       bool        `json:"running"`
	Concurrency   int         `json:"concurrency"`
	ActiveJobs    int         `json:"active_jobs"`
	JobsProcessed int64       `json:"jobs_processed"`
	JobsFailed    int64       `json:"jobs_failed"`
	JobsReleased  int64       `json:"jobs_released"`
	LastError     string      `json:"last_error,omitempty"`
	LastPoll      time.Time   `json:"last_poll"`
}

type inflight struct {
	item   *queue.QueueItem
	cancel context.CancelFunc
}

// Worker runs one stage handler against the queue.
type Worker struct {
	cfg       Config
	repo      Repository
	handler   stage.Handler
	logger    *slog.Logger
	publisher events.Publisher
	tracker   *progress.Tracker

	mu       sync.Mutex
	running  bool
	stopping bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	wake     chan struct{}
	active   map[string]*inflight
	jobs     sync.WaitGroup
	stats    Stats
}

// New validates cfg and builds a worker for handler.
func New(cfg Config, repo Repository, handler stage.Handler, logger *slog.Logger, opts ...Option) (*Worker, error) {
	if repo == nil {
		return nil, errors.New("worker requires a repository")
	}
	if handler == nil {
		return nil, errors.New("worker requires a stage handler")
	}
	if cfg.Stage == "" {
		cfg.Stage = handler.Stage()
	}
	if cfg.Stage != handler.Stage() {
		return nil, errors.New("worker stage does not match handler stage")
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	w := &Worker{
		cfg:       cfg,
		repo:      repo,
		handler:   handler,
		publisher: events.Noop{},
		wake:      make(chan struct{}, 1),
		active:    make(map[string]*inflight),
	}
	w.logger = logging.NewComponentLogger(logger, "worker").With(
		logging.String(logging.FieldStage, string(cfg.Stage)),
		logging.String(logging.FieldWorkerID, cfg.WorkerID),
	)
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Config returns the effective configuration.
func (w *Worker) Config() Config { return w.cfg }

// Start begins polling. Job contexts inherit values from ctx but are only
// cancelled by Stop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("worker already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.stopping = false
	w.loopDone = make(chan struct{})

	w.logger.Info("worker started",
		logging.String(logging.FieldEventType, "worker_started"),
		logging.Int("concurrency", w.cfg.Concurrency),
		logging.Duration("poll_interval", w.cfg.PollInterval),
		logging.Duration("claim_duration", w.cfg.ClaimDuration),
	)
	go w.loop(loopCtx, context.WithoutCancel(ctx))
	return nil
}

// Stop halts polling and waits up to the shutdown timeout for in-flight jobs.
// Jobs still running after that are cancelled and their claims released so
// another worker can pick them up immediately.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.stopping = true
	cancel := w.cancel
	loopDone := w.loopDone
	w.mu.Unlock()

	cancel()
	<-loopDone

	if waitTimeout(&w.jobs, w.cfg.ShutdownTimeout) {
		w.logger.Info("worker stopped", logging.String(logging.FieldEventType, "worker_stopped"))
		return
	}

	w.mu.Lock()
	remaining := make([]*inflight, 0, len(w.active))
	for _, job := range w.active {
		remaining = append(remaining, job)
	}
	w.mu.Unlock()

	ctx, done := context.WithTimeout(context.Background(), finalizeTimeout)
	defer done()
	for _, job := range remaining {
		job.cancel()
		err := w.repo.ReleaseJobClaim(ctx, job.item.ID, w.cfg.WorkerID, 0)
		if errors.Is(err, queue.ErrClaimLost) {
			continue
		}
		if err != nil {
			logging.WarnWithContext(w.logger, "failed to release claim on shutdown", "claim_release_failed",
				logging.String(logging.FieldJobID, job.item.JobID),
				logging.String(logging.FieldQueueID, job.item.ID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the lease will expire and the item will be reclaimed"),
			)
			continue
		}
		w.count(func(s *Stats) { s.JobsReleased++ })
		w.logger.Info("claim released on shutdown",
			logging.String(logging.FieldEventType, "claim_released"),
			logging.String(logging.FieldJobID, job.item.JobID),
			logging.String(logging.FieldQueueID, job.item.ID),
		)
	}
	if !waitTimeout(&w.jobs, w.cfg.ShutdownTimeout) {
		logging.WarnWithContext(w.logger, "stage handlers ignored cancellation", "worker_stop_timeout",
			logging.Int("active_jobs", w.activeCount()),
		)
	}
	w.logger.Info("worker stopped", logging.String(logging.FieldEventType, "worker_stopped"))
}

// Stats returns a copy of the worker counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.WorkerID = w.cfg.WorkerID
	s.Stage = w.cfg.Stage
	s.Running = w.running
	s.Concurrency = w.cfg.Concurrency
	s.ActiveJobs = len(w.active)
	return s
}

// Health reports the handler's readiness.
func (w *Worker) Health(ctx context.Context) stage.Health {
	return w.handler.HealthCheck(ctx)
}

// Wake triggers an immediate poll.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) loop(ctx, jobBase context.Context) {
	defer close(w.loopDone)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		w.poll(ctx, jobBase)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

func (w *Worker) poll(ctx, jobBase context.Context) {
	w.count(func(s *Stats) { s.LastPoll = time.Now().UTC() })
	for w.activeCount() < w.cfg.Concurrency {
		if ctx.Err() != nil {
			return
		}
		item, err := w.repo.ClaimNextJob(ctx, w.cfg.Stage, w.cfg.WorkerID, w.cfg.ClaimDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.setLastError(err)
			logging.ErrorWithContext(w.logger, "failed to claim queue item", "queue_claim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			return
		}
		if item == nil {
			return
		}
		w.launch(jobBase, item)
	}
}

func (w *Worker) launch(base context.Context, item *queue.QueueItem) {
	jobCtx, cancel := context.WithCancel(base)
	w.mu.Lock()
	w.active[item.ID] = &inflight{item: item, cancel: cancel}
	w.mu.Unlock()
	w.jobs.Add(1)
	go func() {
		defer w.jobs.Done()
		defer func() {
			cancel()
			w.mu.Lock()
			delete(w.active, item.ID)
			w.mu.Unlock()
			w.Wake()
		}()
		w.process(jobCtx, item)
	}()
}

func (w *Worker) activeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}

func (w *Worker) isStopping() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopping
}

func (w *Worker) count(fn func(*Stats)) {
	w.mu.Lock()
	fn(&w.stats)
	w.mu.Unlock()
}

func (w *Worker) setLastError(err error) {
	if err == nil {
		return
	}
	w.count(func(s *Stats) { s.LastError = err.Error() })
}

// waitTimeout waits for wg and reports whether it finished within d.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
