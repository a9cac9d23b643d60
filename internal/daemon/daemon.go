package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"finalcut/internal/api"
	"finalcut/internal/config"
	"finalcut/internal/deps"
	"finalcut/internal/events"
	"finalcut/internal/logging"
	"finalcut/internal/memory"
	"finalcut/internal/progress"
	"finalcut/internal/queue"
	"finalcut/internal/workflow"
)

// ErrAlreadyRunning is returned when the lock is held by this or another daemon.
var ErrAlreadyRunning = errors.New("finalcut daemon already running")

// Option customises a Daemon.
type Option func(*Daemon)

// WithPublisher routes API-originated job events (queued, cancelled) to p.
func WithPublisher(p events.Publisher) Option {
	return func(d *Daemon) {
		if p != nil {
			d.publisher = p
		}
	}
}

// WithTracker exposes live stage progress on API job views.
func WithTracker(t *progress.Tracker) Option {
	return func(d *Daemon) { d.tracker = t }
}

// WithMemory lets the maintenance scheduler nudge the memory manager.
func WithMemory(m *memory.Manager) Option {
	return func(d *Daemon) { d.memory = m }
}

// WithClock replaces time.Now for maintenance cutoffs.
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) {
		if now != nil {
			d.now = now
		}
	}
}

// Daemon owns the process-wide services.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *queue.Store
	workflow  *workflow.Manager
	publisher events.Publisher
	tracker   *progress.Tracker
	memory    *memory.Manager
	now       func() time.Time

	lockPath string
	lock     *flock.Flock
	api      *apiServer
	sched    *scheduler

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                   `json:"running"`
	PID          int                    `json:"pid"`
	APIAddress   string                 `json:"api_address,omitempty"`
	DatabasePath string                 `json:"database_path"`
	LockPath     string                 `json:"lock_path"`
	Workflow     workflow.StatusSummary `json:"workflow"`
	Memory       *memory.Stats          `json:"memory,omitempty"`
	Maintenance  []ScheduledTask        `json:"maintenance,omitempty"`
}

// New constructs a daemon around an opened store and a configured workflow.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     store,
		workflow:  wf,
		publisher: events.Noop{},
		now:       time.Now,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}

	svc := api.NewJobService(store,
		api.WithPublisher(d.publisher),
		api.WithWaker(wf),
		api.WithTracker(d.tracker),
		api.WithDefaultPriority(cfg.Pipeline.DefaultPriority),
		api.WithLogger(logger),
	)
	timeout := time.Duration(cfg.API.RequestTimeoutSeconds) * time.Second
	d.api = newAPIServer(cfg.API.Bind, api.NewServer(svc, wf, logger, timeout).Handler(), d.logger)

	sched, err := newScheduler(d)
	if err != nil {
		return nil, err
	}
	d.sched = sched
	return d, nil
}

// Start acquires the lock, then starts the workflow, API server, and
// maintenance schedule. Any failure rolls back what already started.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return ErrAlreadyRunning
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, d.lockPath)
	}

	d.warnMissingBinaries(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(); err != nil {
		d.workflow.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.sched.start(runCtx)

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("finalcut daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api_address", d.api.address()),
		logging.String("database_driver", d.store.Driver()),
	)
	return nil
}

// Stop halts maintenance, the API server, and the workflow, then releases
// the lock. Stopping a stopped daemon is a no-op.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	d.sched.stop()
	d.api.stop(d.cfg.ShutdownTimeout())
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_unlock_failed"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("finalcut daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool { return d.running.Load() }

// APIAddress returns the listening address, empty when the API is disabled
// or not started.
func (d *Daemon) APIAddress() string { return d.api.address() }

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		APIAddress:   d.api.address(),
		DatabasePath: d.store.Path(),
		LockPath:     d.lockPath,
		Workflow:     d.workflow.Status(ctx),
		Maintenance:  d.sched.tasks(),
	}
	if d.memory != nil {
		stats := d.memory.Stats()
		status.Memory = &stats
	}
	return status
}

// warnMissingBinaries logs required tools that are not on PATH. The stages
// that need them report unhealthy and fail their items.
func (d *Daemon) warnMissingBinaries(ctx context.Context) {
	for _, s := range deps.Missing(deps.CheckBinaries(ctx, deps.PipelineRequirements(d.cfg))) {
		logging.WarnWithContext(d.logger, "required binary not available", "dependency_missing",
			logging.String("dependency", s.Name),
			logging.String("command", s.Command),
			logging.String("detail", s.Detail),
			logging.String(logging.FieldErrorHint, "install it or set its path in the config file"),
		)
	}
}
