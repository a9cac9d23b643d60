package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"finalcut/internal/config"
	"finalcut/internal/events"
	"finalcut/internal/logging"
	"finalcut/internal/progress"
	"finalcut/internal/queue"
	"finalcut/internal/stage"
	"finalcut/internal/worker"
)

// StageSet bundles the concrete stage handlers the manager runs. A nil
// handler leaves that stage without a pool.
type StageSet struct {
	Upload           stage.Handler
	SplitChunks      stage.Handler
	StoreChunks      stage.Handler
	QueueAnalysis    stage.Handler
	GeminiProcessing stage.Handler
	AssembleTimeline stage.Handler
	RenderVideo      stage.Handler
}

// Handlers returns the non-nil handlers in pipeline order.
func (s StageSet) Handlers() []stage.Handler {
	all := []stage.Handler{
		s.Upload,
		s.SplitChunks,
		s.StoreChunks,
		s.QueueAnalysis,
		s.GeminiProcessing,
		s.AssembleTimeline,
		s.RenderVideo,
	}
	out := make([]stage.Handler, 0, len(all))
	for _, h := range all {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

// Repository is the store surface the manager and its workers need.
type Repository interface {
	worker.Repository
	Stats(ctx context.Context) (queue.Stats, error)
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithPublisher forwards worker lifecycle events to p.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithTracker shares an in-memory progress tracker across all workers.
func WithTracker(t *progress.Tracker) Option {
	return func(m *Manager) { m.tracker = t }
}

// Manager coordinates the per-stage worker pools.
type Manager struct {
	cfg       *config.Config
	repo      Repository
	logger    *slog.Logger
	publisher events.Publisher
	tracker   *progress.Tracker

	mu      sync.RWMutex
	workers []*worker.Worker
	byStage map[queue.Stage]*worker.Worker
	running bool
	lastErr error
}

// NewManager constructs a manager; call ConfigureStages before Start.
func NewManager(cfg *config.Config, repo Repository, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg,
		repo:    repo,
		logger:  logging.NewComponentLogger(logger, "workflow"),
		byStage: make(map[queue.Stage]*worker.Worker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConfigureStages builds one worker per handler in set, replacing any
// previous configuration. It fails while the manager is running.
func (m *Manager) ConfigureStages(set StageSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow running; stop before reconfiguring")
	}
	handlers := set.Handlers()
	if len(handlers) == 0 {
		return errors.New("workflow stages not configured")
	}
	var opts []worker.Option
	if m.publisher != nil {
		opts = append(opts, worker.WithPublisher(m.publisher))
	}
	if m.tracker != nil {
		opts = append(opts, worker.WithTracker(m.tracker))
	}

	workers := make([]*worker.Worker, 0, len(handlers))
	byStage := make(map[queue.Stage]*worker.Worker, len(handlers))
	for _, h := range handlers {
		st := h.Stage()
		if _, dup := byStage[st]; dup {
			return fmt.Errorf("stage %s configured twice", st)
		}
		wc, err := worker.FromConfig(m.cfg, st)
		if err != nil {
			return fmt.Errorf("configure %s worker: %w", st, err)
		}
		w, err := worker.New(wc, m.repo, h, m.logger, opts...)
		if err != nil {
			return fmt.Errorf("build %s worker: %w", st, err)
		}
		workers = append(workers, w)
		byStage[st] = w
	}
	m.workers = workers
	m.byStage = byStage
	return nil
}

// Start launches every configured worker. Workers already started are
// stopped again when a later one fails to start.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	if len(m.workers) == 0 {
		return errors.New("workflow stages not configured")
	}
	for i, w := range m.workers {
		if err := w.Start(ctx); err != nil {
			for _, started := range m.workers[:i] {
				started.Stop()
			}
			m.lastErr = err
			return fmt.Errorf("start %s worker: %w", w.Config().Stage, err)
		}
	}
	m.running = true
	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_started"),
		logging.Int("stages", len(m.workers)),
	)
	return nil
}

// Stop stops all workers concurrently and waits for them.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	workers := append([]*worker.Worker(nil), m.workers...)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stopped"))
}

// Running reports whether the pools are active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Wake asks the worker for st to poll immediately. Unknown stages are ignored.
func (m *Manager) Wake(st queue.Stage) {
	m.mu.RLock()
	w := m.byStage[st]
	m.mu.RUnlock()
	if w != nil {
		w.Wake()
	}
}

// Stages lists the stages that have a pool, in pipeline order.
func (m *Manager) Stages() []queue.Stage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]queue.Stage, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w.Config().Stage)
	}
	return out
}
