package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"finalcut/internal/logging"
)

const memoryCheckSchedule = "@every 1m"

// ScheduledTask describes one registered maintenance job.
type ScheduledTask struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitempty"`
	Prev     time.Time `json:"prev,omitempty"`
}

type scheduler struct {
	d    *Daemon
	cron *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	entries []scheduledEntry
}

type scheduledEntry struct {
	name     string
	schedule string
	id       cron.EntryID
}

func newScheduler(d *Daemon) (*scheduler, error) {
	log := cronLogger{logger: logging.NewComponentLogger(d.logger, "maintenance")}
	s := &scheduler{
		d:   d,
		ctx: context.Background(),
		cron: cron.New(
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
	}
	m := d.cfg.Maintenance
	if err := s.add("purge_finished", m.PurgeSchedule, func(ctx context.Context) { _, _ = d.PurgeFinished(ctx) }); err != nil {
		return nil, err
	}
	if err := s.add("expired_claims", m.ClaimReportSchedule, func(ctx context.Context) { _, _ = d.ReportExpiredClaims(ctx) }); err != nil {
		return nil, err
	}
	if d.memory != nil {
		if err := s.add("memory_gc_hint", memoryCheckSchedule, func(context.Context) { d.memory.MaybeCollect() }); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// add registers fn under spec. An empty spec disables the task.
func (s *scheduler) add(name, spec string, fn func(context.Context)) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	id, err := s.cron.AddFunc(spec, func() { fn(s.context()) })
	if err != nil {
		return fmt.Errorf("maintenance %s schedule %q: %w", name, spec, err)
	}
	s.entries = append(s.entries, scheduledEntry{name: name, schedule: spec, id: id})
	return nil
}

func (s *scheduler) start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// stop waits for running tasks to finish.
func (s *scheduler) stop() {
	<-s.cron.Stop().Done()
}

func (s *scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *scheduler) tasks() []ScheduledTask {
	out := make([]ScheduledTask, 0, len(s.entries))
	for _, e := range s.entries {
		entry := s.cron.Entry(e.id)
		out = append(out, ScheduledTask{Name: e.name, Schedule: e.schedule, Next: entry.Next, Prev: entry.Prev})
	}
	return out
}

// PurgeFinished deletes terminal jobs older than the retention window. A
// non-positive retention keeps everything.
func (d *Daemon) PurgeFinished(ctx context.Context) (int64, error) {
	days := d.cfg.Maintenance.RetentionDays
	if days <= 0 {
		return 0, nil
	}
	cutoff := d.now().Add(-time.Duration(days) * 24 * time.Hour)
	removed, err := d.store.PurgeFinished(ctx, cutoff)
	if err != nil {
		logging.WarnWithContext(d.logger, "purge of finished jobs failed", "maintenance_purge_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		return 0, err
	}
	if removed > 0 {
		d.logger.Info("purged finished jobs",
			logging.String(logging.FieldEventType, "maintenance_purge"),
			logging.Int64("removed", removed),
			logging.Int("retention_days", days),
		)
	}
	return removed, nil
}

// ReportExpiredClaims logs queue items whose lease lapsed without completion.
// They are reclaimed automatically on the next poll; the count is surfaced so
// crashed or hung handlers are visible.
func (d *Daemon) ReportExpiredClaims(ctx context.Context) (int, error) {
	expired, err := d.store.ExpiredClaims(ctx, d.now())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		logging.WarnWithContext(d.logger, "queue items with expired claims", "claims_expired",
			logging.Int("count", expired),
			logging.String(logging.FieldErrorHint, "a stage handler exceeded its lease; raise workers.<stage>.lease_minutes if this repeats"),
		)
	}
	return expired, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{logging.Error(err)}, keysAndValues...)...)
}
