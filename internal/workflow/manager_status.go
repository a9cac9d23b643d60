package workflow

import (
	"context"

	"finalcut/internal/logging"
	"finalcut/internal/queue"
	"finalcut/internal/stage"
	"finalcut/internal/worker"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool                    `json:"running"`
	LastError   string                  `json:"last_error,omitempty"`
	Workers     []worker.Stats          `json:"workers"`
	QueueStats  queue.Stats             `json:"queue"`
	StageHealth map[string]stage.Health `json:"stage_health"`
}

// Ready reports whether every stage handler is healthy.
func (s StatusSummary) Ready() bool {
	for _, h := range s.StageHealth {
		if !h.Ready {
			return false
		}
	}
	return true
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	workers := append([]*worker.Worker(nil), m.workers...)
	m.mu.RUnlock()

	summary := StatusSummary{
		Running:     running,
		Workers:     make([]worker.Stats, 0, len(workers)),
		StageHealth: make(map[string]stage.Health, len(workers)),
	}
	for _, w := range workers {
		stats := w.Stats()
		summary.Workers = append(summary.Workers, stats)
		summary.StageHealth[string(stats.Stage)] = w.Health(ctx)
		if summary.LastError == "" && stats.LastError != "" {
			summary.LastError = stats.LastError
		}
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}

	stats, err := m.repo.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_stats_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	}
	summary.QueueStats = stats
	return summary
}
