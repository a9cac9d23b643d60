// Package memory keeps an advisory, process-local table of large working-set
// allocations (decoded frames, chunk buffers) and nudges the Go runtime to
// return memory once usage runs high.
//
// Callers ask before they allocate: Allocate returns false when the request
// would exceed the ceiling, and the caller is expected to wait or defer.
package memory

import (
	"log/slog"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"finalcut/internal/config"
	"finalcut/internal/logging"
)

// WarningLevel grades usage against the ceiling.
type WarningLevel string

const (
	LevelNone     WarningLevel = "none"
	LevelLow      WarningLevel = "low"
	LevelMedium   WarningLevel = "medium"
	LevelHigh     WarningLevel = "high"
	LevelCritical WarningLevel = "critical"
)

// LevelFor returns the warning level for a usage percentage.
func LevelFor(percent float64) WarningLevel {
	switch {
	case percent >= 100:
		return LevelCritical
	case percent >= 90:
		return LevelHigh
	case percent >= 70:
		return LevelMedium
	case percent >= 50:
		return LevelLow
	default:
		return LevelNone
	}
}

// Allocation is one reserved block.
type Allocation struct {
	ID          string    `json:"id"`
	SizeMB      float64   `json:"size_mb"`
	Type        string    `json:"type"`
	AllocatedAt time.Time `json:"allocated_at"`
}

// Stats is a point-in-time view of the table plus runtime heap figures.
type Stats struct {
	CurrentUsageMB  float64      `json:"current_usage_mb"`
	LimitMB         float64      `json:"limit_mb"`
	UsagePercentage float64      `json:"usage_percentage"`
	Allocations     int          `json:"allocations"`
	WarningLevel    WarningLevel `json:"warning_level"`
	HeapAllocMB     float64      `json:"heap_alloc_mb"`
	SysMB           float64      `json:"sys_mb"`
	LastGCHint      *time.Time   `json:"last_gc_hint,omitempty"`
}

// Config sets the ceiling and GC hint policy.
type Config struct {
	LimitMB            float64
	GCThresholdPercent float64
	MinGCInterval      time.Duration
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithCollector replaces the GC hint (runtime.GC followed by debug.FreeOSMemory).
func WithCollector(fn func()) Option {
	return func(m *Manager) {
		if fn != nil {
			m.collect = fn
		}
	}
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	collect func()

	mu       sync.Mutex
	allocs   map[string]Allocation
	current  float64
	lastHint time.Time
}

// New builds a Manager. A non-positive threshold defaults to 80%.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.GCThresholdPercent <= 0 {
		cfg.GCThresholdPercent = 80
	}
	m := &Manager{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "memory"),
		now:     time.Now,
		collect: freeMemory,
		allocs:  make(map[string]Allocation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FromConfig builds a Manager from the memory section.
func FromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) *Manager {
	return New(Config{
		LimitMB:            float64(cfg.Memory.LimitMB),
		GCThresholdPercent: cfg.Memory.GCThresholdPercent,
		MinGCInterval:      time.Duration(cfg.Memory.MinGCIntervalSeconds) * time.Second,
	}, logger, opts...)
}

// Allocate reserves sizeMB under id. Re-allocating an existing id replaces
// its size. It returns false, leaving the table unchanged, when the result
// would exceed the ceiling.
func (m *Manager) Allocate(id string, sizeMB float64, kind string) bool {
	if sizeMB < 0 {
		return false
	}
	m.mu.Lock()
	projected := m.current + sizeMB
	if prev, ok := m.allocs[id]; ok {
		projected -= prev.SizeMB
	}
	if m.cfg.LimitMB > 0 && projected > m.cfg.LimitMB {
		current := m.current
		m.mu.Unlock()
		m.logger.Warn("memory allocation denied",
			logging.String(logging.FieldEventType, "memory_denied"),
			logging.String("allocation_id", id),
			logging.String("allocation_type", kind),
			logging.Float64("size_mb", sizeMB),
			logging.Float64("current_mb", current),
			logging.Float64("limit_mb", m.cfg.LimitMB),
			logging.String(logging.FieldErrorHint, "lower stage concurrency or raise memory.limit_mb"),
		)
		return false
	}
	m.allocs[id] = Allocation{ID: id, SizeMB: sizeMB, Type: kind, AllocatedAt: m.now()}
	m.current = projected
	m.mu.Unlock()

	m.MaybeCollect()
	return true
}

// Release frees id and reports whether it was allocated.
func (m *Manager) Release(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allocs[id]
	if !ok {
		return false
	}
	delete(m.allocs, id)
	m.current -= a.SizeMB
	if m.current < 0 || len(m.allocs) == 0 {
		m.current = 0
	}
	return true
}

// Allocations lists current allocations ordered by id.
func (m *Manager) Allocations() []Allocation {
	m.mu.Lock()
	out := make([]Allocation, 0, len(m.allocs))
	for _, a := range m.allocs {
		out = append(out, a)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats reports table usage and runtime heap size.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := Stats{
		CurrentUsageMB:  m.current,
		LimitMB:         m.cfg.LimitMB,
		UsagePercentage: m.percentLocked(),
		Allocations:     len(m.allocs),
	}
	if !m.lastHint.IsZero() {
		hint := m.lastHint
		s.LastGCHint = &hint
	}
	m.mu.Unlock()
	s.WarningLevel = LevelFor(s.UsagePercentage)

	var rt runtime.MemStats
	runtime.ReadMemStats(&rt)
	s.HeapAllocMB = float64(rt.HeapAlloc) / (1 << 20)
	s.SysMB = float64(rt.Sys) / (1 << 20)
	return s
}

// MaybeCollect runs the GC hint when usage is at or above the threshold and
// the previous hint is at least MinGCInterval old. It reports whether the hint ran.
func (m *Manager) MaybeCollect() bool {
	m.mu.Lock()
	percent := m.percentLocked()
	now := m.now()
	due := percent >= m.cfg.GCThresholdPercent &&
		(m.lastHint.IsZero() || now.Sub(m.lastHint) >= m.cfg.MinGCInterval)
	if due {
		m.lastHint = now
	}
	m.mu.Unlock()
	if !due {
		return false
	}
	m.logger.Debug("encouraging garbage collection",
		logging.String(logging.FieldEventType, "memory_gc_hint"),
		logging.Float64("usage_percentage", percent),
	)
	m.collect()
	return true
}

func (m *Manager) percentLocked() float64 {
	if m.cfg.LimitMB <= 0 {
		return 0
	}
	return m.current / m.cfg.LimitMB * 100
}

func freeMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}
