package worker

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"finalcut/internal/config"
	"finalcut/internal/queue"
)

const (
	defaultPollInterval    = 5 * time.Second
	defaultRetryDelay      = 30 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	finalizeTimeout        = 30 * time.Second
)

// Config controls one Worker.
type Config struct {
	WorkerID        string
	Stage           queue.Stage
	Concurrency     int
	PollInterval    time.Duration
	ClaimDuration   time.Duration
	MaxRetries      int // 0 keeps the job's own limit
	RetryDelay      time.Duration
	ShutdownTimeout time.Duration
}

// DefaultLease is the claim lease used when none is configured: long enough
// to cover the slowest expected attempt of the stage.
func DefaultLease(stage queue.Stage) time.Duration {
	switch stage {
	case queue.StageGeminiProcessing, queue.StageQueueAnalysis:
		return 30 * time.Minute
	case queue.StageRenderVideo:
		return 6 * time.Hour
	default:
		return 10 * time.Minute
	}
}

// FromConfig builds the worker config for stage from the daemon configuration.
func FromConfig(cfg *config.Config, stage queue.Stage) (Config, error) {
	pool, ok := cfg.StageWorker(string(stage))
	if !ok {
		return Config{}, fmt.Errorf("no worker settings for stage %q", stage)
	}
	wc := Config{
		Stage:           stage,
		Concurrency:     pool.Concurrency,
		PollInterval:    cfg.PollInterval(),
		ClaimDuration:   pool.Lease(),
		MaxRetries:      pool.MaxRetries,
		RetryDelay:      pool.RetryDelay(),
		ShutdownTimeout: cfg.ShutdownTimeout(),
	}
	return wc.withDefaults()
}

func (c Config) withDefaults() (Config, error) {
	if _, ok := queue.ParseStage(string(c.Stage)); !ok {
		return c, fmt.Errorf("unknown stage %q", c.Stage)
	}
	if c.WorkerID == "" {
		c.WorkerID = newWorkerID(c.Stage)
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ClaimDuration <= 0 {
		c.ClaimDuration = DefaultLease(c.Stage)
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return c, nil
}

func (c Config) retryPolicy() queue.RetryPolicy {
	policy := queue.RetryPolicy{Delay: c.RetryDelay}
	if c.MaxRetries > 0 {
		policy.MaxAttempts = c.MaxRetries + 1
	}
	return policy
}

func newWorkerID(stage queue.Stage) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s-%s", host, stage, uuid.NewString()[:8])
}
