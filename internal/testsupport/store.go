package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"finalcut/internal/config"
	"finalcut/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...queue.Option) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a pending job for sourcePath.
func NewJob(t testing.TB, store *queue.Store, sourcePath string) *queue.Job {
	t.Helper()

	job, err := store.CreateJob(context.Background(), queue.NewJob{SourcePath: sourcePath, OriginalName: "source.mp4"})
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}

// MustEnqueue enqueues payload for job and returns the queue item.
func MustEnqueue(t testing.TB, store *queue.Store, jobID string, payload queue.Payload) *queue.QueueItem {
	t.Helper()

	item, err := store.EnqueueJob(context.Background(), jobID, payload, 0)
	if err != nil {
		t.Fatalf("store.EnqueueJob: %v", err)
	}
	return item
}

// Clock is a manually advanced clock for lease and retry tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
