package events

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"finalcut/internal/config"
	"finalcut/internal/logging"
)

// Type names a lifecycle transition.
type Type string

const (
	JobQueued      Type = "job.queued"
	StageStarted   Type = "stage.started"
	StageCompleted Type = "stage.completed"
	StageDeferred  Type = "stage.deferred"
	StageFailed    Type = "stage.failed"
	JobCompleted   Type = "job.completed"
	JobFailed      Type = "job.failed"
	JobCancelled   Type = "job.cancelled"
)

// Event is a single lifecycle notification.
type Event struct {
	Type      Type      `json:"type"`
	JobID     string    `json:"job_id"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message,omitempty"`
	Category  string    `json:"category,omitempty"`
	Progress  float64   `json:"progress"`
	Retrying  bool      `json:"retrying,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers events to one transport.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Noop drops every event.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, Event) error { return nil }

// Bus fans events out to every configured transport.
type Bus struct {
	publishers []Publisher
	closers    []func() error
	logger     *slog.Logger
	now        func() time.Time
}

// New builds a Bus from the events section of cfg. Transports left empty in the
// config are skipped.
func New(cfg *config.Config, logger *slog.Logger) (*Bus, error) {
	bus := &Bus{logger: logging.NewComponentLogger(logger, "events"), now: time.Now}
	if cfg == nil {
		return bus, nil
	}
	timeout := time.Duration(cfg.Events.RequestTimeout) * time.Second
	if topic := strings.TrimSpace(cfg.Events.NtfyTopic); topic != "" {
		bus.publishers = append(bus.publishers, NewNtfy(topic, timeout))
	}
	if url := strings.TrimSpace(cfg.Events.RedisURL); url != "" {
		rp, err := NewRedis(url, cfg.Events.RedisChannel)
		if err != nil {
			return nil, err
		}
		bus.publishers = append(bus.publishers, rp)
		bus.closers = append(bus.closers, rp.Close)
		bus.logger.Debug("redis event publisher attached", logging.String("channel", rp.Channel()))
	}
	return bus, nil
}

// NewBus wraps explicit publishers, mainly for tests and embedding.
func NewBus(logger *slog.Logger, publishers ...Publisher) *Bus {
	return &Bus{
		publishers: publishers,
		logger:     logging.NewComponentLogger(logger, "events"),
		now:        time.Now,
	}
}

// Enabled reports whether at least one transport is attached.
func (b *Bus) Enabled() bool {
	return b != nil && len(b.publishers) > 0
}

// Publish stamps the event and hands it to every transport. Transport errors
// are logged and joined; one failing transport does not block the others.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if b == nil || len(b.publishers) == 0 {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now().UTC()
	}
	var errs []error
	for _, p := range b.publishers {
		if err := p.Publish(ctx, event); err != nil {
			logging.WarnWithContext(b.logger, "event delivery failed", "event_delivery_failed",
				logging.String("event", string(event.Type)),
				logging.String(logging.FieldJobID, event.JobID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check ntfy topic or redis connectivity"),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases transport connections.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
