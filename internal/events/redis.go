package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is used when no channel is configured.
const DefaultRedisChannel = "finalcut:events"

// Redis publishes every event as JSON on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis connects lazily to the server named by a redis:// URL.
func NewRedis(url, channel string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisClient(redis.NewClient(opts), channel), nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(client *redis.Client, channel string) *Redis {
	if strings.TrimSpace(channel) == "" {
		channel = DefaultRedisChannel
	}
	return &Redis{client: client, channel: channel}
}

// Channel returns the pub/sub channel name.
func (r *Redis) Channel() string { return r.channel }

// Publish implements Publisher.
func (r *Redis) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
