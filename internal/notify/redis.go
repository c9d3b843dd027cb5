package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-progress/internal/platform/cache"
	"github.com/p-n-ai/pai-progress/internal/progress"
)

// RedisBus publishes notifications on a Redis channel so every instance
// can deliver them to its own subscribers.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus creates a bus on the given pub/sub channel.
func NewRedisBus(c *cache.Cache, channel string) *RedisBus {
	if channel == "" {
		channel = "progress"
	}
	return &RedisBus{client: c.Client, channel: channel}
}

// Notify publishes n to all instances.
func (b *RedisBus) Notify(ctx context.Context, n progress.Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Forward subscribes to the channel and hands every notification to hub
// until ctx is done. It returns once the subscription is confirmed.
func (b *RedisBus) Forward(ctx context.Context, hub *Hub) error {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var n progress.Notification
				if err := json.Unmarshal([]byte(m.Payload), &n); err != nil {
					slog.Warn("bad notification payload", "error", err)
					continue
				}
				hub.deliver(n)
			}
		}
	}()

	slog.Info("notification forwarder started", "channel", b.channel)
	return nil
}
