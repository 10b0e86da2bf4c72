package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type counterClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// VelocityCounter counts submissions per user in a fixed window.
type VelocityCounter struct {
	client counterClient
	window time.Duration
}

func NewVelocityCounter(client counterClient, window time.Duration) *VelocityCounter {
	if window <= 0 {
		window = time.Hour
	}
	return &VelocityCounter{client: client, window: window}
}

func velocityKey(userID string) string {
	return "payments:velocity:" + userID
}

// Increment bumps the user's counter and returns the new count. The window
// starts with the first submission. A counter left without an expiry by an
// earlier failed Expire gets one on its next increment.
func (v *VelocityCounter) Increment(ctx context.Context, userID string) (int64, error) {
	key := velocityKey(userID)

	count, err := v.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	needsWindow := count == 1
	if !needsWindow {
		ttl, err := v.client.TTL(ctx, key).Result()
		if err != nil {
			return 0, fmt.Errorf("read velocity window: %w", err)
		}
		needsWindow = ttl < 0
	}
	if needsWindow {
		if err := v.client.Expire(ctx, key, v.window).Err(); err != nil {
			return 0, fmt.Errorf("set velocity window: %w", err)
		}
	}
	return count, nil
}
