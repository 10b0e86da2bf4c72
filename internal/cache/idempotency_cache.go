package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akylbek/intl-payments/internal/interfaces"
	"github.com/akylbek/intl-payments/internal/models"
)

// DefaultIdempotencyTTL matches how long clients are expected to retry.
const DefaultIdempotencyTTL = 24 * time.Hour

type kvClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// IdempotencyCache is a read-through accelerator in front of the transaction
// store. The store's unique constraint stays the source of truth.
type IdempotencyCache struct {
	client kvClient
	ttl    time.Duration
}

func NewIdempotencyCache(client kvClient, ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyCache{client: client, ttl: ttl}
}

func idempotencyKey(userID, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", userID, key)
}

func (c *IdempotencyCache) Get(ctx context.Context, userID, key string) (*models.CachedReceipt, error) {
	cached, err := c.client.Get(ctx, idempotencyKey(userID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var receipt models.CachedReceipt
	if err := json.Unmarshal(cached, &receipt); err != nil {
		return nil, fmt.Errorf("decode cached receipt: %w", err)
	}
	return &receipt, nil
}

func (c *IdempotencyCache) Set(ctx context.Context, userID, key string, receipt *models.CachedReceipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, idempotencyKey(userID, key), data, c.ttl).Err()
}
