package interfaces

import (
	"context"
	"errors"

	"github.com/akylbek/intl-payments/internal/models"
)

var ErrCacheMiss = errors.New("cache miss")

type IdempotencyCache interface {
	Get(ctx context.Context, userID, key string) (*models.CachedReceipt, error)
	Set(ctx context.Context, userID, key string, receipt *models.CachedReceipt) error
}

// VelocityCounter counts a user's new submissions in the current window.
type VelocityCounter interface {
	Increment(ctx context.Context, userID string) (int64, error)
}

type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (string, error)
}

// EventPublisher delivers a keyed message to the settlement service.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}
