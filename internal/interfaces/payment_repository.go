package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/akylbek/intl-payments/internal/models"
)

var (
	ErrNotFound = errors.New("transaction not found")
	// ErrDuplicateIdempotencyKey means the (user, key) pair is already taken.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	// ErrDuplicateID means the generated transaction id already exists.
	ErrDuplicateID       = errors.New("transaction id already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// TransactionRepository defines the contract for transaction data access
type TransactionRepository interface {
	// Create stores tx in Pending together with its settlement handoff in one
	// atomic write.
	Create(ctx context.Context, tx *models.Transaction, handoff models.OutboxMessage) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error)
	// UpdateStatus moves a transaction to status if the state machine allows
	// it. Re-applying the current status is a no-op.
	UpdateStatus(ctx context.Context, id string, status models.Status) (*models.Transaction, error)
}

// OutboxRepository exposes undelivered settlement handoffs.
type OutboxRepository interface {
	PendingOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkPublished(ctx context.Context, ids []int64, at time.Time) error
}
