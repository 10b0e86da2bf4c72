package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/akylbek/intl-payments/internal/interfaces"
	"github.com/akylbek/intl-payments/internal/models"
)

// MemoryRepository is an in-process TransactionRepository and
// OutboxRepository. The mutex gives Create the same atomic check-and-insert
// the unique constraints give PaymentRepository.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[string]*models.Transaction
	byKey  map[string]string
	outbox []models.OutboxMessage
	nextID int64
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:  make(map[string]*models.Transaction),
		byKey: make(map[string]string),
		now:   time.Now,
	}
}

func idempotencyIndex(userID, key string) string {
	return userID + "\x00" + key
}

func (r *MemoryRepository) Create(ctx context.Context, t *models.Transaction, handoff models.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[t.ID]; ok {
		return interfaces.ErrDuplicateID
	}
	idx := idempotencyIndex(t.UserID, t.IdempotencyKey)
	if _, ok := r.byKey[idx]; ok {
		return interfaces.ErrDuplicateIdempotencyKey
	}

	stored := *t
	r.byID[t.ID] = &stored
	r.byKey[idx] = t.ID

	r.nextID++
	handoff.ID = r.nextID
	r.outbox = append(r.outbox, handoff)
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	out := *t
	return &out, nil
}

func (r *MemoryRepository) GetByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byKey[idempotencyIndex(userID, key)]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	out := *r.byID[id]
	return &out, nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txs := []models.Transaction{}
	for _, t := range r.byID {
		if t.UserID == userID {
			txs = append(txs, *t)
		}
	}
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID > txs[j].ID
		}
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})

	if offset >= len(txs) {
		return []models.Transaction{}, nil
	}
	txs = txs[offset:]
	if limit < len(txs) {
		txs = txs[:limit]
	}
	return txs, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id string, status models.Status) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	if t.Status != status {
		if !t.Status.CanTransition(status) {
			return nil, fmt.Errorf("%w: %s -> %s", interfaces.ErrInvalidTransition, t.Status, status)
		}
		t.Status = status
		t.UpdatedAt = r.now()
	}
	out := *t
	return &out, nil
}

func (r *MemoryRepository) PendingOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var msgs []models.OutboxMessage
	for _, m := range r.outbox {
		if m.PublishedAt == nil {
			msgs = append(msgs, m)
			if len(msgs) == limit {
				break
			}
		}
	}
	return msgs, nil
}

func (r *MemoryRepository) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for i := range r.outbox {
		if _, ok := set[r.outbox[i].ID]; ok {
			published := at
			r.outbox[i].PublishedAt = &published
		}
	}
	return nil
}

// Count returns the number of stored transactions.
func (r *MemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Outbox returns a copy of every handoff, published or not.
func (r *MemoryRepository) Outbox() []models.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.OutboxMessage(nil), r.outbox...)
}
