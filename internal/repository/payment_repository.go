package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/akylbek/intl-payments/internal/interfaces"
	"github.com/akylbek/intl-payments/internal/models"
)

const (
	uniqueViolation = "23505"

	constraintPrimaryKey  = "transactions_pkey"
	constraintIdempotency = "uq_transactions_user_idempotency"
)

const transactionColumns = `id, user_id, idempotency_key, fingerprint, amount_minor, currency,
	recipient_account, swift_code, reference, fee_minor, fee_basis_points, total_minor, status,
	created_at, updated_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) InitDB(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id VARCHAR(64) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			idempotency_key VARCHAR(255) NOT NULL,
			fingerprint CHAR(64) NOT NULL,
			amount_minor BIGINT NOT NULL CHECK (amount_minor > 0),
			currency CHAR(3) NOT NULL,
			recipient_account VARCHAR(34) NOT NULL,
			swift_code VARCHAR(11) NOT NULL,
			reference VARCHAR(255) NOT NULL DEFAULT '',
			fee_minor BIGINT NOT NULL,
			fee_basis_points BIGINT NOT NULL,
			total_minor BIGINT NOT NULL,
			status VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT ` + constraintPrimaryKey + ` PRIMARY KEY (id),
			CONSTRAINT ` + constraintIdempotency + ` UNIQUE (user_id, idempotency_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON transactions(user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS transaction_outbox (
			id BIGSERIAL PRIMARY KEY,
			transaction_id VARCHAR(64) NOT NULL REFERENCES transactions(id),
			topic VARCHAR(255) NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			published_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transaction_outbox_unpublished ON transaction_outbox(id) WHERE published_at IS NULL`,
	}

	for _, query := range queries {
		if _, err := r.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}

	return nil
}

func (r *PaymentRepository) Create(ctx context.Context, t *models.Transaction, handoff models.OutboxMessage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, t.ID, t.UserID, t.IdempotencyKey, t.Fingerprint, t.AmountMinor, t.Currency,
		t.RecipientAccount, t.SwiftCode, t.Reference, t.FeeMinor, t.FeeBasisPoints, t.TotalMinor,
		string(t.Status), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return mapInsertError(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transaction_outbox (transaction_id, topic, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, handoff.TransactionID, handoff.Topic, string(handoff.Payload), handoff.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func mapInsertError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		switch pqErr.Constraint {
		case constraintPrimaryKey:
			return interfaces.ErrDuplicateID
		case constraintIdempotency:
			return interfaces.ErrDuplicateIdempotencyKey
		}
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var status string
	err := row.Scan(&t.ID, &t.UserID, &t.IdempotencyKey, &t.Fingerprint, &t.AmountMinor, &t.Currency,
		&t.RecipientAccount, &t.SwiftCode, &t.Reference, &t.FeeMinor, &t.FeeBasisPoints, &t.TotalMinor,
		&status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = models.Status(status)
	return &t, nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions WHERE id = $1
	`, id)
	return scanTransaction(row)
}

func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key)
	return scanTransaction(row)
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status models.Status) (*models.Transaction, error) {
	from := models.Predecessors(status)
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE transactions
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
		RETURNING `+transactionColumns+`
	`, string(status), id, pq.Array(allowed))

	t, err := scanTransaction(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}

	// Nothing updated: either the id is unknown or the move is not allowed.
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}
	return nil, fmt.Errorf("%w: %s -> %s", interfaces.ErrInvalidTransition, current.Status, status)
}

func (r *PaymentRepository) PendingOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, transaction_id, topic, payload, created_at
		FROM transaction_outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.OutboxMessage
	for rows.Next() {
		var m models.OutboxMessage
		if err := rows.Scan(&m.ID, &m.TransactionID, &m.Topic, &m.Payload, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *PaymentRepository) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE transaction_outbox SET published_at = $1 WHERE id = ANY($2)`, at, pq.Array(ids))
	return err
}
