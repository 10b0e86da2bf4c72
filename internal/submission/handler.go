// Package submission commits confirmed payments exactly once per idempotency
// key and hands them off to settlement through the outbox.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/akylbek/intl-payments/internal/apperrors"
	"github.com/akylbek/intl-payments/internal/confirmation"
	"github.com/akylbek/intl-payments/internal/interfaces"
	"github.com/akylbek/intl-payments/internal/models"
	"github.com/akylbek/intl-payments/internal/telemetry"
)

const (
	DefaultSettlementTopic = "payment.pending"
	defaultMaxIDAttempts   = 3
)

var errIDsExhausted = errors.New("could not allocate a unique transaction id")

type Handler struct {
	repo          interfaces.TransactionRepository
	gate          *confirmation.Gate
	cache         interfaces.IdempotencyCache
	velocity      interfaces.VelocityCounter
	velocityLimit int64
	newID         func() (string, error)
	now           func() time.Time
	topic         string
	maxIDAttempts int
}

type Option func(*Handler)

// WithCache puts a read-through idempotency cache in front of the store.
func WithCache(cache interfaces.IdempotencyCache) Option {
	return func(h *Handler) { h.cache = cache }
}

// WithVelocityLimit rejects a user's new submissions past limit per window.
func WithVelocityLimit(counter interfaces.VelocityCounter, limit int64) Option {
	return func(h *Handler) {
		h.velocity = counter
		h.velocityLimit = limit
	}
}

func WithIDGenerator(gen func() (string, error)) Option {
	return func(h *Handler) { h.newID = gen }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func WithSettlementTopic(topic string) Option {
	return func(h *Handler) { h.topic = topic }
}

func NewHandler(repo interfaces.TransactionRepository, gate *confirmation.Gate, opts ...Option) *Handler {
	h := &Handler{
		repo:          repo,
		gate:          gate,
		newID:         NewTransactionID,
		now:           time.Now,
		topic:         DefaultSettlementTopic,
		maxIDAttempts: defaultMaxIDAttempts,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Submit commits a confirmed payment for userID under key. A second call
// with the same key and payload returns the original receipt with Replayed
// set; the same key with a different payload is a *apperrors.ConflictError.
// Persistence failures are *apperrors.RetryableError and commit nothing.
func (h *Handler) Submit(ctx context.Context, userID, key string, payment confirmation.Confirmed) (*models.Receipt, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "submission.Submit")
	defer span.End()

	receipt, err := h.submit(ctx, userID, key, payment)
	outcome := outcomeOf(receipt, err)
	telemetry.SubmissionsTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("submission.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return receipt, err
}

func (h *Handler) submit(ctx context.Context, userID, key string, payment confirmation.Confirmed) (*models.Receipt, error) {
	if userID == "" {
		return nil, apperrors.Unauthenticated("no user")
	}
	if !payment.Valid() {
		return nil, apperrors.NewValidation("confirmed", apperrors.CodeConfirmationRequired,
			"the payment summary must be explicitly confirmed")
	}
	if key == "" {
		return nil, apperrors.NewValidation("Idempotency-Key", apperrors.CodeRequired,
			"an Idempotency-Key header or client_nonce is required")
	}

	locale := language.Make(payment.Summary.Locale)
	fingerprint := Fingerprint(payment.Request)
	logger := telemetry.Logger.With(
		zap.String("user_id", userID),
		zap.String("idempotency_key", KeyPrefix(key)),
		zap.String("trace_id", telemetry.TraceID(trace.SpanFromContext(ctx))),
	)

	if receipt, ok, err := h.fromCache(ctx, logger, userID, key, fingerprint); ok {
		return receipt, err
	}

	existing, err := h.repo.GetByIdempotencyKey(ctx, userID, key)
	switch {
	case err == nil:
		return h.replay(ctx, logger, existing, key, fingerprint, locale)
	case !errors.Is(err, interfaces.ErrNotFound):
		logger.Error("Failed to look up idempotency key", zap.Error(err))
		return nil, apperrors.NewRetryable("look up idempotency key", err)
	}

	if err := h.checkVelocity(ctx, logger, userID); err != nil {
		return nil, err
	}

	// The fee schedule is server-owned: recompute rather than trust the
	// summary the client confirmed.
	summary, err := h.gate.Summarize(payment.Request, locale)
	if err != nil {
		return nil, fmt.Errorf("summarize payment: %w", err)
	}
	if summary.Total.Minor != payment.Summary.Total.Minor {
		return nil, apperrors.NewValidation("confirmed_total", apperrors.CodeSummaryMismatch,
			"the fee schedule changed, review and confirm again")
	}

	now := h.now().UTC()
	tx := &models.Transaction{
		UserID:           userID,
		IdempotencyKey:   key,
		Fingerprint:      fingerprint,
		AmountMinor:      payment.Request.AmountMinor,
		Currency:         payment.Request.Currency,
		RecipientAccount: payment.Request.RecipientAccount,
		SwiftCode:        payment.Request.SwiftCode,
		Reference:        payment.Request.Reference,
		FeeMinor:         summary.Fee.Minor,
		FeeBasisPoints:   summary.FeeBasisPts,
		TotalMinor:       summary.Total.Minor,
		Status:           models.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	for attempt := 0; attempt < h.maxIDAttempts; attempt++ {
		id, err := h.newID()
		if err != nil {
			return nil, apperrors.NewRetryable("generate transaction id", err)
		}
		tx.ID = id

		handoff, err := h.handoff(tx)
		if err != nil {
			return nil, fmt.Errorf("build settlement handoff: %w", err)
		}

		err = h.repo.Create(ctx, tx, handoff)
		switch {
		case err == nil:
			logger.Info("Transaction created",
				zap.String("transaction_id", tx.ID),
				zap.Int64("amount_minor", tx.AmountMinor),
				zap.String("currency", tx.Currency),
			)
			h.remember(ctx, logger, tx, summary)
			return &models.Receipt{
				TransactionID: tx.ID,
				Status:        tx.Status,
				Summary:       summary,
				CreatedAt:     tx.CreatedAt,
			}, nil

		case errors.Is(err, interfaces.ErrDuplicateID):
			logger.Warn("Transaction id collision, regenerating", zap.String("transaction_id", id))
			continue

		case errors.Is(err, interfaces.ErrDuplicateIdempotencyKey):
			// A concurrent twin won the insert.
			winner, gerr := h.repo.GetByIdempotencyKey(ctx, userID, key)
			if gerr != nil {
				return nil, apperrors.NewRetryable("look up idempotency key", gerr)
			}
			return h.replay(ctx, logger, winner, key, fingerprint, locale)

		default:
			logger.Error("Failed to persist transaction", zap.String("transaction_id", id), zap.Error(err))
			return nil, apperrors.NewRetryable("persist transaction", err)
		}
	}

	logger.Error("Exhausted transaction id attempts", zap.Int("attempts", h.maxIDAttempts))
	return nil, apperrors.NewRetryable("persist transaction", errIDsExhausted)
}

func (h *Handler) fromCache(ctx context.Context, logger *zap.Logger, userID, key, fingerprint string) (*models.Receipt, bool, error) {
	if h.cache == nil {
		return nil, false, nil
	}

	cached, err := h.cache.Get(ctx, userID, key)
	if err != nil {
		if !errors.Is(err, interfaces.ErrCacheMiss) {
			logger.Warn("Idempotency cache unavailable, falling back to store", zap.Error(err))
		}
		return nil, false, nil
	}

	if cached.Fingerprint != fingerprint {
		logger.Warn("Idempotency key reused with different payload",
			zap.String("transaction_id", cached.TransactionID))
		return nil, true, &apperrors.ConflictError{Key: key, TransactionID: cached.TransactionID}
	}

	// Settlement moves the status on after the receipt was cached.
	status := cached.Status
	if tx, err := h.repo.GetByID(ctx, cached.TransactionID); err == nil {
		status = tx.Status
	} else {
		logger.Warn("Failed to refresh cached transaction status",
			zap.String("transaction_id", cached.TransactionID), zap.Error(err))
	}

	return &models.Receipt{
		TransactionID: cached.TransactionID,
		Status:        status,
		Replayed:      true,
		Summary:       cached.Summary,
		CreatedAt:     cached.CreatedAt,
	}, true, nil
}

func (h *Handler) replay(ctx context.Context, logger *zap.Logger, existing *models.Transaction, key, fingerprint string, locale language.Tag) (*models.Receipt, error) {
	if existing.Fingerprint != fingerprint {
		logger.Warn("Idempotency key reused with different payload",
			zap.String("transaction_id", existing.ID))
		return nil, &apperrors.ConflictError{Key: key, TransactionID: existing.ID}
	}

	summary := h.gate.SummarizeTransaction(existing, locale)
	logger.Info("Replaying transaction", zap.String("transaction_id", existing.ID))
	h.remember(ctx, logger, existing, summary)

	return &models.Receipt{
		TransactionID: existing.ID,
		Status:        existing.Status,
		Replayed:      true,
		Summary:       summary,
		CreatedAt:     existing.CreatedAt,
	}, nil
}

func (h *Handler) checkVelocity(ctx context.Context, logger *zap.Logger, userID string) error {
	if h.velocity == nil || h.velocityLimit <= 0 {
		return nil
	}

	count, err := h.velocity.Increment(ctx, userID)
	if err != nil {
		logger.Error("Failed to check submission velocity", zap.Error(err))
		return apperrors.NewRetryable("check velocity", err)
	}
	if count > h.velocityLimit {
		logger.Warn("Submission velocity exceeded", zap.Int64("count", count))
		return apperrors.Forbidden(fmt.Sprintf("velocity_exceeded: at most %d payments per window", h.velocityLimit))
	}
	return nil
}

// remember writes the receipt to the idempotency cache. The store already
// holds the committed transaction, so a cache failure only costs speed.
func (h *Handler) remember(ctx context.Context, logger *zap.Logger, tx *models.Transaction, summary models.Summary) {
	if h.cache == nil {
		return
	}
	err := h.cache.Set(ctx, tx.UserID, tx.IdempotencyKey, &models.CachedReceipt{
		TransactionID: tx.ID,
		Fingerprint:   tx.Fingerprint,
		Status:        tx.Status,
		Summary:       summary,
		CreatedAt:     tx.CreatedAt,
	})
	if err != nil {
		logger.Warn("Failed to cache receipt", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
}

func (h *Handler) handoff(tx *models.Transaction) (models.OutboxMessage, error) {
	payload, err := json.Marshal(models.PendingEvent{
		TransactionID:    tx.ID,
		UserID:           tx.UserID,
		AmountMinor:      tx.AmountMinor,
		FeeMinor:         tx.FeeMinor,
		TotalMinor:       tx.TotalMinor,
		Currency:         tx.Currency,
		RecipientAccount: tx.RecipientAccount,
		SwiftCode:        tx.SwiftCode,
		Reference:        tx.Reference,
		Status:           tx.Status,
		CreatedAt:        tx.CreatedAt,
	})
	if err != nil {
		return models.OutboxMessage{}, err
	}
	return models.OutboxMessage{
		TransactionID: tx.ID,
		Topic:         h.topic,
		Payload:       payload,
		CreatedAt:     tx.CreatedAt,
	}, nil
}

func outcomeOf(receipt *models.Receipt, err error) string {
	switch {
	case err == nil && receipt.Replayed:
		return "replayed"
	case err == nil:
		return "created"
	}
	switch apperrors.Type(err) {
	case "validation_error", "authorization_error":
		return "rejected"
	case "conflict_error":
		return "conflict"
	case "retryable_error":
		return "retryable"
	default:
		return "error"
	}
}
