package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/akylbek/intl-payments/internal/apperrors"
	"github.com/akylbek/intl-payments/internal/confirmation"
	"github.com/akylbek/intl-payments/internal/interfaces"
	"github.com/akylbek/intl-payments/internal/middleware"
	"github.com/akylbek/intl-payments/internal/models"
	"github.com/akylbek/intl-payments/internal/money"
	"github.com/akylbek/intl-payments/internal/submission"
	"github.com/akylbek/intl-payments/internal/telemetry"
	"github.com/akylbek/intl-payments/internal/validation"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type Submitter interface {
	Submit(ctx context.Context, userID, key string, payment confirmation.Confirmed) (*models.Receipt, error)
}

type PaymentHandler struct {
	validator *validation.Validator
	gate      *confirmation.Gate
	submitter Submitter
	repo      interfaces.TransactionRepository
}

func NewPaymentHandler(validator *validation.Validator, gate *confirmation.Gate, submitter Submitter, repo interfaces.TransactionRepository) *PaymentHandler {
	return &PaymentHandler{
		validator: validator,
		gate:      gate,
		submitter: submitter,
		repo:      repo,
	}
}

type paymentResponse struct {
	*models.Transaction
	Summary models.Summary `json:"summary"`
}

// PreviewPayment validates a request and returns the summary the user must
// confirm. Nothing is stored.
func (h *PaymentHandler) PreviewPayment(c *gin.Context) {
	var in models.PaymentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		telemetry.Logger.Warn("Invalid preview request", zap.Error(err))
		middleware.WriteError(c, apperrors.BadRequest("malformed JSON body"))
		return
	}

	req, err := h.validate(in)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	summary, err := h.gate.Summarize(req, money.MatchLocale(c.GetHeader("Accept-Language")))
	if err != nil {
		telemetry.Logger.Error("Failed to summarize payment", zap.Error(err))
		middleware.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	ctx := c.Request.Context()
	span := trace.SpanFromContext(ctx)
	userID := c.GetString(middleware.UserIDKey)

	var body models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		telemetry.Logger.Warn("Invalid payment request", zap.Error(err))
		middleware.WriteError(c, apperrors.BadRequest("malformed JSON body"))
		return
	}

	key := c.GetString(middleware.IdempotencyKey)
	if key == "" {
		key = submission.DeriveKey(userID, body.ClientNonce)
	}
	if key == "" {
		middleware.WriteError(c, apperrors.BadRequest("an Idempotency-Key header or client_nonce is required"))
		return
	}

	req, err := h.validate(body.PaymentInput)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	summary, err := h.gate.Summarize(req, money.MatchLocale(c.GetHeader("Accept-Language")))
	if err != nil {
		telemetry.Logger.Error("Failed to summarize payment", zap.Error(err))
		middleware.WriteError(c, err)
		return
	}

	confirmed, err := h.gate.Confirm(req, summary, confirmation.Decision{
		Confirmed:  body.Confirmed != nil && *body.Confirmed,
		ShownTotal: body.ConfirmedTotal,
	})
	if errors.Is(err, confirmation.ErrDeclined) {
		middleware.WriteError(c, apperrors.NewValidation("confirmed", apperrors.CodeConfirmationRequired,
			"review the payment summary and submit with \"confirmed\": true"))
		return
	}
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	telemetry.Logger.Info("Submitting payment",
		zap.String("user_id", userID),
		zap.Int64("amount_minor", req.AmountMinor),
		zap.String("currency", req.Currency),
		zap.String("trace_id", span.SpanContext().TraceID().String()),
	)

	receipt, err := h.submitter.Submit(ctx, userID, key, confirmed)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, receipt)
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	tx, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, interfaces.ErrNotFound) || (err == nil && tx.UserID != userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"type": "not_found", "message": "payment not found"}})
		return
	}
	if err != nil {
		telemetry.Logger.Error("Failed to fetch payment", zap.String("transaction_id", c.Param("id")), zap.Error(err))
		middleware.WriteError(c, apperrors.NewRetryable("fetch payment", err))
		return
	}

	locale := money.MatchLocale(c.GetHeader("Accept-Language"))
	c.JSON(http.StatusOK, paymentResponse{Transaction: tx, Summary: h.gate.SummarizeTransaction(tx, locale)})
}

func (h *PaymentHandler) ListPayments(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	limit, offset, err := pagination(c)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	txs, err := h.repo.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		telemetry.Logger.Error("Failed to list payments", zap.String("user_id", userID), zap.Error(err))
		middleware.WriteError(c, apperrors.NewRetryable("list payments", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": txs, "limit": limit, "offset": offset})
}

func (h *PaymentHandler) validate(in models.PaymentInput) (models.PaymentRequest, error) {
	req, err := h.validator.Validate(in)
	var verr *apperrors.ValidationError
	if errors.As(err, &verr) {
		for _, f := range verr.Fields {
			telemetry.ValidationFailuresTotal.WithLabelValues(f.Field, f.Code).Inc()
		}
	}
	return req, err
}

// pagination reads limit and offset. Limits above the maximum are clamped.
func pagination(c *gin.Context) (int, int, error) {
	verr := &apperrors.ValidationError{}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			verr.Add("limit", apperrors.CodeInvalidFormat, "limit must be a positive integer")
		} else {
			limit = min(n, maxListLimit)
		}
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			verr.Add("offset", apperrors.CodeInvalidFormat, "offset must be a non-negative integer")
		} else {
			offset = n
		}
	}

	return limit, offset, verr.OrNil()
}
