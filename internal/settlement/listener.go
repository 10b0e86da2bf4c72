package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/akylbek/intl-payments/internal/interfaces"
	"github.com/akylbek/intl-payments/internal/models"
	"github.com/akylbek/intl-payments/internal/telemetry"
)

const DefaultStatusSubject = "settlement.status"

const applyTimeout = 5 * time.Second

type StatusUpdate struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

type StatusReply struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Listener applies settlement status updates to stored transactions.
type Listener struct {
	repo    interfaces.TransactionRepository
	subject string
}

func NewListener(repo interfaces.TransactionRepository, subject string) *Listener {
	if subject == "" {
		subject = DefaultStatusSubject
	}
	return &Listener{repo: repo, subject: subject}
}

func (l *Listener) Subscribe(conn subscriber) (*nats.Subscription, error) {
	sub, err := conn.Subscribe(l.subject, l.handle)
	if err != nil {
		return nil, err
	}
	telemetry.Logger.Info("Subscribed to settlement status updates", zap.String("subject", l.subject))
	return sub, nil
}

func (l *Listener) handle(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	reply := l.Apply(ctx, msg.Data)
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		telemetry.Logger.Error("Failed to reply to status update", zap.Error(err))
	}
}

// Apply decodes one update and moves the transaction to the new status if it
// is reachable from the current one. Illegal moves are reported, not applied.
func (l *Listener) Apply(ctx context.Context, data []byte) StatusReply {
	var update StatusUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		telemetry.Logger.Error("Error unmarshaling status update", zap.Error(err))
		return l.reject("", "invalid_message", "malformed status update")
	}
	if update.TransactionID == "" {
		return l.reject(update.Status, "invalid_message", "transaction_id is required")
	}

	status, ok := models.ParseStatus(update.Status)
	if !ok {
		return l.reject(update.Status, "invalid_status", "unknown status "+update.Status)
	}

	logger := telemetry.Logger.With(
		zap.String("transaction_id", update.TransactionID),
		zap.String("status", string(status)),
	)

	tx, err := l.repo.UpdateStatus(ctx, update.TransactionID, status)
	switch {
	case err == nil:
		telemetry.StatusTransitionsTotal.WithLabelValues(string(status), "applied").Inc()
		logger.Info("Transaction status updated", zap.String("reason", update.Reason))
		return StatusReply{OK: true, Status: string(tx.Status)}

	case errors.Is(err, interfaces.ErrNotFound):
		logger.Warn("Status update for unknown transaction")
		return l.reject(string(status), "not_found", "unknown transaction")

	case errors.Is(err, interfaces.ErrInvalidTransition):
		logger.Warn("Rejected status transition", zap.Error(err))
		return l.reject(string(status), "invalid_transition", err.Error())

	default:
		logger.Error("Failed to update transaction status", zap.Error(err))
		return l.reject(string(status), "error", "status update failed, retry later")
	}
}

func (l *Listener) reject(status, result, msg string) StatusReply {
	label := status
	if _, ok := models.ParseStatus(status); !ok {
		label = "unknown"
	}
	telemetry.StatusTransitionsTotal.WithLabelValues(label, result).Inc()
	return StatusReply{OK: false, Status: status, Error: msg}
}
