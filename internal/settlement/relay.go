// Package settlement moves accepted transactions to the settlement service
// and applies the status updates it sends back.
package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/intl-payments/internal/interfaces"
	"github.com/akylbek/intl-payments/internal/telemetry"
)

const (
	DefaultRelayInterval = time.Second
	DefaultRelayBatch    = 100
)

// Relay publishes unpublished outbox rows in id order. A row is marked
// published only after the broker accepted it, so delivery is at least once.
type Relay struct {
	outbox    interfaces.OutboxRepository
	publisher interfaces.EventPublisher
	interval  time.Duration
	batch     int
	now       func() time.Time
}

func NewRelay(outbox interfaces.OutboxRepository, publisher interfaces.EventPublisher, interval time.Duration, batch int) *Relay {
	if interval <= 0 {
		interval = DefaultRelayInterval
	}
	if batch <= 0 {
		batch = DefaultRelayBatch
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		batch:     batch,
		now:       time.Now,
	}
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	telemetry.Logger.Info("Started settlement relay",
		zap.Duration("interval", r.interval),
		zap.Int("batch", r.batch),
	)

	for {
		select {
		case <-ctx.Done():
			telemetry.Logger.Info("Stopped settlement relay")
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				telemetry.Logger.Error("Settlement relay flush failed", zap.Error(err))
			}
		}
	}
}

// Flush publishes one batch and returns how many rows were marked published.
// It stops at the first publish failure so later rows never overtake
// earlier ones.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	msgs, err := r.outbox.PendingOutbox(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(msgs))
	var publishErr error
	for _, m := range msgs {
		if err := r.publisher.Publish(ctx, m.Topic, []byte(m.TransactionID), m.Payload); err != nil {
			telemetry.OutboxPublishedTotal.WithLabelValues("error").Inc()
			telemetry.Logger.Warn("Failed to publish settlement handoff",
				zap.String("transaction_id", m.TransactionID),
				zap.Int64("outbox_id", m.ID),
				zap.Error(err),
			)
			publishErr = err
			break
		}
		telemetry.OutboxPublishedTotal.WithLabelValues("ok").Inc()
		published = append(published, m.ID)
	}

	if err := r.outbox.MarkPublished(ctx, published, r.now().UTC()); err != nil {
		return 0, err
	}
	if len(published) > 0 {
		telemetry.Logger.Debug("Relayed settlement handoffs", zap.Int("count", len(published)))
	}
	return len(published), publishErr
}
