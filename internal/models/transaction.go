package models

import "time"

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusVerified Status = "VERIFIED"
	StatusSent     Status = "SENT"
	StatusFailed   Status = "FAILED"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusVerified, StatusFailed},
	StatusVerified: {StatusSent, StatusFailed},
}

// ParseStatus accepts the canonical upper-case names only.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusVerified, StatusSent, StatusFailed:
		return st, true
	}
	return "", false
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Predecessors lists the states from which next may be reached.
func Predecessors(next Status) []Status {
	var from []Status
	for src, dsts := range transitions {
		for _, d := range dsts {
			if d == next {
				from = append(from, src)
			}
		}
	}
	return from
}

// Transaction is the durable record of an accepted payment.
type Transaction struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	IdempotencyKey   string    `json:"-"`
	Fingerprint      string    `json:"-"`
	AmountMinor      int64     `json:"amount_minor"`
	Currency         string    `json:"currency"`
	RecipientAccount string    `json:"recipient_account"`
	SwiftCode        string    `json:"swift_code"`
	Reference        string    `json:"reference,omitempty"`
	FeeMinor         int64     `json:"fee_minor"`
	FeeBasisPoints   int64     `json:"fee_basis_points"`
	TotalMinor       int64     `json:"total_minor"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// OutboxMessage is a pending handoff of a transaction to the settlement service.
type OutboxMessage struct {
	ID            int64      `json:"id"`
	TransactionID string     `json:"transaction_id"`
	Topic         string     `json:"topic"`
	Payload       []byte     `json:"payload"`
	CreatedAt     time.Time  `json:"created_at"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
}

// PendingEvent is the payload handed to the settlement service.
type PendingEvent struct {
	TransactionID    string    `json:"transaction_id"`
	UserID           string    `json:"user_id"`
	AmountMinor      int64     `json:"amount_minor"`
	FeeMinor         int64     `json:"fee_minor"`
	TotalMinor       int64     `json:"total_minor"`
	Currency         string    `json:"currency"`
	RecipientAccount string    `json:"recipient_account"`
	SwiftCode        string    `json:"swift_code"`
	Reference        string    `json:"reference,omitempty"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

// CachedReceipt is the idempotency cache entry for a committed submission.
type CachedReceipt struct {
	TransactionID string    `json:"transaction_id"`
	Fingerprint   string    `json:"fingerprint"`
	Status        Status    `json:"status"`
	Summary       Summary   `json:"summary"`
	CreatedAt     time.Time `json:"created_at"`
}
