package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// RawAmount holds an amount exactly as the client sent it. Both JSON strings
// ("1000.00") and JSON numbers (1000.00) are accepted and kept as text so that
// no precision is lost before validation.
type RawAmount string

func (a *RawAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = RawAmount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*a = RawAmount(n.String())
	return nil
}

// PaymentInput is the external shape of a payment request.
type PaymentInput struct {
	Amount           RawAmount `json:"amount"`
	Currency         string    `json:"currency"`
	RecipientAccount string    `json:"recipient_account"`
	SwiftCode        string    `json:"swift_code"`
	Reference        string    `json:"reference,omitempty"`
}

// CreatePaymentRequest is the body of POST /payments.
type CreatePaymentRequest struct {
	PaymentInput
	// Confirmed must be explicitly true; absent counts as not confirmed.
	Confirmed      *bool  `json:"confirmed"`
	ConfirmedTotal string `json:"confirmed_total,omitempty"`
	ClientNonce    string `json:"client_nonce,omitempty"`
}

// PaymentRequest is a validated, normalized payment request.
type PaymentRequest struct {
	AmountMinor      int64  `json:"amount_minor"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	RecipientAccount string `json:"recipient_account"`
	SwiftCode        string `json:"swift_code"`
	Reference        string `json:"reference,omitempty"`
}

// Money is an exact amount with its display rendering.
type Money struct {
	Minor     int64  `json:"minor"`
	Value     string `json:"value"`
	Formatted string `json:"formatted"`
}

// Summary is what the user sees before confirming a payment.
type Summary struct {
	Currency    string `json:"currency"`
	Locale      string `json:"locale"`
	Principal   Money  `json:"principal"`
	Fee         Money  `json:"fee"`
	Total       Money  `json:"total"`
	FeeBasisPts int64  `json:"fee_basis_points"`
	Recipient   string `json:"recipient_account"`
	SwiftCode   string `json:"swift_code"`
	Reference   string `json:"reference,omitempty"`
}

// Receipt is returned for an accepted or replayed submission.
type Receipt struct {
	TransactionID string    `json:"transaction_id"`
	Status        Status    `json:"status"`
	Replayed      bool      `json:"replayed"`
	Summary       Summary   `json:"summary"`
	CreatedAt     time.Time `json:"created_at"`
}
