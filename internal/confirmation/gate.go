// Package confirmation sits between validation and submission. A payment can
// only be submitted after the user has seen its summary and explicitly
// confirmed it.
package confirmation

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/akylbek/intl-payments/internal/apperrors"
	"github.com/akylbek/intl-payments/internal/models"
	"github.com/akylbek/intl-payments/internal/money"
)

// DefaultFeeBasisPoints is 2%.
const DefaultFeeBasisPoints = 200

// ErrDeclined is returned when the user declines. Nothing is persisted.
var ErrDeclined = errors.New("payment declined by user")

type Gate struct {
	feeBasisPoints int64
}

func NewGate(feeBasisPoints int64) (*Gate, error) {
	if feeBasisPoints < 0 || feeBasisPoints > 10_000 {
		return nil, fmt.Errorf("fee basis points out of range: %d", feeBasisPoints)
	}
	return &Gate{feeBasisPoints: feeBasisPoints}, nil
}

// FeeBasisPoints is the server-owned fee schedule.
func (g *Gate) FeeBasisPoints() int64 { return g.feeBasisPoints }

// Summarize computes principal, fee and total debit in minor units and
// renders them for locale.
func (g *Gate) Summarize(req models.PaymentRequest, locale language.Tag) (models.Summary, error) {
	cur, ok := money.Lookup(req.Currency)
	if !ok {
		return models.Summary{}, fmt.Errorf("unknown currency %q", req.Currency)
	}

	fee, err := money.FeeMinor(req.AmountMinor, g.feeBasisPoints)
	if err != nil {
		return models.Summary{}, fmt.Errorf("compute fee: %w", err)
	}
	total := req.AmountMinor + fee

	return models.Summary{
		Currency:    cur.Code,
		Locale:      locale.String(),
		Principal:   amount(req.AmountMinor, cur, locale),
		Fee:         amount(fee, cur, locale),
		Total:       amount(total, cur, locale),
		FeeBasisPts: g.feeBasisPoints,
		Recipient:   req.RecipientAccount,
		SwiftCode:   req.SwiftCode,
		Reference:   req.Reference,
	}, nil
}

func amount(minor int64, cur money.Currency, locale language.Tag) models.Money {
	return models.Money{
		Minor:     minor,
		Value:     money.FormatMinor(minor, cur.Exponent),
		Formatted: money.Format(minor, cur, locale),
	}
}

// Decision is the user's answer to a summary. The zero value is a refusal.
type Decision struct {
	Confirmed bool
	// ShownTotal is the total the client displayed, as a plain decimal.
	// When set it must equal the server's total.
	ShownTotal string
}

// Confirmed is a request that passed the gate. Only Gate.Confirm builds one.
type Confirmed struct {
	Request models.PaymentRequest
	Summary models.Summary
	ok      bool
}

// Valid reports whether c came out of Gate.Confirm.
func (c Confirmed) Valid() bool { return c.ok }

// Confirm turns an explicit positive decision into a Confirmed payment.
func (g *Gate) Confirm(req models.PaymentRequest, summary models.Summary, d Decision) (Confirmed, error) {
	if !d.Confirmed {
		return Confirmed{}, ErrDeclined
	}

	if shown := strings.TrimSpace(d.ShownTotal); shown != "" {
		cur, ok := money.Lookup(summary.Currency)
		if !ok {
			return Confirmed{}, fmt.Errorf("unknown currency %q", summary.Currency)
		}
		parsed, err := money.Parse(shown)
		if err != nil {
			return Confirmed{}, apperrors.NewValidation("confirmed_total", apperrors.CodeInvalidFormat, "confirmed total must be a number")
		}
		shownMinor, err := money.ToMinor(parsed, cur.Exponent)
		if err != nil || shownMinor != summary.Total.Minor {
			return Confirmed{}, apperrors.NewValidation("confirmed_total", apperrors.CodeSummaryMismatch,
				fmt.Sprintf("total has changed to %s %s, review and confirm again", summary.Total.Value, summary.Currency))
		}
	}

	return Confirmed{Request: req, Summary: summary, ok: true}, nil
}

// SummarizeTransaction renders the amounts stored on t. Replays use this so
// they show the fee that was charged, not the current schedule.
func (g *Gate) SummarizeTransaction(t *models.Transaction, locale language.Tag) models.Summary {
	cur, ok := money.Lookup(t.Currency)
	if !ok {
		cur = money.Currency{Code: t.Currency, Exponent: 2}
	}
	return models.Summary{
		Currency:    cur.Code,
		Locale:      locale.String(),
		Principal:   amount(t.AmountMinor, cur, locale),
		Fee:         amount(t.FeeMinor, cur, locale),
		Total:       amount(t.TotalMinor, cur, locale),
		FeeBasisPts: t.FeeBasisPoints,
		Recipient:   t.RecipientAccount,
		SwiftCode:   t.SwiftCode,
		Reference:   t.Reference,
	}
}
