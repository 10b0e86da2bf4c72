// Package validation rejects malformed payment requests before any side effect.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/akylbek/intl-payments/internal/apperrors"
	"github.com/akylbek/intl-payments/internal/models"
	"github.com/akylbek/intl-payments/internal/money"
)

// maxFractionDigits caps precision regardless of the currency's minor unit.
const maxFractionDigits = 2

// swiftPattern is the BIC grammar: institution, country, location, optional branch.
var swiftPattern = regexp.MustCompile(`^[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}([A-Z0-9]{3})?$`)

type Rules struct {
	// MaxAmount is the per-transaction ceiling in major units of the payment currency.
	MaxAmount          decimal.Decimal
	Currencies         []string
	AccountMinDigits   int
	AccountMaxDigits   int
	MaxReferenceLength int
}

func DefaultRules() Rules {
	return Rules{
		MaxAmount:          decimal.NewFromInt(50_000),
		Currencies:         money.DefaultCurrencies,
		AccountMinDigits:   8,
		AccountMaxDigits:   12,
		MaxReferenceLength: 140,
	}
}

type Validator struct {
	rules      Rules
	currencies map[string]money.Currency
}

func NewValidator(rules Rules) (*Validator, error) {
	if rules.AccountMinDigits <= 0 || rules.AccountMaxDigits < rules.AccountMinDigits {
		return nil, fmt.Errorf("invalid account length range %d-%d", rules.AccountMinDigits, rules.AccountMaxDigits)
	}
	if rules.MaxAmount.Sign() <= 0 {
		return nil, fmt.Errorf("max amount must be positive, got %s", rules.MaxAmount)
	}

	currencies := make(map[string]money.Currency, len(rules.Currencies))
	for _, code := range rules.Currencies {
		cur, ok := money.Lookup(code)
		if !ok {
			return nil, fmt.Errorf("unknown currency %q", code)
		}
		currencies[cur.Code] = cur
	}
	if len(currencies) == 0 {
		return nil, fmt.Errorf("no supported currencies configured")
	}

	return &Validator{rules: rules, currencies: currencies}, nil
}

// Validate normalizes in or returns a *apperrors.ValidationError naming every
// field that failed.
func (v *Validator) Validate(in models.PaymentInput) (models.PaymentRequest, error) {
	verr := &apperrors.ValidationError{}
	var out models.PaymentRequest

	cur, curOK := v.validateCurrency(strings.TrimSpace(in.Currency), verr)
	if curOK {
		out.Currency = cur.Code
	}

	if amount, ok := v.validateAmount(string(in.Amount), cur, curOK, verr); ok && curOK {
		minor, err := money.ToMinor(amount, cur.Exponent)
		if err != nil {
			verr.Add("amount", apperrors.CodePrecision, fmt.Sprintf("amount cannot be represented in %s minor units", cur.Code))
		} else {
			out.AmountMinor = minor
			out.Amount = money.FormatMinor(minor, cur.Exponent)
		}
	}

	out.RecipientAccount = v.validateAccount(strings.TrimSpace(in.RecipientAccount), verr)
	out.SwiftCode = validateSwift(in.SwiftCode, verr)
	out.Reference = v.validateReference(strings.TrimSpace(in.Reference), verr)

	if err := verr.OrNil(); err != nil {
		return models.PaymentRequest{}, err
	}
	return out, nil
}

func (v *Validator) validateCurrency(code string, verr *apperrors.ValidationError) (money.Currency, bool) {
	if code == "" {
		verr.Add("currency", apperrors.CodeRequired, "currency is required")
		return money.Currency{}, false
	}
	cur, ok := v.currencies[strings.ToUpper(code)]
	if !ok {
		verr.Add("currency", apperrors.CodeUnsupported, fmt.Sprintf("currency %q is not supported", code))
		return money.Currency{}, false
	}
	return cur, true
}

// validateAmount checks sign, precision and ceiling. Precision is checked
// against the currency's minor unit only when the currency is known.
func (v *Validator) validateAmount(raw string, cur money.Currency, curOK bool, verr *apperrors.ValidationError) (decimal.Decimal, bool) {
	amount, err := money.Parse(raw)
	if err != nil {
		if strings.TrimSpace(raw) == "" {
			verr.Add("amount", apperrors.CodeRequired, "amount is required")
		} else {
			verr.Add("amount", apperrors.CodeInvalidFormat, "amount must be a number")
		}
		return decimal.Zero, false
	}

	ok := true
	if amount.Sign() <= 0 {
		verr.Add("amount", apperrors.CodeNotPositive, "amount must be greater than zero")
		ok = false
	}

	places := int32(maxFractionDigits)
	if curOK && cur.Exponent < places {
		places = cur.Exponent
	}
	if money.FractionDigits(amount) > places {
		verr.Add("amount", apperrors.CodePrecision, fmt.Sprintf("amount must have at most %d decimal places", places))
		ok = false
	}

	if amount.GreaterThan(v.rules.MaxAmount) {
		verr.Add("amount", apperrors.CodeExceedsLimit, fmt.Sprintf("amount must not exceed %s", v.rules.MaxAmount.String()))
		ok = false
	}

	return amount, ok
}

func (v *Validator) validateAccount(account string, verr *apperrors.ValidationError) string {
	if account == "" {
		verr.Add("recipient_account", apperrors.CodeRequired, "recipient account is required")
		return ""
	}
	for _, r := range account {
		if r < '0' || r > '9' {
			verr.Add("recipient_account", apperrors.CodeInvalidFormat, "recipient account must contain digits only")
			return ""
		}
	}
	if n := len(account); n < v.rules.AccountMinDigits || n > v.rules.AccountMaxDigits {
		verr.Add("recipient_account", apperrors.CodeLength,
			fmt.Sprintf("recipient account must be %d to %d digits", v.rules.AccountMinDigits, v.rules.AccountMaxDigits))
		return ""
	}
	return account
}

func validateSwift(raw string, verr *apperrors.ValidationError) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		verr.Add("swift_code", apperrors.CodeRequired, "SWIFT/BIC code is required")
		return ""
	}
	if !swiftPattern.MatchString(code) {
		verr.Add("swift_code", apperrors.CodeInvalidFormat, "SWIFT/BIC code must be 8 or 11 characters: 4 letters, 2-letter country, 2 alphanumerics, optional 3 alphanumerics")
		return ""
	}
	return code
}

func (v *Validator) validateReference(ref string, verr *apperrors.ValidationError) string {
	if ref == "" {
		return ""
	}
	if n := len([]rune(ref)); n > v.rules.MaxReferenceLength {
		verr.Add("reference", apperrors.CodeLength, fmt.Sprintf("reference must be at most %d characters", v.rules.MaxReferenceLength))
		return ""
	}
	for _, r := range ref {
		if unicode.IsControl(r) {
			verr.Add("reference", apperrors.CodeInvalidFormat, "reference must not contain control characters")
			return ""
		}
	}
	return ref
}
