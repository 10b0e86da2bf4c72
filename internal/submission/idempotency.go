package submission

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/akylbek/intl-payments/internal/models"
)

// nonceKeyDomain separates derived keys from any other HMAC use.
var nonceKeyDomain = []byte("intl-payments/idempotency/v1")

// DeriveKey builds an idempotency key from a client-generated nonce. The user
// id is mixed in so two users picking the same nonce never collide.
func DeriveKey(userID, nonce string) string {
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return ""
	}
	h := hmac.New(sha256.New, nonceKeyDomain)
	h.Write([]byte("user:"))
	h.Write([]byte(userID))
	h.Write([]byte("|nonce:"))
	h.Write([]byte(nonce))
	return "nonce-" + hex.EncodeToString(h.Sum(nil))
}

// KeyPrefix shortens a key for logs.
func KeyPrefix(key string) string {
	if len(key) <= 16 {
		return key
	}
	return key[:16] + "..."
}

type fingerprintFields struct {
	AmountMinor      int64  `json:"amount_minor"`
	Currency         string `json:"currency"`
	RecipientAccount string `json:"recipient_account"`
	SwiftCode        string `json:"swift_code"`
	Reference        string `json:"reference"`
}

// Fingerprint identifies the payload behind an idempotency key. Two
// submissions with one key must have the same fingerprint. The fee is left
// out because it is server-owned.
func Fingerprint(req models.PaymentRequest) string {
	data, _ := json.Marshal(fingerprintFields{
		AmountMinor:      req.AmountMinor,
		Currency:         req.Currency,
		RecipientAccount: req.RecipientAccount,
		SwiftCode:        req.SwiftCode,
		Reference:        req.Reference,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
