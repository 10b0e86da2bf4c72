package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/akylbek/intl-payments/internal/apperrors"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	IdempotencyKey    = "idempotency_key"

	maxIdempotencyKeyLength = 255
)

// IdempotencyMiddleware checks the Idempotency-Key header format and exposes
// it under IdempotencyKey. The header is optional here because a key can also
// be derived from a client nonce in the body.
func IdempotencyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" {
			c.Next()
			return
		}

		if len(key) > maxIdempotencyKeyLength || !printableASCII(key) {
			AbortWithError(c, apperrors.NewValidation("Idempotency-Key", apperrors.CodeInvalidFormat,
				"Idempotency-Key must be 1 to 255 printable ASCII characters"))
			return
		}

		c.Set(IdempotencyKey, key)
		c.Next()
	}
}

func printableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
