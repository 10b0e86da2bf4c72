package middleware

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/intl-payments/internal/apperrors"
)

type errorBody struct {
	Type              string                 `json:"type"`
	Message           string                 `json:"message"`
	Fields            []apperrors.FieldError `json:"fields,omitempty"`
	RetryAfterSeconds int                    `json:"retry_after_seconds,omitempty"`
	TransactionID     string                 `json:"transaction_id,omitempty"`
}

// WriteError renders err in the shared error envelope. Internal errors are
// reported without detail.
func WriteError(c *gin.Context, err error) {
	status := apperrors.StatusCode(err)
	body := errorBody{Type: apperrors.Type(err), Message: err.Error()}

	var (
		verr *apperrors.ValidationError
		rerr *apperrors.RetryableError
		cerr *apperrors.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		body.Message = "request validation failed"
		body.Fields = verr.Fields
	case errors.As(err, &rerr):
		secs := int(math.Ceil(rerr.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		body.Message = "temporarily unavailable, retry the same request"
		body.RetryAfterSeconds = secs
		c.Header("Retry-After", strconv.Itoa(secs))
	case errors.As(err, &cerr):
		body.TransactionID = cerr.TransactionID
	case status == http.StatusInternalServerError:
		body.Message = "internal error"
	}

	c.JSON(status, gin.H{"error": body})
}

// AbortWithError writes err and stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	WriteError(c, err)
	c.Abort()
}
