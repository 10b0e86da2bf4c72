// Package apperrors holds the error taxonomy of the payment workflow.
// Every error returned to an HTTP caller is one of these or is reported as an
// internal error.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Field-level reason codes.
const (
	CodeRequired             = "required"
	CodeInvalidFormat        = "invalid_format"
	CodeNotPositive          = "not_positive"
	CodePrecision            = "precision"
	CodeExceedsLimit         = "exceeds_limit"
	CodeUnsupported          = "unsupported"
	CodeLength               = "length"
	CodeConfirmationRequired = "confirmation_required"
	CodeSummaryMismatch      = "summary_mismatch"
)

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError is client-fixable. Nothing was applied.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Code)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Add appends a field failure.
func (e *ValidationError) Add(field, code, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Code: code, Message: message})
}

// Has reports whether field failed with code.
func (e *ValidationError) Has(field, code string) bool {
	for _, f := range e.Fields {
		if f.Field == field && f.Code == code {
			return true
		}
	}
	return false
}

// OrNil returns nil when no field failed, so callers can return it directly.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// NewValidation builds a single-field validation error.
func NewValidation(field, code, message string) *ValidationError {
	v := &ValidationError{}
	v.Add(field, code, message)
	return v
}

// RetryableError means nothing was committed and the caller may retry.
type RetryableError struct {
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.Err == nil {
		return e.Op + ": temporarily unavailable"
	}
	return fmt.Sprintf("%s: temporarily unavailable: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// DefaultRetryAfter is the hint returned when none is more specific.
const DefaultRetryAfter = 2 * time.Second

func NewRetryable(op string, err error) *RetryableError {
	return &RetryableError{Op: op, RetryAfter: DefaultRetryAfter, Err: err}
}

// ConflictError is an idempotency key reused with a different payload.
type ConflictError struct {
	Key           string
	TransactionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("idempotency key %q was already used with a different payment", e.Key)
}

// AuthorizationError covers a missing user and a user who is not permitted.
type AuthorizationError struct {
	Reason    string
	Forbidden bool
}

func (e *AuthorizationError) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Reason
}

func Unauthenticated(reason string) *AuthorizationError {
	return &AuthorizationError{Reason: reason}
}

func Forbidden(reason string) *AuthorizationError {
	return &AuthorizationError{Reason: reason, Forbidden: true}
}

// BadRequestError is a request the server cannot interpret at all, such as
// malformed JSON or a missing idempotency key.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return "bad request: " + e.Reason
}

func BadRequest(reason string) *BadRequestError {
	return &BadRequestError{Reason: reason}
}

// StatusCode maps an error to the HTTP status reported to the caller.
func StatusCode(err error) int {
	var (
		verr *ValidationError
		rerr *RetryableError
		cerr *ConflictError
		aerr *AuthorizationError
		berr *BadRequestError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &berr):
		return http.StatusBadRequest
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &cerr):
		return http.StatusConflict
	case errors.As(err, &aerr):
		if aerr.Forbidden {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case errors.As(err, &rerr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Type names the taxonomy class of err for response bodies and metrics.
func Type(err error) string {
	var (
		verr *ValidationError
		rerr *RetryableError
		cerr *ConflictError
		aerr *AuthorizationError
		berr *BadRequestError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &berr):
		return "bad_request"
	case errors.As(err, &verr):
		return "validation_error"
	case errors.As(err, &cerr):
		return "conflict_error"
	case errors.As(err, &aerr):
		return "authorization_error"
	case errors.As(err, &rerr):
		return "retryable_error"
	default:
		return "internal_error"
	}
}
