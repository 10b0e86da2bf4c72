package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/intl-payments/internal/apperrors"
	"github.com/akylbek/intl-payments/internal/auth"
)

type MockSessions struct {
	ResolveFunc func(ctx context.Context, sessionID string) (string, error)
}

func (m *MockSessions) Resolve(ctx context.Context, sessionID string) (string, error) {
	return m.ResolveFunc(ctx, sessionID)
}

func newAuthRouter(sessions *MockSessions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", AuthMiddleware(sessions), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(UserIDKey))
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	sessions := &MockSessions{ResolveFunc: func(ctx context.Context, sessionID string) (string, error) {
		switch sessionID {
		case "good":
			return "user-1", nil
		case "flaky":
			return "", errors.New("redis: i/o timeout")
		default:
			return "", auth.ErrSessionNotFound
		}
	}}
	router := newAuthRouter(sessions)

	tests := []struct {
		name     string
		cookie   string
		bearer   string
		wantCode int
		wantBody string
	}{
		{name: "cookie", cookie: "good", wantCode: http.StatusOK, wantBody: "user-1"},
		{name: "bearer", bearer: "good", wantCode: http.StatusOK, wantBody: "user-1"},
		{name: "no session", wantCode: http.StatusUnauthorized},
		{name: "unknown session", cookie: "expired", wantCode: http.StatusUnauthorized},
		{name: "store down", cookie: "flaky", wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.cookie})
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("expected %q, got %q", tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestIdempotencyMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/", IdempotencyMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(IdempotencyKey))
	})

	tests := []struct {
		name     string
		key      string
		wantCode int
		wantBody string
	}{
		{"absent", "", http.StatusOK, ""},
		{"valid", "order-42", http.StatusOK, "order-42"},
		{"max length", strings.Repeat("k", 255), http.StatusOK, strings.Repeat("k", 255)},
		{"too long", strings.Repeat("k", 256), http.StatusUnprocessableEntity, ""},
		{"space", "a b", http.StatusUnprocessableEntity, ""},
		{"non ascii", "clé", http.StatusUnprocessableEntity, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.key != "" {
				req.Header.Set(IdempotencyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, w.Code)
			}
			if tt.wantCode == http.StatusOK && w.Body.String() != tt.wantBody {
				t.Errorf("expected %q, got %q", tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantHeader string
		wantInBody string
		notInBody  string
	}{
		{"retryable", apperrors.NewRetryable("insert", errors.New("db down")), http.StatusServiceUnavailable, "2", `"retry_after_seconds":2`, "db down"},
		{"conflict", &apperrors.ConflictError{Key: "k", TransactionID: "tx-1"}, http.StatusConflict, "", `"transaction_id":"tx-1"`, ""},
		{"internal", errors.New("pq: password authentication failed"), http.StatusInternalServerError, "", `"internal error"`, "password"},
		{"bad request", apperrors.BadRequest("malformed JSON body"), http.StatusBadRequest, "", `"type":"bad_request"`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			WriteError(c, tt.err)

			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, w.Code)
			}
			if got := w.Header().Get("Retry-After"); got != tt.wantHeader {
				t.Errorf("expected Retry-After %q, got %q", tt.wantHeader, got)
			}
			if !strings.Contains(w.Body.String(), tt.wantInBody) {
				t.Errorf("expected %s in %s", tt.wantInBody, w.Body.String())
			}
			if tt.notInBody != "" && strings.Contains(w.Body.String(), tt.notInBody) {
				t.Errorf("leaked %q in %s", tt.notInBody, w.Body.String())
			}
		})
	}
}
