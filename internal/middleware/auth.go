package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/intl-payments/internal/apperrors"
	"github.com/akylbek/intl-payments/internal/auth"
	"github.com/akylbek/intl-payments/internal/interfaces"
	"github.com/akylbek/intl-payments/internal/telemetry"
)

const (
	SessionCookie = "session"
	UserIDKey     = "user_id"
)

// AuthMiddleware resolves the caller's session to a user id and stores it
// under UserIDKey. Requests without a resolvable session are rejected.
func AuthMiddleware(sessions interfaces.SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := sessionFromRequest(c)
		if sessionID == "" {
			AbortWithError(c, apperrors.Unauthenticated("session required"))
			return
		}

		userID, err := sessions.Resolve(c.Request.Context(), sessionID)
		if errors.Is(err, auth.ErrSessionNotFound) {
			AbortWithError(c, apperrors.Unauthenticated("session not recognised"))
			return
		}
		if err != nil {
			telemetry.Logger.Error("Failed to resolve session", zap.Error(err))
			AbortWithError(c, apperrors.NewRetryable("resolve session", err))
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

func sessionFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie
	}
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}
