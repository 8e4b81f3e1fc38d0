package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/colloquy/colloquy/internal/auth"
	apperrors "github.com/colloquy/colloquy/internal/common/errors"
)

const (
	ctxUserID        = "user_id"
	ctxSecurityLevel = "security_level"
)

// AuthMiddleware validates the bearer token and records the caller identity
// on the request context.
func AuthMiddleware(validator auth.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}

		identity, err := validator.Validate(c.Request.Context(), token)
		if err != nil {
			appErr := apperrors.AuthFailure("invalid or missing token")
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
			return
		}

		c.Set(ctxUserID, identity.UserID)
		c.Set(ctxSecurityLevel, identity.SecurityLevel)
		c.Next()
	}
}

// actorID returns the authenticated caller's user id.
func actorID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}
