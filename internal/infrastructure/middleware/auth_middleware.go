package middleware

import (
	"net/http"
	"strings"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/services"
	apperrors "roomrelay/pkg/errors"
	"roomrelay/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	userIDKey   = "user_id"
	usernameKey = "username"
)

// bearerToken returns the token from an Authorization: Bearer header.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   string(apperrors.ErrCodeUnauthorized),
		"message": message,
	})
}

// AuthMiddleware accepts a Bearer header or, failing that, the access token
// cookie.
func AuthMiddleware(authService services.AuthService, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok && c.GetHeader("Authorization") != "" {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}
		if !ok && cookieName != "" {
			if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
				token, ok = cookie, true
			}
		}
		if !ok {
			abortUnauthorized(c, "authorization required")
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(usernameKey, claims.Username)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), string(claims.UserID)))
		c.Next()
	}
}

// IdentityFromContext returns the identity stored by AuthMiddleware.
func IdentityFromContext(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return domain.Identity{}, false
	}
	userID, ok := v.(domain.UserID)
	if !ok || userID == "" {
		return domain.Identity{}, false
	}
	return domain.Identity{UserID: userID, Username: c.GetString(usernameKey)}, true
}
