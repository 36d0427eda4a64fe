package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tallybook/api/internal/models"
	"tallybook/api/internal/service"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"

	ContextUserKey   = "current_user"
	ContextClaimsKey = "access_claims"
)

// BearerToken extracts the access token from the request, preferring the
// httpOnly cookie over the Authorization header when both are present.
func BearerToken(c *gin.Context) string {
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie != "" {
		return cookie
	}

	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// UserGetter loads the principal's user record.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (models.User, error)
}

// Auth verifies the presented access token against durable state and loads
// the owning user. All token failures collapse into one generic response.
func Auth(tokens *service.TokenService, users UserGetter) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := BearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		claims, err := tokens.Verify(c.Request.Context(), tokenStr, models.TokenKindAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		user, err := users.GetByID(c.Request.Context(), claims.Subject)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		if !user.Active {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_inactive"})
			return
		}

		c.Set(ContextClaimsKey, *claims)
		c.Set(ContextUserKey, user)

		c.Next()
	}
}

// CurrentUser returns the authenticated user placed by Auth.
func CurrentUser(c *gin.Context) (models.User, bool) {
	val, exists := c.Get(ContextUserKey)
	if !exists {
		return models.User{}, false
	}
	user, ok := val.(models.User)
	return user, ok
}
