package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/deals-auth-api/internal/models"
	appErrors "github.com/noah-isme/deals-auth-api/pkg/errors"
	"github.com/noah-isme/deals-auth-api/pkg/response"
)

// RequireRoles rejects requests whose access token does not carry one of the
// allowed roles. Roles come from claims only; no policy evaluation happens
// here.
func RequireRoles(allowed ...models.UserRole) gin.HandlerFunc {
	allowedRoles := make(map[models.UserRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedRoles[role] = struct{}{}
	}

	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowedRoles[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}

		c.Next()
	}
}
