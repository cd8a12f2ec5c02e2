package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	appctx "github.com/lunaria-live/lunaria/internal/context"
	"github.com/lunaria-live/lunaria/internal/identity"
	"github.com/lunaria-live/lunaria/internal/model"
)

// APIKeyAuth returns a Gin middleware that validates the API key
// from the Authorization header (format: "Bearer lk-xxx") and
// injects the authenticated Account into the context.
//
// Lookup is delegated to identity.Service.GetByAPIKey.
func APIKeyAuth(ids identity.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractBearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed Authorization header (expected: Bearer <api-key>)",
			})
			return
		}

		acct, err := ids.GetByAPIKey(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid api key",
			})
			return
		}

		if acct.Status != model.AccountActive {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "account is " + string(acct.Status),
			})
			return
		}

		c.Set(appctx.CtxKeyAccount, acct)
		c.Next()
	}
}

// RequireRole gates a route to accounts holding the given role. Must run
// after APIKeyAuth.
func RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		acct := appctx.MustGetAccount(c)
		if acct.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "requires " + string(role) + " role",
			})
			return
		}
		c.Next()
	}
}

// extractBearerToken gets the token from "Authorization: Bearer <token>".
func extractBearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AdminTokenAuth returns a Gin middleware that validates the admin token
// from the Authorization header (format: "Bearer <admin-token>").
// This provides simple admin authentication without account lookup, for
// the provisioning and payout endpoints.
func AdminTokenAuth(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminToken == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "admin authentication not configured",
			})
			return
		}

		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed Authorization header (expected: Bearer <admin-token>)",
			})
			return
		}

		if token != adminToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid admin token",
			})
			return
		}

		c.Next()
	}
}
