package context

import (
	"github.com/gin-gonic/gin"
	"github.com/lunaria-live/lunaria/internal/model"
)

// Context key for the authenticated account.
const CtxKeyAccount = "auth_account"

// MustGetAccount extracts the authenticated account from the Gin context.
// Panics if not present (should only be called after APIKeyAuth middleware).
func MustGetAccount(c *gin.Context) *model.Account {
	v, exists := c.Get(CtxKeyAccount)
	if !exists {
		panic("MustGetAccount called without APIKeyAuth middleware")
	}
	return v.(*model.Account)
}

// GetAccountID is a shorthand that returns the account ID string.
func GetAccountID(c *gin.Context) string {
	a := MustGetAccount(c)
	return a.ID
}
