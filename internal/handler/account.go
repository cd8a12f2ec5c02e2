package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appctx "github.com/lunaria-live/lunaria/internal/context"
	"github.com/lunaria-live/lunaria/internal/identity"
)

// AccountHandler serves account self-service endpoints.
type AccountHandler struct {
	ids identity.Service
}

func NewAccountHandler(ids identity.Service) *AccountHandler {
	return &AccountHandler{ids: ids}
}

// RegisterRoutes registers account routes on the authenticated api group.
func (h *AccountHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/me", h.Me)
	api.POST("/me/reset-key", h.ResetAPIKey)
}

// ─────────────────────────────────────────────
// GET /api/v1/me
// ─────────────────────────────────────────────

// Me returns the caller's account. The API key is never echoed back.
func (h *AccountHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, appctx.MustGetAccount(c))
}

// ─────────────────────────────────────────────
// POST /api/v1/me/reset-key
// ─────────────────────────────────────────────

// ResetAPIKey rotates the caller's bearer key. The old key stops working
// immediately; the new one is returned exactly once.
func (h *AccountHandler) ResetAPIKey(c *gin.Context) {
	acct, err := h.ids.ResetAPIKey(c.Request.Context(), appctx.GetAccountID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset api key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": acct.ID,
		"api_key":    acct.APIKey,
	})
}
