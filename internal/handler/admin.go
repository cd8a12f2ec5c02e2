package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lunaria-live/lunaria/internal/identity"
	"github.com/lunaria-live/lunaria/internal/ledger"
	"github.com/lunaria-live/lunaria/internal/model"
	"github.com/lunaria-live/lunaria/internal/payout"
)

// AdminHandler handles the operator endpoints: provisioning, status
// changes, manual credits and payout batch triggers. The whole group
// sits behind the static admin token.
type AdminHandler struct {
	ids    identity.Service
	ledger ledger.Service
	runner *payout.Runner
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(ids identity.Service, l ledger.Service, runner *payout.Runner) *AdminHandler {
	return &AdminHandler{ids: ids, ledger: l, runner: runner}
}

// RegisterRoutes registers admin routes on the admin group.
func (h *AdminHandler) RegisterRoutes(admin *gin.RouterGroup) {
	admin.POST("/accounts", h.ProvisionAccount)
	admin.GET("/accounts/:id", h.GetAccount)
	admin.PUT("/accounts/:id/status", h.SetAccountStatus)
	admin.POST("/accounts/:id/credit", h.CreditWallet)
	admin.POST("/payouts/run", h.RunPayouts)
}

// ─────────────────────────────────────────────
// POST /api/v1/admin/accounts
// ─────────────────────────────────────────────

type ProvisionAccountRequest struct {
	Email       string `json:"email" binding:"required,email"`
	DisplayName string `json:"display_name" binding:"required"`
	Role        string `json:"role" binding:"required,oneof=client provider"`
}

type ProvisionAccountResponse struct {
	Account *model.Account `json:"account"`
	APIKey  string         `json:"api_key"`
}

// ProvisionAccount creates a billing account plus its role-specific
// ledger row. The generated API key is returned exactly once.
func (h *AdminHandler) ProvisionAccount(c *gin.Context) {
	var req ProvisionAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acct, err := h.ids.Provision(c.Request.Context(), req.Email, req.DisplayName, model.Role(req.Role))
	if err != nil {
		if errors.Is(err, identity.ErrEmailExists) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to provision account"})
		return
	}

	c.JSON(http.StatusCreated, ProvisionAccountResponse{
		Account: acct,
		APIKey:  acct.APIKey,
	})
}

// ─────────────────────────────────────────────
// GET /api/v1/admin/accounts/:id
// ─────────────────────────────────────────────

// GetAccount retrieves an account by ID for support tooling.
func (h *AdminHandler) GetAccount(c *gin.Context) {
	acct, err := h.ids.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
		return
	}
	c.JSON(http.StatusOK, acct)
}

// ─────────────────────────────────────────────
// PUT /api/v1/admin/accounts/:id/status
// ─────────────────────────────────────────────

type SetAccountStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active suspended"`
}

type SetAccountStatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SetAccountStatus activates or suspends an account. A suspended account
// fails auth on its next request; a running session still settles.
func (h *AdminHandler) SetAccountStatus(c *gin.Context) {
	var req SetAccountStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ids.SetStatus(c.Request.Context(), c.Param("id"), model.AccountStatus(req.Status)); err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
		return
	}

	c.JSON(http.StatusOK, SetAccountStatusResponse{
		Success: true,
		Message: "status updated to " + req.Status,
	})
}

// ─────────────────────────────────────────────
// POST /api/v1/admin/accounts/:id/credit
// ─────────────────────────────────────────────

type CreditWalletRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
	Remark string          `json:"remark"` // optional
}

type CreditWalletResponse struct {
	Success bool            `json:"success"`
	Balance decimal.Decimal `json:"balance"`
	Message string          `json:"message"`
}

// CreditWallet adds funds to a wallet without a processor payment. The
// credit goes through the topup path with a manual reference so it shows
// up in the transaction history like any other topup.
func (h *AdminHandler) CreditWallet(c *gin.Context) {
	var req CreditWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Amount.IsPositive() || req.Amount.Exponent() < -2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive with at most two decimal places"})
		return
	}

	accountID := c.Param("id")
	if _, err := h.ids.GetByID(c.Request.Context(), accountID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	remark := req.Remark
	if remark == "" {
		remark = "manual credit"
	}

	ref := "manual:" + uuid.NewString()
	if _, err := h.ledger.BeginTopup(c.Request.Context(), accountID, req.Amount, ref, remark); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record credit"})
		return
	}
	if _, err := h.ledger.ConfirmTopup(c.Request.Context(), ref); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply credit"})
		return
	}

	w, err := h.ledger.GetWallet(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load wallet"})
		return
	}

	c.JSON(http.StatusOK, CreditWalletResponse{
		Success: true,
		Balance: w.Balance,
		Message: "credit applied",
	})
}

// ─────────────────────────────────────────────
// POST /api/v1/admin/payouts/run
// ─────────────────────────────────────────────

// RunPayouts triggers a payout batch and waits for it to finish. At most
// one batch runs at a time across all server instances.
func (h *AdminHandler) RunPayouts(c *gin.Context) {
	result, err := h.runner.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, payout.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payout run failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}
