package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lunaria-live/lunaria/internal/config"
	appctx "github.com/lunaria-live/lunaria/internal/context"
	"github.com/lunaria-live/lunaria/internal/ledger"
	"github.com/lunaria-live/lunaria/internal/limits"
	"github.com/lunaria-live/lunaria/internal/model"
	"github.com/lunaria-live/lunaria/internal/payments"
	"github.com/lunaria-live/lunaria/internal/session"
)

// WalletHandler serves the client-side money endpoints: balance,
// transaction history, topups and gifts.
type WalletHandler struct {
	ledger  ledger.Service
	proc    payments.Processor
	mgr     *session.Manager
	limiter *limits.Limiter
	cfg     *config.Config
}

func NewWalletHandler(l ledger.Service, proc payments.Processor, mgr *session.Manager, limiter *limits.Limiter, cfg *config.Config) *WalletHandler {
	return &WalletHandler{ledger: l, proc: proc, mgr: mgr, limiter: limiter, cfg: cfg}
}

// RegisterRoutes registers wallet routes on the authenticated api group.
func (h *WalletHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/wallet", h.GetWallet)
	api.GET("/wallet/transactions", h.ListTransactions)
	api.POST("/wallet/topup",
		h.limiter.Middleware("topup", h.cfg.TopupLimit, h.cfg.TopupWindow),
		h.Topup)
	api.GET("/gifts", h.ListGifts)
	api.POST("/gifts/send", h.SendGift)
}

// ─────────────────────────────────────────────
// GET /api/v1/wallet
// ─────────────────────────────────────────────

// GetWallet returns the caller's balance summary.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	w, err := h.ledger.GetWallet(c.Request.Context(), appctx.GetAccountID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load wallet"})
		return
	}
	c.JSON(http.StatusOK, model.WalletView{
		Balance:    w.Balance,
		TotalSpent: w.TotalSpent,
		UpdatedAt:  w.UpdatedAt,
	})
}

// ─────────────────────────────────────────────
// GET /api/v1/wallet/transactions
// ─────────────────────────────────────────────

// ListTransactions returns the caller's ledger entries, newest first.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	txns, err := h.ledger.ListTransactions(c.Request.Context(), appctx.GetAccountID(c), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transactions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

// ─────────────────────────────────────────────
// POST /api/v1/wallet/topup
// ─────────────────────────────────────────────

// Topup creates a payment intent for the requested amount and records the
// pending ledger entry. The wallet is credited only when the processor
// webhook confirms the payment.
func (h *WalletHandler) Topup(c *gin.Context) {
	var req model.TopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Amount.Exponent() < -2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount has more than two decimal places"})
		return
	}
	if req.Amount.LessThan(h.cfg.MinTopup) || req.Amount.GreaterThan(h.cfg.MaxTopup) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "amount must be between " + h.cfg.MinTopup.StringFixed(2) + " and " + h.cfg.MaxTopup.StringFixed(2),
		})
		return
	}

	accountID := appctx.GetAccountID(c)
	intent, err := h.proc.CreatePaymentIntent(c.Request.Context(), accountID, req.Amount, req.PaymentMethod)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment processor rejected the request"})
		return
	}

	txn, err := h.ledger.BeginTopup(c.Request.Context(), accountID, req.Amount, intent.ID, "wallet topup")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record topup"})
		return
	}

	c.JSON(http.StatusCreated, model.TopupResponse{
		TransactionID: txn.ID,
		IntentID:      intent.ID,
		ClientSecret:  intent.ClientSecret,
		Amount:        req.Amount,
	})
}

// ─────────────────────────────────────────────
// GET /api/v1/gifts
// ─────────────────────────────────────────────

// ListGifts returns the active gift catalog, cheapest first.
func (h *WalletHandler) ListGifts(c *gin.Context) {
	gifts, err := h.mgr.ListGifts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list gifts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gifts": gifts})
}

// ─────────────────────────────────────────────
// POST /api/v1/gifts/send
// ─────────────────────────────────────────────

// SendGift settles a catalog gift from the caller to a provider.
func (h *WalletHandler) SendGift(c *gin.Context) {
	var req model.SendGiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.mgr.SendGift(c.Request.Context(), appctx.GetAccountID(c), &req)
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
