package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/lunaria-live/lunaria/internal/config"
	appctx "github.com/lunaria-live/lunaria/internal/context"
	"github.com/lunaria-live/lunaria/internal/identity"
	"github.com/lunaria-live/lunaria/internal/middleware"
	"github.com/lunaria-live/lunaria/internal/model"
	"github.com/lunaria-live/lunaria/internal/session"
)

// ProviderHandler serves the provider directory and the provider
// self-service endpoints: rates, availability, earnings and payout
// account linkage.
type ProviderHandler struct {
	ids      identity.Service
	presence *session.Presence
	cfg      *config.Config
}

func NewProviderHandler(ids identity.Service, presence *session.Presence, cfg *config.Config) *ProviderHandler {
	return &ProviderHandler{ids: ids, presence: presence, cfg: cfg}
}

// RegisterRoutes registers the directory on the shared api group and the
// self-service endpoints behind a provider-role gate.
func (h *ProviderHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/providers", h.ListProviders)
	api.GET("/providers/:id", h.GetProvider)

	self := api.Group("/provider", middleware.RequireRole(model.RoleProvider))
	self.PUT("/rates", h.UpdateRates)
	self.PUT("/availability", h.SetAvailability)
	self.GET("/earnings", h.GetEarnings)
	self.POST("/payout-account", h.LinkPayoutAccount)
}

// providerCard is the directory view of a profile. Ledger and payout
// fields stay private.
type providerCard struct {
	AccountID    string          `json:"account_id"`
	IsAvailable  bool            `json:"is_available"`
	ChatRate     decimal.Decimal `json:"chat_rate"`
	VoiceRate    decimal.Decimal `json:"voice_rate"`
	VideoRate    decimal.Decimal `json:"video_rate"`
	RatingAvg    decimal.Decimal `json:"rating_avg"`
	TotalReviews int             `json:"total_reviews"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func cardOf(p *model.ProviderProfile) providerCard {
	return providerCard{
		AccountID:    p.AccountID,
		IsAvailable:  p.IsAvailable,
		ChatRate:     p.ChatRate,
		VoiceRate:    p.VoiceRate,
		VideoRate:    p.VideoRate,
		RatingAvg:    p.RatingAvg,
		TotalReviews: p.TotalReviews,
		UpdatedAt:    p.UpdatedAt,
	}
}

// ─────────────────────────────────────────────
// GET /api/v1/providers
// ─────────────────────────────────────────────

// ListProviders returns providers currently open for sessions.
func (h *ProviderHandler) ListProviders(c *gin.Context) {
	profiles, err := h.ids.ListAvailableProviders(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list providers"})
		return
	}

	cards := make([]providerCard, 0, len(profiles))
	for _, p := range profiles {
		cards = append(cards, cardOf(p))
	}
	c.JSON(http.StatusOK, gin.H{"providers": cards})
}

// ─────────────────────────────────────────────
// GET /api/v1/providers/:id
// ─────────────────────────────────────────────

// GetProvider returns one provider's public card.
func (h *ProviderHandler) GetProvider(c *gin.Context) {
	p, err := h.ids.GetProvider(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, identity.ErrProviderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load provider"})
		return
	}
	c.JSON(http.StatusOK, cardOf(p))
}

// ─────────────────────────────────────────────
// PUT /api/v1/provider/rates
// ─────────────────────────────────────────────

// UpdateRates sets the caller's per-minute prices. Sessions already
// running keep the rate they started with.
func (h *ProviderHandler) UpdateRates(c *gin.Context) {
	var upd model.RatesUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.ids.UpdateRates(c.Request.Context(), appctx.GetAccountID(c), upd)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidRate):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, identity.ErrProviderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update rates"})
		}
		return
	}
	c.JSON(http.StatusOK, p)
}

// ─────────────────────────────────────────────
// PUT /api/v1/provider/availability
// ─────────────────────────────────────────────

// SetAvailability toggles whether new sessions may start against the
// caller. REST fallback for providers not holding a socket open.
func (h *ProviderHandler) SetAvailability(c *gin.Context) {
	var upd model.AvailabilityUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.presence.SetAvailability(c.Request.Context(), appctx.GetAccountID(c), upd.Available)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrProviderBusy):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrProviderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update availability"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": upd.Available})
}

// ─────────────────────────────────────────────
// GET /api/v1/provider/earnings
// ─────────────────────────────────────────────

// GetEarnings returns the caller's earnings summary.
func (h *ProviderHandler) GetEarnings(c *gin.Context) {
	p, err := h.ids.GetProvider(c.Request.Context(), appctx.GetAccountID(c))
	if err != nil {
		if errors.Is(err, identity.ErrProviderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load earnings"})
		return
	}
	c.JSON(http.StatusOK, model.EarningsView{
		PendingEarnings:     p.PendingEarnings,
		TotalEarnings:       p.TotalEarnings,
		LastPayoutAt:        p.LastPayoutAt,
		PayoutAccountStatus: p.PayoutAccountStatus,
		MinimumPayout:       h.cfg.MinimumPayout,
	})
}

// ─────────────────────────────────────────────
// POST /api/v1/provider/payout-account
// ─────────────────────────────────────────────

// LinkPayoutAccount stores the caller's external payout account
// reference. Linkage goes to pending until the processor confirms the
// account can receive transfers.
func (h *ProviderHandler) LinkPayoutAccount(c *gin.Context) {
	var req struct {
		PayoutAccountRef string `json:"payout_account_ref" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ids.LinkPayoutAccount(c.Request.Context(), appctx.GetAccountID(c), req.PayoutAccountRef); err != nil {
		if errors.Is(err, identity.ErrProviderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to link payout account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout_account_status": model.PayoutAccountPending})
}
