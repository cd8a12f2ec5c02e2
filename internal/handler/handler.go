package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/lunaria-live/lunaria/internal/config"
	appctx "github.com/lunaria-live/lunaria/internal/context"
	"github.com/lunaria-live/lunaria/internal/limits"
	"github.com/lunaria-live/lunaria/internal/model"
	"github.com/lunaria-live/lunaria/internal/session"
	"github.com/lunaria-live/lunaria/internal/ws"
)

// SessionHandler holds the session lifecycle endpoints and the provider
// WebSocket.
type SessionHandler struct {
	mgr      *session.Manager
	hub      *ws.Hub
	limiter  *limits.Limiter
	cfg      *config.Config
	upgrader websocket.Upgrader
}

// NewSessionHandler creates the session handler set.
func NewSessionHandler(mgr *session.Manager, hub *ws.Hub, limiter *limits.Limiter, cfg *config.Config) *SessionHandler {
	return &SessionHandler{
		mgr:     mgr,
		hub:     hub,
		limiter: limiter,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers session routes on the authenticated api group.
func (h *SessionHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/sessions",
		h.limiter.Middleware("session_start", h.cfg.SessionStartLimit, h.cfg.SessionStartWindow),
		h.StartSession)
	api.GET("/sessions", h.ListSessions)
	api.GET("/sessions/:id", h.GetSession)
	api.POST("/sessions/:id/activate", h.ActivateSession)
	api.POST("/sessions/:id/end", h.EndSession)
	api.POST("/sessions/:id/cancel", h.CancelSession)
	api.GET("/ws", h.WebSocket)
}

// sessionError maps session package sentinels to HTTP statuses.
func sessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidChannel),
		errors.Is(err, session.ErrInvalidRating):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrProviderNotFound),
		errors.Is(err, session.ErrGiftNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrProviderUnavailable),
		errors.Is(err, session.ErrProviderBusy),
		errors.Is(err, session.ErrSessionNotPending),
		errors.Is(err, session.ErrSessionNotActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrInsufficientBalance),
		errors.Is(err, session.ErrSettlementFailed):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// ─────────────────────────────────────────────
// POST /api/v1/sessions
// ─────────────────────────────────────────────

// StartSession opens a session against an available provider and returns
// the transport channel descriptor.
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req model.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	desc, err := h.mgr.StartSession(c.Request.Context(), appctx.GetAccountID(c), &req)
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, desc)
}

// ─────────────────────────────────────────────
// GET /api/v1/sessions
// ─────────────────────────────────────────────

// ListSessions returns the caller's sessions, newest first.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	sessions, err := h.mgr.ListSessions(c.Request.Context(), appctx.GetAccountID(c), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// ─────────────────────────────────────────────
// GET /api/v1/sessions/:id
// ─────────────────────────────────────────────

// GetSession returns one session to one of its participants.
func (h *SessionHandler) GetSession(c *gin.Context) {
	sess, err := h.mgr.GetSession(c.Request.Context(), c.Param("id"), appctx.GetAccountID(c))
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// ─────────────────────────────────────────────
// POST /api/v1/sessions/:id/activate
// ─────────────────────────────────────────────

// ActivateSession marks the transport channel live and starts metering.
func (h *SessionHandler) ActivateSession(c *gin.Context) {
	desc, err := h.mgr.ActivateSession(c.Request.Context(), c.Param("id"), appctx.GetAccountID(c))
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, desc)
}

// ─────────────────────────────────────────────
// POST /api/v1/sessions/:id/end
// ─────────────────────────────────────────────

// EndSession terminates an active session and settles its cost.
func (h *SessionHandler) EndSession(c *gin.Context) {
	var req model.EndSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.mgr.EndSession(c.Request.Context(), c.Param("id"), appctx.GetAccountID(c), &req)
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// ─────────────────────────────────────────────
// POST /api/v1/sessions/:id/cancel
// ─────────────────────────────────────────────

// CancelSession aborts a session that never went live.
func (h *SessionHandler) CancelSession(c *gin.Context) {
	if err := h.mgr.CancelSession(c.Request.Context(), c.Param("id"), appctx.GetAccountID(c)); err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// ─────────────────────────────────────────────
// GET /api/v1/ws  (Provider WebSocket)
// ─────────────────────────────────────────────

// WebSocket upgrades a provider connection and runs its pumps. Presence
// flips online on register and offline when the socket drops.
func (h *SessionHandler) WebSocket(c *gin.Context) {
	acct := appctx.MustGetAccount(c)
	if acct.Role != model.RoleProvider {
		c.JSON(http.StatusForbidden, gin.H{"error": "provider socket requires provider role"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[handler] websocket upgrade error: %v", err)
		return
	}

	client := ws.NewClient(acct.ID, conn, h.hub)
	client.Run(c.Request.Context())
}

// ─────────────────────────────────────────────
// GET /api/v1/health
// ─────────────────────────────────────────────

// Health returns basic server health info.
func (h *SessionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":              "ok",
		"connected_providers": h.hub.ClientCount(),
	})
}

// intQuery parses an integer query parameter with a fallback.
func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int(r-'0')
		if n > 1000 {
			return fallback
		}
	}
	return n
}
