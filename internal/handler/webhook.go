package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/lunaria-live/lunaria/internal/identity"
	"github.com/lunaria-live/lunaria/internal/ledger"
	"github.com/lunaria-live/lunaria/internal/model"
	"github.com/lunaria-live/lunaria/internal/payments"
	"github.com/lunaria-live/lunaria/pkg/logger"
)

const (
	// maxWebhookBody caps the payload we are willing to read. Stripe
	// events are a few KB; 64 KB leaves generous headroom.
	maxWebhookBody = 64 << 10

	// webhookSeenTTL is how long processed event ids are remembered.
	// Stripe retries for up to three days.
	webhookSeenTTL = 72 * time.Hour
)

// WebhookHandler receives processor callbacks. This is the only write
// path for topup confirmation and the asynchronous half of payouts.
type WebhookHandler struct {
	proc   payments.Processor
	ledger ledger.Service
	ids    identity.Service
	rdb    *redis.Client
	log    *logger.Logger
}

func NewWebhookHandler(proc payments.Processor, l ledger.Service, ids identity.Service, rdb *redis.Client, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{proc: proc, ledger: l, ids: ids, rdb: rdb, log: log}
}

// RegisterRoutes registers the webhook endpoint. No bearer auth: the
// payload signature is the authentication.
func (h *WebhookHandler) RegisterRoutes(r *gin.Engine) {
	r.POST("/webhooks/payments", h.HandleEvent)
}

// ─────────────────────────────────────────────
// POST /webhooks/payments
// ─────────────────────────────────────────────

// HandleEvent verifies, dedupes and applies one processor event. A 2xx
// acknowledges the event; any other status makes the processor retry, so
// verification and replay problems answer 2xx/4xx and only real
// persistence failures answer 5xx.
func (h *WebhookHandler) HandleEvent(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}

	ev, err := h.proc.VerifyEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.log.Warnf("webhook signature rejected: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	if ev.Kind == payments.EventIgnored {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	// Dedupe on event id. Redis trouble fails open: the ledger operations
	// are idempotent per reference, a replay just costs a no-op write.
	seenKey := model.WebhookSeenKey(ev.ID)
	claimed, err := h.rdb.SetNX(c.Request.Context(), seenKey, 1, webhookSeenTTL).Result()
	if err != nil {
		h.log.Warnf("webhook dedupe unavailable: %v", err)
		claimed = false
	} else if !claimed {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	if err := h.apply(c, ev); err != nil {
		// Release the claim so the processor's retry is not swallowed as
		// a duplicate of this failed attempt.
		if claimed {
			h.rdb.Del(context.Background(), seenKey)
		}
		h.log.Errorf("webhook %s (%s) not applied: %v", ev.ID, ev.Kind, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event not applied"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// apply routes one verified event into the ledger. References unknown to
// the ledger are acknowledged, not retried: they belong to another
// environment sharing the processor account.
func (h *WebhookHandler) apply(c *gin.Context, ev *payments.Event) error {
	ctx := c.Request.Context()

	var err error
	switch ev.Kind {
	case payments.EventTopupSucceeded:
		_, err = h.ledger.ConfirmTopup(ctx, ev.Ref)
		if err == nil {
			h.log.Infof("topup confirmed ref=%s", ev.Ref)
		}
	case payments.EventTopupFailed:
		err = h.ledger.FailTopup(ctx, ev.Ref)
	case payments.EventTopupRefunded:
		_, err = h.ledger.RefundTopup(ctx, ev.Ref, ev.Reason)
		if err == nil {
			h.log.Infof("topup refunded ref=%s", ev.Ref)
		}
	case payments.EventTransferConfirmed:
		// Usually a no-op: the batch completes payouts on the synchronous
		// accept. This closes the gap when it crashed in between.
		err = h.ledger.CompletePayout(ctx, ev.Ref)
	case payments.EventTransferReversed:
		err = h.ledger.FailPayout(ctx, ev.Ref, "transfer reversed: "+ev.Reason)
		if err == nil {
			h.log.Warnf("payout transfer reversed ref=%s", ev.Ref)
		}
	case payments.EventPayoutAccountUpdated:
		status := model.PayoutAccountDisabled
		if ev.PayoutsEnabled {
			status = model.PayoutAccountActive
		}
		err = h.ids.SetPayoutAccountStatusByRef(ctx, ev.Ref, status)
		if err == nil {
			h.log.Infof("payout account %s now %s", ev.Ref, status)
		}
	}

	if errors.Is(err, ledger.ErrTransactionNotFound) || errors.Is(err, identity.ErrProviderNotFound) {
		h.log.Debugf("webhook %s references unknown ref=%s, acknowledged", ev.Kind, ev.Ref)
		return nil
	}
	return err
}
