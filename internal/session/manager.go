package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lunaria-live/lunaria/internal/config"
	"github.com/lunaria-live/lunaria/internal/ledger"
	"github.com/lunaria-live/lunaria/internal/model"
	"github.com/lunaria-live/lunaria/internal/rate"
	"github.com/lunaria-live/lunaria/internal/store"
	"github.com/lunaria-live/lunaria/pkg/logger"
	"gorm.io/gorm"
)

// Manager drives all session state transitions. Session rows move
// exclusively through it; money moves only via the ledger service it calls.
type Manager struct {
	db       *gorm.DB
	ledger   ledger.Service
	store    *store.Store
	cfg      *config.Config
	log      *logger.Logger
	notifier Notifier
}

// NewManager creates the lifecycle manager.
func NewManager(
	db *gorm.DB,
	ledgerSvc ledger.Service,
	st *store.Store,
	cfg *config.Config,
	log *logger.Logger,
	notifier Notifier,
) *Manager {
	return &Manager{
		db:       db,
		ledger:   ledgerSvc,
		store:    st,
		cfg:      cfg,
		log:      log,
		notifier: notifier,
	}
}

// StartSession opens a session against an available provider:
//
//  1. Snapshot the provider's per-minute rate for the channel
//  2. Optimistic balance pre-check (two-minute floor)
//  3. Atomically claim the provider and create the session row
//  4. Hand the transport channel name back to the caller
//
// The pre-check is a UX hint only; the settlement engine's conditional
// debit at end time is the sole source of truth for affordability.
func (m *Manager) StartSession(ctx context.Context, clientID string, req *model.StartSessionRequest) (*model.SessionDescriptor, error) {
	if !req.Channel.Valid() {
		return nil, ErrInvalidChannel
	}
	if clientID == req.ProviderID {
		return nil, ErrProviderUnavailable
	}

	var profile model.ProviderProfile
	if err := m.db.WithContext(ctx).Where("account_id = ?", req.ProviderID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	perMinute := profile.RateFor(req.Channel)
	if !perMinute.IsPositive() {
		return nil, ErrProviderUnavailable
	}

	wallet, err := m.ledger.GetWallet(ctx, clientID)
	if err != nil {
		return nil, err
	}
	floor := perMinute.Mul(decimalFromInt(m.cfg.SessionFloorMinutes))
	if wallet.Balance.LessThan(floor) {
		return nil, ErrInsufficientBalance
	}

	now := time.Now()
	sess := model.Session{
		ID:            uuid.NewString(),
		ClientID:      clientID,
		ProviderID:    req.ProviderID,
		Channel:       req.Channel,
		ChannelName:   model.ChannelName(clientID, req.ProviderID, now),
		RatePerMinute: perMinute,
		Status:        model.SessionCreated,
		CreatedAt:     now,
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The conditional flip to unavailable is the claim: only one
		// session can win a provider, concurrent starters see 0 rows.
		claim := tx.Model(&model.ProviderProfile{}).
			Where("account_id = ? AND is_online = ? AND is_available = ?", req.ProviderID, true, true).
			Updates(map[string]interface{}{
				"is_available": false,
				"updated_at":   now,
			})
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return ErrProviderUnavailable
		}
		return tx.Create(&sess).Error
	})
	if err != nil {
		return nil, err
	}

	m.store.LogSessionEvent(sess.ID, clientID, "created", string(req.Channel))
	m.notifier.NotifyProvider(req.ProviderID, model.Envelope{
		Type: model.MsgTypeSessionRequested,
		Payload: model.SessionNotice{
			SessionID:     sess.ID,
			ClientID:      clientID,
			Channel:       sess.Channel,
			ChannelName:   sess.ChannelName,
			RatePerMinute: sess.RatePerMinute,
			CreatedAt:     now,
		},
	})
	m.log.Infof("session %s created client=%s provider=%s channel=%s rate=%s",
		sess.ID, clientID, req.ProviderID, req.Channel, perMinute)

	return descriptor(&sess), nil
}

// ActivateSession marks the transport channel live and starts metering.
// Either participant may activate.
func (m *Manager) ActivateSession(ctx context.Context, sessionID, actorID string) (*model.SessionDescriptor, error) {
	sess, err := m.participantSession(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	res := m.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND status = ?", sessionID, model.SessionCreated).
		Updates(map[string]interface{}{
			"status":     model.SessionActive,
			"started_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrSessionNotPending
	}
	sess.Status = model.SessionActive
	sess.StartedAt = &now

	m.store.LogSessionEvent(sessionID, actorID, "activated", "")
	m.notifier.NotifyProvider(sess.ProviderID, model.Envelope{
		Type: model.MsgTypeSessionActivated,
		Payload: model.SessionNotice{
			SessionID:     sess.ID,
			ClientID:      sess.ClientID,
			Channel:       sess.Channel,
			ChannelName:   sess.ChannelName,
			RatePerMinute: sess.RatePerMinute,
			CreatedAt:     sess.CreatedAt,
		},
	})

	return descriptor(sess), nil
}

// EndSession terminates an active session, settles its cost and restores
// the provider's availability. The terminal flip happens before settlement
// so concurrent enders cannot bill twice; a session that settled short is
// flipped to failed and its unrecovered amount recorded for
// reconciliation.
func (m *Manager) EndSession(ctx context.Context, sessionID, actorID string, req *model.EndSessionRequest) (*model.Session, error) {
	sess, err := m.participantSession(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionActive {
		return nil, ErrSessionNotActive
	}
	if req.Rating != nil {
		if actorID != sess.ClientID {
			return nil, ErrInvalidRating
		}
		if *req.Rating < 1 || *req.Rating > 5 {
			return nil, ErrInvalidRating
		}
	}

	now := time.Now()
	startedAt := sess.CreatedAt
	if sess.StartedAt != nil {
		startedAt = *sess.StartedAt
	}
	duration := int(now.Sub(startedAt).Seconds())
	if duration < 0 {
		duration = 0
	}
	cost := rate.Cost(duration, sess.RatePerMinute)

	// Claim the end exclusively: of two concurrent enders only one
	// proceeds to settlement.
	claim := m.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND status = ?", sessionID, model.SessionActive).
		Updates(map[string]interface{}{
			"status":           model.SessionCompleted,
			"ended_at":         now,
			"duration_seconds": duration,
			"total_cost":       cost,
			"rating":           req.Rating,
			"review":           req.Review,
		})
	if claim.Error != nil {
		return nil, claim.Error
	}
	if claim.RowsAffected == 0 {
		return nil, ErrSessionNotActive
	}

	if cost.IsPositive() {
		sid := sess.ID
		_, err := m.ledger.Settle(ctx, sess.ClientID, sess.ProviderID, cost, ledger.SettleContext{
			SessionID:   &sid,
			Description: fmt.Sprintf("%s session, %d min", sess.Channel, rate.BillableMinutes(duration)),
		})
		if err != nil {
			m.failSession(ctx, sess, actorID, cost, duration, err)
			return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
		}
	}

	m.restoreAvailability(ctx, sess.ProviderID)
	if req.Rating != nil {
		m.foldRating(ctx, sess.ProviderID, *req.Rating)
	}

	sess.Status = model.SessionCompleted
	sess.EndedAt = &now
	sess.DurationSeconds = duration
	sess.TotalCost = cost
	sess.Rating = req.Rating
	sess.Review = req.Review

	m.store.LogSessionEvent(sessionID, actorID, "completed", fmt.Sprintf("%ds cost=%s", duration, cost))
	m.notifier.NotifyProvider(sess.ProviderID, model.Envelope{
		Type: model.MsgTypeSessionClosed,
		Payload: model.SessionClosed{
			SessionID:       sess.ID,
			Status:          sess.Status,
			DurationSeconds: duration,
			TotalCost:       cost,
		},
	})
	m.log.Infof("session %s completed duration=%ds cost=%s", sess.ID, duration, cost)

	return sess, nil
}

// failSession flips a just-claimed session to failed after a settlement
// error. The provider is freed regardless: billing failures must never
// leave a provider stuck busy.
func (m *Manager) failSession(ctx context.Context, sess *model.Session, actorID string, cost decimal.Decimal, duration int, cause error) {
	res := m.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND status = ?", sess.ID, model.SessionCompleted).
		Update("status", model.SessionFailed)
	if res.Error != nil {
		m.log.Errorf("session %s: mark failed: %v", sess.ID, res.Error)
	}

	sid := sess.ID
	if err := m.ledger.RecordFailedCharge(ctx, sess.ClientID, cost, ledger.SettleContext{
		SessionID:   &sid,
		Description: cause.Error(),
	}); err != nil {
		m.log.Errorf("session %s: record failed charge: %v", sess.ID, err)
	}

	m.restoreAvailability(ctx, sess.ProviderID)
	m.store.LogSessionEvent(sess.ID, actorID, "failed", cause.Error())
	m.notifier.NotifyProvider(sess.ProviderID, model.Envelope{
		Type: model.MsgTypeSessionClosed,
		Payload: model.SessionClosed{
			SessionID:       sess.ID,
			Status:          model.SessionFailed,
			DurationSeconds: duration,
		},
	})
	m.log.Warnf("session %s failed settlement: %v", sess.ID, cause)
}

// CancelSession aborts a session that never went live.
func (m *Manager) CancelSession(ctx context.Context, sessionID, actorID string) error {
	sess, err := m.participantSession(ctx, sessionID, actorID)
	if err != nil {
		return err
	}

	res := m.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND status = ?", sessionID, model.SessionCreated).
		Update("status", model.SessionCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotPending
	}

	m.restoreAvailability(ctx, sess.ProviderID)
	m.store.LogSessionEvent(sessionID, actorID, "cancelled", "by participant")
	m.notifier.NotifyProvider(sess.ProviderID, model.Envelope{
		Type: model.MsgTypeSessionClosed,
		Payload: model.SessionClosed{
			SessionID: sessionID,
			Status:    model.SessionCancelled,
		},
	})
	return nil
}

// GetSession returns a session to one of its participants.
func (m *Manager) GetSession(ctx context.Context, sessionID, actorID string) (*model.Session, error) {
	return m.participantSession(ctx, sessionID, actorID)
}

// ListSessions returns the account's sessions, newest first.
func (m *Manager) ListSessions(ctx context.Context, accountID string, limit, offset int) ([]model.Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []model.Session
	err := m.db.WithContext(ctx).
		Where("client_id = ? OR provider_id = ?", accountID, accountID).
		Order("created_at desc").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}

// ListGifts returns the active gift catalog, cheapest first.
func (m *Manager) ListGifts(ctx context.Context) ([]model.Gift, error) {
	var gifts []model.Gift
	err := m.db.WithContext(ctx).Where("active = ?", true).Order("price").Find(&gifts).Error
	return gifts, err
}

// SendGift settles a catalog gift through the same engine as session
// billing and pushes a notice to the provider.
func (m *Manager) SendGift(ctx context.Context, clientID string, req *model.SendGiftRequest) (*ledger.SettleResult, error) {
	var gift model.Gift
	if err := m.db.WithContext(ctx).Where("id = ? AND active = ?", req.GiftID, true).First(&gift).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGiftNotFound
		}
		return nil, err
	}

	if req.SessionID != nil {
		var sess model.Session
		if err := m.db.WithContext(ctx).Where("id = ?", *req.SessionID).First(&sess).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrSessionNotFound
			}
			return nil, err
		}
		if sess.ClientID != clientID || sess.ProviderID != req.ProviderID {
			return nil, ErrNotParticipant
		}
	}

	gid := gift.ID
	res, err := m.ledger.Settle(ctx, clientID, req.ProviderID, gift.Price, ledger.SettleContext{
		SessionID:   req.SessionID,
		GiftID:      &gid,
		Description: "gift: " + gift.Name,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, ErrInsufficientBalance
		}
		if errors.Is(err, ledger.ErrProviderNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	m.notifier.NotifyProvider(req.ProviderID, model.Envelope{
		Type: model.MsgTypeGiftReceived,
		Payload: model.GiftNotice{
			GiftID:   gift.ID,
			Name:     gift.Name,
			ClientID: clientID,
			Share:    res.Share,
		},
	})
	m.log.Infof("gift %q settled client=%s provider=%s share=%s", gift.Name, clientID, req.ProviderID, res.Share)

	return res, nil
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

func (m *Manager) participantSession(ctx context.Context, sessionID, actorID string) (*model.Session, error) {
	var sess model.Session
	if err := m.db.WithContext(ctx).Where("id = ?", sessionID).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if actorID != sess.ClientID && actorID != sess.ProviderID {
		return nil, ErrNotParticipant
	}
	return &sess, nil
}

// restoreAvailability reopens the provider for new sessions, but only
// while they are still online.
func (m *Manager) restoreAvailability(ctx context.Context, providerID string) {
	res := m.db.WithContext(ctx).Model(&model.ProviderProfile{}).
		Where("account_id = ? AND is_online = ?", providerID, true).
		Updates(map[string]interface{}{
			"is_available": true,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		m.log.Errorf("restore availability provider=%s: %v", providerID, res.Error)
	}
}

// foldRating folds one rating into the provider's running average in a
// single statement, so no row lock is needed. The 1.0 divisor keeps the
// division non-integer on sqlite.
func (m *Manager) foldRating(ctx context.Context, providerID string, rating int) {
	res := m.db.WithContext(ctx).Model(&model.ProviderProfile{}).
		Where("account_id = ?", providerID).
		Updates(map[string]interface{}{
			"rating_avg":    gorm.Expr("(rating_avg * total_reviews + ?) / (total_reviews + 1.0)", rating),
			"total_reviews": gorm.Expr("total_reviews + 1"),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		m.log.Errorf("fold rating provider=%s: %v", providerID, res.Error)
	}
}

func descriptor(s *model.Session) *model.SessionDescriptor {
	return &model.SessionDescriptor{
		SessionID:     s.ID,
		ProviderID:    s.ProviderID,
		Channel:       s.Channel,
		ChannelName:   s.ChannelName,
		RatePerMinute: s.RatePerMinute,
		Status:        s.Status,
	}
}

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}
