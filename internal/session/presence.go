package session

import (
	"context"
	"errors"
	"time"

	"github.com/lunaria-live/lunaria/internal/model"
	"github.com/lunaria-live/lunaria/pkg/logger"
	"gorm.io/gorm"
)

// Presence tracks provider connection and availability state. The ws hub
// flips online on connect and disconnect; availability is provider-driven
// and implies online.
type Presence struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewPresence creates the presence tracker.
func NewPresence(db *gorm.DB, log *logger.Logger) *Presence {
	return &Presence{db: db, log: log}
}

// SetOnline records a provider connecting or disconnecting. Going offline
// also withdraws availability, so a dropped connection cannot keep
// attracting new sessions.
func (p *Presence) SetOnline(ctx context.Context, providerID string, online bool) error {
	updates := map[string]interface{}{
		"is_online":  online,
		"updated_at": time.Now(),
	}
	if !online {
		updates["is_available"] = false
	}
	res := p.db.WithContext(ctx).Model(&model.ProviderProfile{}).
		Where("account_id = ?", providerID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProviderNotFound
	}
	p.log.Debugf("provider %s online=%v", providerID, online)
	return nil
}

// SetAvailability opens or closes a provider for new sessions. Opening
// requires an online provider with no session in flight; closing is always
// allowed and never interrupts a running session.
func (p *Presence) SetAvailability(ctx context.Context, providerID string, available bool) error {
	now := time.Now()
	if !available {
		res := p.db.WithContext(ctx).Model(&model.ProviderProfile{}).
			Where("account_id = ?", providerID).
			Updates(map[string]interface{}{
				"is_available": false,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrProviderNotFound
		}
		return nil
	}

	open := []model.SessionStatus{model.SessionCreated, model.SessionActive}
	res := p.db.WithContext(ctx).Model(&model.ProviderProfile{}).
		Where("account_id = ? AND is_online = ?", providerID, true).
		Where("NOT EXISTS (SELECT 1 FROM sessions WHERE sessions.provider_id = ? AND sessions.status IN ?)", providerID, open).
		Updates(map[string]interface{}{
			"is_available": true,
			"updated_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var profile model.ProviderProfile
		if err := p.db.WithContext(ctx).Where("account_id = ?", providerID).First(&profile).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProviderNotFound
			}
			return err
		}
		return ErrProviderBusy
	}
	return nil
}
