package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lunaria-live/lunaria/internal/model"
	"gorm.io/gorm"
)

// ─────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrEmailExists      = errors.New("email already registered")
	ErrInvalidAPIKey    = errors.New("invalid api key")
	ErrProviderNotFound = errors.New("provider not found")
	ErrInvalidRate      = errors.New("rate must be positive")
)

// ─────────────────────────────────────────────
// service implements Service
// ─────────────────────────────────────────────

type service struct {
	db *gorm.DB
}

// NewService creates an identity Service backed by the given DB.
func NewService(db *gorm.DB) Service {
	return &service{db: db}
}

// Provision creates an account plus its role-specific row.
func (s *service) Provision(ctx context.Context, email, displayName string, role model.Role) (*model.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var existing model.Account
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error; err == nil {
		return nil, ErrEmailExists
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	acct := &model.Account{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: displayName,
		Role:        role,
		APIKey:      apiKey,
		Status:      model.AccountActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(acct).Error; err != nil {
			return err
		}
		switch role {
		case model.RoleClient:
			return tx.Create(&model.Wallet{AccountID: acct.ID, UpdatedAt: now}).Error
		case model.RoleProvider:
			return tx.Create(&model.ProviderProfile{
				AccountID:           acct.ID,
				PayoutAccountStatus: model.PayoutAccountUnlinked,
				UpdatedAt:           now,
			}).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return acct, nil
}

// GetByAPIKey looks up an account by bearer key.
func (s *service) GetByAPIKey(ctx context.Context, apiKey string) (*model.Account, error) {
	var acct model.Account
	if err := s.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}
	return &acct, nil
}

// GetByID retrieves an account by ID.
func (s *service) GetByID(ctx context.Context, accountID string) (*model.Account, error) {
	var acct model.Account
	if err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

// ResetAPIKey regenerates the account's API key.
func (s *service) ResetAPIKey(ctx context.Context, accountID string) (*model.Account, error) {
	var acct model.Account
	if err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	newKey, err := generateAPIKey()
	if err != nil {
		return nil, err
	}

	acct.APIKey = newKey
	acct.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(&acct).Error; err != nil {
		return nil, err
	}

	return &acct, nil
}

// SetStatus sets account status.
func (s *service) SetStatus(ctx context.Context, accountID string, status model.AccountStatus) error {
	result := s.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// GetProvider returns a provider's profile.
func (s *service) GetProvider(ctx context.Context, providerID string) (*model.ProviderProfile, error) {
	var p model.ProviderProfile
	if err := s.db.WithContext(ctx).Where("account_id = ?", providerID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListAvailableProviders returns profiles currently open for sessions.
func (s *service) ListAvailableProviders(ctx context.Context) ([]*model.ProviderProfile, error) {
	var out []*model.ProviderProfile
	err := s.db.WithContext(ctx).
		Where("is_online = ? AND is_available = ?", true, true).
		Order("rating_avg desc").
		Find(&out).Error
	return out, err
}

// UpdateRates sets per-minute prices.
func (s *service) UpdateRates(ctx context.Context, providerID string, upd model.RatesUpdate) (*model.ProviderProfile, error) {
	fields := map[string]interface{}{"updated_at": time.Now()}
	if upd.ChatRate != nil {
		if !upd.ChatRate.IsPositive() {
			return nil, ErrInvalidRate
		}
		fields["chat_rate"] = *upd.ChatRate
	}
	if upd.VoiceRate != nil {
		if !upd.VoiceRate.IsPositive() {
			return nil, ErrInvalidRate
		}
		fields["voice_rate"] = *upd.VoiceRate
	}
	if upd.VideoRate != nil {
		if !upd.VideoRate.IsPositive() {
			return nil, ErrInvalidRate
		}
		fields["video_rate"] = *upd.VideoRate
	}

	result := s.db.WithContext(ctx).Model(&model.ProviderProfile{}).
		Where("account_id = ?", providerID).
		Updates(fields)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrProviderNotFound
	}
	return s.GetProvider(ctx, providerID)
}

// LinkPayoutAccount stores the external payout reference as pending.
func (s *service) LinkPayoutAccount(ctx context.Context, providerID, ref string) error {
	result := s.db.WithContext(ctx).Model(&model.ProviderProfile{}).
		Where("account_id = ?", providerID).
		Updates(map[string]interface{}{
			"payout_account_ref":    ref,
			"payout_account_status": model.PayoutAccountPending,
			"updated_at":            time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProviderNotFound
	}
	return nil
}

// SetPayoutAccountStatus updates linkage status by provider id.
func (s *service) SetPayoutAccountStatus(ctx context.Context, providerID string, status model.PayoutAccountStatus) error {
	result := s.db.WithContext(ctx).Model(&model.ProviderProfile{}).
		Where("account_id = ?", providerID).
		Updates(map[string]interface{}{
			"payout_account_status": status,
			"updated_at":            time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProviderNotFound
	}
	return nil
}

// SetPayoutAccountStatusByRef updates linkage status by processor reference.
func (s *service) SetPayoutAccountStatusByRef(ctx context.Context, ref string, status model.PayoutAccountStatus) error {
	result := s.db.WithContext(ctx).Model(&model.ProviderProfile{}).
		Where("payout_account_ref = ?", ref).
		Updates(map[string]interface{}{
			"payout_account_status": status,
			"updated_at":            time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProviderNotFound
	}
	return nil
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

// generateAPIKey creates a new API key with "lk-" prefix.
func generateAPIKey() (string, error) {
	bytes := make([]byte, 24)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "lk-" + hex.EncodeToString(bytes), nil
}
