package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/lunaria-live/lunaria/internal/model"
	"github.com/lunaria-live/lunaria/internal/rate"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ─────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientEarnings = errors.New("insufficient pending earnings")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrProviderNotFound     = errors.New("provider not found")
	ErrNonPositiveAmount    = errors.New("amount must be positive")
	ErrTransactionNotFound  = errors.New("transaction not found")
)

// ─────────────────────────────────────────────
// service implements Service
// ─────────────────────────────────────────────

type service struct {
	db   *gorm.DB
	calc *rate.Calculator
}

// NewService creates a ledger Service backed by the given DB and fee split.
func NewService(db *gorm.DB, calc *rate.Calculator) Service {
	return &service{db: db, calc: calc}
}

// GetWallet returns the account's wallet, creating one if not exists.
func (s *service) GetWallet(ctx context.Context, accountID string) (*model.Wallet, error) {
	var w model.Wallet
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&w).Error
	if err == nil {
		return &w, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	w = model.Wallet{
		AccountID: accountID,
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&w).Error; err != nil {
		// Handle race condition: another goroutine might have created it
		if err2 := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&w).Error; err2 == nil {
			return &w, nil
		}
		return nil, err
	}
	return &w, nil
}

// ListTransactions returns the account's ledger entries, newest first.
func (s *service) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]model.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var txns []model.Transaction
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id desc").
		Limit(limit).Offset(offset).
		Find(&txns).Error
	return txns, err
}

// Settle runs the atomic client→provider transfer.
func (s *service) Settle(ctx context.Context, payerID, payeeID string, amount decimal.Decimal, sc SettleContext) (*SettleResult, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}

	fee, share := s.calc.Split(amount)
	result := &SettleResult{Amount: amount, Fee: fee, Share: share}

	err := s.withTx(ctx, func(tx *gorm.DB) error {
		now := time.Now()

		// Conditional debit: balance and totalSpent move only if the
		// balance covers the amount at the instant of the update.
		debit := tx.Model(&model.Wallet{}).
			Where("account_id = ? AND balance >= ?", payerID, amount).
			Updates(map[string]interface{}{
				"balance":     gorm.Expr("balance - ?", amount),
				"total_spent": gorm.Expr("total_spent + ?", amount),
				"updated_at":  now,
			})
		if debit.Error != nil {
			return debit.Error
		}
		if debit.RowsAffected == 0 {
			var w model.Wallet
			if err := tx.Where("account_id = ?", payerID).First(&w).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrWalletNotFound
				}
				return err
			}
			return ErrInsufficientFunds
		}

		// Credit the payee's earnings with their share.
		credit := tx.Model(&model.ProviderProfile{}).
			Where("account_id = ?", payeeID).
			Updates(map[string]interface{}{
				"pending_earnings": gorm.Expr("pending_earnings + ?", share),
				"total_earnings":   gorm.Expr("total_earnings + ?", share),
				"updated_at":       now,
			})
		if credit.Error != nil {
			return credit.Error
		}
		if credit.RowsAffected == 0 {
			return ErrProviderNotFound
		}

		// Paired ledger entries.
		charge := model.Transaction{
			AccountID:   payerID,
			Type:        model.TxCharge,
			Status:      model.TxCompleted,
			Amount:      amount,
			Fee:         fee,
			SessionID:   sc.SessionID,
			GiftID:      sc.GiftID,
			Description: sc.Description,
			CreatedAt:   now,
		}
		if err := tx.Create(&charge).Error; err != nil {
			return err
		}
		earning := model.Transaction{
			AccountID:   payeeID,
			Type:        model.TxEarning,
			Status:      model.TxCompleted,
			Amount:      share,
			SessionID:   sc.SessionID,
			GiftID:      sc.GiftID,
			Description: sc.Description,
			CreatedAt:   now,
		}
		if err := tx.Create(&earning).Error; err != nil {
			return err
		}

		result.ChargeID = charge.ID
		result.EarningID = earning.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordFailedCharge appends a failed charge entry for reconciliation.
func (s *service) RecordFailedCharge(ctx context.Context, payerID string, amount decimal.Decimal, sc SettleContext) error {
	fee, _ := s.calc.Split(amount)
	txn := model.Transaction{
		AccountID:   payerID,
		Type:        model.TxCharge,
		Status:      model.TxFailed,
		Amount:      amount,
		Fee:         fee,
		SessionID:   sc.SessionID,
		GiftID:      sc.GiftID,
		Description: sc.Description,
		CreatedAt:   time.Now(),
	}
	return s.db.WithContext(ctx).Create(&txn).Error
}

// ─────────────────────────────────────────────
// Topups
// ─────────────────────────────────────────────

// BeginTopup appends a pending topup entry for a processor intent.
func (s *service) BeginTopup(ctx context.Context, accountID string, amount decimal.Decimal, processorRef, description string) (*model.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	txn := model.Transaction{
		AccountID:    accountID,
		Type:         model.TxTopup,
		Status:       model.TxPending,
		Amount:       amount,
		ProcessorRef: &processorRef,
		Description:  description,
		CreatedAt:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// ConfirmTopup credits the wallet once per processor reference.
func (s *service) ConfirmTopup(ctx context.Context, processorRef string) (*model.Transaction, error) {
	var txn model.Transaction
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("processor_ref = ? AND type = ?", processorRef, model.TxTopup).First(&txn).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransactionNotFound
			}
			return err
		}
		now := time.Now()

		// The conditional flip is the idempotency gate: only the first
		// confirmation moves pending → completed and credits the wallet.
		flip := tx.Model(&model.Transaction{}).
			Where("id = ? AND status = ?", txn.ID, model.TxPending).
			Update("status", model.TxCompleted)
		if flip.Error != nil {
			return flip.Error
		}
		if flip.RowsAffected == 0 {
			return nil // already processed
		}
		txn.Status = model.TxCompleted

		credit := tx.Model(&model.Wallet{}).
			Where("account_id = ?", txn.AccountID).
			Updates(map[string]interface{}{
				"balance":    gorm.Expr("balance + ?", txn.Amount),
				"updated_at": now,
			})
		if credit.Error != nil {
			return credit.Error
		}
		if credit.RowsAffected == 0 {
			return ErrWalletNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// FailTopup flips the pending topup to failed.
func (s *service) FailTopup(ctx context.Context, processorRef string) error {
	result := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("processor_ref = ? AND type = ? AND status = ?", processorRef, model.TxTopup, model.TxPending).
		Update("status", model.TxFailed)
	return result.Error
}

// RefundTopup reverses a completed topup.
func (s *service) RefundTopup(ctx context.Context, processorRef, reason string) (*model.Transaction, error) {
	var refund model.Transaction
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		var orig model.Transaction
		if err := tx.Where("processor_ref = ? AND type = ?", processorRef, model.TxTopup).First(&orig).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransactionNotFound
			}
			return err
		}

		flip := tx.Model(&model.Transaction{}).
			Where("id = ? AND status = ?", orig.ID, model.TxCompleted).
			Update("status", model.TxRefunded)
		if flip.Error != nil {
			return flip.Error
		}
		if flip.RowsAffected == 0 {
			return nil // not yet confirmed, or already refunded
		}

		now := time.Now()
		refund = model.Transaction{
			AccountID:   orig.AccountID,
			Type:        model.TxRefund,
			Status:      model.TxCompleted,
			Amount:      orig.Amount,
			RelatedID:   &orig.ID,
			Description: reason,
			CreatedAt:   now,
		}

		// The processor already returned the funds externally; mirror it
		// as far as the remaining balance allows and flag shortfalls for
		// operational follow-up.
		debit := tx.Model(&model.Wallet{}).
			Where("account_id = ? AND balance >= ?", orig.AccountID, orig.Amount).
			Updates(map[string]interface{}{
				"balance":    gorm.Expr("balance - ?", orig.Amount),
				"updated_at": now,
			})
		if debit.Error != nil {
			return debit.Error
		}
		if debit.RowsAffected == 0 {
			refund.Status = model.TxFailed
			refund.Description = reason + " (balance below refund amount)"
		}
		return tx.Create(&refund).Error
	})
	if err != nil {
		return nil, err
	}
	if refund.ID == 0 {
		return nil, nil
	}
	return &refund, nil
}

// ─────────────────────────────────────────────
// Payouts
// ─────────────────────────────────────────────

// BeginPayout resets earnings by the transferred amount and records it.
func (s *service) BeginPayout(ctx context.Context, providerID string, amount decimal.Decimal, runID, transferRef string) (*model.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	var txn model.Transaction
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		now := time.Now()

		// Decrement by the exact amount rather than zeroing the column:
		// a settlement landing mid-batch keeps its earnings.
		debit := tx.Model(&model.ProviderProfile{}).
			Where("account_id = ? AND pending_earnings >= ?", providerID, amount).
			Updates(map[string]interface{}{
				"pending_earnings": gorm.Expr("pending_earnings - ?", amount),
				"last_payout_at":   now,
				"updated_at":       now,
			})
		if debit.Error != nil {
			return debit.Error
		}
		if debit.RowsAffected == 0 {
			return ErrInsufficientEarnings
		}

		txn = model.Transaction{
			AccountID:    providerID,
			Type:         model.TxPayout,
			Status:       model.TxPending,
			Amount:       amount,
			ProcessorRef: &transferRef,
			PayoutRunID:  runID,
			CreatedAt:    now,
		}
		return tx.Create(&txn).Error
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// CompletePayout flips the pending payout to completed.
func (s *service) CompletePayout(ctx context.Context, transferRef string) error {
	result := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("processor_ref = ? AND type = ? AND status = ?", transferRef, model.TxPayout, model.TxPending).
		Update("status", model.TxCompleted)
	return result.Error
}

// FailPayout restores the provider's earnings and records the reversal.
func (s *service) FailPayout(ctx context.Context, transferRef, reason string) error {
	return s.withTx(ctx, func(tx *gorm.DB) error {
		var orig model.Transaction
		if err := tx.Where("processor_ref = ? AND type = ?", transferRef, model.TxPayout).First(&orig).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransactionNotFound
			}
			return err
		}

		// Transfers can be reversed days after the batch completed them,
		// so both live states roll back; the flip still fires only once.
		reversible := []model.TransactionStatus{model.TxPending, model.TxCompleted}
		flip := tx.Model(&model.Transaction{}).
			Where("id = ? AND status IN ?", orig.ID, reversible).
			Update("status", model.TxFailed)
		if flip.Error != nil {
			return flip.Error
		}
		if flip.RowsAffected == 0 {
			return nil // already reversed
		}

		now := time.Now()
		restore := tx.Model(&model.ProviderProfile{}).
			Where("account_id = ?", orig.AccountID).
			Updates(map[string]interface{}{
				"pending_earnings": gorm.Expr("pending_earnings + ?", orig.Amount),
				"updated_at":       now,
			})
		if restore.Error != nil {
			return restore.Error
		}
		if restore.RowsAffected == 0 {
			return ErrProviderNotFound
		}

		refund := model.Transaction{
			AccountID:   orig.AccountID,
			Type:        model.TxRefund,
			Status:      model.TxCompleted,
			Amount:      orig.Amount,
			RelatedID:   &orig.ID,
			PayoutRunID: orig.PayoutRunID,
			Description: reason,
			CreatedAt:   now,
		}
		return tx.Create(&refund).Error
	})
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

func (s *service) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}
