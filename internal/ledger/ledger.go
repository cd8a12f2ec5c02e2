package ledger

import (
	"context"

	"github.com/lunaria-live/lunaria/internal/model"
	"github.com/shopspring/decimal"
)

// ─────────────────────────────────────────────
// Balance / Earnings Ledger & Settlement Engine
//
// Owns every mutation of client wallets and
// provider earnings. All money moves are single
// atomic transactions; conditional updates close
// the race between concurrent sessions touching
// the same account. Balance never goes negative
// after a committed operation.
// ─────────────────────────────────────────────

// SettleContext links a settlement to its origin.
type SettleContext struct {
	SessionID   *string
	GiftID      *uint
	Description string
}

// SettleResult reports the committed split.
type SettleResult struct {
	Amount    decimal.Decimal
	Fee       decimal.Decimal
	Share     decimal.Decimal // payee's pending-earnings credit
	ChargeID  uint
	EarningID uint
}

type Service interface {
	// GetWallet returns the account's wallet, creating a zero-balance row
	// if not exists.
	GetWallet(ctx context.Context, accountID string) (*model.Wallet, error)

	// ListTransactions returns the account's ledger entries, newest first.
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]model.Transaction, error)

	// Settle atomically moves amount from payer wallet to payee pending
	// earnings minus the platform fee, and appends the paired charge and
	// earning entries. The payer debit succeeds only if balance covers the
	// amount at the instant of the update; otherwise the whole operation
	// fails with ErrInsufficientFunds and nothing is mutated.
	Settle(ctx context.Context, payerID, payeeID string, amount decimal.Decimal, sc SettleContext) (*SettleResult, error)

	// RecordFailedCharge appends a failed charge entry for reconciliation
	// when a settlement could not commit. No balances move.
	RecordFailedCharge(ctx context.Context, payerID string, amount decimal.Decimal, sc SettleContext) error

	// BeginTopup appends a pending topup entry carrying the processor
	// intent reference. The balance is credited only on confirmation.
	BeginTopup(ctx context.Context, accountID string, amount decimal.Decimal, processorRef, description string) (*model.Transaction, error)

	// ConfirmTopup flips the pending topup to completed and credits the
	// wallet, keyed by processor reference. Replays are no-ops: the
	// credit happens at most once per reference.
	ConfirmTopup(ctx context.Context, processorRef string) (*model.Transaction, error)

	// FailTopup flips the pending topup to failed. Idempotent.
	FailTopup(ctx context.Context, processorRef string) error

	// RefundTopup reverses a completed topup after the processor returned
	// the funds: marks the original refunded, appends a refund entry, and
	// debits the wallet as far as the balance allows.
	RefundTopup(ctx context.Context, processorRef, reason string) (*model.Transaction, error)

	// BeginPayout decrements the provider's pending earnings by amount
	// (conditional on pendingEarnings >= amount), stamps lastPayoutAt and
	// appends a pending payout entry carrying the transfer reference.
	// Runs before the external transfer so a crash leaves a pending row
	// to reconcile instead of money sent twice.
	BeginPayout(ctx context.Context, providerID string, amount decimal.Decimal, runID, transferRef string) (*model.Transaction, error)

	// CompletePayout flips the pending payout to completed. Idempotent.
	CompletePayout(ctx context.Context, transferRef string) error

	// FailPayout flips the pending payout to failed, restores the amount
	// to the provider's pending earnings and appends a refund entry
	// referencing the payout. Idempotent.
	FailPayout(ctx context.Context, transferRef, reason string) error
}
