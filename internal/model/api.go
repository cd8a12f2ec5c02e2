package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─────────────────────────────────────────────
// HTTP Request / Response
// ─────────────────────────────────────────────

// StartSessionRequest opens a session against a provider. The client id is
// NOT included here – it is resolved from the bearer key in the middleware.
type StartSessionRequest struct {
	ProviderID string      `json:"provider_id" binding:"required"`
	Channel    ChannelType `json:"channel" binding:"required"`
}

// EndSessionRequest closes an active session. Rating and review are
// accepted only from the client side.
type EndSessionRequest struct {
	Rating *int   `json:"rating,omitempty"`
	Review string `json:"review,omitempty"`
}

// SessionDescriptor is returned on start/activate so the caller can join
// the transport channel.
type SessionDescriptor struct {
	SessionID     string          `json:"session_id"`
	ProviderID    string          `json:"provider_id"`
	Channel       ChannelType     `json:"channel"`
	ChannelName   string          `json:"channel_name"`
	RatePerMinute decimal.Decimal `json:"rate_per_minute"`
	Status        SessionStatus   `json:"status"`
}

// TopupRequest asks for a payment intent of Amount in the platform
// currency. PaymentMethod is the processor-side method reference.
type TopupRequest struct {
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	PaymentMethod string          `json:"payment_method"`
}

// TopupResponse carries the processor references the client needs to
// finish the payment.
type TopupResponse struct {
	TransactionID uint            `json:"transaction_id"`
	IntentID      string          `json:"intent_id"`
	ClientSecret  string          `json:"client_secret,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

// SendGiftRequest settles a catalog gift from the caller to a provider,
// optionally linked to a running session.
type SendGiftRequest struct {
	GiftID     uint    `json:"gift_id" binding:"required"`
	ProviderID string  `json:"provider_id" binding:"required"`
	SessionID  *string `json:"session_id,omitempty"`
}

// RatesUpdate sets a provider's per-minute prices. Nil fields are left
// unchanged; present fields must be positive.
type RatesUpdate struct {
	ChatRate  *decimal.Decimal `json:"chat_rate,omitempty"`
	VoiceRate *decimal.Decimal `json:"voice_rate,omitempty"`
	VideoRate *decimal.Decimal `json:"video_rate,omitempty"`
}

// WalletView is the balance summary returned by /wallet.
type WalletView struct {
	Balance    decimal.Decimal `json:"balance"`
	TotalSpent decimal.Decimal `json:"total_spent"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// EarningsView is the provider-side ledger summary.
type EarningsView struct {
	PendingEarnings     decimal.Decimal     `json:"pending_earnings"`
	TotalEarnings       decimal.Decimal     `json:"total_earnings"`
	LastPayoutAt        *time.Time          `json:"last_payout_at,omitempty"`
	PayoutAccountStatus PayoutAccountStatus `json:"payout_account_status"`
	MinimumPayout       decimal.Decimal     `json:"minimum_payout"`
}

// PayoutError records one provider's failure inside a batch.
type PayoutError struct {
	ProviderID string `json:"provider_id"`
	Reason     string `json:"reason"`
}

// PayoutResult is the aggregate outcome of one payout run.
type PayoutResult struct {
	RunID     string          `json:"run_id"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped"` // eligible amount but no active payout account
	Total     decimal.Decimal `json:"total"`   // sum transferred
	Errors    []PayoutError   `json:"errors,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Took      string          `json:"took"`
}
