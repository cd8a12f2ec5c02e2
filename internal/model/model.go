package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ─────────────────────────────────────────────
// Accounts & Roles
// ─────────────────────────────────────────────

type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
)

// Account is the identity record resolved from a bearer key. Credential
// issuance lives with the external identity provider; this row only carries
// what billing needs.
type Account struct {
	ID          string        `json:"id" gorm:"primaryKey;size:36"`
	Email       string        `json:"email" gorm:"uniqueIndex;size:255"`
	DisplayName string        `json:"display_name" gorm:"size:100"`
	Role        Role          `json:"role" gorm:"size:16;index"`
	APIKey      string        `json:"-" gorm:"uniqueIndex;size:64"`
	Status      AccountStatus `json:"status" gorm:"size:16;default:active"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Wallet is a client's prepaid balance. Mutated only through the ledger
// service; Balance never goes negative after a committed update.
type Wallet struct {
	AccountID  string          `json:"account_id" gorm:"primaryKey;size:36"`
	Balance    decimal.Decimal `json:"balance" gorm:"type:decimal(12,2);default:0"`
	TotalSpent decimal.Decimal `json:"total_spent" gorm:"type:decimal(12,2);default:0"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ─────────────────────────────────────────────
// Provider State
// ─────────────────────────────────────────────

type PayoutAccountStatus string

const (
	PayoutAccountUnlinked PayoutAccountStatus = "unlinked"
	PayoutAccountPending  PayoutAccountStatus = "pending"
	PayoutAccountActive   PayoutAccountStatus = "active"
	PayoutAccountDisabled PayoutAccountStatus = "disabled"
)

// ProviderProfile carries a reader's earnings ledger, availability flags and
// per-channel rates. IsAvailable implies IsOnline.
type ProviderProfile struct {
	AccountID           string              `json:"account_id" gorm:"primaryKey;size:36"`
	PendingEarnings     decimal.Decimal     `json:"pending_earnings" gorm:"type:decimal(12,2);default:0"`
	TotalEarnings       decimal.Decimal     `json:"total_earnings" gorm:"type:decimal(12,2);default:0"`
	LastPayoutAt        *time.Time          `json:"last_payout_at,omitempty"`
	PayoutAccountRef    string              `json:"payout_account_ref,omitempty" gorm:"size:64"`
	PayoutAccountStatus PayoutAccountStatus `json:"payout_account_status" gorm:"size:16;default:unlinked"`
	IsOnline            bool                `json:"is_online" gorm:"default:false"`
	IsAvailable         bool                `json:"is_available" gorm:"default:false;index"`
	ChatRate            decimal.Decimal     `json:"chat_rate" gorm:"type:decimal(12,2);default:0"`
	VoiceRate           decimal.Decimal     `json:"voice_rate" gorm:"type:decimal(12,2);default:0"`
	VideoRate           decimal.Decimal     `json:"video_rate" gorm:"type:decimal(12,2);default:0"`
	RatingAvg           decimal.Decimal     `json:"rating_avg" gorm:"type:decimal(4,2);default:0"`
	TotalReviews        int                 `json:"total_reviews" gorm:"default:0"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// RateFor returns the per-minute price for a channel, zero if unknown.
func (p *ProviderProfile) RateFor(ch ChannelType) decimal.Decimal {
	switch ch {
	case ChannelChat:
		return p.ChatRate
	case ChannelVoice:
		return p.VoiceRate
	case ChannelVideo:
		return p.VideoRate
	}
	return decimal.Zero
}

// ─────────────────────────────────────────────
// Reading Session State Machine
// ─────────────────────────────────────────────

type ChannelType string

const (
	ChannelChat  ChannelType = "chat"
	ChannelVoice ChannelType = "voice"
	ChannelVideo ChannelType = "video"
)

// Valid reports whether ch is one of the three supported channels.
func (ch ChannelType) Valid() bool {
	return ch == ChannelChat || ch == ChannelVoice || ch == ChannelVideo
}

type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"   // row exists, transport channel not yet live
	SessionActive    SessionStatus = "active"    // metering in progress
	SessionCompleted SessionStatus = "completed" // ended and settled
	SessionFailed    SessionStatus = "failed"    // ended but settlement did not commit
	SessionCancelled SessionStatus = "cancelled" // never became active
)

// Terminal reports whether no further transition is allowed.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// Session is one metered consultation. RatePerMinute is snapshotted at
// creation and never changes afterwards, so a provider editing rates cannot
// affect a running session.
type Session struct {
	ID              string          `json:"id" gorm:"primaryKey;size:36"`
	ClientID        string          `json:"client_id" gorm:"size:36;index"`
	ProviderID      string          `json:"provider_id" gorm:"size:36;index"`
	Channel         ChannelType     `json:"channel" gorm:"size:8"`
	ChannelName     string          `json:"channel_name" gorm:"size:64"`
	RatePerMinute   decimal.Decimal `json:"rate_per_minute" gorm:"type:decimal(12,2)"`
	Status          SessionStatus   `json:"status" gorm:"size:16;index"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	DurationSeconds int             `json:"duration_seconds"`
	TotalCost       decimal.Decimal `json:"total_cost" gorm:"type:decimal(12,2);default:0"`
	Rating          *int            `json:"rating,omitempty"`
	Review          string          `json:"review,omitempty" gorm:"size:2000"`
}

// ChannelName derives the transport channel identifier for a session from
// the sorted participant pair and a timestamp. The transport collaborator
// caps names at 64 bytes, so only the leading segment of each id is used;
// the nanosecond component keeps repeat pairings distinct.
func ChannelName(a, b string, at time.Time) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("rs_%s_%s_%d", idStub(a), idStub(b), at.UnixNano())
}

func idStub(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ─────────────────────────────────────────────
// Ledger Transactions
// ─────────────────────────────────────────────

type TransactionType string

const (
	TxTopup   TransactionType = "topup"   // processor-confirmed balance credit
	TxCharge  TransactionType = "charge"  // client debit for a session or gift
	TxEarning TransactionType = "earning" // provider share of a settled charge
	TxPayout  TransactionType = "payout"  // batch transfer of pending earnings
	TxRefund  TransactionType = "refund"  // reversal entry referencing the original
)

type TransactionStatus string

const (
	TxPending    TransactionStatus = "pending"
	TxProcessing TransactionStatus = "processing"
	TxCompleted  TransactionStatus = "completed"
	TxFailed     TransactionStatus = "failed"
	TxRefunded   TransactionStatus = "refunded"
)

// Transaction is an immutable ledger entry. Reversals are new refund rows
// pointing at the original via RelatedID, never in-place edits; only Status
// may move (pending → completed/failed, or → refunded).
type Transaction struct {
	ID           uint              `json:"id" gorm:"primaryKey"`
	AccountID    string            `json:"account_id" gorm:"size:36;index"`
	Type         TransactionType   `json:"type" gorm:"size:16;index"`
	Status       TransactionStatus `json:"status" gorm:"size:16;index"`
	Amount       decimal.Decimal   `json:"amount" gorm:"type:decimal(12,2)"`
	Fee          decimal.Decimal   `json:"fee" gorm:"type:decimal(12,2);default:0"`
	SessionID    *string           `json:"session_id,omitempty" gorm:"size:36;index"`
	GiftID       *uint             `json:"gift_id,omitempty"`
	RelatedID    *uint             `json:"related_id,omitempty"` // original entry for refunds
	ProcessorRef *string           `json:"processor_ref,omitempty" gorm:"size:128;uniqueIndex"`
	PayoutRunID  string            `json:"payout_run_id,omitempty" gorm:"size:36;index"`
	Description  string            `json:"description,omitempty" gorm:"size:255"`
	CreatedAt    time.Time         `json:"created_at"`
}

// ─────────────────────────────────────────────
// Virtual Gifts
// ─────────────────────────────────────────────

// Gift is a catalog item settled through the same engine as session billing.
type Gift struct {
	ID     uint            `json:"id" gorm:"primaryKey"`
	Name   string          `json:"name" gorm:"size:64;uniqueIndex"`
	Icon   string          `json:"icon" gorm:"size:255"`
	Price  decimal.Decimal `json:"price" gorm:"type:decimal(12,2)"`
	Active bool            `json:"active" gorm:"default:true"`
}

// ─────────────────────────────────────────────
// SQL Persistence Models (async write)
// ─────────────────────────────────────────────

// SessionEvent records lifecycle transitions for audit. Written off the
// request path by the store's async worker; losing one on crash is
// acceptable, losing a ledger row is not.
type SessionEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	SessionID string    `json:"session_id" gorm:"size:36;index"`
	ActorID   string    `json:"actor_id" gorm:"size:36"`
	Event     string    `json:"event" gorm:"size:32"`
	Detail    string    `json:"detail,omitempty" gorm:"size:255"`
	CreatedAt time.Time `json:"created_at"`
}

// ─────────────────────────────────────────────
// Redis Keys
// ─────────────────────────────────────────────

// RateKey builds the fixed-window counter key: "rl:{action}:{accountID}"
func RateKey(action, accountID string) string {
	return "rl:" + action + ":" + accountID
}

// WebhookSeenKey builds the processed-event marker key: "wh:evt:{eventID}"
func WebhookSeenKey(eventID string) string {
	return "wh:evt:" + eventID
}

// PayoutLockKey is the mutex held while a payout batch runs.
const PayoutLockKey = "payout:lock"
