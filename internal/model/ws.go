package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─────────────────────────────────────────────
// WebSocket Protocol Messages
// ─────────────────────────────────────────────

type MsgType string

const (
	// Server → Provider
	MsgTypeSessionRequested MsgType = "SESSION_REQUESTED"
	MsgTypeSessionActivated MsgType = "SESSION_ACTIVATED"
	MsgTypeSessionClosed    MsgType = "SESSION_CLOSED"
	MsgTypeGiftReceived     MsgType = "GIFT_RECEIVED"

	// Provider → Server
	MsgTypeSetAvailability MsgType = "SET_AVAILABILITY"
)

// Envelope is the top-level WebSocket frame.
type Envelope struct {
	Type    MsgType     `json:"type"`
	Payload interface{} `json:"payload"`
}

// SessionNotice is pushed to a provider when a client opens a session
// against them, and again when the channel goes live.
type SessionNotice struct {
	SessionID     string          `json:"session_id"`
	ClientID      string          `json:"client_id"`
	Channel       ChannelType     `json:"channel"`
	ChannelName   string          `json:"channel_name"`
	RatePerMinute decimal.Decimal `json:"rate_per_minute"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SessionClosed is pushed to a provider when a session reaches a terminal
// state, whichever side ended it.
type SessionClosed struct {
	SessionID       string          `json:"session_id"`
	Status          SessionStatus   `json:"status"`
	DurationSeconds int             `json:"duration_seconds"`
	TotalCost       decimal.Decimal `json:"total_cost"`
}

// GiftNotice is pushed to a provider when a client sends a gift.
type GiftNotice struct {
	GiftID   uint            `json:"gift_id"`
	Name     string          `json:"name"`
	ClientID string          `json:"client_id"`
	Share    decimal.Decimal `json:"share"` // provider share after platform fee
}

// AvailabilityUpdate is sent by a provider to toggle whether new sessions
// may start against them. Going unavailable never interrupts a running
// session.
type AvailabilityUpdate struct {
	Available bool `json:"available"`
}
