// Package session orchestrates the reading session lifecycle: creation with
// balance pre-check and provider claim, activation when the transport
// channel goes live, termination with settlement, and the background sweep
// that cancels sessions stuck before activation.
package session

import (
	"errors"

	"github.com/lunaria-live/lunaria/internal/model"
)

// Notifier pushes protocol frames to a connected provider. Pushes to
// offline providers are dropped.
type Notifier interface {
	NotifyProvider(providerID string, env model.Envelope)
}

// ─────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionNotActive    = errors.New("session is not active")
	ErrSessionNotPending   = errors.New("session not awaiting activation")
	ErrNotParticipant      = errors.New("caller is not part of this session")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderBusy        = errors.New("provider offline or in session")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSettlementFailed    = errors.New("settlement failed")
	ErrInvalidChannel      = errors.New("invalid channel type")
	ErrInvalidRating       = errors.New("rating must be between 1 and 5")
	ErrGiftNotFound        = errors.New("gift not found")
)
