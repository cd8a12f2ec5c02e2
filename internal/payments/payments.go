// Package payments wraps the card processor behind a narrow interface so
// the ledger, payout and handler packages never touch processor types
// directly. Amounts stay decimal on this side of the boundary and are
// converted to minor units at the wire.
package payments

import (
	"context"

	"github.com/shopspring/decimal"
)

// Intent is a created payment awaiting client-side confirmation.
type Intent struct {
	ID           string
	ClientSecret string
}

// TransferReceipt identifies a processor transfer to a connected payout
// account.
type TransferReceipt struct {
	ID string
}

// EventKind classifies a verified processor callback into the cases the
// webhook handler dispatches on.
type EventKind string

const (
	EventTopupSucceeded       EventKind = "topup_succeeded"
	EventTopupFailed          EventKind = "topup_failed"
	EventTopupRefunded        EventKind = "topup_refunded"
	EventTransferConfirmed    EventKind = "transfer_confirmed"
	EventTransferReversed     EventKind = "transfer_reversed"
	EventPayoutAccountUpdated EventKind = "payout_account_updated"
	EventIgnored              EventKind = "ignored"
)

// Event is a signature-verified processor callback reduced to the fields
// the platform acts on. Ref carries the payment intent id for topup
// events, the platform payout reference for transfer events and the
// connected account id for account events.
type Event struct {
	ID             string
	Kind           EventKind
	Ref            string
	Reason         string
	PayoutsEnabled bool
}

// Processor is the outbound payment surface.
type Processor interface {
	// CreatePaymentIntent opens a topup payment for client-side
	// confirmation, attaching the processor-side payment method when the
	// caller supplies one. The returned intent id becomes the
	// processor_ref of the pending topup transaction.
	CreatePaymentIntent(ctx context.Context, accountID string, amount decimal.Decimal, paymentMethod string) (*Intent, error)

	// AccountPayoutsEnabled reports whether the connected payout account
	// can currently receive transfers.
	AccountPayoutsEnabled(ctx context.Context, payoutAccountRef string) (bool, error)

	// Transfer moves a provider's earnings to their connected account.
	// The idempotency key makes retries safe on the processor side.
	Transfer(ctx context.Context, payoutAccountRef string, amount decimal.Decimal, idempotencyKey string) (*TransferReceipt, error)

	// VerifyEvent authenticates a webhook payload and maps it to a
	// platform event. Unrecognised event types come back as EventIgnored.
	VerifyEvent(payload []byte, signature string) (*Event, error)
}
