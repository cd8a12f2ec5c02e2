package payments

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/account"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/transfer"
	"github.com/stripe/stripe-go/v81/webhook"
)

// payoutRefMetaKey is the metadata field that carries the platform payout
// reference on a transfer, so reversal events can be tied back to the
// originating payout transaction.
const payoutRefMetaKey = "payout_ref"

// StripeProcessor implements Processor against Stripe Connect.
type StripeProcessor struct {
	webhookSecret string
	currency      string
}

// NewStripeProcessor sets the global API key and returns the processor.
func NewStripeProcessor(secretKey, webhookSecret, currency string) *StripeProcessor {
	stripe.Key = secretKey
	return &StripeProcessor{webhookSecret: webhookSecret, currency: currency}
}

// minorUnits converts a scale-2 decimal amount to cents.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Truncate(2).Shift(2).IntPart()
}

func (p *StripeProcessor) CreatePaymentIntent(ctx context.Context, accountID string, amount decimal.Decimal, paymentMethod string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minorUnits(amount)),
		Currency: stripe.String(p.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if paymentMethod != "" {
		params.PaymentMethod = stripe.String(paymentMethod)
	}
	params.Context = ctx
	params.AddMetadata("account_id", accountID)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (p *StripeProcessor) AccountPayoutsEnabled(ctx context.Context, payoutAccountRef string) (bool, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := account.GetByID(payoutAccountRef, params)
	if err != nil {
		return false, fmt.Errorf("fetch connected account %s: %w", payoutAccountRef, err)
	}
	return acct.PayoutsEnabled, nil
}

func (p *StripeProcessor) Transfer(ctx context.Context, payoutAccountRef string, amount decimal.Decimal, idempotencyKey string) (*TransferReceipt, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(minorUnits(amount)),
		Currency:    stripe.String(p.currency),
		Destination: stripe.String(payoutAccountRef),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	params.AddMetadata(payoutRefMetaKey, idempotencyKey)

	tr, err := transfer.New(params)
	if err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}
	return &TransferReceipt{ID: tr.ID}, nil
}

// VerifyEvent checks the webhook signature and maps Stripe event types to
// platform events. The API version mismatch is ignored so dashboard
// upgrades do not break verification.
func (p *StripeProcessor) VerifyEvent(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verify webhook signature: %w", err)
	}

	out := &Event{ID: ev.ID, Kind: EventIgnored}
	switch ev.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		out.Kind = EventTopupSucceeded
		out.Ref = ev.GetObjectValue("id")
	case stripe.EventTypePaymentIntentPaymentFailed:
		out.Kind = EventTopupFailed
		out.Ref = ev.GetObjectValue("id")
		out.Reason = ev.GetObjectValue("last_payment_error", "message")
	case stripe.EventTypeChargeRefunded:
		out.Kind = EventTopupRefunded
		out.Ref = ev.GetObjectValue("payment_intent")
		out.Reason = "charge refunded"
	case stripe.EventTypeTransferCreated:
		out.Kind = EventTransferConfirmed
		out.Ref = ev.GetObjectValue("metadata", payoutRefMetaKey)
	case stripe.EventTypeTransferReversed:
		out.Kind = EventTransferReversed
		out.Ref = ev.GetObjectValue("metadata", payoutRefMetaKey)
		out.Reason = "transfer reversed"
	case stripe.EventTypeAccountUpdated:
		out.Kind = EventPayoutAccountUpdated
		out.Ref = ev.GetObjectValue("id")
		out.PayoutsEnabled = ev.GetObjectValue("payouts_enabled") == "true"
	}
	return out, nil
}
