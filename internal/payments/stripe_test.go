package payments

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func signedPayload(t *testing.T, body string) ([]byte, string) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return sp.Payload, sp.Header
}

func testProcessor() *StripeProcessor {
	return &StripeProcessor{webhookSecret: testWebhookSecret, currency: "usd"}
}

func TestVerifyEventTopupSucceeded(t *testing.T) {
	payload, header := signedPayload(t, `{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_123", "amount": 1500}}
	}`)

	ev, err := testProcessor().VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if ev.Kind != EventTopupSucceeded {
		t.Errorf("kind = %s, want topup_succeeded", ev.Kind)
	}
	if ev.Ref != "pi_123" {
		t.Errorf("ref = %s, want pi_123", ev.Ref)
	}
}

func TestVerifyEventTopupFailedCarriesReason(t *testing.T) {
	payload, header := signedPayload(t, `{
		"id": "evt_2",
		"type": "payment_intent.payment_failed",
		"data": {"object": {"id": "pi_456", "last_payment_error": {"message": "card declined"}}}
	}`)

	ev, err := testProcessor().VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if ev.Kind != EventTopupFailed || ev.Ref != "pi_456" {
		t.Errorf("got kind=%s ref=%s", ev.Kind, ev.Ref)
	}
	if ev.Reason != "card declined" {
		t.Errorf("reason = %q, want card declined", ev.Reason)
	}
}

func TestVerifyEventRefundTiedToIntent(t *testing.T) {
	payload, header := signedPayload(t, `{
		"id": "evt_3",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "payment_intent": "pi_789"}}
	}`)

	ev, err := testProcessor().VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if ev.Kind != EventTopupRefunded || ev.Ref != "pi_789" {
		t.Errorf("got kind=%s ref=%s, want topup_refunded/pi_789", ev.Kind, ev.Ref)
	}
}

func TestVerifyEventTransferConfirmedUsesPayoutRef(t *testing.T) {
	payload, header := signedPayload(t, `{
		"id": "evt_8",
		"type": "transfer.created",
		"data": {"object": {"id": "tr_2", "metadata": {"payout_ref": "payout:run-2:reader-5"}}}
	}`)

	ev, err := testProcessor().VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if ev.Kind != EventTransferConfirmed {
		t.Errorf("kind = %s, want transfer_confirmed", ev.Kind)
	}
	if ev.Ref != "payout:run-2:reader-5" {
		t.Errorf("ref = %s, want platform payout ref from metadata", ev.Ref)
	}
}

func TestVerifyEventTransferReversalUsesPayoutRef(t *testing.T) {
	payload, header := signedPayload(t, `{
		"id": "evt_4",
		"type": "transfer.reversed",
		"data": {"object": {"id": "tr_1", "metadata": {"payout_ref": "payout:run-1:reader-1"}}}
	}`)

	ev, err := testProcessor().VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if ev.Kind != EventTransferReversed {
		t.Errorf("kind = %s, want transfer_reversed", ev.Kind)
	}
	if ev.Ref != "payout:run-1:reader-1" {
		t.Errorf("ref = %s, want platform payout ref from metadata", ev.Ref)
	}
}

func TestVerifyEventAccountUpdated(t *testing.T) {
	payload, header := signedPayload(t, `{
		"id": "evt_5",
		"type": "account.updated",
		"data": {"object": {"id": "acct_9", "payouts_enabled": true}}
	}`)

	ev, err := testProcessor().VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if ev.Kind != EventPayoutAccountUpdated || ev.Ref != "acct_9" {
		t.Errorf("got kind=%s ref=%s", ev.Kind, ev.Ref)
	}
	if !ev.PayoutsEnabled {
		t.Error("payouts_enabled not carried through")
	}
}

func TestVerifyEventUnknownTypeIgnored(t *testing.T) {
	payload, header := signedPayload(t, `{
		"id": "evt_6",
		"type": "customer.created",
		"data": {"object": {"id": "cus_1"}}
	}`)

	ev, err := testProcessor().VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if ev.Kind != EventIgnored {
		t.Errorf("kind = %s, want ignored", ev.Kind)
	}
}

func TestVerifyEventRejectsBadSignature(t *testing.T) {
	payload, _ := signedPayload(t, `{"id": "evt_7", "type": "payment_intent.succeeded", "data": {"object": {}}}`)

	if _, err := testProcessor().VerifyEvent(payload, "t=1,v1=deadbeef"); err == nil {
		t.Fatal("forged signature accepted")
	}
}

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"5.00", 500},
		{"19.99", 1999},
		{"0.01", 1},
		{"500.00", 50000},
	}
	for _, c := range cases {
		if got := minorUnits(dec(c.in)); got != c.want {
			t.Errorf("minorUnits(%s) = %d, want %d", c.in, got, c.want)
		}
	}
}
