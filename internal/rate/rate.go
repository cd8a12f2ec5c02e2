package rate

import (
	"github.com/shopspring/decimal"
)

// ─────────────────────────────────────────────
// Rate & Cost Calculator
//
// Pure money math for session billing: billable
// minutes, total cost, and the platform fee split.
// No side effects, no failure modes.
// ─────────────────────────────────────────────

// MoneyScale is the decimal scale for all monetary values (cents).
const MoneyScale = 2

// BillableMinutes rounds a duration up to whole minutes. Partial minutes
// always count as full ones; non-positive durations bill zero.
func BillableMinutes(durationSeconds int) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	return int64((durationSeconds + 59) / 60)
}

// Cost returns billable minutes × per-minute rate.
func Cost(durationSeconds int, perMinute decimal.Decimal) decimal.Decimal {
	return perMinute.Mul(decimal.NewFromInt(BillableMinutes(durationSeconds))).Truncate(MoneyScale)
}

// Calculator applies the platform commission to settled amounts.
type Calculator struct {
	feePercent decimal.Decimal // e.g. 0.30
}

func NewCalculator(feePercent decimal.Decimal) *Calculator {
	return &Calculator{feePercent: feePercent}
}

// Split divides a settled amount into platform fee and provider share.
// The share is truncated to money scale and the fee takes the remainder,
// so share + fee always reconstructs the amount exactly.
func (c *Calculator) Split(amount decimal.Decimal) (fee, share decimal.Decimal) {
	share = amount.Mul(decimal.NewFromInt(1).Sub(c.feePercent)).Truncate(MoneyScale)
	fee = amount.Sub(share)
	return fee, share
}

// FeePercent returns the configured commission rate.
func (c *Calculator) FeePercent() decimal.Decimal {
	return c.feePercent
}
