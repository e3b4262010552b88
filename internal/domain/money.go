package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value in a specific currency.
// Amount is stored as BIGINT minor units (cents) to avoid floating point errors.
type Money struct {
	Amount   int64  // minor units
	Currency string // ISO 4217
}

// NewMoney creates a new Money instance from minor units.
func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// ToDecimal converts the minor units to a major-unit decimal (cents -> dollars).
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(100))
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}

// ApplyRate multiplies a minor-unit amount by a rate, rounding half up to the
// nearest minor unit. Used for every percentage fee in the settlement flow.
func ApplyRate(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}

// FeeSchedule holds the configured fee rates applied to payment intents.
type FeeSchedule struct {
	PlatformRate    decimal.Decimal
	GatewayRate     decimal.Decimal
	GatewayFixedFee int64
	InsuranceRate   decimal.Decimal
}

// IntentFees is the fee breakdown computed at intent creation.
type IntentFees struct {
	Platform   int64
	Processing int64
	Insurance  int64
	Total      int64
}

// ComputeIntentFees applies the fee schedule to a payment amount.
func ComputeIntentFees(amount int64, s FeeSchedule) IntentFees {
	platform := ApplyRate(amount, s.PlatformRate)
	processing := ApplyRate(amount, s.GatewayRate) + s.GatewayFixedFee
	insurance := ApplyRate(amount, s.InsuranceRate)
	return IntentFees{
		Platform:   platform,
		Processing: processing,
		Insurance:  insurance,
		Total:      platform + processing + insurance,
	}
}

// ReleaseBreakdown is the split computed when escrow funds are released.
type ReleaseBreakdown struct {
	ReleaseAmount   int64
	DeductionsTotal int64
	NetAmount       int64
	PlatformFee     int64
	PayeeAmount     int64
}

// ComputeReleaseBreakdown nets deductions and the platform fee out of a
// release amount. PayeeAmount is what the payout processor transfers.
func ComputeReleaseBreakdown(releaseAmount, damages, penalties, additionalFees int64, platformRate decimal.Decimal) ReleaseBreakdown {
	deductions := damages + penalties + additionalFees
	net := releaseAmount - deductions
	platformFee := ApplyRate(net, platformRate)
	return ReleaseBreakdown{
		ReleaseAmount:   releaseAmount,
		DeductionsTotal: deductions,
		NetAmount:       net,
		PlatformFee:     platformFee,
		PayeeAmount:     net - platformFee,
	}
}

// PayoutFeeSchedule holds the configured payout fee parameters.
type PayoutFeeSchedule struct {
	InstantRate decimal.Decimal
	InstantMin  int64
}

// ComputePayoutFee returns the processor fee for a payout. Standard payouts
// are free; instant payouts pay max(InstantMin, amount*InstantRate).
func ComputePayoutFee(amount int64, payoutType string, s PayoutFeeSchedule) int64 {
	if payoutType != PayoutTypeInstant {
		return 0
	}
	fee := ApplyRate(amount, s.InstantRate)
	if fee < s.InstantMin {
		return s.InstantMin
	}
	return fee
}
