package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Fixed conversion rates relative to USD. The settlement engine does not do
// multi-currency netting; this table only covers the simple lookup used when
// a payout account settles in a different currency than the escrow.
var usdRates = map[string]decimal.Decimal{
	"USD": decimal.NewFromInt(1),
	"EUR": decimal.RequireFromString("0.92"),
	"GBP": decimal.RequireFromString("0.79"),
}

// SupportedCurrency reports whether the currency has a configured rate.
func SupportedCurrency(currency string) bool {
	_, ok := usdRates[currency]
	return ok
}

// ConversionRate returns the fixed rate converting source into target
// currency (target / source).
func ConversionRate(source, target string) (decimal.Decimal, error) {
	if source == target {
		return decimal.NewFromInt(1), nil
	}
	sRate, ok := usdRates[source]
	if !ok {
		return decimal.Zero, fmt.Errorf("unsupported currency: %s", source)
	}
	tRate, ok := usdRates[target]
	if !ok {
		return decimal.Zero, fmt.Errorf("unsupported currency: %s", target)
	}
	return tRate.Div(sRate), nil
}

// Convert converts money to a target currency using the fixed rate table.
func Convert(m Money, target string) (Money, error) {
	rate, err := ConversionRate(m.Currency, target)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: ApplyRate(m.Amount, rate), Currency: target}, nil
}
