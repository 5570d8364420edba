package engine

import "github.com/shopspring/decimal"

var (
	secondsPerMinute = decimal.NewFromInt(60)
	hundred          = decimal.NewFromInt(100)
	monthsPerYear    = decimal.NewFromInt(12)
)

// Cost returns the unrounded cost of a call: minutes are fractional and
// billed proportionally. Round only the final total with RoundMoney.
func Cost(durationSeconds int64, pricePerMinute decimal.Decimal) decimal.Decimal {
	if durationSeconds <= 0 || pricePerMinute.Sign() <= 0 {
		return decimal.Zero
	}
	return pricePerMinute.Mul(decimal.NewFromInt(durationSeconds)).Div(secondsPerMinute)
}

// RoundMoney rounds an amount to cents, half away from zero.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyPrecision)
}

// RoundPrice rounds a per-minute price to the catalog precision.
func RoundPrice(price decimal.Decimal) decimal.Decimal {
	return price.Round(PricePrecision)
}

// WholeMinutes converts seconds to minutes, dropping the fractional part.
func WholeMinutes(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	return seconds / 60
}
