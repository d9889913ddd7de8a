package utils

import "github.com/shopspring/decimal"

// ProRataShare returns the fraction of an order-level charge attributed to a
// line worth lineTotal, proportional to its weight in the order subtotal.
// Rounded to 2 decimal places since every persisted amount is a money column.
func ProRataShare(charge, lineTotal, subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.IsZero() || charge.IsZero() {
		return decimal.Zero
	}
	return charge.Mul(lineTotal).Div(subtotal).Round(2)
}

// Percentage applies rate (given in percent, e.g. 7.5) to amount.
func Percentage(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)
}
