package domain

import "github.com/shopspring/decimal"

// RoundMoney rounds half-to-even at two decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// TruncateMoney drops digits past the cent without rounding.
func TruncateMoney(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(2)
}
