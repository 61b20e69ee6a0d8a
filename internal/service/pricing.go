package service

import (
	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals prices a sale. The discount is truncated to the cent so it
// never exceeds the exact percentage; subtotal and tax round half-even.
// Total is always subtotal - discount + tax exactly.
func ComputeTotals(lines []domain.SaleLine, discountPercent decimal.Decimal, taxRate decimal.Decimal) Totals {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(line.Total())
	}
	subtotal := domain.RoundMoney(sum)

	discount := decimal.Zero
	if discountPercent.IsPositive() {
		discount = domain.TruncateMoney(subtotal.Mul(discountPercent).Div(hundred))
	}

	taxable := subtotal.Sub(discount)
	tax := domain.RoundMoney(taxable.Mul(taxRate))

	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Total:    taxable.Add(tax),
	}
}
