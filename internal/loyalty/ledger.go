// Package loyalty tracks per-customer purchase totals and the discount
// they unlock.
package loyalty

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

const (
	MinPurchaseCount = 10
)

var (
	MinCumulativeSpend = decimal.NewFromInt(1000)
	DiscountPercent    = decimal.NewFromInt(5)
)

// Derive is the eligibility rule: 10 purchases or 1000 spent unlocks 5%.
func Derive(purchaseCount int, cumulativeSpend decimal.Decimal) (bool, decimal.Decimal) {
	if purchaseCount >= MinPurchaseCount || cumulativeSpend.GreaterThanOrEqual(MinCumulativeSpend) {
		return true, DiscountPercent
	}
	return false, decimal.Zero
}

type Eligibility struct {
	CustomerID      string
	Eligible        bool
	DiscountPercent decimal.Decimal
}

type Ledger struct {
	store store.LoyaltyStore
	rule  domain.EligibilityRule
	now   func() time.Time
}

func NewLedger(s store.LoyaltyStore) *Ledger {
	return &Ledger{store: s, rule: Derive, now: func() time.Time { return time.Now().UTC() }}
}

func (l *Ledger) CreateCustomer(ctx context.Context, name string, phone string) (*domain.Customer, error) {
	return l.store.CreateCustomer(ctx, domain.Customer{
		Name:            name,
		Phone:           phone,
		CumulativeSpend: decimal.Zero,
		DiscountPercent: decimal.Zero,
		CreatedAt:       l.now(),
	})
}

// Resolve finds a customer by id first, then by phone.
func (l *Ledger) Resolve(ctx context.Context, ref string) (*domain.Customer, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, store.ErrNotFound
	}
	customer, err := l.store.GetCustomer(ctx, ref)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return l.store.FindCustomerByPhone(ctx, ref)
}

// Eligibility reads the customer's current state; it is the value used to
// discount the next sale, before that sale is accrued.
func (l *Ledger) Eligibility(ctx context.Context, customerID string) (Eligibility, error) {
	customer, err := l.store.GetCustomer(ctx, customerID)
	if err != nil {
		return Eligibility{}, err
	}
	eligible, pct := l.rule(customer.PurchaseCount, customer.CumulativeSpend)
	return Eligibility{CustomerID: customer.ID, Eligible: eligible, DiscountPercent: pct}, nil
}

// Accrue adds saleTotal to the customer's totals once per saleID. A repeat
// for the same sale is a no-op returning the current customer.
func (l *Ledger) Accrue(ctx context.Context, customerID string, saleID string, saleTotal decimal.Decimal) (*domain.Customer, error) {
	if strings.TrimSpace(customerID) == "" || strings.TrimSpace(saleID) == "" || saleTotal.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}

	customer, err := l.store.ApplyAccrual(ctx, domain.LoyaltyAccrual{
		SaleID:     saleID,
		CustomerID: customerID,
		Amount:     saleTotal,
		AppliedAt:  l.now(),
	}, l.rule)
	if errors.Is(err, store.ErrAlreadyAccrued) {
		return l.store.GetCustomer(ctx, customerID)
	}
	if err != nil {
		return nil, err
	}
	return customer, nil
}
