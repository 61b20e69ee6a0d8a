package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func newStoreWithProduct(t *testing.T, stock int) *Store {
	t.Helper()
	s := New()
	_, err := s.CreateProduct(context.Background(), domain.Product{
		ID:          "p1",
		SKU:         "SKU-P1",
		Name:        "Widget",
		Price:       decimal.RequireFromString("10.00"),
		StockOnHand: stock,
	})
	require.NoError(t, err)
	return s
}

func TestReserveStockIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newStoreWithProduct(t, 5)
	_, err := s.CreateProduct(ctx, domain.Product{ID: "p2", SKU: "SKU-P2", Name: "Gadget", Price: decimal.NewFromInt(3), StockOnHand: 1})
	require.NoError(t, err)

	err = s.ReserveStock(ctx, "sale-1", []domain.StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 2},
	})
	var stockErr *store.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "p2", stockErr.ProductID)
	assert.True(t, errors.Is(err, store.ErrInsufficientStock))

	p1, _ := s.GetProduct(ctx, "p1")
	p2, _ := s.GetProduct(ctx, "p2")
	assert.Equal(t, 5, p1.StockOnHand)
	assert.Equal(t, 1, p2.StockOnHand)
}

func TestReserveStockMergesDuplicateLines(t *testing.T) {
	ctx := context.Background()
	s := newStoreWithProduct(t, 3)

	err := s.ReserveStock(ctx, "sale-1", []domain.StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p1", Quantity: 2},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	require.NoError(t, s.ReserveStock(ctx, "sale-2", []domain.StockLine{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p1", Quantity: 2},
	}))
	p1, _ := s.GetProduct(ctx, "p1")
	assert.Equal(t, 0, p1.StockOnHand)
}

func TestReserveStockRejectsWrappingQuantities(t *testing.T) {
	ctx := context.Background()
	s := newStoreWithProduct(t, 500)

	err := s.ReserveStock(ctx, "sale-1", []domain.StockLine{
		{ProductID: "p1", Quantity: math.MaxInt},
		{ProductID: "p1", Quantity: math.MaxInt},
		{ProductID: "p1", Quantity: 3},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	p1, _ := s.GetProduct(ctx, "p1")
	assert.Equal(t, 500, p1.StockOnHand)
	_, err = s.ReleaseStock(ctx, "sale-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReleaseStockOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := newStoreWithProduct(t, 4)

	require.NoError(t, s.ReserveStock(ctx, "sale-1", []domain.StockLine{{ProductID: "p1", Quantity: 3}}))
	lines, err := s.ReleaseStock(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.StockLine{{ProductID: "p1", Quantity: 3}}, lines)

	_, err = s.ReleaseStock(ctx, "sale-1")
	assert.ErrorIs(t, err, store.ErrAlreadyReleased)
	_, err = s.ReleaseStock(ctx, "sale-unknown")
	assert.ErrorIs(t, err, store.ErrNotFound)

	p1, _ := s.GetProduct(ctx, "p1")
	assert.Equal(t, 4, p1.StockOnHand)
}

func TestAdjustStockNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	s := newStoreWithProduct(t, 2)

	_, err := s.AdjustStock(ctx, domain.StockAdjustment{ProductID: "p1", Delta: -3, Reason: "shrinkage"})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	updated, err := s.AdjustStock(ctx, domain.StockAdjustment{ProductID: "p1", Delta: 10, Reason: "delivery"})
	require.NoError(t, err)
	assert.Equal(t, 12, updated.StockOnHand)

	_, err = s.AdjustStock(ctx, domain.StockAdjustment{ProductID: "p1", Delta: 1})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestNextSequenceIsPerKey(t *testing.T) {
	ctx := context.Background()
	s := New()

	for want := int64(1); want <= 3; want++ {
		got, err := s.NextSequence(ctx, "TXN:20261019")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := s.NextSequence(ctx, "RCP:20261019")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestApplyAccrualOncePerSale(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	rule := func(count int, spend decimal.Decimal) (bool, decimal.Decimal) {
		if count >= 10 {
			return true, decimal.NewFromInt(5)
		}
		return false, decimal.Zero
	}

	updated, err := s.ApplyAccrual(ctx, domain.LoyaltyAccrual{SaleID: "sale-1", CustomerID: "cust-regular", Amount: decimal.NewFromInt(20)}, rule)
	require.NoError(t, err)
	assert.Equal(t, 10, updated.PurchaseCount)
	assert.True(t, updated.Eligible)
	assert.Equal(t, "520", updated.CumulativeSpend.String())

	_, err = s.ApplyAccrual(ctx, domain.LoyaltyAccrual{SaleID: "sale-1", CustomerID: "cust-regular", Amount: decimal.NewFromInt(20)}, rule)
	assert.ErrorIs(t, err, store.ErrAlreadyAccrued)

	customer, _ := s.GetCustomer(ctx, "cust-regular")
	assert.Equal(t, 10, customer.PurchaseCount)
}

func TestCreateSaleRejectsDuplicateNumbers(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	sale := domain.Sale{
		ID:     "sale-1",
		Number: "TXN-20261019-00001",
		Lines:  []domain.SaleLine{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(1)}},
		Status: domain.SaleStatusCompleted, CreatedAt: now,
	}
	receipt := domain.Receipt{ID: "rcp-1", Number: "RCP-20261019-00001", SaleID: "sale-1"}
	require.NoError(t, s.CreateSale(ctx, sale, receipt))

	dup := sale
	dup.ID = "sale-2"
	err := s.CreateSale(ctx, dup, domain.Receipt{ID: "rcp-2", Number: "RCP-20261019-00002", SaleID: "sale-2"})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.FindSaleByID(ctx, "sale-2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkSaleCancelledAndListCompleted(t *testing.T) {
	ctx := context.Background()
	s := New()
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"sale-a", "sale-b"} {
		sale := domain.Sale{
			ID:         id,
			Number:     "TXN-20261019-0000" + string(rune('1'+i)),
			CustomerID: "cust-1",
			Lines:      []domain.SaleLine{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(1)}},
			Total:      decimal.NewFromInt(1),
			Status:     domain.SaleStatusCompleted,
			CreatedAt:  day.Add(time.Duration(i+1) * time.Hour),
		}
		require.NoError(t, s.CreateSale(ctx, sale, domain.Receipt{ID: "r-" + id, Number: "RCP-" + id, SaleID: id}))
	}

	cancelled, err := s.MarkSaleCancelled(ctx, "sale-a", "manager", "customer changed mind", day.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCancelled, cancelled.Status)

	_, err = s.MarkSaleCancelled(ctx, "sale-a", "manager", "again", day.Add(4*time.Hour))
	assert.ErrorIs(t, err, store.ErrAlreadyCancelled)

	sales, err := s.ListCompletedSales(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, "sale-b", sales[0].ID)

	jobs, err := s.ListUnaccruedSales(ctx, day.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestDailyReportUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetDailyReport(ctx, "2026-10-19")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.UpsertDailyReport(ctx, domain.DailyReport{Date: "2026-10-19", TransactionCount: 1}))
	require.NoError(t, s.UpsertDailyReport(ctx, domain.DailyReport{Date: "2026-10-19", TransactionCount: 4}))

	report, err := s.GetDailyReport(ctx, "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 4, report.TransactionCount)
}
