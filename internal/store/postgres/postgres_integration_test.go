package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("RETAILPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RETAILPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestCancelledSaleRestocksInventory(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-it-%d", stamp)
	saleID := fmt.Sprintf("sale-it-%d", stamp)
	day := time.Now().UTC().Format("20060102")
	saleNumber := fmt.Sprintf("TXN-%s-IT%d", day, stamp)
	receiptNumber := fmt.Sprintf("RCP-%s-IT%d", day, stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM receipts WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_reservation_lines WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_reservations WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	_, err := s.CreateProduct(ctx, domain.Product{
		ID:          productID,
		SKU:         "SKU-IT-" + productID,
		Name:        "Integration Widget",
		Price:       decimal.RequireFromString("12.00"),
		StockOnHand: 10,
	})
	require.NoError(t, err)

	err = s.ReserveStock(ctx, saleID+"-too-many", []domain.StockLine{{ProductID: productID, Quantity: 11}})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	require.NoError(t, s.ReserveStock(ctx, saleID, []domain.StockLine{{ProductID: productID, Quantity: 2}}))

	line := domain.SaleLine{LineNo: 1, ProductID: productID, SKU: "SKU-IT-" + productID, ProductName: "Integration Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("12.00")}
	sale := domain.Sale{
		ID:               saleID,
		Number:           saleNumber,
		OperatorUsername: "cashier",
		Lines:            []domain.SaleLine{line},
		Subtotal:         decimal.RequireFromString("24.00"),
		DiscountPercent:  decimal.Zero,
		Discount:         decimal.Zero,
		TaxRate:          decimal.RequireFromString("0.10"),
		Tax:              decimal.RequireFromString("2.40"),
		Total:            decimal.RequireFromString("26.40"),
		PaymentMethod:    domain.PaymentCash,
		Status:           domain.SaleStatusCompleted,
		CreatedAt:        time.Now().UTC(),
	}
	receipt := domain.Receipt{
		ID:        "rcp-" + saleID,
		Number:    receiptNumber,
		SaleID:    saleID,
		Snapshot:  domain.ReceiptSnapshot{ReceiptNumber: receiptNumber, SaleNumber: saleNumber, Total: sale.Total},
		Internal:  domain.ReceiptInternal{SaleID: saleID, OperatorUsername: "cashier", OperatorRole: domain.RoleCashier},
		CreatedAt: sale.CreatedAt,
	}
	require.NoError(t, s.CreateSale(ctx, sale, receipt))

	product, err := s.GetProduct(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 8, product.StockOnHand)

	lines, err := s.ReleaseStock(ctx, saleID)
	require.NoError(t, err)
	assert.Equal(t, []domain.StockLine{{ProductID: productID, Quantity: 2}}, lines)

	cancelled, err := s.MarkSaleCancelled(ctx, saleID, "manager", "integration test", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCancelled, cancelled.Status)
	require.Len(t, cancelled.Lines, 1)

	_, err = s.ReleaseStock(ctx, saleID)
	assert.ErrorIs(t, err, store.ErrAlreadyReleased)
	_, err = s.MarkSaleCancelled(ctx, saleID, "manager", "again", time.Now().UTC())
	assert.ErrorIs(t, err, store.ErrAlreadyCancelled)

	product, err = s.GetProduct(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 10, product.StockOnHand)

	stored, err := s.FindReceiptBySaleID(ctx, saleID)
	require.NoError(t, err)
	assert.Equal(t, receiptNumber, stored.Snapshot.ReceiptNumber)
	assert.True(t, sale.Total.Equal(stored.Snapshot.Total))
}

func TestNextSequenceIncrementsPerKey(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()
	key := fmt.Sprintf("IT:%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sequence_counters WHERE key = $1`, key)
	})

	for want := int64(1); want <= 3; want++ {
		got, err := s.NextSequence(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
