package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"retailpos/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrConflict           = errors.New("conflict")
	ErrAlreadyReleased    = errors.New("reservation already released")
	ErrAlreadyCancelled   = errors.New("sale already cancelled")
	ErrAlreadyAccrued     = errors.New("loyalty already accrued for sale")
)

// InsufficientStockError names the product that blocked a reservation.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// MaxStockQuantity is the largest quantity a stock column can hold.
const MaxStockQuantity = math.MaxInt32

// MergeLines sums quantities per product and orders the result by product
// id. Non-positive quantities and sums past MaxStockQuantity are rejected.
func MergeLines(lines []domain.StockLine) ([]domain.StockLine, error) {
	agg := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 || line.Quantity > MaxStockQuantity {
			return nil, fmt.Errorf("quantity %d for product %s: %w", line.Quantity, line.ProductID, ErrInvalidTransaction)
		}
		if line.Quantity > MaxStockQuantity-agg[line.ProductID] {
			return nil, fmt.Errorf("combined quantity for product %s exceeds %d: %w", line.ProductID, MaxStockQuantity, ErrInvalidTransaction)
		}
		agg[line.ProductID] += line.Quantity
	}
	merged := make([]domain.StockLine, 0, len(agg))
	for id, qty := range agg {
		merged = append(merged, domain.StockLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ProductID < merged[j].ProductID
	})
	return merged, nil
}

type CatalogStore interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	// ReserveStock holds every line for saleID or none of them.
	ReserveStock(ctx context.Context, saleID string, lines []domain.StockLine) error
	// ReleaseStock returns the lines held for saleID exactly once.
	ReleaseStock(ctx context.Context, saleID string) ([]domain.StockLine, error)
	AdjustStock(ctx context.Context, adjustment domain.StockAdjustment) (*domain.Product, error)
}

type LoyaltyStore interface {
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error)
	// ApplyAccrual records the accrual keyed by sale and updates the customer
	// totals in one step; a repeat for the same sale returns ErrAlreadyAccrued.
	ApplyAccrual(ctx context.Context, accrual domain.LoyaltyAccrual, rule domain.EligibilityRule) (*domain.Customer, error)
	// ListUnaccruedSales skips sales whose accrual was recorded as failed.
	ListUnaccruedSales(ctx context.Context, createdBefore time.Time, limit int) ([]domain.AccrualJob, error)
	RecordAccrualFailure(ctx context.Context, job domain.AccrualJob) error
}

type SequenceStore interface {
	NextSequence(ctx context.Context, key string) (int64, error)
}

type SaleStore interface {
	CreateSale(ctx context.Context, sale domain.Sale, receipt domain.Receipt) error
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	FindReceiptBySaleID(ctx context.Context, saleID string) (*domain.Receipt, error)
	MarkSaleCancelled(ctx context.Context, id string, cancelledBy string, reason string, at time.Time) (*domain.Sale, error)
	ListCompletedSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)
}

type ReportStore interface {
	UpsertDailyReport(ctx context.Context, report domain.DailyReport) error
	GetDailyReport(ctx context.Context, date string) (*domain.DailyReport, error)
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	CatalogStore
	LoyaltyStore
	SequenceStore
	SaleStore
	ReportStore
	AuditStore
	UserStore
}
