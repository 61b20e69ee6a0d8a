// Package catalog owns product stock counts and the reservations held
// against them.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

// Reservation is a hold on stock tied to one sale attempt.
type Reservation struct {
	SaleID string
	Lines  []domain.StockLine
}

type Ledger struct {
	store store.CatalogStore
	now   func() time.Time
}

func NewLedger(s store.CatalogStore) *Ledger {
	return &Ledger{store: s, now: func() time.Time { return time.Now().UTC() }}
}

func (l *Ledger) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return l.store.ListProducts(ctx)
}

func (l *Ledger) Product(ctx context.Context, id string) (*domain.Product, error) {
	return l.store.GetProduct(ctx, strings.TrimSpace(id))
}

func (l *Ledger) ProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	return l.store.GetProductsByIDs(ctx, ids)
}

// Reserve holds every item for saleID or none of them. It never waits for
// stock: a shortfall fails immediately with store.ErrInsufficientStock.
func (l *Ledger) Reserve(ctx context.Context, saleID string, items []domain.StockLine) (Reservation, error) {
	if strings.TrimSpace(saleID) == "" || len(items) == 0 {
		return Reservation{}, store.ErrInvalidTransaction
	}
	for _, item := range items {
		if item.Quantity < 1 || strings.TrimSpace(item.ProductID) == "" {
			return Reservation{}, store.ErrInvalidTransaction
		}
	}

	if err := l.store.ReserveStock(ctx, saleID, items); err != nil {
		return Reservation{}, err
	}
	return Reservation{SaleID: saleID, Lines: items}, nil
}

// Release gives back exactly what was reserved for saleID. A second call
// returns store.ErrAlreadyReleased.
func (l *Ledger) Release(ctx context.Context, saleID string) ([]domain.StockLine, error) {
	lines, err := l.store.ReleaseStock(ctx, saleID)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("sale_id", saleID).Int("lines", len(lines)).Msg("catalog: reservation released")
	return lines, nil
}

// Adjust applies a manual stock correction. Stock never drops below zero.
func (l *Ledger) Adjust(ctx context.Context, productID string, delta int, reason string, actor string) (*domain.Product, error) {
	productID = strings.TrimSpace(productID)
	reason = strings.TrimSpace(reason)
	if productID == "" || delta == 0 || reason == "" {
		return nil, store.ErrInvalidTransaction
	}

	product, err := l.store.AdjustStock(ctx, domain.StockAdjustment{
		ProductID:  productID,
		Delta:      delta,
		Reason:     reason,
		AdjustedBy: actor,
		CreatedAt:  l.now(),
	})
	if err != nil {
		return nil, err
	}
	if product.StockOnHand <= product.ReorderThreshold {
		log.Info().
			Str("product_id", product.ID).
			Int("stock_on_hand", product.StockOnHand).
			Int("reorder_threshold", product.ReorderThreshold).
			Msg("catalog: product at or below reorder threshold")
	}
	return product, nil
}
