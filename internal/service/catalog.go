package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.catalog.ListProducts(ctx)
	if err != nil {
		return nil, newError(KindPersistenceFailure, "failed to list products", err)
	}
	return products, nil
}

func (s *Service) AdjustStock(ctx context.Context, productID string, req domain.StockAdjustmentRequest) (*domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, newError(KindUnauthorized, "authentication required", nil)
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	product, err := s.catalog.Adjust(ctx, productID, req.Delta, req.Reason, actor.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, "product not found", err)
		}
		return nil, fromStore(err, "failed to adjust stock")
	}

	s.logAudit(ctx, "stock_adjust", "product", product.ID, fmt.Sprintf("delta=%d,reason=%s,stock=%d", req.Delta, req.Reason, product.StockOnHand))
	return product, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (*domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	customer, err := s.loyalty.CreateCustomer(ctx, req.Name, req.Phone)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, newError(KindInvalidInput, "phone already registered", err)
		}
		return nil, fromStore(err, "failed to create customer")
	}

	s.logAudit(ctx, "customer_create", "customer", customer.ID, "phone="+customer.Phone)
	return customer, nil
}

// FindCustomer looks a customer up by id or phone.
func (s *Service) FindCustomer(ctx context.Context, ref string) (*domain.Customer, error) {
	customer, err := s.loyalty.Resolve(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(KindNotFound, "customer not found", err)
	}
	if err != nil {
		return nil, newError(KindPersistenceFailure, "failed to load customer", err)
	}
	return customer, nil
}
