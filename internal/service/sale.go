package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/sequence"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// enqueueTimeout bounds the hand-off of a failed accrual to the retry queue.
const enqueueTimeout = 2 * time.Second

// CreateSale reserves stock, prices the sale, and persists sale and receipt
// together. Any failure after the reservation releases it again.
func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.CreateSaleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.Username) == "" {
		return domain.CreateSaleResponse{}, newError(KindUnauthorized, "authentication required", nil)
	}

	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if err := s.validateStruct(req); err != nil {
		return domain.CreateSaleResponse{}, err
	}

	productIDs := make([]string, 0, len(req.Items))
	seen := make(map[string]struct{}, len(req.Items))
	for i := range req.Items {
		req.Items[i].ProductID = strings.TrimSpace(req.Items[i].ProductID)
		item := req.Items[i]
		if item.UnitPrice != nil {
			if !item.UnitPrice.IsPositive() {
				return domain.CreateSaleResponse{}, invalidInput(fmt.Sprintf("unit price for product %s must be positive", item.ProductID))
			}
			if !item.UnitPrice.Equal(domain.TruncateMoney(*item.UnitPrice)) {
				return domain.CreateSaleResponse{}, invalidInput(fmt.Sprintf("unit price for product %s must have at most 2 decimals", item.ProductID))
			}
		}
		if _, dup := seen[item.ProductID]; !dup {
			seen[item.ProductID] = struct{}{}
			productIDs = append(productIDs, item.ProductID)
		}
	}

	products, err := s.catalog.ProductsByIDs(ctx, productIDs)
	if err != nil {
		return domain.CreateSaleResponse{}, newError(KindPersistenceFailure, "failed to load products", err)
	}

	lines := make([]domain.SaleLine, 0, len(req.Items))
	stockLines := make([]domain.StockLine, 0, len(req.Items))
	for i, item := range req.Items {
		product, exists := products[item.ProductID]
		if !exists || !product.Active {
			return domain.CreateSaleResponse{}, invalidInput(fmt.Sprintf("product %s not found or inactive", item.ProductID))
		}
		// The price is captured here and never re-read from the catalog.
		price := product.Price
		if item.UnitPrice != nil {
			price = *item.UnitPrice
		}
		lines = append(lines, domain.SaleLine{
			LineNo:      i + 1,
			ProductID:   product.ID,
			SKU:         product.SKU,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   price,
		})
		stockLines = append(stockLines, domain.StockLine{ProductID: product.ID, Quantity: item.Quantity})
	}

	var customer *domain.Customer
	if ref := strings.TrimSpace(req.CustomerPhoneOrID); ref != "" {
		customer, err = s.loyalty.Resolve(ctx, ref)
		if errors.Is(err, store.ErrNotFound) {
			return domain.CreateSaleResponse{}, invalidInput("customer not found")
		}
		if err != nil {
			return domain.CreateSaleResponse{}, newError(KindPersistenceFailure, "failed to load customer", err)
		}
	}

	saleID := xid.New("sale")
	if _, err := s.catalog.Reserve(ctx, saleID, stockLines); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CreateSaleResponse{}, invalidInput(err.Error())
		}
		return domain.CreateSaleResponse{}, fromStore(err, "failed to reserve stock")
	}

	compensate := func(cause error, message string) error {
		releaseCtx := context.WithoutCancel(ctx)
		if _, relErr := s.catalog.Release(releaseCtx, saleID); relErr != nil {
			log.Error().Err(relErr).Str("sale_id", saleID).Msg("failed to release reservation after sale failure")
		}
		log.Error().Err(cause).Str("sale_id", saleID).Msg(message)
		return newError(KindPersistenceFailure, message, cause)
	}

	discountPercent := decimal.Zero
	eligible := false
	if customer != nil {
		elig, err := s.loyalty.Eligibility(ctx, customer.ID)
		if err != nil {
			return domain.CreateSaleResponse{}, compensate(err, "failed to read loyalty eligibility")
		}
		eligible = elig.Eligible
		discountPercent = elig.DiscountPercent
	}

	totals := ComputeTotals(lines, discountPercent, s.cfg.TaxRate)
	now := s.cfg.Now()

	saleNumber, err := s.sequences.Next(ctx, sequence.KindSale, now)
	if err != nil {
		return domain.CreateSaleResponse{}, compensate(err, "failed to allocate sale number")
	}
	receiptNumber, err := s.sequences.Next(ctx, sequence.KindReceipt, now)
	if err != nil {
		return domain.CreateSaleResponse{}, compensate(err, "failed to allocate receipt number")
	}

	sale := domain.Sale{
		ID:               saleID,
		Number:           saleNumber,
		OperatorUsername: actor.Username,
		Lines:            lines,
		Subtotal:         totals.Subtotal,
		DiscountPercent:  discountPercent,
		Discount:         totals.Discount,
		TaxRate:          s.cfg.TaxRate,
		Tax:              totals.Tax,
		Total:            totals.Total,
		PaymentMethod:    req.PaymentMethod,
		Status:           domain.SaleStatusCompleted,
		CreatedAt:        now,
	}
	if customer != nil {
		sale.CustomerID = customer.ID
	}
	receipt := buildReceipt(sale, receiptNumber, customer, actor, eligible)

	if err := s.repo.CreateSale(ctx, sale, receipt); err != nil {
		return domain.CreateSaleResponse{}, compensate(err, "failed to persist sale")
	}

	resp := domain.CreateSaleResponse{Sale: sale, Receipt: receipt}
	if customer != nil {
		updated, err := s.loyalty.Accrue(ctx, customer.ID, sale.ID, sale.Total)
		if err != nil {
			log.Warn().Err(err).Str("sale_id", sale.ID).Str("customer_id", customer.ID).Msg("loyalty accrual failed, queued for retry")
			job := domain.AccrualJob{
				SaleID:     sale.ID,
				CustomerID: customer.ID,
				Amount:     sale.Total,
				Attempts:   1,
				LastError:  err.Error(),
			}
			enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
			qErr := s.accruals.Enqueue(enqueueCtx, job)
			cancel()
			if qErr != nil {
				log.Error().Err(qErr).Str("sale_id", sale.ID).Msg("failed to enqueue accrual, sweeper will pick it up")
			}
			resp.AccrualPending = true
			resp.Customer = customer
		} else {
			resp.Customer = updated
		}
	}

	s.logAudit(ctx, "sale_create", "sale", sale.ID, fmt.Sprintf("number=%s,total=%s,payment=%s", sale.Number, sale.Total.StringFixed(2), sale.PaymentMethod))
	log.Info().
		Str("sale_id", sale.ID).
		Str("number", sale.Number).
		Str("operator", actor.Username).
		Str("total", sale.Total.StringFixed(2)).
		Msg("sale completed")

	return resp, nil
}

func buildReceipt(sale domain.Sale, number string, customer *domain.Customer, actor domain.Actor, eligible bool) domain.Receipt {
	items := make([]domain.ReceiptItem, 0, len(sale.Lines))
	productIDs := make([]string, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		items = append(items, domain.ReceiptItem{
			SKU:       line.SKU,
			Name:      line.ProductName,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: domain.RoundMoney(line.Total()),
		})
		productIDs = append(productIDs, line.ProductID)
	}

	snapshot := domain.ReceiptSnapshot{
		ReceiptNumber:   number,
		SaleNumber:      sale.Number,
		Items:           items,
		Subtotal:        sale.Subtotal,
		DiscountPercent: sale.DiscountPercent,
		Discount:        sale.Discount,
		TaxRate:         sale.TaxRate,
		Tax:             sale.Tax,
		Total:           sale.Total,
		PaymentMethod:   sale.PaymentMethod,
		IssuedAt:        sale.CreatedAt,
	}
	internal := domain.ReceiptInternal{
		SaleID:           sale.ID,
		OperatorUsername: actor.Username,
		OperatorRole:     actor.Role,
		ProductIDs:       productIDs,
		LoyaltyEligible:  eligible,
	}
	if customer != nil {
		snapshot.CustomerName = customer.Name
		snapshot.CustomerPhone = customer.Phone
		internal.CustomerID = customer.ID
	}

	return domain.Receipt{
		ID:        xid.New("rcp"),
		Number:    number,
		SaleID:    sale.ID,
		Snapshot:  snapshot,
		Internal:  internal,
		CreatedAt: sale.CreatedAt,
	}
}

// CancelSale restores stock and marks the sale cancelled. Totals and any
// loyalty accrual already applied stay as they are.
func (s *Service) CancelSale(ctx context.Context, saleID string, req domain.CancelSaleRequest) (*domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.Username) == "" {
		return nil, newError(KindUnauthorized, "authentication required", nil)
	}
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	saleID = strings.TrimSpace(saleID)
	sale, err := s.repo.FindSaleByID(ctx, saleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(KindNotFound, "sale not found", err)
	}
	if err != nil {
		return nil, newError(KindPersistenceFailure, "failed to load sale", err)
	}
	if sale.Status != domain.SaleStatusCompleted {
		return nil, newError(KindAlreadyCancelled, "sale already cancelled", store.ErrAlreadyCancelled)
	}
	if sale.OperatorUsername != actor.Username && !actor.Role.Can(domain.CapCancelAnySale) {
		return nil, newError(KindUnauthorized, "only the original operator or a manager may cancel this sale", nil)
	}

	if _, err := s.catalog.Release(ctx, sale.ID); err != nil {
		if !errors.Is(err, store.ErrAlreadyReleased) {
			return nil, newError(KindPersistenceFailure, "failed to restore stock", err)
		}
		// An earlier attempt released stock but did not flip the status.
		log.Info().Str("sale_id", sale.ID).Msg("stock already released, resuming cancellation")
	}

	cancelled, err := s.repo.MarkSaleCancelled(ctx, sale.ID, actor.Username, strings.TrimSpace(req.Reason), s.cfg.Now())
	if errors.Is(err, store.ErrAlreadyCancelled) {
		return nil, newError(KindAlreadyCancelled, "sale already cancelled", err)
	}
	if err != nil {
		return nil, newError(KindPersistenceFailure, "failed to cancel sale", err)
	}

	s.logAudit(ctx, "sale_cancel", "sale", cancelled.ID, fmt.Sprintf("number=%s,reason=%s", cancelled.Number, cancelled.CancelReason))
	log.Info().Str("sale_id", cancelled.ID).Str("by", actor.Username).Msg("sale cancelled")
	return cancelled, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := s.repo.FindSaleByID(ctx, strings.TrimSpace(saleID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(KindNotFound, "sale not found", err)
	}
	if err != nil {
		return nil, newError(KindPersistenceFailure, "failed to load sale", err)
	}
	return sale, nil
}

func (s *Service) GetReceipt(ctx context.Context, saleID string) (*domain.Receipt, error) {
	receipt, err := s.repo.FindReceiptBySaleID(ctx, strings.TrimSpace(saleID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(KindNotFound, "receipt not found", err)
	}
	if err != nil {
		return nil, newError(KindPersistenceFailure, "failed to load receipt", err)
	}
	return receipt, nil
}
