package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, price, stock_on_hand, reorder_threshold, active
		FROM products
		WHERE active = true
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.StockOnHand, &p.ReorderThreshold, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || !product.Price.IsPositive() || product.StockOnHand < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, price, stock_on_hand, reorder_threshold, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,true,now(),now())
	`, product.ID, product.SKU, product.Name, product.Price, product.StockOnHand, product.ReorderThreshold)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, price, stock_on_hand, reorder_threshold, active
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.StockOnHand, &p.ReorderThreshold, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, price, stock_on_hand, reorder_threshold, active
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.StockOnHand, &p.ReorderThreshold, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) ReserveStock(ctx context.Context, saleID string, lines []domain.StockLine) error {
	if saleID == "" || len(lines) == 0 {
		return store.ErrInvalidTransaction
	}
	merged, err := store.MergeLines(lines)
	if err != nil {
		return err
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if _, err := pgTx.ExecContext(ctx, `
		INSERT INTO stock_reservations (sale_id, status, created_at)
		VALUES ($1, 'reserved', now())
	`, saleID); err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}

	// Lines are ordered by product id so concurrent reservations lock rows
	// in the same order.
	for _, line := range merged {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock_on_hand = stock_on_hand - $1, updated_at = now()
			WHERE id = $2 AND active = true AND stock_on_hand >= $1
		`, line.Quantity, line.ProductID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var available int
			err := pgTx.QueryRowContext(ctx, `
				SELECT stock_on_hand FROM products WHERE id = $1 AND active = true
			`, line.ProductID).Scan(&available)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("product %s: %w", line.ProductID, store.ErrNotFound)
			}
			if err != nil {
				return err
			}
			return &store.InsufficientStockError{ProductID: line.ProductID, Requested: line.Quantity, Available: available}
		}

		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO stock_reservation_lines (sale_id, product_id, quantity)
			VALUES ($1,$2,$3)
		`, saleID, line.ProductID, line.Quantity); err != nil {
			return err
		}
	}

	return pgTx.Commit()
}

func (s *Store) ReleaseStock(ctx context.Context, saleID string) ([]domain.StockLine, error) {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	res, err := pgTx.ExecContext(ctx, `
		UPDATE stock_reservations
		SET status = 'released', released_at = now()
		WHERE sale_id = $1 AND status = 'reserved'
	`, saleID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var status string
		err := pgTx.QueryRowContext(ctx, `SELECT status FROM stock_reservations WHERE sale_id = $1`, saleID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, store.ErrAlreadyReleased
	}

	rows, err := pgTx.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM stock_reservation_lines
		WHERE sale_id = $1
		ORDER BY product_id
	`, saleID)
	if err != nil {
		return nil, err
	}
	lines := make([]domain.StockLine, 0, 8)
	for rows.Next() {
		var line domain.StockLine
		if err := rows.Scan(&line.ProductID, &line.Quantity); err != nil {
			_ = rows.Close()
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, line := range lines {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock_on_hand = stock_on_hand + $1, updated_at = now()
			WHERE id = $2
		`, line.Quantity, line.ProductID); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) AdjustStock(ctx context.Context, adjustment domain.StockAdjustment) (*domain.Product, error) {
	if adjustment.Delta == 0 || strings.TrimSpace(adjustment.Reason) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if adjustment.ID == "" {
		adjustment.ID = xid.New("adj")
	}
	if adjustment.CreatedAt.IsZero() {
		adjustment.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var p domain.Product
	err = pgTx.QueryRowContext(ctx, `
		UPDATE products
		SET stock_on_hand = stock_on_hand + $1, updated_at = now()
		WHERE id = $2 AND stock_on_hand + $1 >= 0
		RETURNING id, sku, name, price, stock_on_hand, reorder_threshold, active
	`, adjustment.Delta, adjustment.ProductID).Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.StockOnHand, &p.ReorderThreshold, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		var available int
		lookupErr := pgTx.QueryRowContext(ctx, `SELECT stock_on_hand FROM products WHERE id = $1`, adjustment.ProductID).Scan(&available)
		if errors.Is(lookupErr, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if lookupErr != nil {
			return nil, lookupErr
		}
		return nil, &store.InsufficientStockError{ProductID: adjustment.ProductID, Requested: -adjustment.Delta, Available: available}
	}
	if err != nil {
		return nil, err
	}

	if _, err := pgTx.ExecContext(ctx, `
		INSERT INTO stock_adjustments (id, product_id, delta, reason, adjusted_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, adjustment.ID, adjustment.ProductID, adjustment.Delta, adjustment.Reason, adjustment.AdjustedBy, adjustment.CreatedAt); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Phone = strings.TrimSpace(customer.Phone)
	if customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidTransaction
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, cumulative_spend, purchase_count, eligible, discount_percent, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
	`, customer.ID, customer.Name, customer.Phone, customer.CumulativeSpend, customer.PurchaseCount,
		customer.Eligible, customer.DiscountPercent, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &customer, nil
}

const customerColumns = `id, name, phone, cumulative_spend, purchase_count, eligible, discount_percent, created_at`

func scanCustomer(row interface{ Scan(...any) error }) (*domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.CumulativeSpend, &c.PurchaseCount, &c.Eligible, &c.DiscountPercent, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
}

func (s *Store) FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	return scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone = $1`, strings.TrimSpace(phone)))
}

func (s *Store) ApplyAccrual(ctx context.Context, accrual domain.LoyaltyAccrual, rule domain.EligibilityRule) (*domain.Customer, error) {
	if accrual.SaleID == "" || rule == nil {
		return nil, store.ErrInvalidTransaction
	}
	if accrual.AppliedAt.IsZero() {
		accrual.AppliedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	customer, err := scanCustomer(pgTx.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = $1
		FOR UPDATE
	`, accrual.CustomerID))
	if err != nil {
		return nil, err
	}

	res, err := pgTx.ExecContext(ctx, `
		INSERT INTO loyalty_accruals (sale_id, customer_id, amount, applied_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (sale_id) DO NOTHING
	`, accrual.SaleID, accrual.CustomerID, accrual.Amount, accrual.AppliedAt)
	if err != nil {
		return nil, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if inserted == 0 {
		return nil, store.ErrAlreadyAccrued
	}

	customer.PurchaseCount++
	customer.CumulativeSpend = customer.CumulativeSpend.Add(accrual.Amount)
	customer.Eligible, customer.DiscountPercent = rule(customer.PurchaseCount, customer.CumulativeSpend)

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE customers
		SET purchase_count = $2, cumulative_spend = $3, eligible = $4, discount_percent = $5, updated_at = now()
		WHERE id = $1
	`, customer.ID, customer.PurchaseCount, customer.CumulativeSpend, customer.Eligible, customer.DiscountPercent); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return customer, nil
}

func (s *Store) ListUnaccruedSales(ctx context.Context, createdBefore time.Time, limit int) ([]domain.AccrualJob, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.customer_id, s.total
		FROM sales s
		LEFT JOIN loyalty_accruals a ON a.sale_id = s.id
		LEFT JOIN accrual_failures f ON f.sale_id = s.id
		WHERE s.customer_id IS NOT NULL AND a.sale_id IS NULL AND f.sale_id IS NULL AND s.created_at < $1
		ORDER BY s.created_at, s.id
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]domain.AccrualJob, 0, 16)
	for rows.Next() {
		var job domain.AccrualJob
		if err := rows.Scan(&job.SaleID, &job.CustomerID, &job.Amount); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) RecordAccrualFailure(ctx context.Context, job domain.AccrualJob) error {
	if job.SaleID == "" {
		return store.ErrInvalidTransaction
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accrual_failures (sale_id, customer_id, attempts, last_error, failed_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (sale_id) DO UPDATE
		SET attempts = EXCLUDED.attempts, last_error = EXCLUDED.last_error, failed_at = EXCLUDED.failed_at
	`, job.SaleID, job.CustomerID, job.Attempts, job.LastError)
	return err
}

func (s *Store) NextSequence(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, store.ErrInvalidTransaction
	}
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sequence_counters (key, value)
		VALUES ($1, 1)
		ON CONFLICT (key) DO UPDATE SET value = sequence_counters.value + 1
		RETURNING value
	`, key).Scan(&value)
	return value, err
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, receipt domain.Receipt) error {
	if sale.ID == "" || sale.Number == "" || len(sale.Lines) == 0 {
		return store.ErrInvalidTransaction
	}
	if receipt.ID == "" || receipt.Number == "" || receipt.SaleID != sale.ID {
		return store.ErrInvalidTransaction
	}
	snapshot, err := json.Marshal(receipt.Snapshot)
	if err != nil {
		return err
	}
	internal, err := json.Marshal(receipt.Internal)
	if err != nil {
		return err
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, number, customer_id, operator_username,
			subtotal, discount_percent, discount, tax_rate, tax, total,
			payment_method, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sale.ID, sale.Number, nullIfEmpty(sale.CustomerID), sale.OperatorUsername,
		sale.Subtotal, sale.DiscountPercent, sale.Discount, sale.TaxRate, sale.Tax, sale.Total,
		sale.PaymentMethod, sale.Status, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}

	for _, line := range sale.Lines {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, line_no, product_id, sku, product_name, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sale.ID, line.LineNo, line.ProductID, line.SKU, line.ProductName, line.Quantity, line.UnitPrice); err != nil {
			return err
		}
	}

	if _, err := pgTx.ExecContext(ctx, `
		INSERT INTO receipts (id, number, sale_id, snapshot, internal, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, receipt.ID, receipt.Number, receipt.SaleID, string(snapshot), string(internal), receipt.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}

	return pgTx.Commit()
}

const saleColumns = `id, number, customer_id, operator_username, subtotal, discount_percent, discount,
	tax_rate, tax, total, payment_method, status, created_at, cancelled_at, cancelled_by, cancel_reason`

func scanSale(row interface{ Scan(...any) error }) (*domain.Sale, error) {
	var sale domain.Sale
	var customerID, cancelledBy, cancelReason sql.NullString
	var cancelledAt sql.NullTime
	err := row.Scan(
		&sale.ID,
		&sale.Number,
		&customerID,
		&sale.OperatorUsername,
		&sale.Subtotal,
		&sale.DiscountPercent,
		&sale.Discount,
		&sale.TaxRate,
		&sale.Tax,
		&sale.Total,
		&sale.PaymentMethod,
		&sale.Status,
		&sale.CreatedAt,
		&cancelledAt,
		&cancelledBy,
		&cancelReason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CustomerID = customerID.String
	sale.CancelledBy = cancelledBy.String
	sale.CancelReason = cancelReason.String
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		sale.CancelledAt = &at
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	linesBySale, err := s.loadLines(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Lines = linesBySale[sale.ID]
	return sale, nil
}

func (s *Store) loadLines(ctx context.Context, saleIDs []string) (map[string][]domain.SaleLine, error) {
	result := make(map[string][]domain.SaleLine, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, line_no, product_id, sku, product_name, quantity, unit_price
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.LineNo, &line.ProductID, &line.SKU, &line.ProductName, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, err
		}
		result[saleID] = append(result[saleID], line)
	}
	return result, rows.Err()
}

func (s *Store) FindReceiptBySaleID(ctx context.Context, saleID string) (*domain.Receipt, error) {
	var receipt domain.Receipt
	var snapshot, internal []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, number, sale_id, snapshot, internal, created_at
		FROM receipts
		WHERE sale_id = $1
	`, saleID).Scan(&receipt.ID, &receipt.Number, &receipt.SaleID, &snapshot, &internal, &receipt.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &receipt.Snapshot); err != nil {
		return nil, fmt.Errorf("decode receipt snapshot: %w", err)
	}
	if err := json.Unmarshal(internal, &receipt.Internal); err != nil {
		return nil, fmt.Errorf("decode receipt internal: %w", err)
	}
	receipt.CreatedAt = receipt.CreatedAt.UTC()
	return &receipt, nil
}

func (s *Store) MarkSaleCancelled(ctx context.Context, id string, cancelledBy string, reason string, at time.Time) (*domain.Sale, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET status = 'cancelled', cancelled_at = $2, cancelled_by = $3, cancel_reason = $4
		WHERE id = $1 AND status = 'completed'
	`, id, at, cancelledBy, nullIfEmpty(reason))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.FindSaleByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, store.ErrAlreadyCancelled
	}
	return s.FindSaleByID(ctx, id)
}

func (s *Store) ListCompletedSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE status = 'completed' AND created_at >= $1 AND created_at < $2
		ORDER BY created_at, id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	linesBySale, err := s.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Lines = linesBySale[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) UpsertDailyReport(ctx context.Context, report domain.DailyReport) error {
	if report.Date == "" {
		return store.ErrInvalidTransaction
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_reports (report_date, transaction_count, total_sales, payload, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (report_date)
		DO UPDATE SET
			transaction_count = EXCLUDED.transaction_count,
			total_sales = EXCLUDED.total_sales,
			payload = EXCLUDED.payload,
			updated_at = now()
	`, report.Date, report.TransactionCount, report.TotalSales, string(payload))
	return err
}

func (s *Store) GetDailyReport(ctx context.Context, date string) (*domain.DailyReport, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM daily_reports WHERE report_date = $1
	`, date).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var report domain.DailyReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("decode daily report: %w", err)
	}
	return &report, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, string(entry.ActorRole), entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		var role string
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &role, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.ActorRole = domain.Role(role)
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if !user.Role.Valid() {
		return store.ErrInvalidTransaction
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, string(user.Role), true, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		var role string
		if err := rows.Scan(&user.Username, &user.Password, &role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.Role = domain.Role(role)
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
