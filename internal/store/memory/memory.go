package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type reservation struct {
	lines    []domain.StockLine
	released bool
}

type Store struct {
	mu                sync.RWMutex
	products          map[string]domain.Product
	productIDBySKU    map[string]string
	adjustments       []domain.StockAdjustment
	reservations      map[string]*reservation
	customers         map[string]domain.Customer
	customerIDByPhone map[string]string
	accruals          map[string]domain.LoyaltyAccrual
	failedAccruals    map[string]domain.AccrualJob
	sequences         map[string]int64
	salesByID         map[string]*domain.Sale
	saleIDByNumber    map[string]string
	receiptsBySaleID  map[string]domain.Receipt
	receiptNumbers    map[string]struct{}
	reports           map[string]domain.DailyReport
	auditLogs         []domain.AuditLog
	usersByUsername   map[string]domain.UserAccount
}

// New returns an empty store with no users or catalog.
func New() *Store {
	return &Store{
		products:          make(map[string]domain.Product),
		productIDBySKU:    make(map[string]string),
		adjustments:       make([]domain.StockAdjustment, 0, 16),
		reservations:      make(map[string]*reservation),
		customers:         make(map[string]domain.Customer),
		customerIDByPhone: make(map[string]string),
		accruals:          make(map[string]domain.LoyaltyAccrual),
		failedAccruals:    make(map[string]domain.AccrualJob),
		sequences:         make(map[string]int64),
		salesByID:         make(map[string]*domain.Sale),
		saleIDByNumber:    make(map[string]string),
		receiptsBySaleID:  make(map[string]domain.Receipt),
		receiptNumbers:    make(map[string]struct{}),
		reports:           make(map[string]domain.DailyReport),
		auditLogs:         make([]domain.AuditLog, 0, 128),
		usersByUsername:   make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from SEED_*_PASSWORD
// and fall back to fixed dev values with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Msg("memory store: using default dev credentials, set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     domain.Role
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"manager", managerPwd, domain.RoleManager},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("memory store: failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	products := []domain.Product{
		{ID: "prod-laptop", SKU: "SKU-LAPTOP-01", Name: "Laptop Pro 14", Price: decimal.RequireFromString("1999.99"), StockOnHand: 25, ReorderThreshold: 5},
		{ID: "prod-mouse", SKU: "SKU-MOUSE-01", Name: "Wireless Mouse", Price: decimal.RequireFromString("29.99"), StockOnHand: 200, ReorderThreshold: 20},
		{ID: "prod-keyboard", SKU: "SKU-KEYB-01", Name: "Mechanical Keyboard", Price: decimal.RequireFromString("89.50"), StockOnHand: 80, ReorderThreshold: 10},
		{ID: "prod-monitor", SKU: "SKU-MON-27", Name: "27in Monitor", Price: decimal.RequireFromString("349.00"), StockOnHand: 30, ReorderThreshold: 5},
		{ID: "prod-cable", SKU: "SKU-USBC-01", Name: "USB-C Cable", Price: decimal.RequireFromString("12.99"), StockOnHand: 500, ReorderThreshold: 50},
		{ID: "prod-headset", SKU: "SKU-HEAD-01", Name: "Headset", Price: decimal.RequireFromString("149.95"), StockOnHand: 40, ReorderThreshold: 8},
	}
	for _, p := range products {
		p.Active = true
		s.products[p.ID] = p
		s.productIDBySKU[p.SKU] = p.ID
	}

	now := time.Now().UTC()
	customers := []domain.Customer{
		{ID: "cust-regular", Name: "Dana Putri", Phone: "0811000001", PurchaseCount: 9, CumulativeSpend: decimal.RequireFromString("500.00"), DiscountPercent: decimal.Zero},
		{ID: "cust-gold", Name: "Rafi Hakim", Phone: "0811000002", PurchaseCount: 25, CumulativeSpend: decimal.RequireFromString("4200.00"), Eligible: true, DiscountPercent: decimal.NewFromInt(5)},
	}
	for _, c := range customers {
		c.CreatedAt = now
		s.customers[c.ID] = c
		s.customerIDByPhone[c.Phone] = c.ID
	}

	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name == b.Name {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.Name, b.Name)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || !product.Price.IsPositive() || product.StockOnHand < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	if _, exists := s.productIDBySKU[product.SKU]; exists {
		return nil, store.ErrConflict
	}

	product.Active = true
	s.products[product.ID] = product
	s.productIDBySKU[product.SKU] = product.ID
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) ReserveStock(_ context.Context, saleID string, lines []domain.StockLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if saleID == "" || len(lines) == 0 {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.reservations[saleID]; exists {
		return store.ErrConflict
	}

	merged, err := store.MergeLines(lines)
	if err != nil {
		return err
	}
	for _, line := range merged {
		product, exists := s.products[line.ProductID]
		if !exists || !product.Active {
			return fmt.Errorf("product %s: %w", line.ProductID, store.ErrNotFound)
		}
		if product.StockOnHand < line.Quantity {
			return &store.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: product.StockOnHand,
			}
		}
	}

	for _, line := range merged {
		product := s.products[line.ProductID]
		product.StockOnHand -= line.Quantity
		s.products[line.ProductID] = product
	}
	s.reservations[saleID] = &reservation{lines: merged}
	return nil
}

func (s *Store) ReleaseStock(_ context.Context, saleID string) ([]domain.StockLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, exists := s.reservations[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if res.released {
		return nil, store.ErrAlreadyReleased
	}

	for _, line := range res.lines {
		product, ok := s.products[line.ProductID]
		if !ok {
			continue
		}
		product.StockOnHand += line.Quantity
		s.products[line.ProductID] = product
	}
	res.released = true
	return slices.Clone(res.lines), nil
}

func (s *Store) AdjustStock(_ context.Context, adjustment domain.StockAdjustment) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if adjustment.Delta == 0 || strings.TrimSpace(adjustment.Reason) == "" {
		return nil, store.ErrInvalidTransaction
	}
	product, exists := s.products[adjustment.ProductID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.StockOnHand+adjustment.Delta < 0 {
		return nil, &store.InsufficientStockError{
			ProductID: product.ID,
			Requested: -adjustment.Delta,
			Available: product.StockOnHand,
		}
	}

	product.StockOnHand += adjustment.Delta
	s.products[product.ID] = product

	if adjustment.ID == "" {
		adjustment.ID = xid.New("adj")
	}
	if adjustment.CreatedAt.IsZero() {
		adjustment.CreatedAt = time.Now().UTC()
	}
	s.adjustments = append(s.adjustments, adjustment)

	updated := product
	return &updated, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer.Name = strings.TrimSpace(customer.Name)
	customer.Phone = strings.TrimSpace(customer.Phone)
	if customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.customerIDByPhone[customer.Phone]; exists {
		return nil, store.ErrConflict
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrConflict
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	s.customers[customer.ID] = customer
	s.customerIDByPhone[customer.Phone] = customer.ID
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) FindCustomerByPhone(_ context.Context, phone string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.customerIDByPhone[strings.TrimSpace(phone)]
	if !exists {
		return nil, store.ErrNotFound
	}
	customer := s.customers[id]
	return &customer, nil
}

func (s *Store) ApplyAccrual(_ context.Context, accrual domain.LoyaltyAccrual, rule domain.EligibilityRule) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if accrual.SaleID == "" || rule == nil {
		return nil, store.ErrInvalidTransaction
	}
	if _, done := s.accruals[accrual.SaleID]; done {
		return nil, store.ErrAlreadyAccrued
	}
	customer, exists := s.customers[accrual.CustomerID]
	if !exists {
		return nil, store.ErrNotFound
	}

	customer.PurchaseCount++
	customer.CumulativeSpend = customer.CumulativeSpend.Add(accrual.Amount)
	customer.Eligible, customer.DiscountPercent = rule(customer.PurchaseCount, customer.CumulativeSpend)
	s.customers[customer.ID] = customer

	if accrual.AppliedAt.IsZero() {
		accrual.AppliedAt = time.Now().UTC()
	}
	s.accruals[accrual.SaleID] = accrual

	updated := customer
	return &updated, nil
}

func (s *Store) ListUnaccruedSales(_ context.Context, createdBefore time.Time, limit int) ([]domain.AccrualJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]*domain.Sale, 0, 8)
	for _, sale := range s.salesByID {
		if sale.CustomerID == "" || !sale.CreatedAt.Before(createdBefore) {
			continue
		}
		if _, done := s.accruals[sale.ID]; done {
			continue
		}
		if _, failed := s.failedAccruals[sale.ID]; failed {
			continue
		}
		pending = append(pending, sale)
	}
	slices.SortFunc(pending, compareSale)
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	jobs := make([]domain.AccrualJob, 0, len(pending))
	for _, sale := range pending {
		jobs = append(jobs, domain.AccrualJob{
			SaleID:     sale.ID,
			CustomerID: sale.CustomerID,
			Amount:     sale.Total,
		})
	}
	return jobs, nil
}

func (s *Store) RecordAccrualFailure(_ context.Context, job domain.AccrualJob) error {
	if job.SaleID == "" {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedAccruals[job.SaleID] = job
	return nil
}

func (s *Store) NextSequence(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key == "" {
		return 0, store.ErrInvalidTransaction
	}
	s.sequences[key]++
	return s.sequences[key], nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale, receipt domain.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" || sale.Number == "" || len(sale.Lines) == 0 {
		return store.ErrInvalidTransaction
	}
	if receipt.ID == "" || receipt.Number == "" || receipt.SaleID != sale.ID {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return store.ErrConflict
	}
	if _, exists := s.saleIDByNumber[sale.Number]; exists {
		return store.ErrConflict
	}
	if _, exists := s.receiptNumbers[receipt.Number]; exists {
		return store.ErrConflict
	}

	s.salesByID[sale.ID] = cloneSale(&sale)
	s.saleIDByNumber[sale.Number] = sale.ID
	s.receiptsBySaleID[sale.ID] = cloneReceipt(receipt)
	s.receiptNumbers[receipt.Number] = struct{}{}
	return nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindReceiptBySaleID(_ context.Context, saleID string) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, exists := s.receiptsBySaleID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneReceipt(receipt)
	return &dup, nil
}

func (s *Store) MarkSaleCancelled(_ context.Context, id string, cancelledBy string, reason string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusCompleted {
		return nil, store.ErrAlreadyCancelled
	}

	sale.Status = domain.SaleStatusCancelled
	sale.CancelledAt = &at
	sale.CancelledBy = cancelledBy
	sale.CancelReason = reason
	return cloneSale(sale), nil
}

func (s *Store) ListCompletedSales(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if sale.Status != domain.SaleStatusCompleted {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		matched = append(matched, sale)
	}
	slices.SortFunc(matched, compareSale)

	result := make([]domain.Sale, 0, len(matched))
	for _, sale := range matched {
		result = append(result, *cloneSale(sale))
	}
	return result, nil
}

func (s *Store) UpsertDailyReport(_ context.Context, report domain.DailyReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if report.Date == "" {
		return store.ErrInvalidTransaction
	}
	s.reports[report.Date] = cloneReport(report)
	return nil
}

func (s *Store) GetDailyReport(_ context.Context, date string) (*domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, exists := s.reports[date]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneReport(report)
	return &dup, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if !user.Role.Valid() {
		return store.ErrInvalidTransaction
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func compareSale(a, b *domain.Sale) int {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return cmpString(a.ID, b.ID)
	}
	if a.CreatedAt.Before(b.CreatedAt) {
		return -1
	}
	return 1
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Lines = slices.Clone(src.Lines)
	if src.CancelledAt != nil {
		at := *src.CancelledAt
		dup.CancelledAt = &at
	}
	return &dup
}

func cloneReceipt(src domain.Receipt) domain.Receipt {
	dup := src
	dup.Snapshot.Items = slices.Clone(src.Snapshot.Items)
	dup.Internal.ProductIDs = slices.Clone(src.Internal.ProductIDs)
	return dup
}

func cloneReport(src domain.DailyReport) domain.DailyReport {
	dup := src
	dup.ByPayment = slices.Clone(src.ByPayment)
	dup.TopProducts = slices.Clone(src.TopProducts)
	return dup
}
