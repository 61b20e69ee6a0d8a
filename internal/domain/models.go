package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SaleStatusCompleted = "completed"
	SaleStatusCancelled = "cancelled"
)

const (
	PaymentCash  = "cash"
	PaymentCard  = "card"
	PaymentCheck = "check"
)

var PaymentMethods = []string{PaymentCash, PaymentCard, PaymentCheck}

const DateLayout = "2006-01-02"

type Product struct {
	ID               string          `json:"id"`
	SKU              string          `json:"sku"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	StockOnHand      int             `json:"stockOnHand"`
	ReorderThreshold int             `json:"reorderThreshold"`
	Active           bool            `json:"active"`
}

// StockLine is one product quantity held by a reservation.
type StockLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type StockAdjustment struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"productId"`
	Delta      int       `json:"delta"`
	Reason     string    `json:"reason"`
	AdjustedBy string    `json:"adjustedBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

type StockAdjustmentRequest struct {
	Delta  int    `json:"delta" validate:"ne=0,min=-100000,max=100000"`
	Reason string `json:"reason" validate:"required,max=200"`
}

type Customer struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Phone           string          `json:"phone"`
	CumulativeSpend decimal.Decimal `json:"cumulativeSpend"`
	PurchaseCount   int             `json:"purchaseCount"`
	Eligible        bool            `json:"eligible"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	CreatedAt       time.Time       `json:"createdAt"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone" validate:"required,min=6,max=20"`
}

// EligibilityRule derives loyalty state from a customer's running totals.
type EligibilityRule func(purchaseCount int, cumulativeSpend decimal.Decimal) (eligible bool, discountPercent decimal.Decimal)

type LoyaltyAccrual struct {
	SaleID     string          `json:"saleId"`
	CustomerID string          `json:"customerId"`
	Amount     decimal.Decimal `json:"amount"`
	AppliedAt  time.Time       `json:"appliedAt"`
}

// AccrualJob is a loyalty accrual waiting to be applied by the retry worker.
type AccrualJob struct {
	SaleID     string          `json:"saleId"`
	CustomerID string          `json:"customerId"`
	Amount     decimal.Decimal `json:"amount"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"lastError,omitempty"`
}

type SaleLine struct {
	LineNo      int             `json:"lineNo"`
	ProductID   string          `json:"productId"`
	SKU         string          `json:"sku"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

func (l SaleLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Sale struct {
	ID               string          `json:"id"`
	Number           string          `json:"number"`
	CustomerID       string          `json:"customerId,omitempty"`
	OperatorUsername string          `json:"operatorUsername"`
	Lines            []SaleLine      `json:"lines"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	DiscountPercent  decimal.Decimal `json:"discountPercent"`
	Discount         decimal.Decimal `json:"discount"`
	TaxRate          decimal.Decimal `json:"taxRate"`
	Tax              decimal.Decimal `json:"tax"`
	Total            decimal.Decimal `json:"total"`
	PaymentMethod    string          `json:"paymentMethod"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"createdAt"`
	CancelledAt      *time.Time      `json:"cancelledAt,omitempty"`
	CancelledBy      string          `json:"cancelledBy,omitempty"`
	CancelReason     string          `json:"cancelReason,omitempty"`
}

type ReceiptItem struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// ReceiptSnapshot is what the customer sees on the printed receipt.
type ReceiptSnapshot struct {
	ReceiptNumber   string          `json:"receiptNumber"`
	SaleNumber      string          `json:"saleNumber"`
	CustomerName    string          `json:"customerName,omitempty"`
	CustomerPhone   string          `json:"customerPhone,omitempty"`
	Items           []ReceiptItem   `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	Discount        decimal.Decimal `json:"discount"`
	TaxRate         decimal.Decimal `json:"taxRate"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   string          `json:"paymentMethod"`
	IssuedAt        time.Time       `json:"issuedAt"`
}

// ReceiptInternal carries operator and linkage data kept off the printed copy.
type ReceiptInternal struct {
	SaleID           string   `json:"saleId"`
	OperatorUsername string   `json:"operatorUsername"`
	OperatorRole     Role     `json:"operatorRole"`
	CustomerID       string   `json:"customerId,omitempty"`
	ProductIDs       []string `json:"productIds"`
	LoyaltyEligible  bool     `json:"loyaltyEligible"`
}

type Receipt struct {
	ID        string          `json:"id"`
	Number    string          `json:"number"`
	SaleID    string          `json:"saleId"`
	Snapshot  ReceiptSnapshot `json:"snapshot"`
	Internal  ReceiptInternal `json:"internal"`
	CreatedAt time.Time       `json:"createdAt"`
}

type SaleItemRequest struct {
	ProductID string           `json:"productId" validate:"required"`
	Quantity  int              `json:"quantity" validate:"gt=0,lte=100000"`
	UnitPrice *decimal.Decimal `json:"unitPrice,omitempty"`
}

type CreateSaleRequest struct {
	CustomerPhoneOrID string            `json:"customerPhoneOrId,omitempty"`
	Items             []SaleItemRequest `json:"items" validate:"required,min=1,max=500,dive"`
	PaymentMethod     string            `json:"paymentMethod" validate:"required,oneof=cash card check"`
}

type CreateSaleResponse struct {
	Sale           Sale      `json:"sale"`
	Receipt        Receipt   `json:"receipt"`
	AccrualPending bool      `json:"accrualPending"`
	Customer       *Customer `json:"customer,omitempty"`
}

type CancelSaleRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=200"`
}

type PaymentSummary struct {
	PaymentMethod string          `json:"paymentMethod"`
	Transactions  int             `json:"transactions"`
	Total         decimal.Decimal `json:"total"`
}

type ProductSummary struct {
	ProductID string          `json:"productId"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitsSold int             `json:"unitsSold"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// DailyReport holds no wall-clock fields so regenerating over unchanged
// sales produces the same bytes.
type DailyReport struct {
	Date             string           `json:"date"`
	Timezone         string           `json:"timezone"`
	TransactionCount int              `json:"transactionCount"`
	GrossSubtotal    decimal.Decimal  `json:"grossSubtotal"`
	TotalDiscount    decimal.Decimal  `json:"totalDiscount"`
	TotalTax         decimal.Decimal  `json:"totalTax"`
	TotalSales       decimal.Decimal  `json:"totalSales"`
	ByPayment        []PaymentSummary `json:"byPayment"`
	TopProducts      []ProductSummary `json:"topProducts"`
}

type GenerateReportRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        Role   `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

type Actor struct {
	Username string
	Role     Role
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actorUsername"`
	ActorRole     Role      `json:"actorRole"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entityType"`
	EntityID      string    `json:"entityId"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"createdAt"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      Role
	Active    bool
	CreatedAt time.Time
}
