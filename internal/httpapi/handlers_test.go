package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store/memory"
	"retailpos/backend/internal/worker"
)

var loginClients atomic.Int32

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Deps{}, service.Config{
		TaxRate:  decimal.RequireFromString("0.10"),
		Location: time.UTC,
	})
	auth := NewAuthManager(context.Background(), "test-secret-key-with-32-bytes!!!", time.Hour, repo)

	return New(svc, auth, "*")
}

// loginAs signs in from a fresh client address so the login limiter never
// trips inside a test.
func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()
	payload, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	n := loginClients.Add(1)
	req.RemoteAddr = fmt.Sprintf("10.20.%d.%d:4000", n/200, n%200+1)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func do(t *testing.T, api *API, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func laptopAndMice(customer string) domain.CreateSaleRequest {
	return domain.CreateSaleRequest{
		CustomerPhoneOrID: customer,
		Items: []domain.SaleItemRequest{
			{ProductID: "prod-laptop", Quantity: 1},
			{ProductID: "prod-mouse", Quantity: 2},
		},
		PaymentMethod: domain.PaymentCard,
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := do(t, api, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeErrorBody(t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestHandleHealthReportsAccrualBacklog(t *testing.T) {
	queue := worker.NewMemoryQueue(4)
	ctx := context.Background()
	require.NoError(t, queue.Enqueue(ctx, domain.AccrualJob{SaleID: "sale-1"}))
	require.NoError(t, queue.DeadLetter(ctx, domain.AccrualJob{SaleID: "sale-0"}, "customer missing"))
	api := newTestAPI(t).WithQueueStats(queue).WithHealthCheck("redis", func(context.Context) error { return nil })

	rec := do(t, api, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		OK           bool              `json:"ok"`
		Checks       map[string]string `json:"checks"`
		AccrualQueue worker.Stats      `json:"accrualQueue"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.OK)
	assert.Equal(t, "ok", body.Checks["redis"])
	assert.Equal(t, worker.Stats{Pending: 1, DeadLettered: 1}, body.AccrualQueue)
}

func TestHandleHealthFailingCheckIsUnavailable(t *testing.T) {
	api := newTestAPI(t).WithHealthCheck("redis", func(context.Context) error {
		return errors.New("dial tcp 127.0.0.1:6379: connection refused")
	})

	rec := do(t, api, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")

	body := decodeErrorBody(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, map[string]any{"redis": "unavailable"}, body["checks"])
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := do(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	require.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
	assert.Equal(t, "Unauthorized", decodeErrorBody(t, rec)["kind"])
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := do(t, api, http.MethodGet, "/api/v1/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, api, http.MethodGet, "/api/v1/products", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := do(t, api, http.MethodGet, "/api/v1/products", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Products []domain.Product `json:"products"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotEmpty(t, body.Products)
}

func TestCreateSaleReturnsTotalsAndReceipt(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := do(t, api, http.MethodPost, "/api/v1/sales", token, laptopAndMice("cust-gold"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp domain.CreateSaleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "2059.97", resp.Sale.Subtotal.StringFixed(2))
	assert.Equal(t, "102.99", resp.Sale.Discount.StringFixed(2))
	assert.Equal(t, "195.70", resp.Sale.Tax.StringFixed(2))
	assert.Equal(t, "2152.68", resp.Sale.Total.StringFixed(2))
	assert.Regexp(t, `^TXN-\d{8}-\d{5}$`, resp.Sale.Number)
	assert.Regexp(t, `^RCP-\d{8}-\d{5}$`, resp.Receipt.Number)
	assert.False(t, resp.AccrualPending)

	rec = do(t, api, http.MethodGet, "/api/v1/sales/"+resp.Sale.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, api, http.MethodGet, "/api/v1/sales/"+resp.Sale.ID+"/receipt?format=pdf", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
}

func TestCreateSaleErrorsCarryKind(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := do(t, api, http.MethodPost, "/api/v1/sales", token, domain.CreateSaleRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "prod-laptop", Quantity: 1000}},
		PaymentMethod: domain.PaymentCash,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, "InsufficientStock", body["kind"])
	assert.Equal(t, "prod-laptop", body["productId"])

	rec = do(t, api, http.MethodPost, "/api/v1/sales", token, domain.CreateSaleRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "prod-laptop", Quantity: 1}},
		PaymentMethod: "bitcoin",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidInput", decodeErrorBody(t, rec)["kind"])

	rec = do(t, api, http.MethodGet, "/api/v1/sales/missing", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", decodeErrorBody(t, rec)["kind"])
}

func TestCancelSaleOwnershipAndConflict(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin", "admin123")
	rec := do(t, api, http.MethodPost, "/api/v1/users/cashiers", admin, domain.CashierCreateRequest{Username: "second", Password: "second123"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	owner := loginAs(t, api, "cashier", "cashier123")
	other := loginAs(t, api, "second", "second123")
	manager := loginAs(t, api, "manager", "manager123")

	rec = do(t, api, http.MethodPost, "/api/v1/sales", owner, laptopAndMice(""))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created domain.CreateSaleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	cancelPath := "/api/v1/sales/" + created.Sale.ID + "/cancel"

	rec = do(t, api, http.MethodPut, cancelPath, other, domain.CancelSaleRequest{Reason: "not mine"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Unauthorized", decodeErrorBody(t, rec)["kind"])

	rec = do(t, api, http.MethodPut, cancelPath, manager, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled struct {
		Sale domain.Sale `json:"sale"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cancelled))
	assert.Equal(t, domain.SaleStatusCancelled, cancelled.Sale.Status)

	rec = do(t, api, http.MethodPut, cancelPath, owner, domain.CancelSaleRequest{Reason: "again"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "AlreadyCancelled", decodeErrorBody(t, rec)["kind"])
}

func TestDailyReportLifecycle(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAs(t, api, "cashier", "cashier123")
	manager := loginAs(t, api, "manager", "manager123")
	today := time.Now().UTC().Format("2006-01-02")

	rec := do(t, api, http.MethodGet, "/api/v1/reports/daily/"+today, manager, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, "NotFound", body["kind"])
	assert.Equal(t, "no report for this date", body["error"])

	rec = do(t, api, http.MethodPost, "/api/v1/sales", cashier, laptopAndMice(""))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, api, http.MethodPost, "/api/v1/reports/daily", cashier, domain.GenerateReportRequest{Date: today})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, api, http.MethodPost, "/api/v1/reports/daily", manager, domain.GenerateReportRequest{Date: today})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := rec.Body.String()

	rec = do(t, api, http.MethodPost, "/api/v1/reports/daily", manager, domain.GenerateReportRequest{Date: today})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first, rec.Body.String())

	var daily domain.DailyReport
	require.NoError(t, json.Unmarshal([]byte(first), &daily))
	assert.Equal(t, 1, daily.TransactionCount)
	assert.Equal(t, "2265.97", daily.TotalSales.StringFixed(2))

	rec = do(t, api, http.MethodGet, "/api/v1/reports/daily/"+today+"?format=csv", manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Body.String(), "summary,total_sales,1,,2265.97")

	rec = do(t, api, http.MethodGet, "/api/v1/reports/daily/"+today+"?format=xlsx", manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = do(t, api, http.MethodGet, "/api/v1/reports/daily/"+today+"?format=doc", manager, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, api, http.MethodPost, "/api/v1/reports/daily", manager, domain.GenerateReportRequest{Date: "19-10-2026"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStockAdjustmentRequiresManager(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAs(t, api, "cashier", "cashier123")
	manager := loginAs(t, api, "manager", "manager123")
	adjustment := domain.StockAdjustmentRequest{Delta: 5, Reason: "delivery"}

	rec := do(t, api, http.MethodPost, "/api/v1/products/prod-cable/stock-adjustments", cashier, adjustment)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, api, http.MethodPost, "/api/v1/products/prod-cable/stock-adjustments", manager, adjustment)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Product domain.Product `json:"product"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 505, body.Product.StockOnHand)

	rec = do(t, api, http.MethodGet, "/api/v1/audit-logs", manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "prod-cable")
}

func TestCustomerEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := do(t, api, http.MethodPost, "/api/v1/customers", token, domain.CustomerCreateRequest{Name: "Dewi", Phone: "0812999888"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, api, http.MethodGet, "/api/v1/customers/0812999888", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Dewi")

	rec = do(t, api, http.MethodGet, "/api/v1/customers/nobody", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCashierManagementIsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAs(t, api, "manager", "manager123")
	admin := loginAs(t, api, "admin", "admin123")

	rec := do(t, api, http.MethodGet, "/api/v1/users/cashiers", manager, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, api, http.MethodGet, "/api/v1/users/cashiers", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"cashier"`)

	rec = do(t, api, http.MethodPost, "/api/v1/users/cashiers", admin, domain.CashierCreateRequest{Username: "ab", Password: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	api := newTestAPI(t)

	rec := do(t, api, http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, api, http.MethodDelete, "/healthz", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "method not allowed"))
}
