package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/service"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	assert.Less(t, res.Code, 300)
	assert.Equal(t, "*", res.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, res.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}

	// A different client still gets through.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.2:5000"
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestClientLimiterDropsIdleClients(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	l := newClientLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow(fmt.Sprintf("10.0.%d.%d", i/250, i%250+1)))
	}
	assert.True(t, l.Allow("10.9.9.9"))
	assert.True(t, l.Allow("10.9.9.9"))
	assert.False(t, l.Allow("10.9.9.9"))
	assert.Equal(t, 101, l.size())

	now = now.Add(time.Minute)
	assert.True(t, l.Allow("10.9.9.9"))
	assert.Equal(t, 1, l.size())

	now = now.Add(10 * time.Second)
	assert.True(t, l.Allow("10.9.9.9"))
	assert.False(t, l.Allow("10.9.9.9"))
	assert.Equal(t, 1, l.size())
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestUnknownJSONFieldsRejected(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", strings.NewReader(`{"items":[],"paymentMethod":"cash","storeId":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "InvalidInput", decodeErrorBody(t, res)["kind"])
}

func TestServerErrorsAreMasked(t *testing.T) {
	res := httptest.NewRecorder()
	writeServiceError(res, &service.Error{
		Kind:    service.KindPersistenceFailure,
		Message: "failed to save sale",
		Err:     errors.New("pq: connection refused at 10.0.0.5"),
	})

	require.Equal(t, http.StatusInternalServerError, res.Code)
	body := decodeErrorBody(t, res)
	assert.Equal(t, "internal server error", body["error"])
	assert.Equal(t, "PersistenceFailure", body["kind"])
}

func TestStatusForKind(t *testing.T) {
	cases := map[service.Kind]int{
		service.KindInvalidInput:       http.StatusBadRequest,
		service.KindInsufficientStock:  http.StatusBadRequest,
		service.KindNotFound:           http.StatusNotFound,
		service.KindAlreadyCancelled:   http.StatusConflict,
		service.KindUnauthorized:       http.StatusForbidden,
		service.KindPersistenceFailure: http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusForKind(kind), string(kind))
	}
}
