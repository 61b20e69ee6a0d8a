package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/report"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/worker"
)

const (
	maxJSONBody   = 1 << 20
	healthTimeout = 2 * time.Second
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *clientLimiter

	checks map[string]HealthCheck
	queue  QueueStats
}

// HealthCheck reports whether a backing dependency answers.
type HealthCheck func(ctx context.Context) error

// QueueStats exposes the accrual backlog on /healthz.
type QueueStats interface {
	Stats(ctx context.Context) (worker.Stats, error)
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	if strings.TrimSpace(allowedOrigin) == "" {
		allowedOrigin = "*"
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newClientLimiter(5, time.Minute),
		checks:        make(map[string]HealthCheck),
	}
}

func (a *API) WithHealthCheck(name string, check HealthCheck) *API {
	a.checks[name] = check
	return a
}

func (a *API) WithQueueStats(queue QueueStats) *API {
	a.queue = queue
	return a
}

// clientLimiter hands out one token bucket per client address. A bucket
// left alone for a whole window is full again, so it is dropped.
type clientLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastPrune time.Time
	clients   map[string]*limitedClient
}

type limitedClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(max int, window time.Duration) *clientLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &clientLimiter{
		limit:   rate.Every(window / time.Duration(max)),
		burst:   max,
		idle:    window,
		now:     time.Now,
		clients: make(map[string]*limitedClient),
	}
}

func (l *clientLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) >= l.idle {
		l.prune(now)
	}
	client, ok := l.clients[key]
	if !ok {
		client = &limitedClient{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = client
	}
	client.lastSeen = now
	return client.limiter.AllowN(now, 1)
}

func (l *clientLimiter) prune(now time.Time) {
	for key, client := range l.clients {
		if now.Sub(client.lastSeen) >= l.idle {
			delete(l.clients, key)
		}
	}
	l.lastPrune = now
}

func (l *clientLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(securityHeaders)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, service.KindNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.With(a.requireAuth(domain.CapSell)).Get("/products", a.handleListProducts)
		r.With(a.requireAuth(domain.CapAdjustStock)).Post("/products/{id}/stock-adjustments", a.handleAdjustStock)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.CapSell))
			r.Post("/customers", a.handleCreateCustomer)
			r.Get("/customers/{ref}", a.handleGetCustomer)

			r.Post("/sales", a.handleCreateSale)
			r.Get("/sales/{id}", a.handleGetSale)
			r.Put("/sales/{id}/cancel", a.handleCancelSale)
			r.Get("/sales/{id}/receipt", a.handleGetReceipt)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.CapReports))
			r.Post("/reports/daily", a.handleGenerateReport)
			r.Get("/reports/daily/{date}", a.handleGetReport)
		})

		r.With(a.requireAuth(domain.CapViewAudit)).Get("/audit-logs", a.handleAuditLogs)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.CapManageUsers))
			r.Get("/users/cashiers", a.handleListCashiers)
			r.Post("/users/cashiers", a.handleCreateCashier)
		})
	})

	return r
}

func (a *API) requireAuth(capability domain.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, service.KindUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, service.KindUnauthorized, err)
				return
			}

			if !actor.Role.Can(capability) {
				writeError(w, http.StatusForbidden, service.KindUnauthorized, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	ok := true
	body := map[string]any{"at": time.Now().UTC().Format(time.RFC3339)}
	if len(a.checks) > 0 {
		results := make(map[string]string, len(a.checks))
		for name, check := range a.checks {
			if err := check(ctx); err != nil {
				log.Warn().Err(err).Str("check", name).Msg("health check failed")
				results[name] = "unavailable"
				ok = false
				continue
			}
			results[name] = "ok"
		}
		body["checks"] = results
	}
	if a.queue != nil {
		stats, err := a.queue.Stats(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("accrual queue stats unavailable")
			ok = false
		} else {
			body["accrualQueue"] = stats
		}
	}
	body["ok"] = ok

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, service.KindUnauthorized, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, service.KindInvalidInput, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, service.KindUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, service.KindInvalidInput, err)
		return
	}

	product, err := a.service.AdjustStock(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, service.KindInvalidInput, err)
		return
	}

	customer, err := a.service.CreateCustomer(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := a.service.FindCustomer(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, service.KindInvalidInput, err)
		return
	}

	resp, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelSaleRequest
	// The reason is optional, so an empty body is accepted.
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, service.KindInvalidInput, err)
		return
	}

	sale, err := a.service.CancelSale(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := a.service.GetReceipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	switch exportFormat(r) {
	case "pdf":
		var buf bytes.Buffer
		if err := report.WriteReceiptPDF(&buf, *receipt, a.service.Location()); err != nil {
			writeError(w, http.StatusInternalServerError, service.KindPersistenceFailure, err)
			return
		}
		writeAttachment(w, "application/pdf", fmt.Sprintf("receipt-%s.pdf", receipt.Number), buf.Bytes())
	case "":
		writeJSON(w, http.StatusOK, map[string]any{"receipt": receipt})
	default:
		writeError(w, http.StatusBadRequest, service.KindInvalidInput, errors.New("format must be pdf"))
	}
}

func (a *API) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerateReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, service.KindInvalidInput, err)
		return
	}

	daily, err := a.service.GenerateDailyReport(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, daily)
}

func (a *API) handleGetReport(w http.ResponseWriter, r *http.Request) {
	daily, err := a.service.GetDailyReport(r.Context(), chi.URLParam(r, "date"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var buf bytes.Buffer
	switch exportFormat(r) {
	case "csv":
		if err := report.WriteCSV(&buf, *daily); err != nil {
			writeError(w, http.StatusInternalServerError, service.KindPersistenceFailure, err)
			return
		}
		writeAttachment(w, "text/csv; charset=utf-8", fmt.Sprintf("daily-report-%s.csv", daily.Date), buf.Bytes())
	case "xlsx":
		if err := report.WriteXLSX(&buf, *daily); err != nil {
			writeError(w, http.StatusInternalServerError, service.KindPersistenceFailure, err)
			return
		}
		writeAttachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", fmt.Sprintf("daily-report-%s.xlsx", daily.Date), buf.Bytes())
	case "", "json":
		writeJSON(w, http.StatusOK, daily)
	default:
		writeError(w, http.StatusBadRequest, service.KindInvalidInput, errors.New("format must be csv or xlsx"))
	}
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, service.KindInvalidInput, err)
		return
	}

	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, service.KindInvalidInput, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(startedAt)).
			Msg("http request")
	})
}

func exportFormat(r *http.Request) string {
	return strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func statusForKind(kind service.Kind) int {
	switch kind {
	case service.KindInvalidInput, service.KindInsufficientStock:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindAlreadyCancelled:
		return http.StatusConflict
	case service.KindUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	kind := service.KindOf(err)
	status := statusForKind(kind)

	var svcErr *service.Error
	if errors.As(err, &svcErr) && status < 500 {
		body := map[string]any{"error": svcErr.Message, "kind": kind}
		if svcErr.ProductID != "" {
			body["productId"] = svcErr.ProductID
		}
		writeJSON(w, status, body)
		return
	}
	writeError(w, status, kind, err)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, service.KindInvalidInput, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, kind service.Kind, err error) {
	// 5xx bodies stay generic; the cause goes to the log.
	msg := err.Error()
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Str("kind", string(kind)).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
		"kind":  kind,
	})
}

func writeAttachment(w http.ResponseWriter, contentType string, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
