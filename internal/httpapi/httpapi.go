package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/service"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	paymentLimit  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		paymentLimit:  newAttemptLimiter(30, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour).
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts tokens from the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
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

var (
	shoppers = []string{domain.RoleCustomer, domain.RoleAdmin}
	counter  = []string{domain.RoleCashier, domain.RoleAdmin}
	admins   = []string{domain.RoleAdmin}
)

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(a.securityHeaders, a.requestLog)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(a.csrf)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Post("/auth/register", a.handleRegister)
		r.Get("/auth/csrf-token", a.handleCSRFToken)
		r.Post("/payments/confirm", a.handlePaymentConfirm)

		r.Group(func(r chi.Router) {
			r.Use(a.identify)
			r.Get("/products", a.handleListProducts)
			r.Get("/products/{productID}", a.handleGetProduct)
			r.Get("/products/{productID}/stock", a.handleGetStock)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(shoppers...))
			r.Post("/carts/items", a.handleCartAdd)
			r.Get("/carts/{cartID}", a.handleCartGet)
			r.Post("/carts/{cartID}/items", a.handleCartAdd)
			r.Patch("/carts/{cartID}/items", a.handleCartQuantity)
			r.Delete("/carts/{cartID}/items", a.handleCartRemove)
			r.Post("/checkout/quote", a.handleCheckoutQuote)
			r.Post("/checkout", a.handleCheckout)
			r.Post("/payments/{intentID}/cancel", a.handlePaymentCancel)
			r.Get("/orders/{orderNumber}", a.handleGetOrder)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(counter...))
			r.Post("/sales/quote", a.handleSaleQuote)
			r.Post("/sales", a.handleSale)
			r.Get("/bills/{billNumber}", a.handleGetBill)
			r.Get("/bills/{billNumber}/receipt", a.handleBillReceipt)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(admins...))
			r.Post("/products", a.handleCreateProduct)
			r.Post("/inventory/restock", a.handleRestock)
			r.Get("/inventory/discrepancies", a.handleDiscrepancies)
			r.Patch("/orders/{orderNumber}/status", a.handleOrderStatus)
			r.Get("/audit-logs", a.handleAuditLogs)
			r.Get("/suppliers", a.handleListSuppliers)
			r.Post("/suppliers", a.handleCreateSupplier)
			r.Get("/purchase-orders", a.handleListPurchaseOrders)
			r.Post("/purchase-orders", a.handleCreatePurchaseOrder)
			r.Get("/purchase-orders/{purchaseOrderID}", a.handleGetPurchaseOrder)
			r.Patch("/purchase-orders/{purchaseOrderID}/status", a.handlePurchaseOrderStatus)
			r.Post("/purchase-orders/{purchaseOrderID}/receive", a.handleReceivePurchaseOrder)
			r.Get("/users/cashiers", a.handleListCashiers)
			r.Post("/users/cashiers", a.handleCreateCashier)
		})
	})

	return r
}

func (a *API) bearerActor(r *http.Request) (domain.Actor, bool, error) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if authorization == "" {
		return domain.Actor{}, false, nil
	}
	if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return domain.Actor{}, false, errors.New("missing bearer token")
	}
	actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
	if err != nil {
		return domain.Actor{}, false, err
	}
	return actor, true, nil
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok, err := a.bearerActor(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			if !ok {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

// identify attaches the caller when a token is sent. Anonymous requests pass.
func (a *API) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok, err := a.bearerActor(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if ok {
			r = r.WithContext(service.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many attempts"))
		return
	}

	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := a.auth.RegisterCustomer(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPaths are called without a prior token fetch. The payment
// confirmation carries its own gateway signature.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
	"/api/v1/payments/confirm",
}

func (a *API) csrf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}
		for _, exempt := range csrfExemptPaths {
			if r.URL.Path == exempt {
				next.ServeHTTP(w, r)
				return
			}
		}
		if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
			writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) &&
			strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		log.Printf("[http] %s %s %d %s req=%s", r.Method, r.URL.Path, ww.Status(), time.Since(startedAt), middleware.GetReqID(r.Context()))
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
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

// writeError hides the message of 5xx responses; 4xx messages are user-facing.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		log.Printf("[http] ERROR: status=%d: %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
