package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"storefront/backend/internal/cache"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/notify"
	"storefront/backend/internal/payment"
	"storefront/backend/internal/service"
	"storefront/backend/internal/store"
	"storefront/backend/internal/store/memory"
)

const testGatewaySecret = "test-gateway-secret-0123456789abcdef"

// newTestAPI builds a full API with an in-memory store and cache, a real
// AuthManager and a real Service so handler tests exercise the complete
// request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	return newTestAPIWithRepo(t, memory.NewSeeded())
}

func newTestAPIWithRepo(t *testing.T, repo store.Repository) *API {
	t.Helper()

	gw, err := payment.NewHMACGateway(testGatewaySecret)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	queue := notify.NewQueue(64)
	t.Cleanup(queue.Close)
	svc := service.New(repo, cache.NewMemory(), gw, notify.NewNotifier(queue, "test"), service.Options{StoreName: "test-store"})
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("login %s failed, status %d", username, res.Code)
	}
	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	return payload.AccessToken
}

// send issues a JSON request with the bearer token and a fresh CSRF token.
func send(t *testing.T, api *API, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, res.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleRegisterThenLogin(t *testing.T) {
	api := newTestAPI(t)

	res := send(t, api, http.MethodPost, "/api/v1/auth/register", "", domain.CashierCreateRequest{Username: "newbuyer", Password: "pass1234"})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	if token := loginAs(t, api, "newbuyer", "pass1234"); token == "" {
		t.Fatalf("expected token for registered customer")
	}
}

func TestHandleProducts_AnonymousSeesActiveOnly(t *testing.T) {
	api := newTestAPI(t)

	anon := send(t, api, http.MethodGet, "/api/v1/products", "", nil)
	if anon.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", anon.Code)
	}
	var anonBody struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, anon, &anonBody)

	admin := send(t, api, http.MethodGet, "/api/v1/products", loginAs(t, api, "admin", "admin123"), nil)
	var adminBody struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, admin, &adminBody)

	if len(adminBody.Products) != len(anonBody.Products)+1 {
		t.Fatalf("expected admin to see one hidden product, anon=%d admin=%d", len(anonBody.Products), len(adminBody.Products))
	}
	for _, product := range anonBody.Products {
		if product.Lifecycle != domain.ProductActive {
			t.Fatalf("anonymous caller saw %s product %s", product.Lifecycle, product.ID)
		}
	}
}

func TestHandleProducts_InvalidTokenRejected(t *testing.T) {
	api := newTestAPI(t)

	res := send(t, api, http.MethodGet, "/api/v1/products", "garbage", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", res.Code)
	}
}

func TestCartRoutesRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	res := send(t, api, http.MethodPost, "/api/v1/carts/items", "", domain.CartAddRequest{ProductID: "prd-tee", Size: "M"})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestCheckoutCODOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "customer", "customer123")

	res := send(t, api, http.MethodPost, "/api/v1/checkout", token, domain.CheckoutRequest{
		IdempotencyKey: "http-cod-1",
		Item:           &domain.DirectItem{ProductID: "prd-tee", Size: "M", Quantity: 2},
		Shipping:       testShipping(),
		PaymentMethod:  domain.PaymentCOD,
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	var created domain.CheckoutResponse
	decodeBody(t, res, &created)
	if created.OrderNumber == "" || created.Status != string(domain.OrderPending) {
		t.Fatalf("unexpected checkout response %+v", created)
	}

	order := send(t, api, http.MethodGet, "/api/v1/orders/"+created.OrderNumber, token, nil)
	if order.Code != http.StatusOK {
		t.Fatalf("expected order lookup 200, got %d", order.Code)
	}

	stock := send(t, api, http.MethodGet, "/api/v1/products/prd-tee/stock?size=m", "", nil)
	var level domain.StockResponse
	decodeBody(t, stock, &level)
	if level.Quantity != 8 {
		t.Fatalf("expected 8 left in M, got %d", level.Quantity)
	}
}

func TestCheckoutInsufficientStockNamesTheItem(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "customer", "customer123")

	res := send(t, api, http.MethodPost, "/api/v1/checkout", token, domain.CheckoutRequest{
		Item:          &domain.DirectItem{ProductID: "prd-cap", Quantity: 5},
		Shipping:      testShipping(),
		PaymentMethod: domain.PaymentCOD,
	})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", res.Code, res.Body.String())
	}
	var body map[string]any
	decodeBody(t, res, &body)
	if body["product_id"] != "prd-cap" || body["state"] != string(domain.TxValidationFailed) {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestGatewayCheckoutConfirmAndReplay(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "customer", "customer123")
	gw, _ := payment.NewHMACGateway(testGatewaySecret)

	res := send(t, api, http.MethodPost, "/api/v1/checkout", token, domain.CheckoutRequest{
		Item:          &domain.DirectItem{ProductID: "prd-socks", Quantity: 1},
		Shipping:      testShipping(),
		PaymentMethod: domain.PaymentGateway,
	})
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (body: %s)", res.Code, res.Body.String())
	}
	var pending domain.CheckoutResponse
	decodeBody(t, res, &pending)
	if pending.Intent == nil {
		t.Fatalf("expected payment intent in response")
	}

	confirm := domain.PaymentConfirmRequest{
		IntentID:  pending.Intent.IntentID,
		PaymentID: "pay_http",
		Signature: gw.Sign(pending.Intent.IntentID, "pay_http"),
	}
	first := send(t, api, http.MethodPost, "/api/v1/payments/confirm", "", confirm)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 on confirm, got %d (body: %s)", first.Code, first.Body.String())
	}
	replay := send(t, api, http.MethodPost, "/api/v1/payments/confirm", "", confirm)
	if replay.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 on replay, got %d", replay.Code)
	}
}

func TestCancelPaymentReturnsFailedState(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "customer", "customer123")

	res := send(t, api, http.MethodPost, "/api/v1/checkout", token, domain.CheckoutRequest{
		Item:          &domain.DirectItem{ProductID: "prd-socks", Quantity: 1},
		Shipping:      testShipping(),
		PaymentMethod: domain.PaymentGateway,
	})
	var pending domain.CheckoutResponse
	decodeBody(t, res, &pending)

	cancel := send(t, api, http.MethodPost, "/api/v1/payments/"+pending.Intent.IntentID+"/cancel", token, nil)
	if cancel.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", cancel.Code, cancel.Body.String())
	}
	var body domain.CheckoutResponse
	decodeBody(t, cancel, &body)
	if body.Status != string(domain.TxPaymentFailed) {
		t.Fatalf("expected payment_failed status, got %s", body.Status)
	}
}

// unsavedOrders fails every order write.
type unsavedOrders struct {
	*memory.Store
}

func (unsavedOrders) CreateOrder(context.Context, domain.Order) (*domain.Order, error) {
	return nil, errors.New("pq: connection refused")
}

func TestCheckoutPersistFailureHidesCause(t *testing.T) {
	api := newTestAPIWithRepo(t, unsavedOrders{Store: memory.NewSeeded()})
	token := loginAs(t, api, "customer", "customer123")

	res := send(t, api, http.MethodPost, "/api/v1/checkout", token, domain.CheckoutRequest{
		IdempotencyKey: "http-cod-down",
		Item:           &domain.DirectItem{ProductID: "prd-socks", Quantity: 1},
		Shipping:       testShipping(),
		PaymentMethod:  domain.PaymentCOD,
	})
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d (body: %s)", res.Code, res.Body.String())
	}
	if strings.Contains(res.Body.String(), "connection refused") {
		t.Fatalf("storage cause leaked to client: %s", res.Body.String())
	}
	var body map[string]any
	decodeBody(t, res, &body)
	if body["state"] != string(domain.TxPersistFailed) || body["error"] != "the transaction could not be saved, please retry" {
		t.Fatalf("unexpected error body %v", body)
	}

	stock := send(t, api, http.MethodGet, "/api/v1/products/prd-socks/stock", "", nil)
	var level domain.StockResponse
	decodeBody(t, stock, &level)
	if level.Quantity != 40 {
		t.Fatalf("expected socks untouched at 40, got %d", level.Quantity)
	}
}

func TestCancelPaymentOfAnotherCustomerIsNotFound(t *testing.T) {
	api := newTestAPI(t)
	owner := loginAs(t, api, "customer", "customer123")

	res := send(t, api, http.MethodPost, "/api/v1/checkout", owner, domain.CheckoutRequest{
		Item:          &domain.DirectItem{ProductID: "prd-socks", Quantity: 1},
		Shipping:      testShipping(),
		PaymentMethod: domain.PaymentGateway,
	})
	var pending domain.CheckoutResponse
	decodeBody(t, res, &pending)

	register := send(t, api, http.MethodPost, "/api/v1/auth/register", "", domain.CashierCreateRequest{Username: "shopper2", Password: "shopper2-pass"})
	if register.Code != http.StatusCreated {
		t.Fatalf("register failed: %d (body: %s)", register.Code, register.Body.String())
	}
	other := loginAs(t, api, "shopper2", "shopper2-pass")

	cancel := send(t, api, http.MethodPost, "/api/v1/payments/"+pending.Intent.IntentID+"/cancel", other, nil)
	if cancel.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a foreign intent, got %d (body: %s)", cancel.Code, cancel.Body.String())
	}
}

func TestSaleRoutesAreCounterOnly(t *testing.T) {
	api := newTestAPI(t)
	sale := domain.SaleRequest{
		IdempotencyKey:   "http-sale-1",
		Items:            []domain.SaleItem{{ProductID: "prd-socks", Quantity: 1}},
		PaymentMethod:    domain.PaymentUPI,
		PaymentReference: "UPI-1",
	}

	customer := send(t, api, http.MethodPost, "/api/v1/sales", loginAs(t, api, "customer", "customer123"), sale)
	if customer.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", customer.Code)
	}

	cashier := loginAs(t, api, "cashier", "cashier123")
	first := send(t, api, http.MethodPost, "/api/v1/sales", cashier, sale)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", first.Code, first.Body.String())
	}
	var resp domain.SaleResponse
	decodeBody(t, first, &resp)

	again := send(t, api, http.MethodPost, "/api/v1/sales", cashier, sale)
	if again.Code != http.StatusOK {
		t.Fatalf("expected 200 on idempotent replay, got %d", again.Code)
	}

	receipt := send(t, api, http.MethodGet, "/api/v1/bills/"+resp.BillNumber+"/receipt", cashier, nil)
	if receipt.Code != http.StatusOK {
		t.Fatalf("expected receipt 200, got %d", receipt.Code)
	}
	var rendered domain.ReceiptResponse
	decodeBody(t, receipt, &rendered)
	if rendered.BillNumber != resp.BillNumber || rendered.EscposBase64 == "" {
		t.Fatalf("unexpected receipt %+v", rendered)
	}
}

func TestReceivePurchaseOrderTwiceConflicts(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin", "admin123")

	created := send(t, api, http.MethodPost, "/api/v1/purchase-orders", admin, map[string]any{
		"supplier_id": "sup-default",
		"items": []map[string]any{
			{"product_id": "prd-socks", "quantity": 10, "unit_cost": "40"},
		},
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", created.Code, created.Body.String())
	}
	var po domain.PurchaseOrderResponse
	decodeBody(t, created, &po)
	base := "/api/v1/purchase-orders/" + po.PurchaseOrder.ID

	early := send(t, api, http.MethodPost, base+"/receive", admin, nil)
	if early.Code != http.StatusConflict {
		t.Fatalf("expected 409 receiving a draft, got %d", early.Code)
	}
	for _, next := range []domain.PurchaseOrderStatus{domain.POSent, domain.POConfirmed} {
		res := send(t, api, http.MethodPatch, base+"/status", admin, domain.PurchaseOrderStatusRequest{Status: next})
		if res.Code != http.StatusOK {
			t.Fatalf("transition to %s: expected 200, got %d", next, res.Code)
		}
	}

	if res := send(t, api, http.MethodPost, base+"/receive", admin, nil); res.Code != http.StatusOK {
		t.Fatalf("expected first receive 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	if res := send(t, api, http.MethodPost, base+"/receive", admin, nil); res.Code != http.StatusConflict {
		t.Fatalf("expected second receive 409, got %d", res.Code)
	}
}

func TestAdminRoutesRejectCashier(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAs(t, api, "cashier", "cashier123")

	for _, path := range []string{"/api/v1/purchase-orders", "/api/v1/inventory/discrepancies", "/api/v1/audit-logs", "/api/v1/users/cashiers"} {
		res := send(t, api, http.MethodGet, path, cashier, nil)
		if res.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", path, res.Code)
		}
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes.
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}

func testShipping() domain.ShippingDetails {
	return domain.ShippingDetails{
		FullName:     "Asha Rao",
		Phone:        "9800000000",
		AddressLine1: "12 Lake Road",
		City:         "Pune",
		State:        "MH",
		PostalCode:   "411001",
		Country:      "IN",
	}
}
