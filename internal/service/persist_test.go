package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"storefront/backend/internal/cache"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/notify"
	"storefront/backend/internal/payment"
	"storefront/backend/internal/store"
	"storefront/backend/internal/store/memory"
)

var errStorageDown = errors.New("storage unavailable")

// flakyRepo fails the next N order or bill writes, or every lookup while
// lookupsDown is set.
type flakyRepo struct {
	*memory.Store

	mu          sync.Mutex
	orderFails  int
	billFails   int
	lookupsDown bool
}

func (r *flakyRepo) failOrders(n int) {
	r.mu.Lock()
	r.orderFails = n
	r.mu.Unlock()
}

func (r *flakyRepo) failBills(n int) {
	r.mu.Lock()
	r.billFails = n
	r.mu.Unlock()
}

func (r *flakyRepo) setLookupsDown(down bool) {
	r.mu.Lock()
	r.lookupsDown = down
	r.mu.Unlock()
}

func (r *flakyRepo) down() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupsDown
}

func (r *flakyRepo) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	r.mu.Lock()
	if r.orderFails > 0 {
		r.orderFails--
		r.mu.Unlock()
		return nil, errStorageDown
	}
	r.mu.Unlock()
	return r.Store.CreateOrder(ctx, order)
}

func (r *flakyRepo) CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	r.mu.Lock()
	if r.billFails > 0 {
		r.billFails--
		r.mu.Unlock()
		return nil, errStorageDown
	}
	r.mu.Unlock()
	return r.Store.CreateBill(ctx, bill)
}

func (r *flakyRepo) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if r.down() {
		return nil, errStorageDown
	}
	return r.Store.GetProductsByIDs(ctx, ids)
}

func (r *flakyRepo) FindOrderByIdempotency(ctx context.Context, key string) (*domain.Order, error) {
	if r.down() {
		return nil, errStorageDown
	}
	return r.Store.FindOrderByIdempotency(ctx, key)
}

func (r *flakyRepo) FindBillByIdempotency(ctx context.Context, key string) (*domain.Bill, error) {
	if r.down() {
		return nil, errStorageDown
	}
	return r.Store.FindBillByIdempotency(ctx, key)
}

type flakyFixture struct {
	fixture
	flaky *flakyRepo
}

func newFlakyFixture(t *testing.T) flakyFixture {
	t.Helper()
	gw, err := payment.NewHMACGateway(testGatewaySecret)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	base := memory.NewSeeded()
	flaky := &flakyRepo{Store: base}
	mem := cache.NewMemory()
	events := &recordingPublisher{}
	svc := New(flaky, mem, gw, notify.NewNotifier(events, "test"), Options{})
	return flakyFixture{
		fixture: fixture{svc: svc, repo: base, cache: mem, gateway: gw, events: events},
		flaky:   flaky,
	}
}

func expectPersistFailed(t *testing.T, err error) {
	t.Helper()
	var terr *TransactionError
	if !errors.As(err, &terr) || !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("expected persist failure, got %v", err)
	}
	if terr.State != domain.TxPersistFailed {
		t.Fatalf("expected persist_failed state, got %s", terr.State)
	}
	if !errors.Is(err, errStorageDown) {
		t.Fatalf("expected storage cause to be kept, got %v", err)
	}
}

func TestCODCheckoutPersistFailureTouchesNoStock(t *testing.T) {
	f := newFlakyFixture(t)
	f.flaky.failOrders(1)
	req := domain.CheckoutRequest{
		IdempotencyKey: "idem-cod-flaky",
		Item:           &domain.DirectItem{ProductID: "prd-tee", Size: "M", Quantity: 2},
		Shipping:       shipping(),
		PaymentMethod:  domain.PaymentCOD,
	}

	_, err := f.svc.SubmitCheckout(customerCtx(), req)
	expectPersistFailed(t, err)
	if got := stockOf(t, f.fixture, "prd-tee", "M"); got != 10 {
		t.Fatalf("expected stock untouched at 10, got %d", got)
	}
	if f.events.count(notify.EventOrderConfirmed) != 0 {
		t.Fatalf("no confirmation may be sent for an unsaved order")
	}

	resp, err := f.svc.SubmitCheckout(customerCtx(), req)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if resp.Duplicate || resp.State != domain.TxNotified {
		t.Fatalf("expected a fresh committed order on retry, got %+v", resp)
	}
	if got := stockOf(t, f.fixture, "prd-tee", "M"); got != 8 {
		t.Fatalf("expected 8 left after retry, got %d", got)
	}
}

func TestConfirmPaymentRetriesAfterPersistFailure(t *testing.T) {
	f := newFlakyFixture(t)
	ctx := customerCtx()

	resp, err := f.svc.SubmitCheckout(ctx, domain.CheckoutRequest{
		Item:          &domain.DirectItem{ProductID: "prd-socks", Quantity: 1},
		Shipping:      shipping(),
		PaymentMethod: domain.PaymentGateway,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	callback := domain.PaymentConfirmRequest{
		IntentID:  resp.Intent.IntentID,
		PaymentID: "pay_retry",
		Signature: f.gateway.Sign(resp.Intent.IntentID, "pay_retry"),
	}

	f.flaky.failOrders(1)
	_, err = f.svc.ConfirmPayment(ctx, callback)
	expectPersistFailed(t, err)
	if got := stockOf(t, f.fixture, "prd-socks", ""); got != 40 {
		t.Fatalf("expected socks untouched at 40, got %d", got)
	}
	if _, found, _ := f.cache.GetPending(ctx, resp.Intent.IntentID); !found {
		t.Fatalf("paid checkout must stay parked after a persist failure")
	}

	confirmed, err := f.svc.ConfirmPayment(ctx, callback)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if confirmed.OrderNumber != resp.OrderNumber || confirmed.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("unexpected confirmed order %+v", confirmed)
	}
	if got := stockOf(t, f.fixture, "prd-socks", ""); got != 39 {
		t.Fatalf("expected 39 socks, got %d", got)
	}
	if _, found, _ := f.cache.GetPending(ctx, resp.Intent.IntentID); found {
		t.Fatalf("pending checkout must be cleared once the order is saved")
	}

	_, err = f.svc.ConfirmPayment(ctx, callback)
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected replay after commit to fail, got %v", err)
	}
}

func TestConcurrentConfirmsDecrementOnce(t *testing.T) {
	f := newFixture(t)
	ctx := customerCtx()

	resp, err := f.svc.SubmitCheckout(ctx, domain.CheckoutRequest{
		Item:          &domain.DirectItem{ProductID: "prd-socks", Quantity: 2},
		Shipping:      shipping(),
		PaymentMethod: domain.PaymentGateway,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	callback := domain.PaymentConfirmRequest{
		IntentID:  resp.Intent.IntentID,
		PaymentID: "pay_race",
		Signature: f.gateway.Sign(resp.Intent.IntentID, "pay_race"),
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.ConfirmPayment(ctx, callback)
		}()
	}
	wg.Wait()

	if got := stockOf(t, f, "prd-socks", ""); got != 38 {
		t.Fatalf("expected one decrement to 38, got %d", got)
	}
	if f.events.count(notify.EventOrderConfirmed) != 1 {
		t.Fatalf("expected exactly one confirmation, got %d", f.events.count(notify.EventOrderConfirmed))
	}
}

func TestSalePersistFailureTouchesNoStock(t *testing.T) {
	f := newFlakyFixture(t)
	f.flaky.failBills(1)
	req := domain.SaleRequest{
		IdempotencyKey: "idem-sale-flaky",
		PaymentMethod:  domain.PaymentCash,
		CashReceived:   decimal.NewFromInt(1000),
		Items:          []domain.SaleItem{{ProductID: "prd-socks", Quantity: 2}},
	}

	_, err := f.svc.SubmitSale(cashierCtx(), req)
	expectPersistFailed(t, err)
	if got := stockOf(t, f.fixture, "prd-socks", ""); got != 40 {
		t.Fatalf("expected socks untouched at 40, got %d", got)
	}

	resp, err := f.svc.SubmitSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if resp.Duplicate {
		t.Fatalf("expected the retry to create the bill")
	}
	if got := stockOf(t, f.fixture, "prd-socks", ""); got != 38 {
		t.Fatalf("expected 38 socks after retry, got %d", got)
	}
}

func TestStorageLookupFailureIsPersistFailed(t *testing.T) {
	f := newFlakyFixture(t)
	f.flaky.setLookupsDown(true)

	_, err := f.svc.SubmitCheckout(customerCtx(), domain.CheckoutRequest{
		IdempotencyKey: "idem-lookup",
		Item:           &domain.DirectItem{ProductID: "prd-socks", Quantity: 1},
		Shipping:       shipping(),
		PaymentMethod:  domain.PaymentCOD,
	})
	expectPersistFailed(t, err)

	_, err = f.svc.SubmitSale(cashierCtx(), domain.SaleRequest{
		IdempotencyKey: "idem-lookup-sale",
		PaymentMethod:  domain.PaymentCash,
		CashReceived:   decimal.NewFromInt(1000),
		Items:          []domain.SaleItem{{ProductID: "prd-socks", Quantity: 1}},
	})
	expectPersistFailed(t, err)

	// Without an idempotency key the lookup is skipped and product reads fail.
	_, err = f.svc.QuoteCheckout(customerCtx(), domain.CheckoutRequest{
		Item:          &domain.DirectItem{ProductID: "prd-socks", Quantity: 1},
		Shipping:      shipping(),
		PaymentMethod: domain.PaymentCOD,
	})
	expectPersistFailed(t, err)
}

func TestNegativeLineCannotOffsetAnother(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SubmitSale(cashierCtx(), domain.SaleRequest{
		PaymentMethod: domain.PaymentCash,
		CashReceived:  decimal.NewFromInt(1000),
		Items: []domain.SaleItem{
			{ProductID: "prd-socks", Quantity: -1},
			{ProductID: "prd-socks", Quantity: 2},
		},
	})
	var terr *TransactionError
	if !errors.As(err, &terr) || !errors.Is(err, ErrValidationFailed) || !errors.Is(err, store.ErrInvalidQuantity) {
		t.Fatalf("expected invalid quantity rejection, got %v", err)
	}
	if terr.ProductID != "prd-socks" {
		t.Fatalf("expected rejection to name prd-socks, got %q", terr.ProductID)
	}
	if got := stockOf(t, f, "prd-socks", ""); got != 40 {
		t.Fatalf("expected socks untouched at 40, got %d", got)
	}
}

func TestCancelPaymentRequiresOwner(t *testing.T) {
	f := newFixture(t)
	owner := customerCtx()

	resp, err := f.svc.SubmitCheckout(owner, domain.CheckoutRequest{
		Item:          &domain.DirectItem{ProductID: "prd-socks", Quantity: 1},
		Shipping:      shipping(),
		PaymentMethod: domain.PaymentGateway,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	stranger := WithActor(context.Background(), domain.Actor{Username: "someone-else", Role: domain.RoleCustomer})
	if _, err := f.svc.CancelPayment(stranger, resp.Intent.IntentID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for another customer, got %v", err)
	}
	if _, found, _ := f.cache.GetPending(owner, resp.Intent.IntentID); !found {
		t.Fatalf("checkout must stay parked after a foreign cancel")
	}

	if _, err := f.svc.CancelPayment(owner, resp.Intent.IntentID); !errors.Is(err, ErrPaymentCancelled) {
		t.Fatalf("expected owner cancel to succeed, got %v", err)
	}
}
