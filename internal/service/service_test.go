package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"storefront/backend/internal/cache"
	"storefront/backend/internal/cart"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/notify"
	"storefront/backend/internal/payment"
	"storefront/backend/internal/store"
	"storefront/backend/internal/store/memory"
)

const testGatewaySecret = "test-gateway-secret-0123456789abcdef"

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(ev notify.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	svc     *Service
	repo    *memory.Store
	cache   *cache.Memory
	gateway *payment.HMACGateway
	events  *recordingPublisher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gw, err := payment.NewHMACGateway(testGatewaySecret)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	repo := memory.NewSeeded()
	mem := cache.NewMemory()
	events := &recordingPublisher{}
	svc := New(repo, mem, gw, notify.NewNotifier(events, "test"), Options{})
	return fixture{svc: svc, repo: repo, cache: mem, gateway: gw, events: events}
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier})
}

func customerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "customer", Role: domain.RoleCustomer})
}

func shipping() domain.ShippingDetails {
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

func stockOf(t *testing.T, f fixture, productID string, size string) int {
	t.Helper()
	qty, err := f.repo.GetStock(context.Background(), productID, size)
	if err != nil {
		t.Fatalf("get stock %s/%s: %v", productID, size, err)
	}
	return qty
}

func TestSaleRequiresCashierRole(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SubmitSale(customerCtx(), domain.SaleRequest{
		PaymentMethod: domain.PaymentCash,
		CashReceived:  decimal.NewFromInt(1000),
		Items:         []domain.SaleItem{{ProductID: "prd-socks", Quantity: 1}},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestSubmitSaleCashComputesDiscountTaxAndChange(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.SubmitSale(cashierCtx(), domain.SaleRequest{
		IdempotencyKey:  "idem-cash",
		PaymentMethod:   domain.PaymentCash,
		CashReceived:    decimal.NewFromInt(600),
		DiscountPercent: 10,
		Items:           []domain.SaleItem{{ProductID: "prd-socks", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if !resp.Total.Equal(decimal.RequireFromString("538.20")) {
		t.Fatalf("expected total 538.20, got %s", resp.Total)
	}
	if !resp.Change.Equal(decimal.RequireFromString("61.80")) {
		t.Fatalf("expected change 61.80, got %s", resp.Change)
	}
	if !resp.Totals.TaxableBase.Equal(decimal.RequireFromString("456.10")) {
		t.Fatalf("expected base 456.10, got %s", resp.Totals.TaxableBase)
	}
	if resp.State != domain.TxNotified {
		t.Fatalf("expected notified, got %s", resp.State)
	}
	if got := stockOf(t, f, "prd-socks", ""); got != 38 {
		t.Fatalf("expected 38 socks left, got %d", got)
	}
	if f.events.count(notify.EventBillCreated) != 1 {
		t.Fatalf("expected one bill-created event")
	}

	again, err := f.svc.SubmitSale(cashierCtx(), domain.SaleRequest{
		IdempotencyKey: "idem-cash",
		PaymentMethod:  domain.PaymentCash,
		CashReceived:   decimal.NewFromInt(600),
		Items:          []domain.SaleItem{{ProductID: "prd-socks", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("replayed sale failed: %v", err)
	}
	if !again.Duplicate || again.BillNumber != resp.BillNumber {
		t.Fatalf("expected duplicate of %s, got %+v", resp.BillNumber, again)
	}
	if got := stockOf(t, f, "prd-socks", ""); got != 38 {
		t.Fatalf("replay must not decrement again, got %d", got)
	}
}

func TestSubmitSalePaymentRules(t *testing.T) {
	f := newFixture(t)
	items := []domain.SaleItem{{ProductID: "prd-tee", Size: "m", Quantity: 1}}

	cases := []struct {
		name string
		req  domain.SaleRequest
	}{
		{"short cash", domain.SaleRequest{PaymentMethod: domain.PaymentCash, CashReceived: decimal.NewFromInt(500), Items: items}},
		{"card without reference", domain.SaleRequest{PaymentMethod: domain.PaymentCard, Items: items}},
		{"unsupported discount", domain.SaleRequest{PaymentMethod: domain.PaymentCash, CashReceived: decimal.NewFromInt(600), DiscountPercent: 15, Items: items}},
		{"split not matching total", domain.SaleRequest{Items: items, PaymentSplits: []domain.PaymentSplit{
			{Method: domain.PaymentCash, Amount: decimal.NewFromInt(100)},
			{Method: domain.PaymentUPI, Amount: decimal.NewFromInt(100), Reference: "UPI-1"},
		}}},
		{"split without reference", domain.SaleRequest{Items: items, PaymentSplits: []domain.PaymentSplit{
			{Method: domain.PaymentCash, Amount: decimal.NewFromInt(99)},
			{Method: domain.PaymentCard, Amount: decimal.NewFromInt(500)},
		}}},
	}
	for _, tc := range cases {
		_, err := f.svc.SubmitSale(cashierCtx(), tc.req)
		if !errors.Is(err, ErrValidationFailed) {
			t.Fatalf("%s: expected validation failure, got %v", tc.name, err)
		}
	}

	resp, err := f.svc.SubmitSale(cashierCtx(), domain.SaleRequest{Items: items, PaymentSplits: []domain.PaymentSplit{
		{Method: domain.PaymentCash, Amount: decimal.NewFromInt(99)},
		{Method: domain.PaymentUPI, Amount: decimal.NewFromInt(500), Reference: "UPI-2"},
	}})
	if err != nil {
		t.Fatalf("split sale failed: %v", err)
	}
	if resp.PaymentMethod != domain.PaymentSplitMethod {
		t.Fatalf("expected split method, got %s", resp.PaymentMethod)
	}
	if got := stockOf(t, f, "prd-tee", "M"); got != 9 {
		t.Fatalf("expected 9 tees in M, got %d", got)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t)

	const buyers = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.SubmitSale(cashierCtx(), domain.SaleRequest{
				IdempotencyKey:   "idem-race-" + strconv.Itoa(i),
				PaymentMethod:    domain.PaymentUPI,
				PaymentReference: "UPI-" + strconv.Itoa(i),
				Items:            []domain.SaleItem{{ProductID: "prd-cap", Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrValidationFailed):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 || rejected != buyers-1 {
		t.Fatalf("expected 1 winner and %d rejections, got %d/%d", buyers-1, succeeded, rejected)
	}
	if got := stockOf(t, f, "prd-cap", ""); got != 0 {
		t.Fatalf("expected cap stock 0, got %d", got)
	}
}

func TestCODCheckoutCommitsImmediately(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.SubmitCheckout(customerCtx(), domain.CheckoutRequest{
		IdempotencyKey: "idem-cod",
		Item:           &domain.DirectItem{ProductID: "prd-tee", Size: "M", Quantity: 2},
		Shipping:       shipping(),
		PaymentMethod:  domain.PaymentCOD,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.State != domain.TxNotified {
		t.Fatalf("expected notified, got %s", resp.State)
	}
	if !resp.Totals.DeliveryFee.IsZero() || !resp.Totals.ProtectionFee.Equal(decimal.NewFromInt(18)) {
		t.Fatalf("unexpected fees %+v", resp.Totals)
	}
	if !resp.OrderTotal.Equal(decimal.NewFromInt(1216)) {
		t.Fatalf("expected 1216, got %s", resp.OrderTotal)
	}

	order, err := f.svc.GetOrder(customerCtx(), resp.OrderNumber)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.OrderPending || order.Payment.Status != domain.PaymentPending {
		t.Fatalf("expected pending/pending, got %s/%s", order.Status, order.Payment.Status)
	}
	if got := stockOf(t, f, "prd-tee", "M"); got != 8 {
		t.Fatalf("expected 8 left, got %d", got)
	}
	if f.events.count(notify.EventOrderConfirmed) != 1 {
		t.Fatalf("expected one confirmation event")
	}
}

func TestCheckoutValidationFailures(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		item domain.DirectItem
	}{
		{"unknown size", domain.DirectItem{ProductID: "prd-runner", Size: "12", Quantity: 1}},
		{"missing size", domain.DirectItem{ProductID: "prd-runner", Quantity: 1}},
		{"hidden product", domain.DirectItem{ProductID: "prd-archive", Quantity: 1}},
		{"shortfall", domain.DirectItem{ProductID: "prd-runner", Size: "9", Quantity: 3}},
		{"sold out size", domain.DirectItem{ProductID: "prd-runner", Size: "10", Quantity: 1}},
		{"size on unsized product", domain.DirectItem{ProductID: "prd-socks", Size: "XXL", Quantity: 1}},
		{"zero quantity", domain.DirectItem{ProductID: "prd-socks", Quantity: 0}},
	}
	for _, tc := range cases {
		item := tc.item
		_, err := f.svc.SubmitCheckout(customerCtx(), domain.CheckoutRequest{
			Item:          &item,
			Shipping:      shipping(),
			PaymentMethod: domain.PaymentCOD,
		})
		var terr *TransactionError
		if !errors.As(err, &terr) || !errors.Is(err, ErrValidationFailed) {
			t.Fatalf("%s: expected validation failure, got %v", tc.name, err)
		}
		if terr.State != domain.TxValidationFailed || terr.ProductID != item.ProductID {
			t.Fatalf("%s: unexpected error detail %+v", tc.name, terr)
		}
	}

	_, err := f.svc.SubmitCheckout(customerCtx(), domain.CheckoutRequest{
		Item:          &domain.DirectItem{ProductID: "prd-socks", Quantity: 1},
		Shipping:      domain.ShippingDetails{FullName: "No Address"},
		PaymentMethod: domain.PaymentCOD,
	})
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected missing shipping to fail validation, got %v", err)
	}
}

func TestGatewayCheckoutConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := customerCtx()

	resp, err := f.svc.SubmitCheckout(ctx, domain.CheckoutRequest{
		Item:          &domain.DirectItem{ProductID: "prd-socks", Quantity: 1},
		Shipping:      shipping(),
		PaymentMethod: domain.PaymentGateway,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.State != domain.TxAwaitingPayment || resp.Intent == nil {
		t.Fatalf("expected awaiting payment with intent, got %+v", resp)
	}
	// 299 + 50 delivery + 9 protection
	if resp.Intent.AmountMinor != 35800 {
		t.Fatalf("expected 35800 paise, got %d", resp.Intent.AmountMinor)
	}
	if got := stockOf(t, f, "prd-socks", ""); got != 40 {
		t.Fatalf("awaiting payment must not touch stock, got %d", got)
	}

	_, err = f.svc.ConfirmPayment(ctx, domain.PaymentConfirmRequest{IntentID: resp.Intent.IntentID, PaymentID: "pay_1", Signature: "forged"})
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected forged signature to fail, got %v", err)
	}

	confirmed, err := f.svc.ConfirmPayment(ctx, domain.PaymentConfirmRequest{
		IntentID:  resp.Intent.IntentID,
		PaymentID: "pay_1",
		Signature: f.gateway.Sign(resp.Intent.IntentID, "pay_1"),
	})
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if confirmed.Status != string(domain.OrderConfirmed) || confirmed.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("expected confirmed/paid, got %s/%s", confirmed.Status, confirmed.PaymentStatus)
	}
	if confirmed.OrderNumber != resp.OrderNumber {
		t.Fatalf("order number changed: %s -> %s", resp.OrderNumber, confirmed.OrderNumber)
	}
	if got := stockOf(t, f, "prd-socks", ""); got != 39 {
		t.Fatalf("expected 39 socks, got %d", got)
	}

	_, err = f.svc.ConfirmPayment(ctx, domain.PaymentConfirmRequest{
		IntentID:  resp.Intent.IntentID,
		PaymentID: "pay_1",
		Signature: f.gateway.Sign(resp.Intent.IntentID, "pay_1"),
	})
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected replayed callback to fail, got %v", err)
	}
}

func TestHybridCheckoutSplitsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := customerCtx()

	resp, err := f.svc.SubmitCheckout(ctx, domain.CheckoutRequest{
		Item:          &domain.DirectItem{ProductID: "prd-runner", Size: "8", Quantity: 1},
		Shipping:      shipping(),
		PaymentMethod: domain.PaymentHybrid,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	// 2499 + 0 delivery + 9 protection = 2508; discount 125, final 2383,
	// upfront 477, deferred 1906
	if resp.Hybrid == nil || !resp.Hybrid.Upfront.Equal(decimal.NewFromInt(477)) || !resp.Hybrid.Deferred.Equal(decimal.NewFromInt(1906)) {
		t.Fatalf("unexpected hybrid split %+v", resp.Hybrid)
	}
	if resp.Intent.AmountMinor != 47700 {
		t.Fatalf("expected upfront intent 47700, got %d", resp.Intent.AmountMinor)
	}

	confirmed, err := f.svc.ConfirmPayment(ctx, domain.PaymentConfirmRequest{
		IntentID:  resp.Intent.IntentID,
		PaymentID: "pay_h",
		Signature: f.gateway.Sign(resp.Intent.IntentID, "pay_h"),
	})
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	order, err := f.svc.GetOrder(ctx, confirmed.OrderNumber)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Payment.Status != domain.PaymentPartial || order.Status != domain.OrderPending {
		t.Fatalf("expected partial/pending, got %s/%s", order.Payment.Status, order.Status)
	}
	if !order.OrderTotal.Equal(decimal.NewFromInt(2383)) || !order.Payment.DeferredAmount.Equal(decimal.NewFromInt(1906)) {
		t.Fatalf("unexpected order totals total=%s deferred=%s", order.OrderTotal, order.Payment.DeferredAmount)
	}
}

func TestCancelPaymentPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := customerCtx()

	resp, err := f.svc.SubmitCheckout(ctx, domain.CheckoutRequest{
		IdempotencyKey: "idem-cancel",
		Item:           &domain.DirectItem{ProductID: "prd-cap", Quantity: 1},
		Shipping:       shipping(),
		PaymentMethod:  domain.PaymentGateway,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	cancelled, err := f.svc.CancelPayment(ctx, resp.Intent.IntentID)
	if !errors.Is(err, ErrPaymentCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if cancelled.State != domain.TxPaymentFailed {
		t.Fatalf("expected payment_failed state, got %s", cancelled.State)
	}
	if _, err := f.repo.GetOrderByNumber(ctx, resp.OrderNumber); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no order, got %v", err)
	}
	if got := stockOf(t, f, "prd-cap", ""); got != 1 {
		t.Fatalf("expected cap stock untouched, got %d", got)
	}

	_, err = f.svc.ConfirmPayment(ctx, domain.PaymentConfirmRequest{
		IntentID:  resp.Intent.IntentID,
		PaymentID: "pay_late",
		Signature: f.gateway.Sign(resp.Intent.IntentID, "pay_late"),
	})
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected late confirm to fail, got %v", err)
	}
}

func TestExpiredPaymentWindowFails(t *testing.T) {
	f := newFixture(t)
	ctx := customerCtx()

	resp, err := f.svc.SubmitCheckout(ctx, domain.CheckoutRequest{
		Item:          &domain.DirectItem{ProductID: "prd-socks", Quantity: 1},
		Shipping:      shipping(),
		PaymentMethod: domain.PaymentGateway,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	f.cache.Expire("checkout:pending:" + resp.Intent.IntentID)

	_, err = f.svc.ConfirmPayment(ctx, domain.PaymentConfirmRequest{
		IntentID:  resp.Intent.IntentID,
		PaymentID: "pay_2",
		Signature: f.gateway.Sign(resp.Intent.IntentID, "pay_2"),
	})
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected expired window to fail, got %v", err)
	}
}

func TestStockAdjustFailureStillConfirmsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := customerCtx()

	resp, err := f.svc.SubmitCheckout(ctx, domain.CheckoutRequest{
		Item:          &domain.DirectItem{ProductID: "prd-cap", Quantity: 1},
		Shipping:      shipping(),
		PaymentMethod: domain.PaymentGateway,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	// the last cap sells in store while the customer is paying
	if _, err := f.svc.SubmitSale(cashierCtx(), domain.SaleRequest{
		PaymentMethod:    domain.PaymentCard,
		PaymentReference: "CARD-1",
		Items:            []domain.SaleItem{{ProductID: "prd-cap", Quantity: 1}},
	}); err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	confirmed, err := f.svc.ConfirmPayment(ctx, domain.PaymentConfirmRequest{
		IntentID:  resp.Intent.IntentID,
		PaymentID: "pay_3",
		Signature: f.gateway.Sign(resp.Intent.IntentID, "pay_3"),
	})
	if err != nil {
		t.Fatalf("user must still see success, got %v", err)
	}
	if confirmed.State != domain.TxStockAdjustFailed {
		t.Fatalf("expected stock_adjust_failed, got %s", confirmed.State)
	}
	if got := stockOf(t, f, "prd-cap", ""); got != 0 {
		t.Fatalf("stock must not go negative, got %d", got)
	}

	discrepancies, err := f.svc.ListStockDiscrepancies(adminCtx(), false, 10)
	if err != nil {
		t.Fatalf("list discrepancies: %v", err)
	}
	if len(discrepancies) != 1 || discrepancies[0].SourceID != confirmed.OrderNumber {
		t.Fatalf("expected one discrepancy for %s, got %+v", confirmed.OrderNumber, discrepancies)
	}
	if f.events.count(notify.EventAdminAlert) != 1 {
		t.Fatalf("expected one admin alert")
	}
}

func TestConcurrentCODCheckoutsDecrementOnce(t *testing.T) {
	f := newFixture(t)

	const buyers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	states := map[domain.TxState]int{}

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.svc.SubmitCheckout(customerCtx(), domain.CheckoutRequest{
				Item:          &domain.DirectItem{ProductID: "prd-cap", Quantity: 1},
				Shipping:      shipping(),
				PaymentMethod: domain.PaymentCOD,
			})
			mu.Lock()
			defer mu.Unlock()
			var terr *TransactionError
			switch {
			case err == nil:
				states[resp.State]++
			case errors.As(err, &terr):
				states[terr.State]++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if states[domain.TxNotified] != 1 {
		t.Fatalf("expected exactly one clean checkout, got %v", states)
	}
	if states[domain.TxNotified]+states[domain.TxStockAdjustFailed]+states[domain.TxValidationFailed] != buyers {
		t.Fatalf("unexpected states %v", states)
	}
	if got := stockOf(t, f, "prd-cap", ""); got != 0 {
		t.Fatalf("expected cap stock 0, got %d", got)
	}
}

func TestCartSessionCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := customerCtx()

	resp, err := f.svc.AddToCart(ctx, "", domain.CartAddRequest{ProductID: "prd-runner", Size: "9"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	cartID := resp.Cart.ID
	if _, err := f.svc.AddToCart(ctx, cartID, domain.CartAddRequest{ProductID: "prd-runner", Size: "9"}); err != nil {
		t.Fatalf("second add failed: %v", err)
	}
	if _, err := f.svc.AddToCart(ctx, cartID, domain.CartAddRequest{ProductID: "prd-runner", Size: "9"}); !errors.Is(err, cart.ErrOutOfStock) {
		t.Fatalf("expected out of stock on third add, got %v", err)
	}
	if _, err := f.svc.AddToCart(ctx, cartID, domain.CartAddRequest{ProductID: "prd-runner"}); !errors.Is(err, cart.ErrSizeRequired) {
		t.Fatalf("expected size required, got %v", err)
	}

	clamped, err := f.svc.UpdateCartQuantity(ctx, cartID, domain.CartQuantityRequest{ProductID: "prd-runner", Size: "9", Delta: 5})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if clamped.Warning == "" || clamped.Cart.Lines[0].Quantity != 2 {
		t.Fatalf("expected clamp to 2 with warning, got %+v", clamped)
	}

	other := WithActor(context.Background(), domain.Actor{Username: "someone-else", Role: domain.RoleCustomer})
	if _, err := f.svc.GetCart(other, cartID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected foreign cart to be hidden, got %v", err)
	}

	out, err := f.svc.SubmitCheckout(ctx, domain.CheckoutRequest{
		CartID:        cartID,
		Shipping:      shipping(),
		PaymentMethod: domain.PaymentCOD,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if out.Totals.ItemCount != 2 {
		t.Fatalf("expected 2 items, got %d", out.Totals.ItemCount)
	}
	if _, err := f.svc.GetCart(ctx, cartID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected cart to be cleared after checkout, got %v", err)
	}
	if got := stockOf(t, f, "prd-runner", "9"); got != 0 {
		t.Fatalf("expected size 9 sold out, got %d", got)
	}
}

func TestReceivePurchaseOrderOnce(t *testing.T) {
	f := newFixture(t)
	ctx := adminCtx()

	created, err := f.svc.CreatePurchaseOrder(ctx, domain.PurchaseOrderCreateRequest{
		SupplierID: "sup-default",
		Items: []domain.PurchaseOrderItem{
			{ProductID: "prd-runner", Size: "10", Quantity: 4, UnitCost: decimal.NewFromInt(1300)},
			{ProductID: "prd-socks", Quantity: 10, UnitCost: decimal.NewFromInt(120)},
		},
	})
	if err != nil {
		t.Fatalf("create po: %v", err)
	}
	po := created.PurchaseOrder
	if !po.Total.Equal(decimal.NewFromInt(6400)) || po.Status != domain.PODraft {
		t.Fatalf("unexpected po %+v", po)
	}

	if _, err := f.svc.ReceivePurchaseOrder(ctx, po.ID, domain.PurchaseOrderReceiveRequest{}); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected draft receive to be rejected, got %v", err)
	}
	for _, next := range []domain.PurchaseOrderStatus{domain.POSent, domain.POConfirmed} {
		if _, err := f.svc.TransitionPurchaseOrder(ctx, po.ID, domain.PurchaseOrderStatusRequest{Status: next}); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	received, err := f.svc.ReceivePurchaseOrder(ctx, po.ID, domain.PurchaseOrderReceiveRequest{})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !received.Success || received.PurchaseOrder.Status != domain.POReceived || received.PurchaseOrder.ReceivedBy != "admin" {
		t.Fatalf("unexpected receive response %+v", received)
	}
	if got := stockOf(t, f, "prd-runner", "10"); got != 4 {
		t.Fatalf("expected 4 in size 10, got %d", got)
	}

	if _, err := f.svc.ReceivePurchaseOrder(ctx, po.ID, domain.PurchaseOrderReceiveRequest{}); !errors.Is(err, store.ErrAlreadyReceived) {
		t.Fatalf("expected already received, got %v", err)
	}
	if got := stockOf(t, f, "prd-runner", "10"); got != 4 {
		t.Fatalf("second receive must not change stock, got %d", got)
	}
	if got := stockOf(t, f, "prd-socks", ""); got != 50 {
		t.Fatalf("expected 50 socks, got %d", got)
	}
	if f.events.count(notify.EventPurchaseOrderReceived) != 1 {
		t.Fatalf("expected one received event")
	}
}

func TestUpdateOrderStatusFollowsLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.SubmitCheckout(customerCtx(), domain.CheckoutRequest{
		Item:          &domain.DirectItem{ProductID: "prd-socks", Quantity: 1},
		Shipping:      shipping(),
		PaymentMethod: domain.PaymentCOD,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if _, err := f.svc.UpdateOrderStatus(customerCtx(), resp.OrderNumber, domain.OrderStatusUpdateRequest{Status: domain.OrderShipped}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for customer, got %v", err)
	}
	if _, err := f.svc.UpdateOrderStatus(adminCtx(), resp.OrderNumber, domain.OrderStatusUpdateRequest{Status: domain.OrderDelivered}); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected pending -> delivered to be rejected, got %v", err)
	}
	order, err := f.svc.UpdateOrderStatus(adminCtx(), resp.OrderNumber, domain.OrderStatusUpdateRequest{Status: domain.OrderConfirmed, Note: "called customer"})
	if err != nil {
		t.Fatalf("confirm order: %v", err)
	}
	if len(order.DeliveryDetails) != 2 || order.DeliveryDetails[1].Note != "called customer" {
		t.Fatalf("expected delivery log entry, got %+v", order.DeliveryDetails)
	}
}

func TestRestockGoesThroughLedger(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.RestockProduct(cashierCtx(), domain.RestockRequest{ProductID: "prd-tee", Size: "XL", Quantity: 3}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.svc.RestockProduct(adminCtx(), domain.RestockRequest{ProductID: "prd-tee", Size: "XXL", Quantity: 3}); !errors.Is(err, store.ErrUnknownSize) {
		t.Fatalf("expected unknown size, got %v", err)
	}
	resp, err := f.svc.RestockProduct(adminCtx(), domain.RestockRequest{ProductID: "prd-tee", Size: "xl", Quantity: 3, Reason: "recount"})
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if resp.Quantity != 4 || resp.Size != "XL" {
		t.Fatalf("expected XL at 4, got %+v", resp)
	}
}
