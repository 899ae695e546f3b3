package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/payment"
	"storefront/backend/internal/pricing"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

const orderNumberAttempts = 3

// QuoteCheckout prices a cart or a single item without reserving anything.
func (s *Service) QuoteCheckout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutQuoteResponse, error) {
	t := newTxn("quote")
	raw, err := s.checkoutLines(ctx, t, req)
	if err != nil {
		return domain.CheckoutQuoteResponse{}, err
	}
	lines, err := s.validateLines(ctx, t, raw)
	if err != nil {
		return domain.CheckoutQuoteResponse{}, err
	}
	totals, err := pricing.CheckoutTotals(lines)
	if err != nil {
		return domain.CheckoutQuoteResponse{}, t.reject(err.Error(), err)
	}
	hybrid, err := pricing.Hybrid(totals.Total)
	if err != nil {
		return domain.CheckoutQuoteResponse{}, t.reject(err.Error(), err)
	}
	return domain.CheckoutQuoteResponse{Totals: totals, Hybrid: hybrid}, nil
}

// SubmitCheckout validates a storefront checkout against the ledger and either
// commits it (cod) or parks it until the gateway confirms payment.
func (s *Service) SubmitCheckout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	t := newTxn("checkout")

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	if !req.PaymentMethod.IsCheckoutMethod() {
		return domain.CheckoutResponse{}, t.reject(fmt.Sprintf("unsupported payment method %q", req.PaymentMethod), nil)
	}
	if missing := req.Shipping.MissingFields(); len(missing) > 0 {
		return domain.CheckoutResponse{}, t.reject("missing shipping fields: "+strings.Join(missing, ", "), nil)
	}

	if existing, err := s.repo.FindOrderByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return toCheckoutResponse(*existing, true, domain.TxNotified), nil
	} else if !isNotFound(err) {
		return domain.CheckoutResponse{}, t.fail(domain.TxPersistFailed, ErrPersistFailed, "idempotency lookup failed", err)
	}

	raw, err := s.checkoutLines(ctx, t, req)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	lines, err := s.validateLines(ctx, t, raw)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	totals, err := pricing.CheckoutTotals(lines)
	if err != nil {
		return domain.CheckoutResponse{}, t.reject(err.Error(), err)
	}

	pending := domain.PendingCheckout{
		OrderNumber:      xid.Number("ORD", s.now()),
		IdempotencyKey:   req.IdempotencyKey,
		CartID:           req.CartID,
		CustomerUsername: actorName(ctx),
		Lines:            lines,
		Shipping:         req.Shipping,
		Method:           req.PaymentMethod,
		Totals:           totals,
		Currency:         s.opts.Currency,
		CreatedAt:        s.now(),
	}
	t.ref = pending.OrderNumber

	if req.PaymentMethod == domain.PaymentCOD {
		t.advance(domain.TxCommitting)
		return s.commitOrder(ctx, t, pending, domain.PaymentDetails{
			Method:         domain.PaymentCOD,
			Amount:         totals.Total,
			Currency:       s.opts.Currency,
			Status:         domain.PaymentPending,
			UpfrontAmount:  decimal.Zero,
			DeferredAmount: totals.Total,
		}, domain.OrderPending)
	}

	charge := totals.Total
	if req.PaymentMethod == domain.PaymentHybrid {
		split, err := pricing.Hybrid(totals.Total)
		if err != nil {
			return domain.CheckoutResponse{}, t.reject(err.Error(), err)
		}
		pending.Hybrid = &split
		charge = split.Upfront
	}

	minor, err := pricing.MinorUnits(charge)
	if err != nil {
		return domain.CheckoutResponse{}, t.reject(err.Error(), err)
	}
	if s.gateway == nil {
		return domain.CheckoutResponse{}, t.fail(domain.TxPaymentFailed, ErrPaymentFailed, "payment gateway unavailable", nil)
	}

	t.advance(domain.TxAwaitingPayment)
	intent, err := s.gateway.CreateIntent(ctx, minor, s.opts.Currency, pending.OrderNumber)
	if err != nil {
		log.Printf("[orchestrator] WARN: create intent failed order=%s: %v", pending.OrderNumber, err)
		return domain.CheckoutResponse{}, t.fail(domain.TxPaymentFailed, ErrPaymentFailed, "could not start payment", err)
	}
	pending.IntentID = intent.ID
	pending.AmountMinor = intent.AmountMinor

	if err := s.cache.PutPending(ctx, pending, s.opts.PaymentWindow); err != nil {
		log.Printf("[orchestrator] ERROR: park pending checkout failed order=%s: %v", pending.OrderNumber, err)
		return domain.CheckoutResponse{}, t.fail(domain.TxPaymentFailed, ErrPaymentFailed, "could not start payment", err)
	}

	return domain.CheckoutResponse{
		OrderNumber:   pending.OrderNumber,
		Status:        string(domain.TxAwaitingPayment),
		PaymentStatus: domain.PaymentPending,
		Totals:        totals,
		Hybrid:        pending.Hybrid,
		Intent: &domain.PaymentIntentInfo{
			IntentID:    intent.ID,
			AmountMinor: intent.AmountMinor,
			Currency:    intent.Currency,
			ExpiresAt:   pending.CreatedAt.Add(s.opts.PaymentWindow).Format(time.RFC3339),
		},
		OrderTotal: orderTotal(totals, pending.Hybrid),
		State:      t.state,
	}, nil
}

// ConfirmPayment is the gateway callback. The signature is checked before the
// pending checkout is read, so a forged callback cannot consume it. The
// checkout stays parked until its order is saved; a retry after a storage
// failure commits it under the same idempotency key.
func (s *Service) ConfirmPayment(ctx context.Context, req domain.PaymentConfirmRequest) (domain.CheckoutResponse, error) {
	t := newTxn("checkout")
	t.ref = req.IntentID
	t.advance(domain.TxAwaitingPayment)

	if s.gateway == nil || strings.TrimSpace(req.IntentID) == "" {
		return domain.CheckoutResponse{}, t.fail(domain.TxPaymentFailed, ErrPaymentFailed, "unknown payment intent", nil)
	}
	ok, err := s.gateway.Verify(ctx, payment.SignaturePayload{
		IntentID:  req.IntentID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	if err != nil || !ok {
		log.Printf("[orchestrator] WARN: signature rejected intent=%s: %v", req.IntentID, err)
		return domain.CheckoutResponse{}, t.fail(domain.TxPaymentFailed, ErrPaymentFailed, "payment signature mismatch", err)
	}

	pending, found, err := s.cache.GetPending(ctx, req.IntentID)
	if err != nil {
		return domain.CheckoutResponse{}, t.fail(domain.TxPaymentFailed, ErrPaymentFailed, "payment state unavailable", err)
	}
	if !found {
		return domain.CheckoutResponse{}, t.fail(domain.TxPaymentFailed, ErrPaymentFailed, "payment window expired or already processed", nil)
	}
	t.ref = pending.OrderNumber

	details := domain.PaymentDetails{
		Method:           pending.Method,
		Amount:           pending.Totals.Total,
		Currency:         pending.Currency,
		Status:           domain.PaymentPaid,
		GatewayIntentID:  req.IntentID,
		GatewayPaymentID: req.PaymentID,
		UpfrontAmount:    pending.Totals.Total,
		DeferredAmount:   decimal.Zero,
	}
	status := domain.OrderConfirmed
	if pending.Method == domain.PaymentHybrid && pending.Hybrid != nil {
		details.Amount = pending.Hybrid.FinalTotal
		details.Status = domain.PaymentPartial
		details.UpfrontAmount = pending.Hybrid.Upfront
		details.DeferredAmount = pending.Hybrid.Deferred
		status = domain.OrderPending
	}

	t.advance(domain.TxCommitting)
	resp, err := s.commitOrder(ctx, t, *pending, details, status)
	if err != nil {
		return resp, err
	}
	if _, _, err := s.cache.ClaimPending(ctx, req.IntentID); err != nil {
		log.Printf("[cache] WARN: clear pending checkout failed intent=%s: %v", req.IntentID, err)
	}
	return resp, nil
}

// CancelPayment drops a parked checkout owned by the caller. Nothing was
// persisted for it, so there is nothing to undo.
func (s *Service) CancelPayment(ctx context.Context, intentID string) (domain.CheckoutResponse, error) {
	t := newTxn("checkout")
	t.ref = intentID
	t.advance(domain.TxAwaitingPayment)

	parked, found, err := s.cache.GetPending(ctx, intentID)
	if err != nil {
		return domain.CheckoutResponse{}, t.fail(domain.TxPaymentFailed, ErrPaymentFailed, "payment state unavailable", err)
	}
	if found && parked.CustomerUsername != actorName(ctx) {
		return domain.CheckoutResponse{}, store.ErrNotFound
	}

	pending, found, err := s.cache.ClaimPending(ctx, intentID)
	if err != nil {
		return domain.CheckoutResponse{}, t.fail(domain.TxPaymentFailed, ErrPaymentFailed, "payment state unavailable", err)
	}
	resp := domain.CheckoutResponse{Status: string(domain.TxPaymentFailed), State: domain.TxPaymentFailed}
	if found {
		resp.OrderNumber = pending.OrderNumber
		resp.Totals = pending.Totals
		resp.Hybrid = pending.Hybrid
		s.logAudit(ctx, "checkout_cancel", "order", pending.OrderNumber, fmt.Sprintf("intent=%s", intentID))
	}
	return resp, t.fail(domain.TxPaymentFailed, ErrPaymentCancelled, "payment cancelled by customer", nil)
}

// commitOrder runs Committing -> Persisted -> StockAdjusted -> Notified. A
// decrement that fails after the order is stored does not fail the checkout.
func (s *Service) commitOrder(ctx context.Context, t *txn, p domain.PendingCheckout, details domain.PaymentDetails, status domain.OrderStatus) (domain.CheckoutResponse, error) {
	now := s.now()
	order := domain.Order{
		ID:                    xid.New("ord"),
		OrderNumber:           p.OrderNumber,
		IdempotencyKey:        p.IdempotencyKey,
		CustomerUsername:      p.CustomerUsername,
		Items:                 p.Lines,
		Shipping:              p.Shipping,
		Payment:               details,
		Subtotal:              p.Totals.Subtotal,
		DeliveryFee:           p.Totals.DeliveryFee,
		ProtectionFee:         p.Totals.ProtectionFee,
		Discount:              decimal.Zero,
		OrderTotal:            orderTotal(p.Totals, p.Hybrid),
		Status:                status,
		EstimatedDeliveryDate: now.AddDate(0, 0, s.opts.DeliveryDays),
		DeliveryDetails:       []domain.DeliveryEntry{{Status: status, Note: "order placed", At: now}},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if p.Hybrid != nil {
		order.Discount = p.Hybrid.Discount
	}

	saved, created, err := s.createOrder(ctx, order)
	if err != nil {
		log.Printf("[orchestrator] ERROR: persist order failed order=%s intent=%s: %v", order.OrderNumber, details.GatewayIntentID, err)
		return domain.CheckoutResponse{}, t.fail(domain.TxPersistFailed, ErrPersistFailed, "order could not be saved", err)
	}
	if !created {
		return toCheckoutResponse(*saved, true, domain.TxNotified), nil
	}
	t.ref = saved.OrderNumber
	t.advance(domain.TxPersisted)

	discrepancies := s.adjustStock(ctx, *saved)
	s.invalidateSnapshots(ctx, productIDs(saved.Items)...)

	if len(discrepancies) > 0 {
		t.advance(domain.TxStockAdjustFailed)
		s.notifier.SendAdminAlert(ctx, *saved, "stock adjustment failed after order was saved", discrepancies)
	} else {
		t.advance(domain.TxStockAdjusted)
	}

	s.notifier.SendOrderConfirmation(ctx, *saved)
	s.logAudit(ctx, "checkout", "order", saved.OrderNumber, fmt.Sprintf("total=%s,method=%s,payment=%s", saved.OrderTotal.StringFixed(2), saved.Payment.Method, saved.Payment.Status))
	if t.state == domain.TxStockAdjusted {
		t.advance(domain.TxNotified)
	}

	if p.CartID != "" {
		if err := s.cache.DeleteCart(ctx, p.CartID); err != nil {
			log.Printf("[cache] WARN: clear cart failed cart=%s: %v", p.CartID, err)
		}
	}

	return toCheckoutResponse(*saved, false, t.state), nil
}

// createOrder retries with a fresh number on the rare number collision.
// created is false when the idempotency key matched an existing order.
func (s *Service) createOrder(ctx context.Context, order domain.Order) (*domain.Order, bool, error) {
	var lastErr error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		saved, err := s.repo.CreateOrder(ctx, order)
		if err == nil {
			return saved, saved.ID == order.ID, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, false, err
		}
		lastErr = err
		order.OrderNumber = xid.Number("ORD", s.now())
	}
	return nil, false, lastErr
}

// adjustStock decrements every line and records what it could not.
func (s *Service) adjustStock(ctx context.Context, order domain.Order) []domain.StockDiscrepancy {
	var discrepancies []domain.StockDiscrepancy
	for _, item := range order.Items {
		err := s.repo.DecrementStock(ctx, item.ProductID, item.Size, item.Quantity)
		if err == nil {
			continue
		}
		log.Printf("[orchestrator] WARN: stock adjust failed order=%s product=%s size=%s qty=%d: %v", order.OrderNumber, item.ProductID, item.Size, item.Quantity, err)

		entry := domain.StockDiscrepancy{
			ID:         xid.New("disc"),
			SourceType: "order",
			SourceID:   order.OrderNumber,
			ProductID:  item.ProductID,
			Size:       item.Size,
			Quantity:   item.Quantity,
			Reason:     err.Error(),
			CreatedAt:  s.now(),
		}
		if err := s.repo.CreateStockDiscrepancy(ctx, entry); err != nil {
			log.Printf("[orchestrator] ERROR: record discrepancy failed order=%s product=%s: %v", order.OrderNumber, item.ProductID, err)
		}
		discrepancies = append(discrepancies, entry)
	}
	return discrepancies
}

// checkoutLines resolves the request to raw lines: either the cart session or
// a single direct item, never both.
func (s *Service) checkoutLines(ctx context.Context, t *txn, req domain.CheckoutRequest) ([]domain.LineItem, error) {
	req.CartID = strings.TrimSpace(req.CartID)
	switch {
	case req.CartID != "" && req.Item != nil:
		return nil, t.reject("use either cart_id or item, not both", nil)
	case req.Item != nil:
		return []domain.LineItem{{
			ProductID: strings.TrimSpace(req.Item.ProductID),
			Size:      req.Item.Size,
			Quantity:  req.Item.Quantity,
		}}, nil
	case req.CartID != "":
		c, err := s.loadCart(ctx, req.CartID)
		if err != nil {
			return nil, t.reject("cart not found", err)
		}
		if len(c.Lines) == 0 {
			return nil, t.reject("cart is empty", nil)
		}
		return c.Lines, nil
	default:
		return nil, t.reject("cart_id or item is required", nil)
	}
}

func (s *Service) GetOrder(ctx context.Context, orderNumber string) (domain.Order, error) {
	order, err := s.repo.GetOrderByNumber(ctx, strings.TrimSpace(orderNumber))
	if err != nil {
		return domain.Order{}, err
	}
	actor, ok := ActorFromContext(ctx)
	if ok && actor.Role == domain.RoleCustomer && order.CustomerUsername != actor.Username {
		return domain.Order{}, store.ErrNotFound
	}
	return *order, nil
}

// UpdateOrderStatus moves an order along its lifecycle and appends to the
// delivery log. Cancelling does not restock; that is a manual admin step.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderNumber string, req domain.OrderStatusUpdateRequest) (domain.Order, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Order{}, err
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, store.ErrInvalidTransaction
	}

	entry := domain.DeliveryEntry{Status: req.Status, Note: strings.TrimSpace(req.Note), At: s.now()}
	updated, err := s.repo.UpdateOrderStatus(ctx, orderNumber, req.Status, entry)
	if err != nil {
		return domain.Order{}, err
	}
	s.logAudit(ctx, "order_status", "order", updated.OrderNumber, fmt.Sprintf("status=%s", updated.Status))
	return *updated, nil
}

func orderTotal(totals domain.CheckoutTotals, hybrid *domain.HybridSplit) decimal.Decimal {
	if hybrid != nil {
		return hybrid.FinalTotal
	}
	return totals.Total
}

func toCheckoutResponse(order domain.Order, duplicate bool, state domain.TxState) domain.CheckoutResponse {
	return domain.CheckoutResponse{
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: order.Payment.Status,
		Totals: domain.CheckoutTotals{
			Subtotal:      order.Subtotal,
			ItemCount:     itemCount(order.Items),
			DeliveryFee:   order.DeliveryFee,
			ProtectionFee: order.ProtectionFee,
			Total:         order.Subtotal.Add(order.DeliveryFee).Add(order.ProtectionFee),
		},
		OrderTotal: order.OrderTotal,
		Duplicate:  duplicate,
		State:      state,
	}
}

func itemCount(items []domain.LineItem) int {
	count := 0
	for _, item := range items {
		count += item.Quantity
	}
	return count
}
