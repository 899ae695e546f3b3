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
	"storefront/backend/internal/pricing"
	"storefront/backend/internal/receipt"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

func (s *Service) QuoteSale(ctx context.Context, req domain.SaleQuoteRequest) (domain.CartTotals, error) {
	if _, err := requireRole(ctx, domain.RoleCashier, domain.RoleAdmin); err != nil {
		return domain.CartTotals{}, err
	}
	t := newTxn("quote")
	if !pricing.SupportedDiscountTier(req.DiscountPercent) {
		return domain.CartTotals{}, t.reject(fmt.Sprintf("unsupported discount %d%%", req.DiscountPercent), pricing.ErrInvalidAmount)
	}
	lines, err := s.validateLines(ctx, t, saleLines(req.Items))
	if err != nil {
		return domain.CartTotals{}, err
	}
	totals, err := pricing.CartTotals(lines, req.DiscountPercent)
	if err != nil {
		return domain.CartTotals{}, t.reject(err.Error(), err)
	}
	return totals, nil
}

// SubmitSale records an in-store sale. The bill and every stock decrement are
// written in one storage transaction, so Persisted and StockAdjusted are
// reached together or not at all.
func (s *Service) SubmitSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	actor, err := requireRole(ctx, domain.RoleCashier, domain.RoleAdmin)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	t := newTxn("sale")

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	req.PaymentSplits = normalizePaymentSplits(req.PaymentSplits)
	if len(req.PaymentSplits) > 0 {
		req.PaymentMethod = domain.PaymentSplitMethod
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	if !req.PaymentMethod.IsSaleMethod() {
		return domain.SaleResponse{}, t.reject(fmt.Sprintf("unsupported payment method %q", req.PaymentMethod), nil)
	}
	if !pricing.SupportedDiscountTier(req.DiscountPercent) {
		return domain.SaleResponse{}, t.reject(fmt.Sprintf("unsupported discount %d%%", req.DiscountPercent), pricing.ErrInvalidAmount)
	}

	if existing, err := s.repo.FindBillByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return toSaleResponse(*existing, true, domain.TxNotified), nil
	} else if !isNotFound(err) {
		return domain.SaleResponse{}, t.fail(domain.TxPersistFailed, ErrPersistFailed, "idempotency lookup failed", err)
	}

	lines, err := s.validateLines(ctx, t, saleLines(req.Items))
	if err != nil {
		return domain.SaleResponse{}, err
	}
	totals, err := pricing.CartTotals(lines, req.DiscountPercent)
	if err != nil {
		return domain.SaleResponse{}, t.reject(err.Error(), err)
	}

	change := decimal.Zero
	switch req.PaymentMethod {
	case domain.PaymentCash:
		if req.CashReceived.LessThan(totals.Total) {
			return domain.SaleResponse{}, t.reject(fmt.Sprintf("cash received %s is less than total %s", req.CashReceived.StringFixed(2), totals.Total.StringFixed(2)), pricing.ErrInvalidAmount)
		}
		change = req.CashReceived.Sub(totals.Total)
	case domain.PaymentSplitMethod:
		if err := validateSplits(req.PaymentSplits, totals.Total); err != nil {
			return domain.SaleResponse{}, t.reject(err.Error(), err)
		}
		req.CashReceived = totals.Total
	default:
		if strings.TrimSpace(req.PaymentReference) == "" {
			return domain.SaleResponse{}, t.reject("payment reference is required for "+string(req.PaymentMethod), nil)
		}
		req.CashReceived = totals.Total
	}

	now := s.now()
	bill := domain.Bill{
		ID:               xid.New("bill"),
		BillNumber:       xid.Number("BILL", now),
		IdempotencyKey:   req.IdempotencyKey,
		Items:            lines,
		Customer:         normalizeCustomer(req.Customer),
		Subtotal:         totals.Subtotal,
		DiscountPercent:  totals.DiscountPercent,
		DiscountAmount:   totals.DiscountAmount,
		TaxAmount:        totals.TaxAmount,
		Total:            totals.Total,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: strings.TrimSpace(req.PaymentReference),
		PaymentSplits:    req.PaymentSplits,
		CashReceived:     req.CashReceived,
		Change:           change,
		CashierUsername:  actor.Username,
		CreatedAt:        now,
	}
	t.ref = bill.BillNumber
	t.advance(domain.TxCommitting)

	saved, created, err := s.createBill(ctx, bill)
	switch {
	case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrUnknownSize), errors.Is(err, store.ErrNotFound):
		return domain.SaleResponse{}, t.reject(err.Error(), err)
	case err != nil:
		log.Printf("[orchestrator] ERROR: persist bill failed bill=%s: %v", bill.BillNumber, err)
		return domain.SaleResponse{}, t.fail(domain.TxPersistFailed, ErrPersistFailed, "bill could not be saved", err)
	}
	if !created {
		return toSaleResponse(*saved, true, domain.TxNotified), nil
	}
	t.ref = saved.BillNumber
	t.advance(domain.TxPersisted)
	t.advance(domain.TxStockAdjusted)

	s.invalidateSnapshots(ctx, productIDs(saved.Items)...)
	s.notifier.BillCreated(ctx, *saved)
	s.logAudit(ctx, "sale", "bill", saved.BillNumber, fmt.Sprintf("total=%s,payment=%s,discount=%d,split_count=%d", saved.Total.StringFixed(2), saved.PaymentMethod, saved.DiscountPercent, len(saved.PaymentSplits)))
	t.advance(domain.TxNotified)

	return toSaleResponse(*saved, false, t.state), nil
}

func (s *Service) createBill(ctx context.Context, bill domain.Bill) (*domain.Bill, bool, error) {
	var lastErr error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		saved, err := s.repo.CreateBill(ctx, bill)
		if err == nil {
			return saved, saved.BillNumber == bill.BillNumber, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, false, err
		}
		lastErr = err
		bill.BillNumber = xid.Number("BILL", s.now())
	}
	return nil, false, lastErr
}

func (s *Service) GetBill(ctx context.Context, billNumber string) (domain.Bill, error) {
	if _, err := requireRole(ctx, domain.RoleCashier, domain.RoleAdmin); err != nil {
		return domain.Bill{}, err
	}
	bill, err := s.repo.GetBillByNumber(ctx, strings.TrimSpace(billNumber))
	if err != nil {
		return domain.Bill{}, err
	}
	return *bill, nil
}

// BillReceipt renders a stored bill for reprinting.
func (s *Service) BillReceipt(ctx context.Context, billNumber string) (domain.ReceiptResponse, error) {
	bill, err := s.GetBill(ctx, billNumber)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	return receipt.Render(bill, s.receiptOptions()), nil
}

func saleLines(items []domain.SaleItem) []domain.LineItem {
	lines := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.LineItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Size:      item.Size,
			Quantity:  item.Quantity,
		})
	}
	return lines
}

func normalizeCustomer(c domain.CustomerInfo) domain.CustomerInfo {
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Email = strings.TrimSpace(c.Email)
	if c.Name == "" {
		c.Name = "Walk-in"
	}
	return c
}

func normalizePaymentSplits(splits []domain.PaymentSplit) []domain.PaymentSplit {
	if len(splits) == 0 {
		return nil
	}
	out := make([]domain.PaymentSplit, 0, len(splits))
	for _, split := range splits {
		split.Method = domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(split.Method))))
		split.Reference = strings.TrimSpace(split.Reference)
		out = append(out, split)
	}
	return out
}

// validateSplits requires at least two parts that add up to the total exactly.
// Non-cash parts carry a reference.
func validateSplits(splits []domain.PaymentSplit, total decimal.Decimal) error {
	if len(splits) < 2 {
		return fmt.Errorf("%w: split payment needs at least two parts", pricing.ErrInvalidAmount)
	}
	sum := decimal.Zero
	for _, split := range splits {
		switch split.Method {
		case domain.PaymentCash, domain.PaymentCard, domain.PaymentUPI:
		default:
			return fmt.Errorf("%w: unsupported split method %q", pricing.ErrInvalidAmount, split.Method)
		}
		if !split.Amount.IsPositive() {
			return fmt.Errorf("%w: split amount must be positive", pricing.ErrInvalidAmount)
		}
		if split.Method != domain.PaymentCash && split.Reference == "" {
			return fmt.Errorf("%w: %s split needs a reference", pricing.ErrInvalidAmount, split.Method)
		}
		sum = sum.Add(split.Amount)
	}
	if !sum.Equal(total) {
		return fmt.Errorf("%w: splits add up to %s, total is %s", pricing.ErrInvalidAmount, sum.StringFixed(2), total.StringFixed(2))
	}
	return nil
}

func toSaleResponse(bill domain.Bill, duplicate bool, state domain.TxState) domain.SaleResponse {
	after := bill.Subtotal.Sub(bill.DiscountAmount)
	return domain.SaleResponse{
		BillNumber: bill.BillNumber,
		Totals: domain.CartTotals{
			Subtotal:        bill.Subtotal,
			DiscountPercent: bill.DiscountPercent,
			DiscountAmount:  bill.DiscountAmount,
			AfterDiscount:   after,
			TaxableBase:     after.Sub(bill.TaxAmount),
			TaxAmount:       bill.TaxAmount,
			Total:           bill.Total,
		},
		Total:         bill.Total,
		PaymentMethod: bill.PaymentMethod,
		CashReceived:  bill.CashReceived,
		Change:        bill.Change,
		Duplicate:     duplicate,
		CreatedAt:     bill.CreatedAt.Format(time.RFC3339),
		State:         state,
	}
}
