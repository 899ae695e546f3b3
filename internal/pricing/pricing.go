// Package pricing computes cart, checkout and hybrid payment totals. Every
// function is pure: identical inputs always produce identical outputs.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"storefront/backend/internal/domain"
)

var ErrInvalidAmount = errors.New("invalid amount")

var (
	gstDivisor         = decimal.RequireFromString("1.18")
	freeDeliveryAt     = decimal.NewFromInt(999)
	deliveryFee        = decimal.NewFromInt(50)
	protectionPerItem  = decimal.NewFromInt(9)
	hybridDiscountRate = decimal.RequireFromString("0.05")
	hybridUpfrontRate  = decimal.RequireFromString("0.20")
	hundred            = decimal.NewFromInt(100)
)

// SupportedDiscountTiers are the POS discount percentages.
var SupportedDiscountTiers = []int{0, 5, 10}

func SupportedDiscountTier(percent int) bool {
	for _, tier := range SupportedDiscountTiers {
		if tier == percent {
			return true
		}
	}
	return false
}

// Subtotal sums unit price times quantity across items.
func Subtotal(items []domain.LineItem) (decimal.Decimal, int, error) {
	subtotal := decimal.Zero
	count := 0
	for _, item := range items {
		if item.Quantity < 1 {
			return decimal.Zero, 0, fmt.Errorf("%w: quantity for %s must be at least 1", ErrInvalidAmount, item.ProductID)
		}
		if item.UnitPrice.IsNegative() {
			return decimal.Zero, 0, fmt.Errorf("%w: negative unit price for %s", ErrInvalidAmount, item.ProductID)
		}
		subtotal = subtotal.Add(item.LineTotal())
		count += item.Quantity
	}
	return subtotal, count, nil
}

// CartTotals applies a percentage discount and back-calculates the GST
// contained in the discounted amount. Tax is reported, never added.
func CartTotals(items []domain.LineItem, discountPercent int) (domain.CartTotals, error) {
	if discountPercent < 0 || discountPercent > 100 {
		return domain.CartTotals{}, fmt.Errorf("%w: discount percent %d out of range", ErrInvalidAmount, discountPercent)
	}
	subtotal, _, err := Subtotal(items)
	if err != nil {
		return domain.CartTotals{}, err
	}
	return inclusiveTotals(subtotal, discountPercent), nil
}

func inclusiveTotals(subtotal decimal.Decimal, discountPercent int) domain.CartTotals {
	discount := subtotal.Mul(decimal.NewFromInt(int64(discountPercent))).Div(hundred).Round(2)
	after := subtotal.Sub(discount)
	base := after.DivRound(gstDivisor, 2)

	return domain.CartTotals{
		Subtotal:        subtotal,
		DiscountPercent: discountPercent,
		DiscountAmount:  discount,
		AfterDiscount:   after,
		TaxableBase:     base,
		TaxAmount:       after.Sub(base),
		Total:           after,
	}
}

// CheckoutTotals adds delivery and per-item protection fees to the subtotal.
func CheckoutTotals(items []domain.LineItem) (domain.CheckoutTotals, error) {
	subtotal, count, err := Subtotal(items)
	if err != nil {
		return domain.CheckoutTotals{}, err
	}

	delivery := deliveryFee
	if subtotal.GreaterThanOrEqual(freeDeliveryAt) {
		delivery = decimal.Zero
	}
	protection := protectionPerItem.Mul(decimal.NewFromInt(int64(count)))

	return domain.CheckoutTotals{
		Subtotal:      subtotal,
		ItemCount:     count,
		DeliveryFee:   delivery,
		ProtectionFee: protection,
		Total:         subtotal.Add(delivery).Add(protection),
	}, nil
}

// Hybrid splits a checkout total into a discounted upfront gateway payment and
// a deferred cash-on-delivery remainder. Deferred is never rounded on its own,
// so Upfront + Deferred == FinalTotal.
func Hybrid(total decimal.Decimal) (domain.HybridSplit, error) {
	if total.IsNegative() {
		return domain.HybridSplit{}, fmt.Errorf("%w: %s", ErrInvalidAmount, total.String())
	}

	discount := total.Mul(hybridDiscountRate).Round(0)
	final := total.Sub(discount)
	upfront := final.Mul(hybridUpfrontRate).Round(0)

	return domain.HybridSplit{
		Total:      total,
		Discount:   discount,
		FinalTotal: final,
		Upfront:    upfront,
		Deferred:   final.Sub(upfront),
	}, nil
}

// MinorUnits converts a currency amount to integer paise for the gateway.
func MinorUnits(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, amount.String())
	}
	return amount.Mul(hundred).Round(0).IntPart(), nil
}
