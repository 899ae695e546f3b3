// Package receipt renders POS bills for thermal printers.
package receipt

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/backend/internal/domain"
)

const width = 32

var (
	escInit    = []byte{0x1b, 0x40}
	escCut     = []byte{0x1d, 0x56, 0x41, 0x10}
	drawerKick = []byte{0x1b, 0x70, 0x00, 0x19, 0xfa}
)

type Options struct {
	StoreName string
	Currency  string
}

// Lines is the human-readable body of the receipt.
func Lines(bill domain.Bill, opts Options) []string {
	rule := strings.Repeat("=", width)
	thin := strings.Repeat("-", width)

	lines := []string{
		center(opts.StoreName),
		rule,
		"Bill: " + bill.BillNumber,
		"Date: " + bill.CreatedAt.Format("2006-01-02 15:04:05"),
		"Cashier: " + bill.CashierUsername,
	}
	if bill.Customer.Name != "" {
		lines = append(lines, "Customer: "+bill.Customer.Name)
	}
	lines = append(lines, thin)
	for _, item := range bill.Items {
		name := item.Name
		if item.Size != "" {
			name = fmt.Sprintf("%s (%s)", name, item.Size)
		}
		lines = append(lines, fmt.Sprintf("%s x%d", name, item.Quantity))
		lines = append(lines, amountRow("", item.LineTotal(), opts.Currency))
	}
	lines = append(lines,
		thin,
		amountRow("Subtotal", bill.Subtotal, opts.Currency),
		amountRow(fmt.Sprintf("Discount %d%%", bill.DiscountPercent), bill.DiscountAmount, opts.Currency),
		amountRow("GST incl.", bill.TaxAmount, opts.Currency),
		amountRow("Total", bill.Total, opts.Currency),
	)
	switch bill.PaymentMethod {
	case domain.PaymentCash:
		lines = append(lines,
			amountRow("Cash", bill.CashReceived, opts.Currency),
			amountRow("Change", bill.Change, opts.Currency),
		)
	case domain.PaymentSplitMethod:
		for _, split := range bill.PaymentSplits {
			lines = append(lines, amountRow("Paid "+strings.ToUpper(string(split.Method)), split.Amount, opts.Currency))
		}
	default:
		lines = append(lines, "Paid by "+strings.ToUpper(string(bill.PaymentMethod)))
		if bill.PaymentReference != "" {
			lines = append(lines, "Ref: "+bill.PaymentReference)
		}
	}
	lines = append(lines, rule, center("Thank you"), "")
	return lines
}

// Escpos wraps the receipt body in printer init and partial-cut commands.
// Cash bills also kick the drawer.
func Escpos(bill domain.Bill, opts Options) []byte {
	out := append([]byte(nil), escInit...)
	for _, line := range Lines(bill, opts) {
		out = append(out, []byte(line)...)
		out = append(out, '\n')
	}
	out = append(out, escCut...)
	if bill.PaymentMethod == domain.PaymentCash || bill.PaymentMethod == domain.PaymentSplitMethod {
		out = append(out, drawerKick...)
	}
	return out
}

func Render(bill domain.Bill, opts Options) domain.ReceiptResponse {
	return domain.ReceiptResponse{
		BillNumber:   bill.BillNumber,
		EscposBase64: base64.StdEncoding.EncodeToString(Escpos(bill, opts)),
		PreviewText:  strings.Join(Lines(bill, opts), "\n"),
		FileName:     fmt.Sprintf("receipt-%s.bin", bill.BillNumber),
	}
}

func amountRow(label string, amount decimal.Decimal, currency string) string {
	value := fmt.Sprintf("%s %s", currency, amount.StringFixed(2))
	pad := width - len(label) - len(value)
	if pad < 1 {
		pad = 1
	}
	return label + strings.Repeat(" ", pad) + value
}

func center(text string) string {
	if len(text) >= width {
		return text
	}
	return strings.Repeat(" ", (width-len(text))/2) + text
}
