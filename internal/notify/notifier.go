package notify

import (
	"context"
	"encoding/json"
	"log"

	"storefront/backend/internal/domain"
)

type Publisher interface {
	Publish(ev Event) bool
}

// AdminAlert is the payload for EventAdminAlert.
type AdminAlert struct {
	OrderNumber   string                    `json:"order_number"`
	Reason        string                    `json:"reason"`
	Order         domain.Order              `json:"order"`
	Discrepancies []domain.StockDiscrepancy `json:"discrepancies,omitempty"`
}

// Notifier is the fire-and-forget side of the orchestrator. None of its
// methods report failure to the caller.
type Notifier struct {
	pub      Publisher
	producer string
}

func NewNotifier(pub Publisher, producer string) *Notifier {
	return &Notifier{pub: pub, producer: producer}
}

func (n *Notifier) SendOrderConfirmation(ctx context.Context, order domain.Order) {
	n.publish(ctx, EventOrderConfirmed, order.OrderNumber, order)
}

func (n *Notifier) SendAdminAlert(ctx context.Context, order domain.Order, reason string, discrepancies []domain.StockDiscrepancy) {
	n.publish(ctx, EventAdminAlert, order.OrderNumber, AdminAlert{
		OrderNumber:   order.OrderNumber,
		Reason:        reason,
		Order:         order,
		Discrepancies: discrepancies,
	})
}

func (n *Notifier) BillCreated(ctx context.Context, bill domain.Bill) {
	n.publish(ctx, EventBillCreated, bill.BillNumber, bill)
}

func (n *Notifier) PurchaseOrderReceived(ctx context.Context, po domain.PurchaseOrder) {
	n.publish(ctx, EventPurchaseOrderReceived, po.ID, po)
}

func (n *Notifier) ActivityLogged(ctx context.Context, entry domain.AuditLog) {
	n.publish(ctx, EventActivityLogged, entry.EntityID, entry)
}

func (n *Notifier) publish(ctx context.Context, eventType string, correlationID string, payload any) {
	if n == nil || n.pub == nil {
		return
	}
	ev, err := NewEvent(ctx, eventType, n.producer, correlationID, payload)
	if err != nil {
		log.Printf("[notify] WARN: encode %s %s: %v", eventType, correlationID, err)
		return
	}
	n.pub.Publish(ev)
}

func encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
