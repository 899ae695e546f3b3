package domain

type ProductLifecycle string

const (
	ProductActive  ProductLifecycle = "active"
	ProductHidden  ProductLifecycle = "hidden"
	ProductDeleted ProductLifecycle = "deleted"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

var orderNext = map[OrderStatus]map[OrderStatus]bool{
	OrderPending:   {OrderConfirmed: true, OrderCancelled: true},
	OrderConfirmed: {OrderShipped: true, OrderCancelled: true},
	OrderShipped:   {OrderDelivered: true},
	OrderDelivered: {},
	OrderCancelled: {},
}

func CanTransitionOrder(from, to OrderStatus) bool {
	return orderNext[from][to]
}

type PurchaseOrderStatus string

const (
	PODraft     PurchaseOrderStatus = "draft"
	POSent      PurchaseOrderStatus = "sent"
	POConfirmed PurchaseOrderStatus = "confirmed"
	POReceived  PurchaseOrderStatus = "received"
	POCancelled PurchaseOrderStatus = "cancelled"
)

var purchaseOrderNext = map[PurchaseOrderStatus]map[PurchaseOrderStatus]bool{
	PODraft:     {POSent: true, POCancelled: true},
	POSent:      {POConfirmed: true, POCancelled: true},
	POConfirmed: {POReceived: true, POCancelled: true},
	POReceived:  {},
	POCancelled: {},
}

func CanTransitionPurchaseOrder(from, to PurchaseOrderStatus) bool {
	return purchaseOrderNext[from][to]
}

type PaymentMethod string

const (
	// storefront checkout
	PaymentGateway PaymentMethod = "gateway"
	PaymentCOD     PaymentMethod = "cod"
	PaymentHybrid  PaymentMethod = "hybrid"

	// in-store POS
	PaymentCash        PaymentMethod = "cash"
	PaymentCard        PaymentMethod = "card"
	PaymentUPI         PaymentMethod = "upi"
	PaymentSplitMethod PaymentMethod = "split"
)

func (m PaymentMethod) IsCheckoutMethod() bool {
	switch m {
	case PaymentGateway, PaymentCOD, PaymentHybrid:
		return true
	default:
		return false
	}
}

func (m PaymentMethod) IsSaleMethod() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentUPI, PaymentSplitMethod:
		return true
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentPartial PaymentStatus = "partial"
)

// TxState is a step of a checkout or sale as it moves through the
// orchestrator.
type TxState string

const (
	TxValidating        TxState = "validating"
	TxAwaitingPayment   TxState = "awaiting_payment"
	TxCommitting        TxState = "committing"
	TxPersisted         TxState = "persisted"
	TxStockAdjusted     TxState = "stock_adjusted"
	TxNotified          TxState = "notified"
	TxValidationFailed  TxState = "validation_failed"
	TxPaymentFailed     TxState = "payment_failed"
	TxPersistFailed     TxState = "persist_failed"
	TxStockAdjustFailed TxState = "stock_adjust_failed"
)

var txNext = map[TxState]map[TxState]bool{
	TxValidating:        {TxAwaitingPayment: true, TxCommitting: true, TxValidationFailed: true, TxPersistFailed: true},
	TxAwaitingPayment:   {TxCommitting: true, TxPaymentFailed: true},
	TxCommitting:        {TxPersisted: true, TxPersistFailed: true, TxValidationFailed: true},
	TxPersisted:         {TxStockAdjusted: true, TxStockAdjustFailed: true},
	TxStockAdjusted:     {TxNotified: true},
	TxNotified:          {},
	TxValidationFailed:  {},
	TxPaymentFailed:     {},
	TxPersistFailed:     {},
	TxStockAdjustFailed: {},
}

func CanAdvance(from, to TxState) bool {
	return txNext[from][to]
}
