package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID             string           `json:"id"`
	ItemID         string           `json:"item_id"`
	Name           string           `json:"name"`
	Price          decimal.Decimal  `json:"price"`
	CostPrice      decimal.Decimal  `json:"cost_price"`
	AvailableSizes []string         `json:"available_sizes"`
	SizeStock      map[string]int   `json:"size_stock,omitempty"`
	CurrentStock   int              `json:"current_stock"`
	InStock        bool             `json:"in_stock"`
	Lifecycle      ProductLifecycle `json:"lifecycle"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (p Product) IsSized() bool {
	return len(p.AvailableSizes) > 0
}

func (p Product) HasSize(size string) bool {
	for _, s := range p.AvailableSizes {
		if s == size {
			return true
		}
	}
	return false
}

// RecomputeStock derives CurrentStock and InStock from SizeStock for sized
// products. Unsized products keep their flat CurrentStock.
func (p *Product) RecomputeStock() {
	if p.IsSized() {
		total := 0
		for _, size := range p.AvailableSizes {
			total += p.SizeStock[size]
		}
		p.CurrentStock = total
	}
	p.InStock = p.CurrentStock > 0
}

type ProductCreateRequest struct {
	ItemID         string          `json:"item_id"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	AvailableSizes []string        `json:"available_sizes"`
	SizeStock      map[string]int  `json:"size_stock"`
	InitialStock   int             `json:"initial_stock"`
}

type StockResponse struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
}

type RestockRequest struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

type StockAdjustment struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
}

type LineItem struct {
	ProductID string          `json:"product_id"`
	ItemID    string          `json:"item_id"`
	Name      string          `json:"name"`
	Size      string          `json:"size,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (l LineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LineKey identifies a cart line. Empty Size means an unsized product.
type LineKey struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size,omitempty"`
}

type Cart struct {
	ID        string     `json:"id"`
	Owner     string     `json:"owner,omitempty"`
	Lines     []LineItem `json:"lines"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CartAddRequest struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
}

type CartQuantityRequest struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Delta     int    `json:"delta"`
}

type CartResponse struct {
	Cart    Cart           `json:"cart"`
	Totals  CheckoutTotals `json:"totals"`
	Warning string         `json:"warning,omitempty"`
}

type CartTotals struct {
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountPercent int             `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	AfterDiscount   decimal.Decimal `json:"after_discount"`
	TaxableBase     decimal.Decimal `json:"taxable_base"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	Total           decimal.Decimal `json:"total"`
}

type CheckoutTotals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	ItemCount     int             `json:"item_count"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee"`
	ProtectionFee decimal.Decimal `json:"protection_fee"`
	Total         decimal.Decimal `json:"total"`
}

type HybridSplit struct {
	Total      decimal.Decimal `json:"total"`
	Discount   decimal.Decimal `json:"discount"`
	FinalTotal decimal.Decimal `json:"final_total"`
	Upfront    decimal.Decimal `json:"upfront"`
	Deferred   decimal.Decimal `json:"deferred"`
}

type ShippingDetails struct {
	FullName     string `json:"full_name"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
}

// MissingFields lists required shipping fields that are blank.
func (s ShippingDetails) MissingFields() []string {
	missing := make([]string, 0, 4)
	required := []struct {
		name  string
		value string
	}{
		{"full_name", s.FullName},
		{"phone", s.Phone},
		{"address_line1", s.AddressLine1},
		{"city", s.City},
		{"state", s.State},
		{"postal_code", s.PostalCode},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

type PaymentDetails struct {
	Method           PaymentMethod   `json:"method"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           PaymentStatus   `json:"status"`
	GatewayIntentID  string          `json:"gateway_intent_id,omitempty"`
	GatewayPaymentID string          `json:"gateway_payment_id,omitempty"`
	UpfrontAmount    decimal.Decimal `json:"upfront_amount"`
	DeferredAmount   decimal.Decimal `json:"deferred_amount"`
}

type DeliveryEntry struct {
	Status OrderStatus `json:"status"`
	Note   string      `json:"note,omitempty"`
	At     time.Time   `json:"at"`
}

type Order struct {
	ID                    string          `json:"id"`
	OrderNumber           string          `json:"order_number"`
	IdempotencyKey        string          `json:"-"`
	CustomerUsername      string          `json:"customer_username,omitempty"`
	Items                 []LineItem      `json:"items"`
	Shipping              ShippingDetails `json:"shipping_details"`
	Payment               PaymentDetails  `json:"payment_details"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	DeliveryFee           decimal.Decimal `json:"delivery_fee"`
	ProtectionFee         decimal.Decimal `json:"protection_fee"`
	Discount              decimal.Decimal `json:"discount"`
	OrderTotal            decimal.Decimal `json:"order_total"`
	Status                OrderStatus     `json:"status"`
	EstimatedDeliveryDate time.Time       `json:"estimated_delivery_date"`
	DeliveryDetails       []DeliveryEntry `json:"delivery_details"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// DirectItem is a single "buy now" selection that bypasses the cart.
type DirectItem struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

type CheckoutRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	CartID         string          `json:"cart_id,omitempty"`
	Item           *DirectItem     `json:"item,omitempty"`
	Shipping       ShippingDetails `json:"shipping_details"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
}

type PaymentIntentInfo struct {
	IntentID    string `json:"intent_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	ExpiresAt   string `json:"expires_at"`
}

type CheckoutResponse struct {
	OrderNumber   string             `json:"order_number"`
	Status        string             `json:"status"`
	PaymentStatus PaymentStatus      `json:"payment_status,omitempty"`
	Totals        CheckoutTotals     `json:"totals"`
	Hybrid        *HybridSplit       `json:"hybrid,omitempty"`
	Intent        *PaymentIntentInfo `json:"payment_intent,omitempty"`
	OrderTotal    decimal.Decimal    `json:"order_total"`
	Duplicate     bool               `json:"duplicate"`
	State         TxState            `json:"-"`
}

type CheckoutQuoteResponse struct {
	Totals CheckoutTotals `json:"totals"`
	Hybrid HybridSplit    `json:"hybrid"`
}

type PaymentConfirmRequest struct {
	IntentID  string `json:"intent_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// PendingCheckout holds a validated checkout while the gateway round trip is
// outstanding. Nothing is persisted to the repository until it is confirmed.
type PendingCheckout struct {
	OrderNumber      string          `json:"order_number"`
	IdempotencyKey   string          `json:"idempotency_key"`
	CartID           string          `json:"cart_id,omitempty"`
	CustomerUsername string          `json:"customer_username,omitempty"`
	Lines            []LineItem      `json:"lines"`
	Shipping         ShippingDetails `json:"shipping_details"`
	Method           PaymentMethod   `json:"method"`
	Totals           CheckoutTotals  `json:"totals"`
	Hybrid           *HybridSplit    `json:"hybrid,omitempty"`
	IntentID         string          `json:"intent_id"`
	AmountMinor      int64           `json:"amount_minor"`
	Currency         string          `json:"currency"`
	CreatedAt        time.Time       `json:"created_at"`
}

type OrderStatusUpdateRequest struct {
	Status OrderStatus `json:"status"`
	Note   string      `json:"note"`
}

type CustomerInfo struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type PaymentSplit struct {
	Method    PaymentMethod   `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

type Bill struct {
	ID               string          `json:"id"`
	BillNumber       string          `json:"bill_number"`
	IdempotencyKey   string          `json:"-"`
	Items            []LineItem      `json:"items"`
	Customer         CustomerInfo    `json:"customer"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	DiscountPercent  int             `json:"discount_percent"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	Total            decimal.Decimal `json:"total"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PaymentSplits    []PaymentSplit  `json:"payment_splits,omitempty"`
	CashReceived     decimal.Decimal `json:"cash_received"`
	Change           decimal.Decimal `json:"change"`
	CashierUsername  string          `json:"cashier_username"`
	CreatedAt        time.Time       `json:"created_at"`
}

type SaleItem struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

type SaleRequest struct {
	IdempotencyKey   string          `json:"idempotency_key"`
	Items            []SaleItem      `json:"items"`
	Customer         CustomerInfo    `json:"customer"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PaymentSplits    []PaymentSplit  `json:"payment_splits,omitempty"`
	CashReceived     decimal.Decimal `json:"cash_received"`
	DiscountPercent  int             `json:"discount_percent"`
}

type SaleQuoteRequest struct {
	Items           []SaleItem `json:"items"`
	DiscountPercent int        `json:"discount_percent"`
}

type SaleResponse struct {
	BillNumber    string          `json:"bill_number"`
	Totals        CartTotals      `json:"totals"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CashReceived  decimal.Decimal `json:"cash_received"`
	Change        decimal.Decimal `json:"change"`
	Duplicate     bool            `json:"duplicate"`
	CreatedAt     string          `json:"created_at"`
	State         TxState         `json:"-"`
}

type ReceiptResponse struct {
	BillNumber   string `json:"bill_number"`
	EscposBase64 string `json:"escpos_base64"`
	PreviewText  string `json:"preview_text"`
	FileName     string `json:"file_name"`
}

type StockDiscrepancy struct {
	ID         string     `json:"id"`
	SourceType string     `json:"source_type"`
	SourceID   string     `json:"source_id"`
	ProductID  string     `json:"product_id"`
	Size       string     `json:"size,omitempty"`
	Quantity   int        `json:"quantity"`
	Reason     string     `json:"reason"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type PurchaseOrderItem struct {
	ProductID string          `json:"product_id"`
	Size      string          `json:"size,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type PurchaseOrder struct {
	ID         string              `json:"id"`
	SupplierID string              `json:"supplier_id"`
	Status     PurchaseOrderStatus `json:"status"`
	Total      decimal.Decimal     `json:"total"`
	Items      []PurchaseOrderItem `json:"items"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
	ReceivedAt *time.Time          `json:"received_at,omitempty"`
	ReceivedBy string              `json:"received_by,omitempty"`
}

type PurchaseOrderCreateRequest struct {
	SupplierID string              `json:"supplier_id"`
	Items      []PurchaseOrderItem `json:"items"`
}

type PurchaseOrderStatusRequest struct {
	Status PurchaseOrderStatus `json:"status"`
}

type PurchaseOrderReceiveRequest struct {
	ReceivedBy string `json:"received_by"`
}

type PurchaseOrderResponse struct {
	PurchaseOrder PurchaseOrder `json:"purchase_order"`
}

type PurchaseOrderReceiveResponse struct {
	Success       bool          `json:"success"`
	PurchaseOrder PurchaseOrder `json:"purchase_order"`
}

type PurchaseOrderListResponse struct {
	PurchaseOrders []PurchaseOrder `json:"purchase_orders"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin    = "admin"
	RoleCashier  = "cashier"
	RoleCustomer = "customer"
)

// NormalizeSize canonicalizes a size label so "m", " M " and "M" match.
func NormalizeSize(size string) string {
	return strings.ToUpper(strings.TrimSpace(size))
}
