package store

import (
	"context"
	"errors"
	"time"

	"storefront/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrUnknownSize        = errors.New("unknown size")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrAlreadyReceived    = errors.New("purchase order already received")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrDuplicate          = errors.New("duplicate record")
)

// StockLedger owns per-product, per-size counters. Every mutation is a single
// atomic check-and-update; callers never read-then-write stock themselves.
type StockLedger interface {
	GetStock(ctx context.Context, productID string, size string) (int, error)
	DecrementStock(ctx context.Context, productID string, size string, qty int) error
	IncrementStock(ctx context.Context, productID string, size string, qty int) error
}

type Repository interface {
	StockLedger

	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)

	FindOrderByIdempotency(ctx context.Context, key string) (*domain.Order, error)
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderNumber string, to domain.OrderStatus, entry domain.DeliveryEntry) (*domain.Order, error)

	FindBillByIdempotency(ctx context.Context, key string) (*domain.Bill, error)
	// CreateBill persists the bill and decrements stock for every item in one
	// storage transaction. On any shortfall nothing is written.
	CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	GetBillByNumber(ctx context.Context, billNumber string) (*domain.Bill, error)

	CreateStockDiscrepancy(ctx context.Context, entry domain.StockDiscrepancy) error
	ListStockDiscrepancies(ctx context.Context, includeResolved bool, limit int) ([]domain.StockDiscrepancy, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrderByID(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, status domain.PurchaseOrderStatus, limit int) ([]domain.PurchaseOrder, error)
	UpdatePurchaseOrderStatus(ctx context.Context, purchaseOrderID string, to domain.PurchaseOrderStatus, at time.Time) (*domain.PurchaseOrder, error)
	// ReceivePurchaseOrder flips a confirmed PO to received and increments
	// stock for every line in one storage transaction.
	ReceivePurchaseOrder(ctx context.Context, purchaseOrderID string, receivedBy string, receivedAt time.Time) (*domain.PurchaseOrder, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
