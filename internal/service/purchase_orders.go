package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Supplier{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return domain.Supplier{}, store.ErrInvalidTransaction
	}

	saved, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:        xid.New("sup"),
		Name:      req.Name,
		Phone:     req.Phone,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, "supplier_create", "supplier", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListSuppliers(ctx)
}

// CreatePurchaseOrder stores a draft. Line totals and the order total are
// computed here; client-sent totals are ignored.
func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrderResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	req.SupplierID = strings.TrimSpace(req.SupplierID)
	if req.SupplierID == "" || len(req.Items) == 0 {
		return domain.PurchaseOrderResponse{}, store.ErrInvalidTransaction
	}

	total := decimal.Zero
	items := make([]domain.PurchaseOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.Size = domain.NormalizeSize(item.Size)
		if item.ProductID == "" || item.Quantity < 1 || !item.UnitCost.IsPositive() {
			return domain.PurchaseOrderResponse{}, store.ErrInvalidTransaction
		}
		item.LineTotal = item.UnitCost.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(item.LineTotal)
		items = append(items, item)
	}

	now := s.now()
	saved, err := s.repo.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		ID:         xid.New("po"),
		SupplierID: req.SupplierID,
		Status:     domain.PODraft,
		Total:      total,
		Items:      items,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	s.logAudit(ctx, "purchase_order_create", "purchase_order", saved.ID, fmt.Sprintf("items=%d,total=%s", len(saved.Items), saved.Total.StringFixed(2)))
	return domain.PurchaseOrderResponse{PurchaseOrder: *saved}, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, status string) (domain.PurchaseOrderListResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.PurchaseOrderListResponse{}, err
	}
	pos, err := s.repo.ListPurchaseOrders(ctx, domain.PurchaseOrderStatus(strings.ToLower(strings.TrimSpace(status))), 200)
	if err != nil {
		return domain.PurchaseOrderListResponse{}, err
	}
	return domain.PurchaseOrderListResponse{PurchaseOrders: pos}, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, purchaseOrderID string) (domain.PurchaseOrderResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	po, err := s.repo.GetPurchaseOrderByID(ctx, purchaseOrderID)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	return domain.PurchaseOrderResponse{PurchaseOrder: *po}, nil
}

// TransitionPurchaseOrder handles every move except receiving, which must go
// through ReceivePurchaseOrder so stock is incremented with it.
func (s *Service) TransitionPurchaseOrder(ctx context.Context, purchaseOrderID string, req domain.PurchaseOrderStatusRequest) (domain.PurchaseOrderResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	if purchaseOrderID == "" {
		return domain.PurchaseOrderResponse{}, store.ErrInvalidTransaction
	}
	to := domain.PurchaseOrderStatus(strings.ToLower(strings.TrimSpace(string(req.Status))))
	if to == domain.POReceived {
		return domain.PurchaseOrderResponse{}, fmt.Errorf("%w: use the receive operation", store.ErrInvalidTransition)
	}

	updated, err := s.repo.UpdatePurchaseOrderStatus(ctx, purchaseOrderID, to, s.now())
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	s.logAudit(ctx, "purchase_order_status", "purchase_order", updated.ID, fmt.Sprintf("status=%s", updated.Status))
	return domain.PurchaseOrderResponse{PurchaseOrder: *updated}, nil
}

// ReceivePurchaseOrder marks a confirmed PO received and increments stock for
// every line in one storage transaction. A second call fails with
// store.ErrAlreadyReceived and changes nothing.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, purchaseOrderID string, req domain.PurchaseOrderReceiveRequest) (domain.PurchaseOrderReceiveResponse, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.PurchaseOrderReceiveResponse{}, err
	}
	purchaseOrderID = strings.TrimSpace(purchaseOrderID)
	if purchaseOrderID == "" {
		return domain.PurchaseOrderReceiveResponse{}, store.ErrInvalidTransaction
	}
	req.ReceivedBy = strings.TrimSpace(req.ReceivedBy)
	if req.ReceivedBy == "" {
		req.ReceivedBy = actor.Username
	}

	received, err := s.repo.ReceivePurchaseOrder(ctx, purchaseOrderID, req.ReceivedBy, s.now())
	if err != nil {
		return domain.PurchaseOrderReceiveResponse{}, err
	}

	ids := make([]string, 0, len(received.Items))
	for _, item := range received.Items {
		ids = append(ids, item.ProductID)
	}
	s.invalidateSnapshots(ctx, ids...)
	s.notifier.PurchaseOrderReceived(ctx, *received)
	s.logAudit(ctx, "purchase_order_receive", "purchase_order", received.ID, fmt.Sprintf("received_by=%s,items=%d", req.ReceivedBy, len(received.Items)))

	return domain.PurchaseOrderReceiveResponse{Success: true, PurchaseOrder: *received}, nil
}
