package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, created_at)
		VALUES ($1,$2,$3,$4)
	`, supplier.ID, supplier.Name, nullIfEmpty(strings.TrimSpace(supplier.Phone)), supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	saved := supplier
	return &saved, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, created_at
		FROM suppliers
		ORDER BY created_at ASC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		var supplier domain.Supplier
		var phone sql.NullString
		if err := rows.Scan(&supplier.ID, &supplier.Name, &phone, &supplier.CreatedAt); err != nil {
			return nil, err
		}
		supplier.Phone = phone.String
		supplier.CreatedAt = supplier.CreatedAt.UTC()
		suppliers = append(suppliers, supplier)
	}
	return suppliers, rows.Err()
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.SupplierID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if po.ID == "" {
		po.ID = xid.New("po")
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	po.UpdatedAt = po.CreatedAt
	if po.Status == "" {
		po.Status = domain.PODraft
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_orders (id, supplier_id, status, total, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
	`, po.ID, po.SupplierID, string(po.Status), po.Total, po.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items := make([]domain.PurchaseOrderItem, 0, len(po.Items))
	for _, item := range po.Items {
		item.Size = domain.NormalizeSize(item.Size)
		if item.ProductID == "" || item.Quantity < 1 || !item.UnitCost.IsPositive() {
			return nil, store.ErrInvalidTransaction
		}
		sized, _, err := productShape(ctx, tx, item.ProductID, false)
		if err != nil {
			return nil, err
		}
		if sized {
			var exists bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS (SELECT 1 FROM product_sizes WHERE product_id = $1 AND size = $2)
			`, item.ProductID, item.Size).Scan(&exists); err != nil {
				return nil, err
			}
			if !exists {
				return nil, fmt.Errorf("%w: %s size %q", store.ErrUnknownSize, item.ProductID, item.Size)
			}
		} else if item.Size != "" {
			return nil, fmt.Errorf("%w: %s is not sized", store.ErrUnknownSize, item.ProductID)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO purchase_order_items (purchase_order_id, product_id, size, qty, unit_cost, line_total)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, po.ID, item.ProductID, item.Size, item.Quantity, item.UnitCost, item.LineTotal)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	po.Items = items

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := po
	return &saved, nil
}

func (s *Store) GetPurchaseOrderByID(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	po, err := getPurchaseOrder(ctx, s.db, purchaseOrderID, false)
	if err != nil {
		return nil, err
	}
	items, err := loadPurchaseOrderItems(ctx, s.db, po.ID)
	if err != nil {
		return nil, err
	}
	po.Items = items
	return po, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, status domain.PurchaseOrderStatus, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM purchase_orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	result := make([]domain.PurchaseOrder, 0, len(ids))
	for _, id := range ids {
		po, err := s.GetPurchaseOrderByID(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *po)
	}
	return result, nil
}

func (s *Store) UpdatePurchaseOrderStatus(ctx context.Context, purchaseOrderID string, to domain.PurchaseOrderStatus, at time.Time) (*domain.PurchaseOrder, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	po, err := getPurchaseOrder(ctx, tx, purchaseOrderID, true)
	if err != nil {
		return nil, err
	}
	if po.Status == domain.POReceived {
		return nil, store.ErrAlreadyReceived
	}
	// received is only reachable through ReceivePurchaseOrder
	if to == domain.POReceived || !domain.CanTransitionPurchaseOrder(po.Status, to) {
		return nil, fmt.Errorf("%w: purchase order %s -> %s", store.ErrInvalidTransition, po.Status, to)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE purchase_orders SET status = $2, updated_at = $3 WHERE id = $1
	`, purchaseOrderID, string(to), at); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetPurchaseOrderByID(ctx, purchaseOrderID)
}

func (s *Store) ReceivePurchaseOrder(ctx context.Context, purchaseOrderID string, receivedBy string, receivedAt time.Time) (*domain.PurchaseOrder, error) {
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	receivedBy = strings.TrimSpace(receivedBy)
	if receivedBy == "" {
		receivedBy = "system"
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	po, err := getPurchaseOrder(ctx, tx, purchaseOrderID, true)
	if err != nil {
		return nil, err
	}
	if po.Status == domain.POReceived {
		return nil, store.ErrAlreadyReceived
	}
	if !domain.CanTransitionPurchaseOrder(po.Status, domain.POReceived) {
		return nil, fmt.Errorf("%w: purchase order %s -> %s", store.ErrInvalidTransition, po.Status, domain.POReceived)
	}

	items, err := loadPurchaseOrderItems(ctx, tx, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	po.Items = items

	for _, item := range items {
		var prevQty int
		var prevCost decimal.Decimal
		if err := tx.QueryRowContext(ctx, `
			SELECT current_stock, cost_price FROM products WHERE id = $1 FOR UPDATE
		`, item.ProductID).Scan(&prevQty, &prevCost); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
			}
			return nil, err
		}
		if err := incrementTx(ctx, tx, item.ProductID, item.Size, item.Quantity); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET cost_price = $2 WHERE id = $1
		`, item.ProductID, weightedCost(prevCost, prevQty, item.UnitCost, item.Quantity)); err != nil {
			return nil, err
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = 'received', received_at = $2, received_by = $3, updated_at = $2
		WHERE id = $1 AND status <> 'received'
	`, purchaseOrderID, receivedAt, receivedBy)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrAlreadyReceived
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	po.Status = domain.POReceived
	po.ReceivedAt = &receivedAt
	po.ReceivedBy = receivedBy
	po.UpdatedAt = receivedAt
	return po, nil
}

func getPurchaseOrder(ctx context.Context, q querier, purchaseOrderID string, lock bool) (*domain.PurchaseOrder, error) {
	query := `
		SELECT id, supplier_id, status, total, created_at, updated_at, received_at, received_by
		FROM purchase_orders
		WHERE id = $1
	`
	if lock {
		query += ` FOR UPDATE`
	}

	var po domain.PurchaseOrder
	var status string
	var receivedAt sql.NullTime
	var receivedBy sql.NullString
	err := q.QueryRowContext(ctx, query, purchaseOrderID).Scan(
		&po.ID,
		&po.SupplierID,
		&status,
		&po.Total,
		&po.CreatedAt,
		&po.UpdatedAt,
		&receivedAt,
		&receivedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	po.Status = domain.PurchaseOrderStatus(status)
	po.CreatedAt = po.CreatedAt.UTC()
	po.UpdatedAt = po.UpdatedAt.UTC()
	if receivedAt.Valid {
		at := receivedAt.Time.UTC()
		po.ReceivedAt = &at
	}
	po.ReceivedBy = receivedBy.String
	return &po, nil
}

func loadPurchaseOrderItems(ctx context.Context, q querier, purchaseOrderID string) ([]domain.PurchaseOrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, size, qty, unit_cost, line_total
		FROM purchase_order_items
		WHERE purchase_order_id = $1
		ORDER BY id ASC
	`, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.PurchaseOrderItem, 0, 8)
	for rows.Next() {
		var item domain.PurchaseOrderItem
		if err := rows.Scan(&item.ProductID, &item.Size, &item.Quantity, &item.UnitCost, &item.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
