package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, name, price, cost_price, current_stock, in_stock, lifecycle, created_at, updated_at
		FROM products
		WHERE lifecycle <> 'deleted'
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	products, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachSizes(ctx, s.db, products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.ItemID = strings.TrimSpace(product.ItemID)
	product.Name = strings.TrimSpace(product.Name)
	if product.ItemID == "" || product.Name == "" || !product.Price.IsPositive() || product.CostPrice.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.Lifecycle == "" {
		product.Lifecycle = domain.ProductActive
	}
	sizes := make([]string, 0, len(product.AvailableSizes))
	stock := make(map[string]int, len(product.AvailableSizes))
	for _, size := range product.AvailableSizes {
		size = domain.NormalizeSize(size)
		if size == "" {
			return nil, store.ErrInvalidTransaction
		}
		if _, dup := stock[size]; dup {
			return nil, store.ErrInvalidTransaction
		}
		qty := product.SizeStock[size]
		if qty < 0 {
			return nil, store.ErrInvalidQuantity
		}
		sizes = append(sizes, size)
		stock[size] = qty
	}
	if product.CurrentStock < 0 {
		return nil, store.ErrInvalidQuantity
	}
	product.AvailableSizes = sizes
	product.SizeStock = stock
	product.RecomputeStock()
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, item_id, name, price, cost_price, current_stock, in_stock, lifecycle, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
	`, product.ID, product.ItemID, product.Name, product.Price, product.CostPrice, product.CurrentStock, product.InStock, string(product.Lifecycle), now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	for idx, size := range sizes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO product_sizes (product_id, size, position, qty)
			VALUES ($1,$2,$3,$4)
		`, product.ID, size, idx, stock[size]); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	products, err := s.GetProductsByIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	product, ok := products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, name, price, cost_price, current_stock, in_stock, lifecycle, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
	`, uniqueStrings(ids))
	if err != nil {
		return nil, err
	}
	products, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachSizes(ctx, s.db, products); err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

func (s *Store) GetStock(ctx context.Context, productID string, size string) (int, error) {
	size = domain.NormalizeSize(size)
	sized, total, err := productShape(ctx, s.db, productID, false)
	if err != nil {
		return 0, err
	}
	if !sized || size == "" {
		return total, nil
	}

	var qty int
	err = s.db.QueryRowContext(ctx, `
		SELECT qty FROM product_sizes WHERE product_id = $1 AND size = $2
	`, productID, size).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s size %s", store.ErrUnknownSize, productID, size)
		}
		return 0, err
	}
	return qty, nil
}

func (s *Store) DecrementStock(ctx context.Context, productID string, size string, qty int) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := decrementTx(ctx, tx, productID, domain.NormalizeSize(size), qty); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) IncrementStock(ctx context.Context, productID string, size string, qty int) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := incrementTx(ctx, tx, productID, domain.NormalizeSize(size), qty); err != nil {
		return err
	}
	return tx.Commit()
}

// decrementTx is a single conditional update per counter; the WHERE clause
// is the stock check, so concurrent writers can never drive qty negative.
func decrementTx(ctx context.Context, q querier, productID string, size string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidQuantity
	}
	sized, _, err := productShape(ctx, q, productID, true)
	if err != nil {
		return err
	}

	if !sized {
		if size != "" {
			return fmt.Errorf("%w: %s is not sized", store.ErrUnknownSize, productID)
		}
		res, err := q.ExecContext(ctx, `
			UPDATE products
			SET current_stock = current_stock - $2, in_stock = current_stock - $2 > 0, updated_at = now()
			WHERE id = $1 AND current_stock >= $2
		`, productID, qty)
		if err != nil {
			return err
		}
		if affected, err := res.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			var available int
			if err := q.QueryRowContext(ctx, `SELECT current_stock FROM products WHERE id = $1`, productID).Scan(&available); err != nil {
				return err
			}
			return fmt.Errorf("%w: available %d, requested %d", store.ErrInsufficientStock, available, qty)
		}
		return nil
	}

	if size == "" {
		return fmt.Errorf("%w: %s requires a size", store.ErrUnknownSize, productID)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE product_sizes
		SET qty = qty - $3
		WHERE product_id = $1 AND size = $2 AND qty >= $3
	`, productID, size, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var available int
		err := q.QueryRowContext(ctx, `SELECT qty FROM product_sizes WHERE product_id = $1 AND size = $2`, productID, size).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s size %s", store.ErrUnknownSize, productID, size)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: available %d, requested %d", store.ErrInsufficientStock, available, qty)
	}
	return refreshAggregate(ctx, q, productID)
}

func incrementTx(ctx context.Context, q querier, productID string, size string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidQuantity
	}
	sized, _, err := productShape(ctx, q, productID, true)
	if err != nil {
		return err
	}

	if !sized {
		if size != "" {
			return fmt.Errorf("%w: %s is not sized", store.ErrUnknownSize, productID)
		}
		_, err := q.ExecContext(ctx, `
			UPDATE products
			SET current_stock = current_stock + $2, in_stock = true, updated_at = now()
			WHERE id = $1
		`, productID, qty)
		return err
	}

	res, err := q.ExecContext(ctx, `
		UPDATE product_sizes
		SET qty = qty + $3
		WHERE product_id = $1 AND size = $2
	`, productID, size, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s size %q", store.ErrUnknownSize, productID, size)
	}
	return refreshAggregate(ctx, q, productID)
}

func refreshAggregate(ctx context.Context, q querier, productID string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE products p
		SET current_stock = agg.total, in_stock = agg.total > 0, updated_at = now()
		FROM (SELECT COALESCE(SUM(qty), 0)::int AS total FROM product_sizes WHERE product_id = $1) agg
		WHERE p.id = $1
	`, productID)
	return err
}

// productShape reports whether the product is sized and its aggregate stock.
// lock takes a row lock on the product for the rest of the transaction.
func productShape(ctx context.Context, q querier, productID string, lock bool) (bool, int, error) {
	query := `
		SELECT p.current_stock, EXISTS (SELECT 1 FROM product_sizes ps WHERE ps.product_id = p.id)
		FROM products p
		WHERE p.id = $1
	`
	if lock {
		query += ` FOR UPDATE OF p`
	}
	var total int
	var sized bool
	if err := q.QueryRowContext(ctx, query, productID).Scan(&total, &sized); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, 0, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		return false, 0, err
	}
	return sized, total, nil
}

func (s *Store) FindOrderByIdempotency(ctx context.Context, key string) (*domain.Order, error) {
	return s.findOrder(ctx, "idempotency_key", key)
}

func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return s.findOrder(ctx, "order_number", orderNumber)
}

func (s *Store) findOrder(ctx context.Context, column string, value string) (*domain.Order, error) {
	var order domain.Order
	var customer sql.NullString
	var estimated sql.NullTime
	var shipping, payment, delivery []byte
	var status string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, order_number, idempotency_key, customer_username, shipping_details, payment_details,
			subtotal, delivery_fee, protection_fee, discount, order_total, status,
			estimated_delivery_date, delivery_details, created_at, updated_at
		FROM orders
		WHERE %s = $1
	`, column), value).Scan(
		&order.ID,
		&order.OrderNumber,
		&order.IdempotencyKey,
		&customer,
		&shipping,
		&payment,
		&order.Subtotal,
		&order.DeliveryFee,
		&order.ProtectionFee,
		&order.Discount,
		&order.OrderTotal,
		&status,
		&estimated,
		&delivery,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.Status = domain.OrderStatus(status)
	order.CustomerUsername = customer.String
	if estimated.Valid {
		order.EstimatedDeliveryDate = estimated.Time.UTC()
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	if err := json.Unmarshal(shipping, &order.Shipping); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payment, &order.Payment); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(delivery, &order.DeliveryDetails); err != nil {
		return nil, err
	}

	items, err := loadLineItems(ctx, s.db, "order_items", "order_id", order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.IdempotencyKey == "" || order.OrderNumber == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt
	if order.Status == "" {
		order.Status = domain.OrderPending
	}
	if order.DeliveryDetails == nil {
		order.DeliveryDetails = []domain.DeliveryEntry{}
	}

	shipping, err := json.Marshal(order.Shipping)
	if err != nil {
		return nil, err
	}
	payment, err := json.Marshal(order.Payment)
	if err != nil {
		return nil, err
	}
	delivery, err := json.Marshal(order.DeliveryDetails)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, idempotency_key, customer_username, shipping_details, payment_details,
			subtotal, delivery_fee, protection_fee, discount, order_total, status,
			estimated_delivery_date, delivery_details, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
	`,
		order.ID, order.OrderNumber, order.IdempotencyKey, nullIfEmpty(order.CustomerUsername), shipping, payment,
		order.Subtotal, order.DeliveryFee, order.ProtectionFee, order.Discount, order.OrderTotal, string(order.Status),
		nullTime(order.EstimatedDeliveryDate), delivery, order.CreatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == "orders_idempotency_key_key" {
				_ = tx.Rollback()
				return s.FindOrderByIdempotency(ctx, order.IdempotencyKey)
			}
			return nil, fmt.Errorf("%w: order %s", store.ErrDuplicate, order.OrderNumber)
		}
		return nil, err
	}
	if err := insertLineItems(ctx, tx, "order_items", "order_id", order.ID, order.Items); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := order
	return &saved, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderNumber string, to domain.OrderStatus, entry domain.DeliveryEntry) (*domain.Order, error) {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	entry.Status = to

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE order_number = $1 FOR UPDATE`, orderNumber).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !domain.CanTransitionOrder(domain.OrderStatus(current), to) {
		return nil, fmt.Errorf("%w: order %s -> %s", store.ErrInvalidTransition, current, to)
	}

	entryJSON, err := json.Marshal([]domain.DeliveryEntry{entry})
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, delivery_details = delivery_details || $3::jsonb, updated_at = $4
		WHERE order_number = $1
	`, orderNumber, string(to), entryJSON, entry.At); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetOrderByNumber(ctx, orderNumber)
}

func (s *Store) FindBillByIdempotency(ctx context.Context, key string) (*domain.Bill, error) {
	return s.findBill(ctx, "idempotency_key", key)
}

func (s *Store) GetBillByNumber(ctx context.Context, billNumber string) (*domain.Bill, error) {
	return s.findBill(ctx, "bill_number", billNumber)
}

func (s *Store) findBill(ctx context.Context, column string, value string) (*domain.Bill, error) {
	var bill domain.Bill
	var customer, splits []byte
	var method string
	var reference sql.NullString
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, bill_number, idempotency_key, customer, subtotal, discount_percent, discount_amount,
			tax_amount, total, payment_method, payment_reference, payment_splits,
			cash_received, change_amount, cashier_username, created_at
		FROM bills
		WHERE %s = $1
	`, column), value).Scan(
		&bill.ID,
		&bill.BillNumber,
		&bill.IdempotencyKey,
		&customer,
		&bill.Subtotal,
		&bill.DiscountPercent,
		&bill.DiscountAmount,
		&bill.TaxAmount,
		&bill.Total,
		&method,
		&reference,
		&splits,
		&bill.CashReceived,
		&bill.Change,
		&bill.CashierUsername,
		&bill.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	bill.PaymentMethod = domain.PaymentMethod(method)
	bill.PaymentReference = reference.String
	bill.CreatedAt = bill.CreatedAt.UTC()
	if err := json.Unmarshal(customer, &bill.Customer); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(splits, &bill.PaymentSplits); err != nil {
		return nil, err
	}

	items, err := loadLineItems(ctx, s.db, "bill_items", "bill_id", bill.ID)
	if err != nil {
		return nil, err
	}
	bill.Items = items
	return &bill, nil
}

func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	if bill.IdempotencyKey == "" || bill.BillNumber == "" || len(bill.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if bill.ID == "" {
		bill.ID = xid.New("bill")
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}
	if bill.PaymentSplits == nil {
		bill.PaymentSplits = []domain.PaymentSplit{}
	}
	customer, err := json.Marshal(bill.Customer)
	if err != nil {
		return nil, err
	}
	splits, err := json.Marshal(bill.PaymentSplits)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bills (
			id, bill_number, idempotency_key, customer, subtotal, discount_percent, discount_amount,
			tax_amount, total, payment_method, payment_reference, payment_splits,
			cash_received, change_amount, cashier_username, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		bill.ID, bill.BillNumber, bill.IdempotencyKey, customer, bill.Subtotal, bill.DiscountPercent, bill.DiscountAmount,
		bill.TaxAmount, bill.Total, string(bill.PaymentMethod), nullIfEmpty(bill.PaymentReference), splits,
		bill.CashReceived, bill.Change, bill.CashierUsername, bill.CreatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == "bills_idempotency_key_key" {
				_ = tx.Rollback()
				return s.FindBillByIdempotency(ctx, bill.IdempotencyKey)
			}
			return nil, fmt.Errorf("%w: bill %s", store.ErrDuplicate, bill.BillNumber)
		}
		return nil, err
	}
	if err := insertLineItems(ctx, tx, "bill_items", "bill_id", bill.ID, bill.Items); err != nil {
		return nil, err
	}

	// Lock products in a stable order so two bills touching the same
	// products cannot deadlock.
	items := append([]domain.LineItem(nil), bill.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ProductID == items[j].ProductID {
			return items[i].Size < items[j].Size
		}
		return items[i].ProductID < items[j].ProductID
	})
	for _, item := range items {
		if err := decrementTx(ctx, tx, item.ProductID, domain.NormalizeSize(item.Size), item.Quantity); err != nil {
			return nil, fmt.Errorf("%s: %w", item.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := bill
	return &saved, nil
}

func (s *Store) CreateStockDiscrepancy(ctx context.Context, entry domain.StockDiscrepancy) error {
	if entry.ProductID == "" || entry.SourceID == "" {
		return store.ErrInvalidTransaction
	}
	if entry.ID == "" {
		entry.ID = xid.New("disc")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_discrepancies (id, source_type, source_id, product_id, size, qty, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.SourceType, entry.SourceID, entry.ProductID, entry.Size, entry.Quantity, entry.Reason, entry.CreatedAt)
	return err
}

func (s *Store) ListStockDiscrepancies(ctx context.Context, includeResolved bool, limit int) ([]domain.StockDiscrepancy, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_type, source_id, product_id, size, qty, reason, created_at, resolved_at
		FROM stock_discrepancies
		WHERE $1 OR resolved_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, includeResolved, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.StockDiscrepancy, 0, 16)
	for rows.Next() {
		var entry domain.StockDiscrepancy
		var resolvedAt sql.NullTime
		if err := rows.Scan(&entry.ID, &entry.SourceType, &entry.SourceID, &entry.ProductID, &entry.Size, &entry.Quantity, &entry.Reason, &entry.CreatedAt, &resolvedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		if resolvedAt.Valid {
			at := resolvedAt.Time.UTC()
			entry.ResolvedAt = &at
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		var lifecycle string
		if err := rows.Scan(&p.ID, &p.ItemID, &p.Name, &p.Price, &p.CostPrice, &p.CurrentStock, &p.InStock, &lifecycle, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Lifecycle = domain.ProductLifecycle(lifecycle)
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) attachSizes(ctx context.Context, q querier, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, size, qty
		FROM product_sizes
		WHERE product_id = ANY($1)
		ORDER BY product_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	sizes := make(map[string][]string, len(products))
	stock := make(map[string]map[string]int, len(products))
	for rows.Next() {
		var productID, size string
		var qty int
		if err := rows.Scan(&productID, &size, &qty); err != nil {
			return err
		}
		sizes[productID] = append(sizes[productID], size)
		if stock[productID] == nil {
			stock[productID] = make(map[string]int)
		}
		stock[productID][size] = qty
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range products {
		products[i].AvailableSizes = sizes[products[i].ID]
		products[i].SizeStock = stock[products[i].ID]
	}
	return nil
}

func insertLineItems(ctx context.Context, q querier, table string, fk string, parentID string, items []domain.LineItem) error {
	for _, item := range items {
		if item.Quantity < 1 || item.UnitPrice.IsNegative() {
			return store.ErrInvalidTransaction
		}
		_, err := q.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (%s, product_id, item_id, name, size, qty, unit_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, table, fk), parentID, item.ProductID, item.ItemID, item.Name, item.Size, item.Quantity, item.UnitPrice)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
			}
			return err
		}
	}
	return nil
}

func loadLineItems(ctx context.Context, q querier, table string, fk string, parentID string) ([]domain.LineItem, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT product_id, item_id, name, size, qty, unit_price
		FROM %s
		WHERE %s = $1
		ORDER BY id ASC
	`, table, fk), parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0, 8)
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ProductID, &item.ItemID, &item.Name, &item.Size, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func weightedCost(oldCost decimal.Decimal, oldQty int, incomingCost decimal.Decimal, incomingQty int) decimal.Decimal {
	if incomingQty <= 0 || !incomingCost.IsPositive() {
		return oldCost
	}
	if oldQty <= 0 || !oldCost.IsPositive() {
		return incomingCost
	}
	totalValue := oldCost.Mul(decimal.NewFromInt(int64(oldQty))).Add(incomingCost.Mul(decimal.NewFromInt(int64(incomingQty))))
	return totalValue.DivRound(decimal.NewFromInt(int64(oldQty+incomingQty)), 2)
}

func uniqueStrings(values []string) []string {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func isUniqueViolation(err error) bool {
	_, ok := uniqueViolation(err)
	return ok
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
