package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

type Store struct {
	mu                 sync.RWMutex
	products           map[string]domain.Product
	ordersByNumber     map[string]domain.Order
	ordersByIdem       map[string]string
	billsByNumber      map[string]domain.Bill
	billsByIdem        map[string]string
	discrepancies      []domain.StockDiscrepancy
	suppliersByID      map[string]domain.Supplier
	purchaseOrdersByID map[string]domain.PurchaseOrder
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD, SEED_CASHIER_PASSWORD and
// SEED_CUSTOMER_PASSWORD. If unset, dev defaults are used with a warning.
// The postgres store never uses these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	customerPwd := envOr("SEED_CUSTOMER_PASSWORD", "customer123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
		{"customer", customerPwd, domain.RoleCustomer},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:           make(map[string]domain.Product),
		ordersByNumber:     make(map[string]domain.Order),
		ordersByIdem:       make(map[string]string),
		billsByNumber:      make(map[string]domain.Bill),
		billsByIdem:        make(map[string]string),
		discrepancies:      make([]domain.StockDiscrepancy, 0, 16),
		suppliersByID:      make(map[string]domain.Supplier),
		purchaseOrdersByID: make(map[string]domain.PurchaseOrder),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		usersByUsername:    make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	products := []domain.Product{
		{
			ID: "prd-runner", ItemID: "SH-RUN-01", Name: "Trail Runner",
			Price: decimal.NewFromInt(2499), CostPrice: decimal.NewFromInt(1400),
			AvailableSizes: []string{"7", "8", "9", "10"},
			SizeStock:      map[string]int{"7": 5, "8": 5, "9": 2, "10": 0},
		},
		{
			ID: "prd-tee", ItemID: "TE-COT-01", Name: "Cotton Tee",
			Price: decimal.NewFromInt(599), CostPrice: decimal.NewFromInt(240),
			AvailableSizes: []string{"S", "M", "L", "XL"},
			SizeStock:      map[string]int{"S": 10, "M": 10, "L": 10, "XL": 1},
		},
		{
			ID: "prd-socks", ItemID: "SK-ANK-03", Name: "Ankle Socks 3-Pack",
			Price: decimal.NewFromInt(299), CostPrice: decimal.NewFromInt(110),
			CurrentStock: 40,
		},
		{
			ID: "prd-cap", ItemID: "CP-CNV-01", Name: "Canvas Cap",
			Price: decimal.NewFromInt(449), CostPrice: decimal.NewFromInt(180),
			CurrentStock: 1,
		},
		{
			ID: "prd-archive", ItemID: "AR-OLD-01", Name: "Archived Jacket",
			Price: decimal.NewFromInt(3999), CostPrice: decimal.NewFromInt(2100),
			CurrentStock: 3, Lifecycle: domain.ProductHidden,
		},
	}
	for _, p := range products {
		if p.Lifecycle == "" {
			p.Lifecycle = domain.ProductActive
		}
		p.CreatedAt = now
		p.UpdatedAt = now
		p.RecomputeStock()
		s.products[p.ID] = p
	}

	supplier := domain.Supplier{ID: "sup-default", Name: "Default Footwear Co", Phone: "+91-80-5550-0100", CreatedAt: now}
	s.suppliersByID[supplier.ID] = supplier

	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Lifecycle == domain.ProductDeleted {
			continue
		}
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.ItemID = strings.TrimSpace(product.ItemID)
	product.Name = strings.TrimSpace(product.Name)
	if product.ItemID == "" || product.Name == "" || !product.Price.IsPositive() || product.CostPrice.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrDuplicate
	}
	for _, existing := range s.products {
		if existing.ItemID == product.ItemID {
			return nil, store.ErrDuplicate
		}
	}

	sizes := make([]string, 0, len(product.AvailableSizes))
	stock := make(map[string]int, len(product.AvailableSizes))
	for _, size := range product.AvailableSizes {
		size = domain.NormalizeSize(size)
		if size == "" || slices.Contains(sizes, size) {
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
	if product.Lifecycle == "" {
		product.Lifecycle = domain.ProductActive
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	product.RecomputeStock()

	s.products[product.ID] = product
	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := cloneProduct(product)
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, exists := s.products[id]; exists {
			result[id] = cloneProduct(product)
		}
	}
	return result, nil
}

func (s *Store) GetStock(_ context.Context, productID string, size string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[productID]
	if !exists {
		return 0, store.ErrNotFound
	}
	size = domain.NormalizeSize(size)
	if !product.IsSized() || size == "" {
		return product.CurrentStock, nil
	}
	if !product.HasSize(size) {
		return 0, fmt.Errorf("%w: %s size %s", store.ErrUnknownSize, productID, size)
	}
	return product.SizeStock[size], nil
}

func (s *Store) DecrementStock(_ context.Context, productID string, size string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists {
		return store.ErrNotFound
	}
	product = cloneProduct(product)
	if err := decrement(&product, domain.NormalizeSize(size), qty); err != nil {
		return err
	}
	product.UpdatedAt = time.Now().UTC()
	s.products[productID] = product
	return nil
}

func (s *Store) IncrementStock(_ context.Context, productID string, size string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists {
		return store.ErrNotFound
	}
	product = cloneProduct(product)
	if err := increment(&product, domain.NormalizeSize(size), qty); err != nil {
		return err
	}
	product.UpdatedAt = time.Now().UTC()
	s.products[productID] = product
	return nil
}

func (s *Store) FindOrderByIdempotency(_ context.Context, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	number, ok := s.ordersByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	order := cloneOrder(s.ordersByNumber[number])
	return &order, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.IdempotencyKey == "" || order.OrderNumber == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if number, ok := s.ordersByIdem[order.IdempotencyKey]; ok {
		existing := cloneOrder(s.ordersByNumber[number])
		return &existing, nil
	}
	if _, exists := s.ordersByNumber[order.OrderNumber]; exists {
		return nil, fmt.Errorf("%w: order %s", store.ErrDuplicate, order.OrderNumber)
	}
	for _, item := range order.Items {
		if item.Quantity < 1 || item.UnitPrice.IsNegative() {
			return nil, store.ErrInvalidTransaction
		}
	}

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt
	if order.Status == "" {
		order.Status = domain.OrderPending
	}

	s.ordersByNumber[order.OrderNumber] = cloneOrder(order)
	s.ordersByIdem[order.IdempotencyKey] = order.OrderNumber
	saved := cloneOrder(order)
	return &saved, nil
}

func (s *Store) GetOrderByNumber(_ context.Context, orderNumber string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.ordersByNumber[orderNumber]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyOrder := cloneOrder(order)
	return &copyOrder, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, orderNumber string, to domain.OrderStatus, entry domain.DeliveryEntry) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.ordersByNumber[orderNumber]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !domain.CanTransitionOrder(order.Status, to) {
		return nil, fmt.Errorf("%w: order %s -> %s", store.ErrInvalidTransition, order.Status, to)
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	entry.Status = to

	order = cloneOrder(order)
	order.Status = to
	order.DeliveryDetails = append(order.DeliveryDetails, entry)
	order.UpdatedAt = entry.At
	s.ordersByNumber[orderNumber] = order

	updated := cloneOrder(order)
	return &updated, nil
}

func (s *Store) FindBillByIdempotency(_ context.Context, key string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	number, ok := s.billsByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	bill := cloneBill(s.billsByNumber[number])
	return &bill, nil
}

func (s *Store) CreateBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bill.IdempotencyKey == "" || bill.BillNumber == "" || len(bill.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if number, ok := s.billsByIdem[bill.IdempotencyKey]; ok {
		existing := cloneBill(s.billsByNumber[number])
		return &existing, nil
	}
	if _, exists := s.billsByNumber[bill.BillNumber]; exists {
		return nil, fmt.Errorf("%w: bill %s", store.ErrDuplicate, bill.BillNumber)
	}

	// Apply every decrement to working copies first so a shortfall on any
	// line leaves the catalog untouched.
	working := make(map[string]domain.Product, len(bill.Items))
	for _, item := range bill.Items {
		product, ok := working[item.ProductID]
		if !ok {
			stored, exists := s.products[item.ProductID]
			if !exists {
				return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
			}
			product = cloneProduct(stored)
		}
		if err := decrement(&product, item.Size, item.Quantity); err != nil {
			return nil, fmt.Errorf("%s: %w", item.Name, err)
		}
		working[item.ProductID] = product
	}

	now := time.Now().UTC()
	if bill.ID == "" {
		bill.ID = xid.New("bill")
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = now
	}
	for id, product := range working {
		product.UpdatedAt = now
		s.products[id] = product
	}
	s.billsByNumber[bill.BillNumber] = cloneBill(bill)
	s.billsByIdem[bill.IdempotencyKey] = bill.BillNumber

	saved := cloneBill(bill)
	return &saved, nil
}

func (s *Store) GetBillByNumber(_ context.Context, billNumber string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, exists := s.billsByNumber[billNumber]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyBill := cloneBill(bill)
	return &copyBill, nil
}

func (s *Store) CreateStockDiscrepancy(_ context.Context, entry domain.StockDiscrepancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ProductID == "" || entry.SourceID == "" {
		return store.ErrInvalidTransaction
	}
	if entry.ID == "" {
		entry.ID = xid.New("disc")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.discrepancies = append(s.discrepancies, entry)
	return nil
}

func (s *Store) ListStockDiscrepancies(_ context.Context, includeResolved bool, limit int) ([]domain.StockDiscrepancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockDiscrepancy, 0, len(s.discrepancies))
	for _, entry := range s.discrepancies {
		if !includeResolved && entry.ResolvedAt != nil {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.StockDiscrepancy) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	s.suppliersByID[supplier.ID] = supplier
	copySupplier := supplier
	return &copySupplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, supplier := range s.suppliersByID {
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.Name, b.Name)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return suppliers, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if po.SupplierID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.suppliersByID[po.SupplierID]; !exists {
		return nil, store.ErrNotFound
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

	items := make([]domain.PurchaseOrderItem, 0, len(po.Items))
	for _, item := range po.Items {
		item.Size = domain.NormalizeSize(item.Size)
		if item.ProductID == "" || item.Quantity < 1 || !item.UnitCost.IsPositive() {
			return nil, store.ErrInvalidTransaction
		}
		product, exists := s.products[item.ProductID]
		if !exists {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if err := checkSize(product, item.Size); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	po.Items = items

	s.purchaseOrdersByID[po.ID] = clonePurchaseOrder(po)
	saved := clonePurchaseOrder(s.purchaseOrdersByID[po.ID])
	return &saved, nil
}

func (s *Store) GetPurchaseOrderByID(_ context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, exists := s.purchaseOrdersByID[purchaseOrderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyPO := clonePurchaseOrder(po)
	return &copyPO, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, status domain.PurchaseOrderStatus, limit int) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PurchaseOrder, 0, len(s.purchaseOrdersByID))
	for _, po := range s.purchaseOrdersByID {
		if status != "" && po.Status != status {
			continue
		}
		result = append(result, clonePurchaseOrder(po))
	}
	slices.SortFunc(result, func(a, b domain.PurchaseOrder) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdatePurchaseOrderStatus(_ context.Context, purchaseOrderID string, to domain.PurchaseOrderStatus, at time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.purchaseOrdersByID[purchaseOrderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if po.Status == domain.POReceived {
		return nil, store.ErrAlreadyReceived
	}
	// received is only reachable through ReceivePurchaseOrder
	if to == domain.POReceived || !domain.CanTransitionPurchaseOrder(po.Status, to) {
		return nil, fmt.Errorf("%w: purchase order %s -> %s", store.ErrInvalidTransition, po.Status, to)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	po.Status = to
	po.UpdatedAt = at
	s.purchaseOrdersByID[purchaseOrderID] = po
	updated := clonePurchaseOrder(po)
	return &updated, nil
}

func (s *Store) ReceivePurchaseOrder(_ context.Context, purchaseOrderID string, receivedBy string, receivedAt time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.purchaseOrdersByID[purchaseOrderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if po.Status == domain.POReceived {
		return nil, store.ErrAlreadyReceived
	}
	if !domain.CanTransitionPurchaseOrder(po.Status, domain.POReceived) {
		return nil, fmt.Errorf("%w: purchase order %s -> %s", store.ErrInvalidTransition, po.Status, domain.POReceived)
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	working := make(map[string]domain.Product, len(po.Items))
	for _, item := range po.Items {
		product, ok := working[item.ProductID]
		if !ok {
			stored, exists := s.products[item.ProductID]
			if !exists {
				return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
			}
			product = cloneProduct(stored)
		}
		prevQty := product.CurrentStock
		if err := increment(&product, item.Size, item.Quantity); err != nil {
			return nil, err
		}
		product.CostPrice = weightedCost(product.CostPrice, prevQty, item.UnitCost, item.Quantity)
		working[item.ProductID] = product
	}
	for id, product := range working {
		product.UpdatedAt = receivedAt
		s.products[id] = product
	}

	po.Status = domain.POReceived
	po.ReceivedBy = strings.TrimSpace(receivedBy)
	if po.ReceivedBy == "" {
		po.ReceivedBy = "system"
	}
	po.ReceivedAt = &receivedAt
	po.UpdatedAt = receivedAt
	s.purchaseOrdersByID[purchaseOrderID] = po
	updated := clonePurchaseOrder(po)
	return &updated, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func checkSize(product domain.Product, size string) error {
	if product.IsSized() {
		if !product.HasSize(size) {
			return fmt.Errorf("%w: %s size %q", store.ErrUnknownSize, product.ID, size)
		}
		return nil
	}
	if size != "" {
		return fmt.Errorf("%w: %s is not sized", store.ErrUnknownSize, product.ID)
	}
	return nil
}

func decrement(product *domain.Product, size string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidQuantity
	}
	if err := checkSize(*product, size); err != nil {
		return err
	}
	available := product.CurrentStock
	if product.IsSized() {
		available = product.SizeStock[size]
	}
	if available < qty {
		return fmt.Errorf("%w: available %d, requested %d", store.ErrInsufficientStock, available, qty)
	}
	if product.IsSized() {
		product.SizeStock[size] = available - qty
	} else {
		product.CurrentStock = available - qty
	}
	product.RecomputeStock()
	return nil
}

func increment(product *domain.Product, size string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidQuantity
	}
	if err := checkSize(*product, size); err != nil {
		return err
	}
	if product.IsSized() {
		product.SizeStock[size] += qty
	} else {
		product.CurrentStock += qty
	}
	product.RecomputeStock()
	return nil
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

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	dup.AvailableSizes = slices.Clone(src.AvailableSizes)
	if src.SizeStock != nil {
		dup.SizeStock = make(map[string]int, len(src.SizeStock))
		for size, qty := range src.SizeStock {
			dup.SizeStock[size] = qty
		}
	}
	return dup
}

func cloneOrder(src domain.Order) domain.Order {
	dup := src
	dup.Items = slices.Clone(src.Items)
	dup.DeliveryDetails = slices.Clone(src.DeliveryDetails)
	return dup
}

func cloneBill(src domain.Bill) domain.Bill {
	dup := src
	dup.Items = slices.Clone(src.Items)
	dup.PaymentSplits = slices.Clone(src.PaymentSplits)
	return dup
}

func clonePurchaseOrder(src domain.PurchaseOrder) domain.PurchaseOrder {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}
