package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"storefront/backend/internal/cache"
	"storefront/backend/internal/cart"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/notify"
	"storefront/backend/internal/payment"
	"storefront/backend/internal/receipt"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	StoreName     string
	Currency      string
	PaymentWindow time.Duration
	CartTTL       time.Duration
	SnapshotTTL   time.Duration
	DeliveryDays  int
}

type Service struct {
	repo     store.Repository
	cache    cache.Store
	gateway  payment.Gateway
	notifier *notify.Notifier
	opts     Options
	now      func() time.Time
}

func New(repo store.Repository, c cache.Store, gateway payment.Gateway, notifier *notify.Notifier, opts Options) *Service {
	if opts.StoreName == "" {
		opts.StoreName = "Storefront"
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if opts.PaymentWindow <= 0 {
		opts.PaymentWindow = 15 * time.Minute
	}
	if opts.CartTTL <= 0 {
		opts.CartTTL = 24 * time.Hour
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = 30 * time.Second
	}
	if opts.DeliveryDays <= 0 {
		opts.DeliveryDays = 5
	}

	return &Service{
		repo:     repo,
		cache:    c,
		gateway:  gateway,
		notifier: notifier,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) receiptOptions() receipt.Options {
	return receipt.Options{StoreName: s.opts.StoreName, Currency: s.opts.Currency}
}

// ListProducts hides non-active products from everyone except admins.
func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	if isAdmin(ctx) {
		return products, nil
	}
	visible := make([]domain.Product, 0, len(products))
	for _, product := range products {
		if product.Lifecycle == domain.ProductActive {
			visible = append(visible, product)
		}
	}
	return visible, nil
}

// GetProduct serves the cached snapshot. Stock shown here is advisory.
func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	product, err := s.productSnapshot(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if product.Lifecycle != domain.ProductActive && !isAdmin(ctx) {
		return domain.Product{}, store.ErrNotFound
	}
	return product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	req.ItemID = strings.ToUpper(strings.TrimSpace(req.ItemID))
	req.Name = strings.TrimSpace(req.Name)
	if req.ItemID == "" || req.Name == "" {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if !req.Price.IsPositive() || req.CostPrice.IsNegative() || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	product := domain.Product{
		ItemID:    req.ItemID,
		Name:      req.Name,
		Price:     req.Price,
		CostPrice: req.CostPrice,
		Lifecycle: domain.ProductActive,
	}
	if len(req.AvailableSizes) > 0 {
		product.SizeStock = make(map[string]int, len(req.AvailableSizes))
		for _, raw := range req.AvailableSizes {
			size := domain.NormalizeSize(raw)
			if size == "" || product.HasSize(size) {
				return domain.Product{}, store.ErrInvalidTransaction
			}
			product.AvailableSizes = append(product.AvailableSizes, size)
			product.SizeStock[size] = 0
		}
		for raw, qty := range req.SizeStock {
			size := domain.NormalizeSize(raw)
			if !product.HasSize(size) || qty < 0 {
				return domain.Product{}, store.ErrUnknownSize
			}
			product.SizeStock[size] = qty
		}
	} else {
		product.CurrentStock = req.InitialStock
	}
	product.RecomputeStock()

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.Price.StringFixed(2), created.CurrentStock))
	return *created, nil
}

func (s *Service) GetStock(ctx context.Context, productID string, size string) (domain.StockResponse, error) {
	size = domain.NormalizeSize(size)
	qty, err := s.repo.GetStock(ctx, productID, size)
	if err != nil {
		return domain.StockResponse{}, err
	}
	return domain.StockResponse{ProductID: productID, Size: size, Quantity: qty}, nil
}

// RestockProduct is the admin manual increment. It goes through the ledger
// like every other stock change.
func (s *Service) RestockProduct(ctx context.Context, req domain.RestockRequest) (domain.StockResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.StockResponse{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Size = domain.NormalizeSize(req.Size)
	if req.ProductID == "" {
		return domain.StockResponse{}, store.ErrInvalidTransaction
	}

	if err := s.repo.IncrementStock(ctx, req.ProductID, req.Size, req.Quantity); err != nil {
		return domain.StockResponse{}, err
	}
	s.invalidateSnapshots(ctx, req.ProductID)
	s.logAudit(ctx, "stock_restock", "product", req.ProductID, fmt.Sprintf("size=%s,qty=%d,reason=%s", req.Size, req.Quantity, strings.TrimSpace(req.Reason)))

	return s.GetStock(ctx, req.ProductID, req.Size)
}

func (s *Service) ListStockDiscrepancies(ctx context.Context, includeResolved bool, limit int) ([]domain.StockDiscrepancy, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListStockDiscrepancies(ctx, includeResolved, limit)
}

// ListAuditLogs returns entries for one UTC day, newest first.
func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	day := s.now()
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidTransaction
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}

func (s *Service) productSnapshot(ctx context.Context, productID string) (domain.Product, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.GetProduct(ctx, productID)
		if err != nil {
			log.Printf("[cache] WARN: snapshot read failed product=%s: %v", productID, err)
		} else if ok {
			return *cached, nil
		}
	}

	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if s.cache != nil {
		if err := s.cache.SetProduct(ctx, *product, s.opts.SnapshotTTL); err != nil {
			log.Printf("[cache] WARN: snapshot write failed product=%s: %v", productID, err)
		}
	}
	return *product, nil
}

func (s *Service) invalidateSnapshots(ctx context.Context, productIDs ...string) {
	if s.cache == nil || len(productIDs) == 0 {
		return
	}
	if err := s.cache.InvalidateProducts(ctx, productIDs...); err != nil {
		log.Printf("[cache] WARN: snapshot invalidate failed products=%v: %v", productIDs, err)
	}
}

// logAudit queues the entry on the post-commit queue. Without a notifier it
// writes straight to the repository.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	entry := domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}
	if s.notifier != nil {
		s.notifier.ActivityLogged(ctx, entry)
		return
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, ErrForbidden
}

func isAdmin(ctx context.Context) bool {
	actor, ok := ActorFromContext(ctx)
	return ok && actor.Role == domain.RoleAdmin
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return ""
}

// shortfall describes why a product/size cannot be sold in the asked quantity.
func shortfall(product domain.Product, size string, want int, have int) string {
	name := product.Name
	if size != "" {
		name = fmt.Sprintf("%s (size %s)", name, size)
	}
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", name, have, want)
}

// validateLines re-reads every product from the repository and reprices the
// lines. Quantities for the same product/size are summed before the stock
// check. The cached snapshot is never consulted here.
func (s *Service) validateLines(ctx context.Context, t *txn, raw []domain.LineItem) ([]domain.LineItem, error) {
	for _, line := range raw {
		if line.Quantity < 1 {
			terr := t.reject(fmt.Sprintf("quantity for %s must be at least 1", line.ProductID), store.ErrInvalidQuantity)
			terr.ProductID = line.ProductID
			return nil, terr
		}
	}
	lines := cart.Merge(raw)
	if len(lines) == 0 {
		return nil, t.reject("no items", nil)
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		log.Printf("[orchestrator] ERROR: product lookup failed: %v", err)
		return nil, t.fail(domain.TxPersistFailed, ErrPersistFailed, "product lookup failed", err)
	}

	priced := make([]domain.LineItem, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok || product.Lifecycle != domain.ProductActive {
			terr := t.reject(fmt.Sprintf("product %s is unavailable", line.ProductID), store.ErrNotFound)
			terr.ProductID = line.ProductID
			return nil, terr
		}
		size := line.Size
		if product.IsSized() {
			if size == "" || !product.HasSize(size) {
				terr := t.reject(fmt.Sprintf("unknown size %q for %s", size, product.Name), store.ErrUnknownSize)
				terr.ProductID, terr.Size = line.ProductID, size
				return nil, terr
			}
		} else if size != "" {
			terr := t.reject(fmt.Sprintf("%s does not come in sizes", product.Name), store.ErrUnknownSize)
			terr.ProductID, terr.Size = line.ProductID, size
			return nil, terr
		}

		if have := cart.Available(product, size); have < line.Quantity {
			terr := t.reject(shortfall(product, size, line.Quantity, have), store.ErrInsufficientStock)
			terr.ProductID, terr.Size = line.ProductID, size
			return nil, terr
		}

		priced = append(priced, domain.LineItem{
			ProductID: product.ID,
			ItemID:    product.ItemID,
			Name:      product.Name,
			Size:      size,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
		})
	}
	return priced, nil
}

func productIDs(lines []domain.LineItem) []string {
	seen := make(map[string]bool, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if seen[line.ProductID] {
			continue
		}
		seen[line.ProductID] = true
		out = append(out, line.ProductID)
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
