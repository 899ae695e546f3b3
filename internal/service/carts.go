package service

import (
	"context"
	"errors"
	"log"
	"strings"

	"storefront/backend/internal/cart"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/pricing"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

// GetCart returns the session with totals priced from its line snapshots.
func (s *Service) GetCart(ctx context.Context, cartID string) (domain.CartResponse, error) {
	c, err := s.loadCart(ctx, cartID)
	if err != nil {
		return domain.CartResponse{}, err
	}
	return s.cartResponse(*c, nil)
}

// AddToCart adds one unit. An empty cartID starts a new session.
func (s *Service) AddToCart(ctx context.Context, cartID string, req domain.CartAddRequest) (domain.CartResponse, error) {
	c, err := s.loadOrCreateCart(ctx, cartID)
	if err != nil {
		return domain.CartResponse{}, err
	}
	product, err := s.productSnapshot(ctx, strings.TrimSpace(req.ProductID))
	if err != nil {
		return domain.CartResponse{}, err
	}
	if err := cart.Add(c, product, req.Size, s.now()); err != nil {
		return domain.CartResponse{}, err
	}
	if err := s.saveCart(ctx, *c); err != nil {
		return domain.CartResponse{}, err
	}
	return s.cartResponse(*c, nil)
}

// UpdateCartQuantity moves a line by delta. Clamping to the stock snapshot is
// reported as a warning on an otherwise successful response.
func (s *Service) UpdateCartQuantity(ctx context.Context, cartID string, req domain.CartQuantityRequest) (domain.CartResponse, error) {
	c, err := s.loadCart(ctx, cartID)
	if err != nil {
		return domain.CartResponse{}, err
	}
	product, err := s.productSnapshot(ctx, strings.TrimSpace(req.ProductID))
	if err != nil {
		return domain.CartResponse{}, err
	}

	key := domain.LineKey{ProductID: product.ID, Size: req.Size}
	adjustErr := cart.SetQuantity(c, key, req.Delta, product, s.now())
	if adjustErr != nil && !errors.Is(adjustErr, cart.ErrOutOfStock) {
		return domain.CartResponse{}, adjustErr
	}
	if err := s.saveCart(ctx, *c); err != nil {
		return domain.CartResponse{}, err
	}
	return s.cartResponse(*c, adjustErr)
}

func (s *Service) RemoveFromCart(ctx context.Context, cartID string, key domain.LineKey) (domain.CartResponse, error) {
	c, err := s.loadCart(ctx, cartID)
	if err != nil {
		return domain.CartResponse{}, err
	}
	if !cart.Remove(c, key, s.now()) {
		return domain.CartResponse{}, cart.ErrLineNotFound
	}
	if err := s.saveCart(ctx, *c); err != nil {
		return domain.CartResponse{}, err
	}
	return s.cartResponse(*c, nil)
}

// loadCart fetches a session the caller may use. Carts owned by someone else
// look missing.
func (s *Service) loadCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return nil, store.ErrNotFound
	}
	c, ok, err := s.cache.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	if c.Owner != "" && c.Owner != actorName(ctx) {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (s *Service) loadOrCreateCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	if strings.TrimSpace(cartID) != "" {
		return s.loadCart(ctx, cartID)
	}
	return &domain.Cart{
		ID:        xid.New("cart"),
		Owner:     actorName(ctx),
		Lines:     []domain.LineItem{},
		UpdatedAt: s.now(),
	}, nil
}

func (s *Service) saveCart(ctx context.Context, c domain.Cart) error {
	if err := s.cache.SaveCart(ctx, c, s.opts.CartTTL); err != nil {
		log.Printf("[cache] WARN: save cart failed cart=%s: %v", c.ID, err)
		return err
	}
	return nil
}

func (s *Service) cartResponse(c domain.Cart, warning error) (domain.CartResponse, error) {
	resp := domain.CartResponse{Cart: c}
	if warning != nil {
		resp.Warning = warning.Error()
	}
	if len(c.Lines) == 0 {
		return resp, nil
	}
	totals, err := pricing.CheckoutTotals(cart.Items(c))
	if err != nil {
		return domain.CartResponse{}, err
	}
	resp.Totals = totals
	return resp, nil
}
