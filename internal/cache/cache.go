package cache

import (
	"context"
	"time"

	"storefront/backend/internal/domain"
)

const (
	// cart:{cart_id} -> domain.Cart JSON
	KeyCart = "cart:%s"

	// checkout:pending:{intent_id} -> domain.PendingCheckout JSON
	KeyPendingCheckout = "checkout:pending:%s"

	// product:snapshot:{product_id} -> domain.Product JSON
	KeyProductSnapshot = "product:snapshot:%s"
)

type CartStore interface {
	GetCart(ctx context.Context, cartID string) (*domain.Cart, bool, error)
	SaveCart(ctx context.Context, cart domain.Cart, ttl time.Duration) error
	DeleteCart(ctx context.Context, cartID string) error
}

// PendingCheckoutStore parks validated checkouts during the gateway round
// trip. An expired entry is indistinguishable from a cancelled one.
type PendingCheckoutStore interface {
	PutPending(ctx context.Context, pending domain.PendingCheckout, ttl time.Duration) error
	GetPending(ctx context.Context, intentID string) (*domain.PendingCheckout, bool, error)
	// ClaimPending atomically removes the entry. Only one caller ever gets
	// ok == true for a given intent.
	ClaimPending(ctx context.Context, intentID string) (*domain.PendingCheckout, bool, error)
}

// ProductSnapshotCache is the short-lived stock view used by cart sessions.
// It is never consulted when committing.
type ProductSnapshotCache interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, bool, error)
	SetProduct(ctx context.Context, product domain.Product, ttl time.Duration) error
	InvalidateProducts(ctx context.Context, productIDs ...string) error
}

// Spool is an append-only list consumed by an external worker, such as the
// receipt printer bridge.
type Spool interface {
	Push(ctx context.Context, key string, payload []byte) error
}

// Store bundles every cache concern so a single backend can be wired at once.
type Store interface {
	CartStore
	PendingCheckoutStore
	ProductSnapshotCache
	Spool
}
