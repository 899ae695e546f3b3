// Package cart keeps a shopper's line items consistent with a stock snapshot.
// It is advisory only: the orchestrator re-validates against the ledger at
// commit time.
package cart

import (
	"errors"
	"fmt"
	"time"

	"storefront/backend/internal/domain"
)

var (
	ErrSizeRequired = errors.New("size required")
	ErrUnknownSize  = errors.New("unknown size")
	ErrOutOfStock   = errors.New("out of stock")
	ErrUnavailable  = errors.New("product unavailable")
	ErrLineNotFound = errors.New("cart line not found")
)

// TotalStockAcrossSizes reports whether a product is purchasable at all.
func TotalStockAcrossSizes(product domain.Product) int {
	if !product.IsSized() {
		return product.CurrentStock
	}
	total := 0
	for _, qty := range product.SizeStock {
		total += qty
	}
	return total
}

// Available is the snapshot stock for one product/size pair.
func Available(product domain.Product, size string) int {
	if !product.IsSized() {
		return product.CurrentStock
	}
	return product.SizeStock[size]
}

// Add puts one unit of product/size in the cart, merging with an existing line.
func Add(c *domain.Cart, product domain.Product, size string, now time.Time) error {
	if product.Lifecycle != domain.ProductActive {
		return fmt.Errorf("%w: %s", ErrUnavailable, product.ID)
	}

	size = domain.NormalizeSize(size)
	if product.IsSized() {
		if size == "" {
			return fmt.Errorf("%w: %s", ErrSizeRequired, product.Name)
		}
		if !product.HasSize(size) {
			return fmt.Errorf("%w: %s size %s", ErrUnknownSize, product.Name, size)
		}
	} else if size != "" {
		return fmt.Errorf("%w: %s is not sized", ErrUnknownSize, product.Name)
	}

	available := Available(product, size)
	key := domain.LineKey{ProductID: product.ID, Size: size}
	if idx := indexOf(c, key); idx >= 0 {
		if c.Lines[idx].Quantity >= available {
			return fmt.Errorf("%w: only %d of %s left", ErrOutOfStock, available, label(product.Name, size))
		}
		c.Lines[idx].Quantity++
		c.UpdatedAt = now
		return nil
	}

	if available < 1 {
		return fmt.Errorf("%w: %s", ErrOutOfStock, label(product.Name, size))
	}
	c.Lines = append(c.Lines, domain.LineItem{
		ProductID: product.ID,
		ItemID:    product.ItemID,
		Name:      product.Name,
		Size:      size,
		Quantity:  1,
		UnitPrice: product.Price,
	})
	c.UpdatedAt = now
	return nil
}

// SetQuantity moves a line by delta, clamped to [1, available]. Reaching zero
// or below removes the line. Exceeding the snapshot clamps and reports
// ErrOutOfStock.
func SetQuantity(c *domain.Cart, key domain.LineKey, delta int, product domain.Product, now time.Time) error {
	key.Size = domain.NormalizeSize(key.Size)
	idx := indexOf(c, key)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrLineNotFound, label(key.ProductID, key.Size))
	}

	next := c.Lines[idx].Quantity + delta
	if next <= 0 {
		removeAt(c, idx)
		c.UpdatedAt = now
		return nil
	}

	available := Available(product, key.Size)
	if available < 1 {
		removeAt(c, idx)
		c.UpdatedAt = now
		return fmt.Errorf("%w: %s", ErrOutOfStock, label(product.Name, key.Size))
	}
	if next > available {
		c.Lines[idx].Quantity = available
		c.UpdatedAt = now
		return fmt.Errorf("%w: only %d of %s left", ErrOutOfStock, available, label(product.Name, key.Size))
	}

	c.Lines[idx].Quantity = next
	c.UpdatedAt = now
	return nil
}

func Remove(c *domain.Cart, key domain.LineKey, now time.Time) bool {
	key.Size = domain.NormalizeSize(key.Size)
	idx := indexOf(c, key)
	if idx < 0 {
		return false
	}
	removeAt(c, idx)
	c.UpdatedAt = now
	return true
}

// Items returns a copy of the cart lines.
func Items(c domain.Cart) []domain.LineItem {
	out := make([]domain.LineItem, len(c.Lines))
	copy(out, c.Lines)
	return out
}

// Merge folds repeated product/size selections into one line each, keeping
// first-seen order.
func Merge(lines []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(lines))
	pos := make(map[domain.LineKey]int, len(lines))
	for _, line := range lines {
		line.Size = domain.NormalizeSize(line.Size)
		key := domain.LineKey{ProductID: line.ProductID, Size: line.Size}
		if idx, ok := pos[key]; ok {
			out[idx].Quantity += line.Quantity
			continue
		}
		pos[key] = len(out)
		out = append(out, line)
	}
	return out
}

func indexOf(c *domain.Cart, key domain.LineKey) int {
	for i, line := range c.Lines {
		if line.ProductID == key.ProductID && line.Size == key.Size {
			return i
		}
	}
	return -1
}

func removeAt(c *domain.Cart, idx int) {
	c.Lines = append(c.Lines[:idx], c.Lines[idx+1:]...)
}

func label(name string, size string) string {
	if size == "" {
		return name
	}
	return fmt.Sprintf("%s (size %s)", name, size)
}
