package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"storefront/backend/internal/domain"
)

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Memory is the single-process fallback used when REDIS_ADDR is unset. Values
// are stored as JSON so callers never share mutable state with the cache.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	lists   map[string][][]byte
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		lists:   make(map[string][][]byte),
		now:     time.Now,
	}
}

func (m *Memory) GetCart(_ context.Context, cartID string) (*domain.Cart, bool, error) {
	var cart domain.Cart
	ok, err := m.get(fmt.Sprintf(KeyCart, cartID), &cart, false)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &cart, true, nil
}

func (m *Memory) SaveCart(_ context.Context, cart domain.Cart, ttl time.Duration) error {
	return m.set(fmt.Sprintf(KeyCart, cart.ID), cart, ttl)
}

func (m *Memory) DeleteCart(_ context.Context, cartID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, fmt.Sprintf(KeyCart, cartID))
	return nil
}

func (m *Memory) PutPending(_ context.Context, pending domain.PendingCheckout, ttl time.Duration) error {
	return m.set(fmt.Sprintf(KeyPendingCheckout, pending.IntentID), pending, ttl)
}

func (m *Memory) GetPending(_ context.Context, intentID string) (*domain.PendingCheckout, bool, error) {
	var pending domain.PendingCheckout
	ok, err := m.get(fmt.Sprintf(KeyPendingCheckout, intentID), &pending, false)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &pending, true, nil
}

func (m *Memory) ClaimPending(_ context.Context, intentID string) (*domain.PendingCheckout, bool, error) {
	var pending domain.PendingCheckout
	ok, err := m.get(fmt.Sprintf(KeyPendingCheckout, intentID), &pending, true)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &pending, true, nil
}

func (m *Memory) GetProduct(_ context.Context, productID string) (*domain.Product, bool, error) {
	var product domain.Product
	ok, err := m.get(fmt.Sprintf(KeyProductSnapshot, productID), &product, false)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &product, true, nil
}

func (m *Memory) SetProduct(_ context.Context, product domain.Product, ttl time.Duration) error {
	return m.set(fmt.Sprintf(KeyProductSnapshot, product.ID), product, ttl)
}

func (m *Memory) InvalidateProducts(_ context.Context, productIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range productIDs {
		delete(m.entries, fmt.Sprintf(KeyProductSnapshot, id))
	}
	return nil
}

func (m *Memory) Push(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append(m.lists[key], append([]byte(nil), payload...))
	if len(list) > spoolMaxLen {
		list = list[len(list)-spoolMaxLen:]
	}
	m.lists[key] = list
	return nil
}

// List returns a copy of a spooled list.
func (m *Memory) List(key string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, len(m.lists[key]))
	copy(out, m.lists[key])
	return out
}

// Expire drops an entry as if its TTL had elapsed.
func (m *Memory) Expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *Memory) get(key string, out any, remove bool) (bool, error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok && !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		ok = false
	}
	if ok && remove {
		delete(m.entries, key)
	}
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(entry.payload, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Memory) set(key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	entry := memoryEntry{payload: payload}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
	return nil
}
