package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"storefront/backend/internal/domain"
)

const spoolMaxLen = 1000

type Redis struct {
	client *redis.Client
}

func NewRedis(addr string, password string, db int) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	return &Redis{client: client}
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis) Close() error {
	return c.client.Close()
}

func (c *Redis) GetCart(ctx context.Context, cartID string) (*domain.Cart, bool, error) {
	var cart domain.Cart
	ok, err := c.getJSON(ctx, fmt.Sprintf(KeyCart, cartID), &cart)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &cart, true, nil
}

func (c *Redis) SaveCart(ctx context.Context, cart domain.Cart, ttl time.Duration) error {
	return c.setJSON(ctx, fmt.Sprintf(KeyCart, cart.ID), cart, ttl)
}

func (c *Redis) DeleteCart(ctx context.Context, cartID string) error {
	return c.client.Del(ctx, fmt.Sprintf(KeyCart, cartID)).Err()
}

func (c *Redis) PutPending(ctx context.Context, pending domain.PendingCheckout, ttl time.Duration) error {
	return c.setJSON(ctx, fmt.Sprintf(KeyPendingCheckout, pending.IntentID), pending, ttl)
}

func (c *Redis) GetPending(ctx context.Context, intentID string) (*domain.PendingCheckout, bool, error) {
	var pending domain.PendingCheckout
	ok, err := c.getJSON(ctx, fmt.Sprintf(KeyPendingCheckout, intentID), &pending)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &pending, true, nil
}

func (c *Redis) ClaimPending(ctx context.Context, intentID string) (*domain.PendingCheckout, bool, error) {
	val, err := c.client.GetDel(ctx, fmt.Sprintf(KeyPendingCheckout, intentID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var pending domain.PendingCheckout
	if err := json.Unmarshal([]byte(val), &pending); err != nil {
		return nil, false, err
	}
	return &pending, true, nil
}

func (c *Redis) GetProduct(ctx context.Context, productID string) (*domain.Product, bool, error) {
	var product domain.Product
	ok, err := c.getJSON(ctx, fmt.Sprintf(KeyProductSnapshot, productID), &product)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &product, true, nil
}

func (c *Redis) SetProduct(ctx context.Context, product domain.Product, ttl time.Duration) error {
	return c.setJSON(ctx, fmt.Sprintf(KeyProductSnapshot, product.ID), product, ttl)
}

func (c *Redis) InvalidateProducts(ctx context.Context, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, fmt.Sprintf(KeyProductSnapshot, id))
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Redis) Push(ctx context.Context, key string, payload []byte) error {
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, -spoolMaxLen, -1)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Redis) getJSON(ctx context.Context, key string, out any) (bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Redis) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
