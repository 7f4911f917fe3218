package cache

import (
	"context"
	"errors"
	"time"

	"github.com/quantmind-br/docbundle/internal/domain"
)

// TieredCache serves reads from a fast front cache and falls back to a
// durable back cache, promoting hits into the front.
type TieredCache struct {
	front domain.Cache
	back  domain.Cache
}

// NewTieredCache creates a two-level cache
func NewTieredCache(front, back domain.Cache) *TieredCache {
	return &TieredCache{front: front, back: back}
}

// Get retrieves a value from the first tier that has it
func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, error) {
	if v, err := c.front.Get(ctx, key); err == nil {
		return v, nil
	}

	v, err := c.back.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	// Promotion only affects the front tier; a failure is a miss next time.
	_ = c.front.Set(ctx, key, v, 0)
	return v, nil
}

// Set writes both tiers
func (c *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.back.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.front.Set(ctx, key, value, ttl)
}

// Has checks either tier
func (c *TieredCache) Has(ctx context.Context, key string) bool {
	return c.front.Has(ctx, key) || c.back.Has(ctx, key)
}

// Delete removes the key from both tiers
func (c *TieredCache) Delete(ctx context.Context, key string) error {
	return errors.Join(c.front.Delete(ctx, key), c.back.Delete(ctx, key))
}

// Close closes both tiers
func (c *TieredCache) Close() error {
	return errors.Join(c.front.Close(), c.back.Close())
}
