package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/quantmind-br/docbundle/internal/domain"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero never expires
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is a bounded in-process LRU cache. It is safe for concurrent use.
type MemoryCache struct {
	entries *lru.Cache[string, memoryEntry]
}

// NewMemoryCache creates a memory cache holding at most size entries
func NewMemoryCache(size int) (*MemoryCache, error) {
	if size <= 0 {
		size = DefaultOptions().MemoryEntries
	}
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{entries: entries}, nil
}

// Get retrieves a value from cache
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	if e.expired(time.Now()) {
		c.entries.Remove(key)
		return nil, domain.ErrCacheMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores a copy of value; a zero ttl never expires
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.entries.Add(key, e)
	return nil
}

// Has checks if a live key exists in cache
func (c *MemoryCache) Has(ctx context.Context, key string) bool {
	e, ok := c.entries.Peek(key)
	return ok && !e.expired(time.Now())
}

// Delete removes a key from cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

// Len returns the number of entries held
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

// Close releases cache resources
func (c *MemoryCache) Close() error {
	c.entries.Purge()
	return nil
}
