// Package tiered combines an in-process L1 with a shared L2 cache.
package tiered

import (
	"context"
	"time"

	"ai-task-platform/internal/cache"
)

// Cache reads L1 then L2, backfilling L1 on an L2 hit. Writes go to both levels.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
}

func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	_ = c.l1.Set(ctx, key, val, c.l1Expire)
	return val, true, nil
}

// Set caps the L1 lifetime at l1Expire so L1 never outlives L2.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := c.l1Expire
	if ttl > 0 && ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.l1.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	return c.l2.Set(ctx, key, value, ttl)
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	return c.l2.Delete(ctx, key)
}

// Groups keeps group membership in L2 only; L1 is private to the process.
func (c *Cache) Groups() (cache.GroupStore, bool) {
	return cache.Groups(c.l2)
}
