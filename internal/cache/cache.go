// Package cache defines the key-value port behind the API response cache.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque payloads. A zero ttl means the entry does not expire.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GroupStore keeps named sets of members next to the cached entries, so every
// process sharing a backend sees the same groups.
type GroupStore interface {
	AddToGroup(ctx context.Context, group string, members ...string) error
	GroupMembers(ctx context.Context, group string) ([]string, error)
	RemoveFromGroup(ctx context.Context, group string, members ...string) error
}

// Groups returns the group store behind c. Backends that wrap another cache
// expose it with a Groups method.
func Groups(c Cache) (GroupStore, bool) {
	switch v := c.(type) {
	case GroupStore:
		return v, true
	case interface{ Groups() (GroupStore, bool) }:
		return v.Groups()
	}
	return nil, false
}
