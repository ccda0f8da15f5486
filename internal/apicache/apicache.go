// Package apicache caches external API responses keyed by service, endpoint
// and a digest of the request parameters.
package apicache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"ai-task-platform/internal/cache"
	"ai-task-platform/internal/logger"
)

// Cache is shared by every API service. Concurrent writers to one key are
// last-writer-wins. Group membership lives in the backend when it supports
// groups, so any process sharing that backend can clear what another wrote.
type Cache struct {
	backend    cache.Cache
	groups     cache.GroupStore
	prefix     string
	defaultTTL time.Duration
	log        *logger.Logger
}

func New(backend cache.Cache, prefix string, defaultTTL time.Duration, log *logger.Logger) *Cache {
	groups, ok := cache.Groups(backend)
	if !ok {
		groups = newMemoryGroups()
	}
	return &Cache{
		backend:    backend,
		groups:     groups,
		prefix:     prefix,
		defaultTTL: defaultTTL,
		log:        log.Named("apicache"),
	}
}

// Key builds prefix + service + "_" + endpoint + "_" + md5(params). Params are
// encoded with sorted map keys so equal maps share a key.
func (c *Cache) Key(service, endpoint string, params any) (string, error) {
	raw, err := sonic.ConfigStd.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache params: %w", err)
	}
	sum := md5.Sum(raw)
	return c.prefix + service + "_" + endpoint + "_" + hex.EncodeToString(sum[:]), nil
}

func (c *Cache) Get(ctx context.Context, service, endpoint string, params any) ([]byte, bool, error) {
	key, err := c.Key(service, endpoint, params)
	if err != nil {
		return nil, false, err
	}
	val, found, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.Warnw("cache read failed", "key", key, "error", err)
		return nil, false, err
	}
	return val, found, nil
}

// Set stores value for ttl, or the default TTL when ttl is zero.
func (c *Cache) Set(ctx context.Context, service, endpoint string, params any, value []byte, ttl time.Duration) error {
	key, err := c.Key(service, endpoint, params)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.backend.Set(ctx, key, value, ttl); err != nil {
		c.log.Warnw("cache write failed", "key", key, "error", err)
		return err
	}

	m := entry{service: service, endpoint: endpoint, key: key}
	for _, g := range m.groups() {
		if err := c.groups.AddToGroup(ctx, c.groupKey(g), m.String()); err != nil {
			c.log.Warnw("cache group update failed", "key", key, "group", g, "error", err)
			return fmt.Errorf("failed to index cache key %s: %w", key, err)
		}
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, service, endpoint string, params any) error {
	key, err := c.Key(service, endpoint, params)
	if err != nil {
		return err
	}
	return c.drop(ctx, entry{service: service, endpoint: endpoint, key: key})
}

// ClearService removes every entry stored for service and returns how many keys it dropped.
func (c *Cache) ClearService(ctx context.Context, service string) (int, error) {
	return c.clearGroup(ctx, serviceGroup(service))
}

// ClearEndpoint removes every entry stored for one endpoint of service.
func (c *Cache) ClearEndpoint(ctx context.Context, service, endpoint string) (int, error) {
	return c.clearGroup(ctx, endpointGroup(service, endpoint))
}

// ClearAll removes every entry the cache has stored.
func (c *Cache) ClearAll(ctx context.Context) (int, error) {
	return c.clearGroup(ctx, allGroup)
}

// clearGroup counts tracked entries; one that already expired in the backend
// still counts once.
func (c *Cache) clearGroup(ctx context.Context, group string) (int, error) {
	members, err := c.groups.GroupMembers(ctx, c.groupKey(group))
	if err != nil {
		return 0, fmt.Errorf("failed to list cache group %s: %w", group, err)
	}

	removed := 0
	for _, raw := range members {
		m, ok := parseEntry(raw)
		if !ok {
			_ = c.groups.RemoveFromGroup(ctx, c.groupKey(group), raw)
			continue
		}
		if err := c.drop(ctx, m); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		c.log.Infow("cache entries cleared", "group", group, "count", removed)
	}
	return removed, nil
}

func (c *Cache) drop(ctx context.Context, m entry) error {
	if err := c.backend.Delete(ctx, m.key); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", m.key, err)
	}
	for _, g := range m.groups() {
		if err := c.groups.RemoveFromGroup(ctx, c.groupKey(g), m.String()); err != nil {
			return fmt.Errorf("failed to unindex cache key %s: %w", m.key, err)
		}
	}
	return nil
}

func (c *Cache) groupKey(name string) string {
	return c.prefix + "group:" + name
}

const allGroup = "all"

func serviceGroup(service string) string {
	return "service:" + service
}

// endpointGroup length-prefixes service so "a_b"/"c" and "a"/"b_c" stay apart.
func endpointGroup(service, endpoint string) string {
	return fmt.Sprintf("endpoint:%d:%s:%s", len(service), service, endpoint)
}

// entry is one cached key together with the names it was stored under.
type entry struct {
	service  string
	endpoint string
	key      string
}

const entrySep = "\x00"

func (e entry) String() string {
	return e.service + entrySep + e.endpoint + entrySep + e.key
}

func parseEntry(s string) (entry, bool) {
	parts := strings.SplitN(s, entrySep, 3)
	if len(parts) != 3 {
		return entry{}, false
	}
	return entry{service: parts[0], endpoint: parts[1], key: parts[2]}, true
}

func (e entry) groups() []string {
	return []string{allGroup, serviceGroup(e.service), endpointGroup(e.service, e.endpoint)}
}

// memoryGroups backs groups for caches that are private to the process.
type memoryGroups struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{}
}

func newMemoryGroups() *memoryGroups {
	return &memoryGroups{sets: make(map[string]map[string]struct{})}
}

func (g *memoryGroups) AddToGroup(_ context.Context, group string, members ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.sets[group]
	if !ok {
		set = make(map[string]struct{})
		g.sets[group] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (g *memoryGroups) GroupMembers(_ context.Context, group string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.sets[group]))
	for m := range g.sets[group] {
		out = append(out, m)
	}
	return out, nil
}

func (g *memoryGroups) RemoveFromGroup(_ context.Context, group string, members ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	set := g.sets[group]
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(g.sets, group)
	}
	return nil
}
