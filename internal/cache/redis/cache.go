// Package redis is the shared cache backend built on go-redis.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type Cache struct {
	rdb goredis.UniversalClient
}

func New(rdb goredis.UniversalClient) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *Cache) AddToGroup(ctx context.Context, group string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return c.rdb.SAdd(ctx, group, toArgs(members)...).Err()
}

func (c *Cache) GroupMembers(ctx context.Context, group string) ([]string, error) {
	return c.rdb.SMembers(ctx, group).Result()
}

func (c *Cache) RemoveFromGroup(ctx context.Context, group string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return c.rdb.SRem(ctx, group, toArgs(members)...).Err()
}

func toArgs(members []string) []interface{} {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return args
}
