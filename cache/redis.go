package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Provider backed by a Redis server. Eviction rides on
// Redis key TTLs, so entries past their expiry disappear on their own.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr string) RedisCache {
	return RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Ping reports whether the server is reachable.
func (r RedisCache) Ping() error {
	return r.client.Ping(context.Background()).Err()
}

func (r RedisCache) Get(key string) ([]byte, bool, error) {
	bytes, err := r.client.Get(context.Background(), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return bytes, true, nil
}

func (r RedisCache) All(prefix string) ([]Entry, error) {
	ctx := context.Background()
	entries := make([]Entry, 0)
	iter := r.client.Scan(ctx, 0, matchPattern(prefix), 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		bytes, err := r.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			// evicted between scan and get
			continue
		}
		if err != nil {
			return entries, fmt.Errorf("redis get: %w", err)
		}
		entry := Entry{Key: key, Bytes: bytes}
		if ttl, err := r.client.PTTL(ctx, key).Result(); err == nil && ttl > 0 {
			entry.Expires = time.Now().Add(ttl)
		}
		entries = append(entries, entry)
	}
	if err := iter.Err(); err != nil {
		return entries, fmt.Errorf("redis scan: %w", err)
	}
	return entries, nil
}

func (r RedisCache) Put(key string, expires time.Time, bytes []byte) error {
	var ttl time.Duration
	if !expires.IsZero() {
		ttl = time.Until(expires)
		if ttl <= 0 {
			// already expired, don't cache
			return nil
		}
	}
	if err := r.client.Set(context.Background(), key, bytes, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r RedisCache) Purge(prefix string) error {
	ctx := context.Background()
	iter := r.client.Scan(ctx, 0, matchPattern(prefix), 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

// matchPattern turns a key prefix into a SCAN pattern. Keys contain
// request URIs, so the glob specials need escaping.
func matchPattern(prefix string) string {
	escaper := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return escaper.Replace(prefix) + "*"
}
