// Package legacy reads and retires the pre-durable-store response cache: a
// Redis mirror of the browser-local key/value store older workbook versions
// wrote answers into. New code only ever drains it.
package legacy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ignite/api/internal/workbook"
)

// Cache wraps the legacy key/value store.
type Cache struct {
	client *redis.Client
	prefix string
}

// NewCache connects to the legacy cache.
func NewCache(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Cache{client: client, prefix: "legacy:"}, nil
}

// NewCacheWithClient creates a cache from an existing Redis client.
func NewCacheWithClient(client *redis.Client) *Cache {
	return &Cache{client: client, prefix: "legacy:"}
}

func (c *Cache) key(name string) string {
	return c.prefix + name
}

// Get reads one legacy entry by exact key. A missing key is not an error.
func (c *Cache) Get(ctx context.Context, name string) (string, bool, error) {
	value, err := c.client.Get(ctx, c.key(name)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get legacy entry: %w", err)
	}
	return value, true, nil
}

// Set writes one legacy entry. Only the browser-sync path and tests call this;
// legacy entries carry no TTL since they must survive until migrated.
func (c *Cache) Set(ctx context.Context, name, value string) error {
	if err := c.client.Set(ctx, c.key(name), value, 0).Err(); err != nil {
		return fmt.Errorf("set legacy entry: %w", err)
	}
	return nil
}

// Delete removes legacy entries by exact key. Deleting absent keys is a no-op.
func (c *Cache) Delete(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = c.key(name)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete legacy entries: %w", err)
	}
	return nil
}

const shadowRetries = 10

// DeleteShadow removes one question's entry from its section blob after the
// durable copy of that field is acknowledged. When the blob runs empty the
// whole legacy key is dropped. Saves for different fields of one section run
// concurrently and share the blob, so the read-modify-write goes through
// WATCH/MULTI: a slower writer retries instead of resurrecting a field a
// faster one already retired.
func (c *Cache) DeleteShadow(ctx context.Context, key workbook.Key) error {
	shape, ok := ShapeFor(key.Step, key.Section)
	if !ok {
		return nil
	}
	field, ok := shape.FieldFor(key.Question)
	if !ok {
		return nil
	}
	name := c.key(shape.CacheKey(key.UserID))

	retire := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, name).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}

		entries := parseEntries(raw)
		if _, ok := entries[field]; !ok {
			return nil
		}
		delete(entries, field)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(entries) == 0 {
				pipe.Del(ctx, name)
				return nil
			}
			encoded, err := json.Marshal(entries)
			if err != nil {
				return fmt.Errorf("encode legacy blob: %w", err)
			}
			pipe.Set(ctx, name, string(encoded), 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < shadowRetries; attempt++ {
		err := c.client.Watch(ctx, retire, name)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("retire legacy shadow: %w", err)
		}
		return nil
	}
	return fmt.Errorf("retire legacy shadow: %w", redis.TxFailedErr)
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if the legacy cache is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
