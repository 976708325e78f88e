// Package cache wraps a Redis client for read-through caching of
// repository lookups, mirroring shared/pkg/redis/redis.go in the teacher.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vectorhaven/fleetctl/internal/logger"
)

type Cache struct {
	client *redis.Client
}

func New(addr, password string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	logger.Info("✓ Redis cache connected at %s", addr)
	return &Cache{client: client}, nil
}

// Set stores value as JSON under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get loads and unmarshals the value stored at key into dest. It returns
// redis.Nil on a cache miss, which callers detect with IsMiss.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Del removes key; a no-op if it doesn't exist.
func (c *Cache) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// IsMiss reports whether err represents a cache miss.
func IsMiss(err error) bool {
	return err == redis.Nil
}
