package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func catalogImageKey(name string) string {
	return "catalog:image:" + strings.ToLower(strings.TrimSpace(name))
}

// GetCatalogImage returns a cached catalog image for a card name.
// found is true for cached misses too, in which case url is empty.
func (c *Client) GetCatalogImage(ctx context.Context, name string) (url string, found bool, err error) {
	url, err = c.rdb.Get(ctx, catalogImageKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("catalog cache get failed: %w", err)
	}
	return url, true, nil
}

// SetCatalogImage caches a catalog lookup result; an empty url records a miss
func (c *Client) SetCatalogImage(ctx context.Context, name, url string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, catalogImageKey(name), url, ttl).Err(); err != nil {
		return fmt.Errorf("catalog cache set failed: %w", err)
	}
	return nil
}

// InvalidateCatalog drops all cached catalog lookups
func (c *Client) InvalidateCatalog(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, "catalog:image:*", 500).Iterator()
	pipe := c.rdb.Pipeline()
	n := 0
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
		n++
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	_, err := pipe.Exec(ctx)
	return err
}
