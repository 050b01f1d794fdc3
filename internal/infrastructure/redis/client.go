package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/brewlogic/internal/infrastructure/config"
)

const pingTimeout = 5 * time.Second

// Client is a prefixed JSON view of a Redis server. Safe for concurrent use.
type Client struct {
	rdb    *goredis.Client
	prefix string
}

// Connect opens a client and pings the server.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.Address, err)
	}
	return NewFromClient(rdb, cfg.Prefix), nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(rdb *goredis.Client, prefix string) *Client {
	return &Client{rdb: rdb, prefix: prefix}
}

// Key returns the prefixed form of name.
func (c *Client) Key(name string) string {
	return c.prefix + name
}

// SetJSON stores v under name. A zero ttl never expires.
func (c *Client) SetJSON(ctx context.Context, name string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := c.rdb.Set(ctx, c.Key(name), data, ttl).Err(); err != nil {
		return fmt.Errorf("setting %s: %w", c.Key(name), err)
	}
	return nil
}

// GetJSON decodes the value stored under name into v.
func (c *Client) GetJSON(ctx context.Context, name string, v any) error {
	data, err := c.rdb.Get(ctx, c.Key(name)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("getting %s: %w", c.Key(name), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", c.Key(name), err)
	}
	return nil
}

// Publish sends v as JSON on the prefixed channel.
func (c *Client) Publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message for %s: %w", channel, err)
	}
	if err := c.rdb.Publish(ctx, c.Key(channel), data).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", c.Key(channel), err)
	}
	return nil
}

// PushCapped prepends v to the list under name and trims it to limit
// entries, newest first.
func (c *Client) PushCapped(ctx context.Context, name string, v any, limit int) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s entry: %w", name, err)
	}
	key := c.Key(name)
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(limit-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pushing to %s: %w", key, err)
	}
	return nil
}

// Len returns the length of the list under name.
func (c *Client) Len(ctx context.Context, name string) (int, error) {
	n, err := c.rdb.LLen(ctx, c.Key(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("measuring %s: %w", c.Key(name), err)
	}
	return int(n), nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}

// Close releases the connection pool. Safe on nil.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
