package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-elements/internal/platform/config"
)

const defaultKeyPrefix = "elements:render:"

// RedisRenderCache stores pages in Redis (or Dragonfly) with a TTL.
type RedisRenderCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisRenderCache wraps an existing client. A zero ttl keeps entries
// until evicted.
func NewRedisRenderCache(client *redis.Client, ttl time.Duration) *RedisRenderCache {
	return &RedisRenderCache{client: client, ttl: ttl, prefix: defaultKeyPrefix}
}

// ClientOptions parses the configured URL and applies dial timeouts.
func ClientOptions(cfg config.CacheConfig) (*redis.Options, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	return opts, nil
}

// DialRedis connects to the configured server and checks it with a ping.
func DialRedis(ctx context.Context, cfg config.CacheConfig) (*RedisRenderCache, error) {
	opts, err := ClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}
	return NewRedisRenderCache(client, cfg.TTL()), nil
}

// Close releases the client.
func (c *RedisRenderCache) Close() error {
	return c.client.Close()
}

func (c *RedisRenderCache) Get(ctx context.Context, key string) (Page, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Page{}, false, nil
	}
	if err != nil {
		return Page{}, false, fmt.Errorf("reading render cache: %w", err)
	}
	var p Page
	if err := json.Unmarshal(data, &p); err != nil {
		return Page{}, false, fmt.Errorf("decoding cached page: %w", err)
	}
	return p, true, nil
}

func (c *RedisRenderCache) Set(ctx context.Context, key string, page Page) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("encoding page: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing render cache: %w", err)
	}
	return nil
}
