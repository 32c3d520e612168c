package persona

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	personamodel "github.com/zhouzirui/grimoire/backend/internal/model/persona"
)

const redisKeyPrefix = "grimoire:persona:"

// RedisCache shares resolved personas between replicas.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache parses a redis:// URL. A zero ttl keeps entries forever.
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisCacheWithClient(redis.NewClient(opts), ttl), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (personamodel.Entry, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return personamodel.Entry{}, false, nil
	}
	if err != nil {
		return personamodel.Entry{}, false, fmt.Errorf("redis get: %w", err)
	}

	var e personamodel.Entry
	if err := sonic.Unmarshal(raw, &e); err != nil {
		return personamodel.Entry{}, false, fmt.Errorf("decode cached persona: %w", err)
	}
	return e, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, e personamodel.Entry) error {
	raw, err := sonic.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode persona: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
