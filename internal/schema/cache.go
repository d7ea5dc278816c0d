package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sql-assistant/internal/models"
)

// Cache stores rendered schema contexts between runs.
type Cache interface {
	Get(ctx context.Context, key string) (*models.SchemaContext, error)
	Set(ctx context.Context, key string, sc *models.SchemaContext, ttl time.Duration) error
}

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("schema cache miss")

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*models.SchemaContext, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var sc models.SchemaContext
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("decode cached schema: %w", err)
	}
	return &sc, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, sc *models.SchemaContext, ttl time.Duration) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}
