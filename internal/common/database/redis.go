package database

import (
	"context"
	"fmt"

	"sql-assistant/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// RedisClient is shared by the redis session store and the schema cache.
type RedisClient struct {
	Client *redis.Client
}

// NewRedis does not dial; call Ping to check the server is reachable.
func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  config.Millis(cfg.DialTimeout),
		ReadTimeout:  config.Millis(cfg.ReadTimeout),
		WriteTimeout: config.Millis(cfg.WriteTimeout),
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	return &RedisClient{Client: rdb}, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}
