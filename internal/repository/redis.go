package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reserva/internal/config"

	"github.com/redis/go-redis/v9"
)

// SlotKey is the cache hash holding computed slots of one resource on one tenant-local date.
func SlotKey(tenantID, resourceID, date string) string {
	return fmt.Sprintf("slots:%s:%s:%s", tenantID, resourceID, date)
}

// RedisCache stores slot lists as hash fields and counts public requests per window.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// GetSlots returns nil without error on a cache miss.
func (r *RedisCache) GetSlots(ctx context.Context, key, field string) ([]byte, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slots from redis: %w", err)
	}
	return val, nil
}

func (r *RedisCache) SetSlots(ctx context.Context, key, field string, data []byte) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, field, data)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set slots in redis: %w", err)
	}
	return nil
}

func (r *RedisCache) InvalidateSlots(ctx context.Context, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate slots in redis: %w", err)
	}
	return nil
}

func (r *RedisCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	rk := "rate_limit:" + key
	count, err := r.client.Incr(ctx, rk).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if count == 1 {
		r.client.Expire(ctx, rk, window)
	}
	return count <= int64(limit), nil
}

func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
