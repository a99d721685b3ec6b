package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zaliubovskiy/chatrelay/internal/config"
)

// RedisHistoryCache implements HistoryCache on redis.
type RedisHistoryCache struct {
	client *redis.Client
	prefix string
}

// NewRedisHistoryCache connects to redis and returns a history cache.
func NewRedisHistoryCache(cfg config.RedisConfig) (*RedisHistoryCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisHistoryCache{client: client, prefix: cfg.CachePrefix}, nil
}

// BuildKey builds the cache key for one page of one room.
func (c *RedisHistoryCache) BuildKey(roomID string, page, pageSize int) string {
	return fmt.Sprintf("%s:room:%s:page:%d:size:%d", c.prefix, roomID, page, pageSize)
}

// Get fetches a cached page.
func (c *RedisHistoryCache) Get(ctx context.Context, key string) (*HistoryPage, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var page HistoryPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached page: %w", err)
	}
	return &page, nil
}

// Set stores a page with a TTL.
func (c *RedisHistoryCache) Set(ctx context.Context, key string, page *HistoryPage, ttl time.Duration) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to marshal page: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

// InvalidateRoom drops every cached page for a room.
func (c *RedisHistoryCache) InvalidateRoom(ctx context.Context, roomID string) error {
	pattern := fmt.Sprintf("%s:room:%s:page:*", c.prefix, roomID)

	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan redis keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete redis keys: %w", err)
	}
	return nil
}

// Close releases the redis connection.
func (c *RedisHistoryCache) Close() error {
	return c.client.Close()
}
