package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftwatch/driftwatch/pkg/detection"
)

// Compile-time interface guard.
var _ Cache = (*RedisCache)(nil)

// RedisCache is a Redis-backed Cache for deployments where several engine
// instances share baselines. Values are stored as JSON under a fixed key
// prefix with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig holds connection settings for the baseline Redis cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: 3,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis %q: %w", cfg.Addr, err)
	}

	return &RedisCache{client: client, ttl: cfg.TTL}, nil
}

func redisKey(key string) string {
	return "driftwatch:baseline:" + key
}

// Get returns the cached baseline for a key, if present.
func (c *RedisCache) Get(ctx context.Context, key string) (*detection.HistoricalBaseline, bool, error) {
	data, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get baseline: %w", err)
	}

	var b detection.HistoricalBaseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached baseline: %w", err)
	}
	return &b, true, nil
}

// Put stores a baseline, replacing any previous value atomically.
func (c *RedisCache) Put(ctx context.Context, key string, b *detection.HistoricalBaseline) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	if err := c.client.Set(ctx, redisKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set baseline: %w", err)
	}
	return nil
}

// Invalidate removes a cached baseline.
func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del baseline: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
