package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

type CacheConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
}

// Cache is a JSON read-through cache and pub/sub publisher. A nil or
// disconnected Cache misses every read and drops every write.
type Cache struct {
	client *redis.Client
	prefix string
}

// NewCache connects to Redis and verifies the connection.
func NewCache(ctx context.Context, cfg CacheConfig, prefix string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.ErrRedis, "failed to connect to Redis")
	}

	logger.Info("Redis cache initialized", "addr", client.Options().Addr)
	return &Cache{client: client, prefix: prefix}, nil
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

func (c *Cache) key(k string) string {
	if c.prefix != "" {
		return fmt.Sprintf("%s:%s", c.prefix, k)
	}
	return k
}

// Get decodes key into dest and reports a hit. Cache errors count as misses.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	if !c.enabled() {
		return false
	}

	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		logger.WithContext(ctx).WithField("key", key).Warn("Cache get failed", "error", err)
		return false
	}

	if err := json.Unmarshal(val, dest); err != nil {
		logger.WithContext(ctx).WithField("key", key).Warn("Cache unmarshal failed", "error", err)
		return false
	}
	return true
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) {
	if !c.enabled() {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(key), data, expiration).Err(); err != nil {
		logger.WithContext(ctx).WithField("key", key).Warn("Cache set failed", "error", err)
	}
}

func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if !c.enabled() || len(keys) == 0 {
		return
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		logger.WithContext(ctx).Warn("Cache delete failed", "error", err)
	}
}

// Publish sends payload to a pub/sub channel. Channel names are not prefixed.
func (c *Cache) Publish(ctx context.Context, channel string, payload []byte) error {
	if !c.enabled() {
		return errors.New(errors.ErrRedis, "redis not configured")
	}
	if err := c.client.Publish(ctx, channel, payload).Err(); err != nil {
		return errors.Wrap(err, errors.ErrRedis, "publish failed").WithContext("channel", channel)
	}
	return nil
}

// Ping implements the readiness check.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	if !c.enabled() {
		return nil
	}
	return c.client.Close()
}
