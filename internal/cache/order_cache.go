package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/marketplace/internal/model"
	"github.com/d60-Lab/marketplace/pkg/logger"
)

// OrderCache is a read-through cache of order detail views.
// A nil client turns every call into a pass-through to the loader.
type OrderCache struct {
	client *redis.Client
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewOrderCache wraps the client. ttl <= 0 falls back to five minutes.
func NewOrderCache(client *redis.Client, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &OrderCache{client: client, ttl: ttl}
}

func orderKey(id string) string { return fmt.Sprintf("order:detail:%s", id) }

// Get loads the order from cache, falling back to load on miss or any redis failure.
func (c *OrderCache) Get(ctx context.Context, id string, load func(context.Context) (*model.Order, error)) (*model.Order, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}

	data, err := c.client.Get(ctx, orderKey(id)).Bytes()
	if err == nil {
		var out model.Order
		if uErr := json.Unmarshal(data, &out); uErr == nil {
			c.hits.Add(1)
			return &out, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logger.Warn("order cache read failed", zap.String("order_id", id), zap.Error(err))
	}
	c.misses.Add(1)

	order, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if payload, mErr := json.Marshal(order); mErr == nil {
		if sErr := c.client.Set(ctx, orderKey(id), payload, c.ttl).Err(); sErr != nil {
			logger.Warn("order cache write failed", zap.String("order_id", id), zap.Error(sErr))
		}
	}
	return order, nil
}

// Invalidate drops the cached view after a committed change.
func (c *OrderCache) Invalidate(ctx context.Context, ids ...string) {
	if c == nil || c.client == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = orderKey(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.Warn("order cache invalidate failed", zap.Strings("order_ids", ids), zap.Error(err))
	}
}

// Stats returns hit and miss counters since start.
func (c *OrderCache) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}

// NewRedisClient builds a client and pings it once.
func NewRedisClient(ctx context.Context, addr, password string, db, poolSize int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
