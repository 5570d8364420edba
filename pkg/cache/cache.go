// Package cache wraps Redis for phusage: saved scenario estimates and the
// fixed-window API rate limiter.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clucraft/phusage-sub000/internal/logger"
	"github.com/clucraft/phusage-sub000/internal/store"
	"github.com/clucraft/phusage-sub000/pkg/models"
)

const (
	estimateIndexKey = "phusage:estimates"
	estimatePrefix   = "phusage:estimate:"
	rateLimitPrefix  = "phusage:ratelimit:"
)

// Cache wraps a Redis client with phusage-specific operations.
type Cache struct {
	client *redis.Client
}

var _ store.EstimateStore = (*Cache)(nil)

// NewCache connects to Redis at addr ("host:port") and verifies the connection.
func NewCache(ctx context.Context, addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: failed to connect to Redis at %s: %w", addr, err)
	}

	logger.StoreLog.Infof("connected to Redis at %s", addr)
	return &Cache{client: client}, nil
}

// Close shuts down the Redis client connection.
func (c *Cache) Close() error {
	if c.client != nil {
		logger.StoreLog.Debug("closing Redis connection")
		return c.client.Close()
	}
	return nil
}

// Ping checks the connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func estimateKey(id string) string {
	return estimatePrefix + id
}

// SaveEstimate stores e as JSON and indexes it by creation time.
func (c *Cache) SaveEstimate(ctx context.Context, e *models.SavedEstimate) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: encode estimate %s: %w", e.ID, err)
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, estimateKey(e.ID), payload, 0)
		pipe.ZAdd(ctx, estimateIndexKey, redis.Z{Score: float64(e.CreatedAt.UnixMilli()), Member: e.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: save estimate %s: %w", e.ID, err)
	}
	return nil
}

// GetEstimate loads a saved estimate. A missing key is store.ErrNotFound.
func (c *Cache) GetEstimate(ctx context.Context, id string) (*models.SavedEstimate, error) {
	val, err := c.client.Get(ctx, estimateKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get estimate %s: %w", id, err)
	}
	var e models.SavedEstimate
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, fmt.Errorf("cache: decode estimate %s: %w", id, err)
	}
	return &e, nil
}

// ListEstimates returns every saved estimate, newest first. Index entries
// whose payload has expired or been removed are skipped.
func (c *Cache) ListEstimates(ctx context.Context) ([]models.SavedEstimate, error) {
	ids, err := c.client.ZRevRange(ctx, estimateIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: list estimate index: %w", err)
	}
	out := make([]models.SavedEstimate, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = estimateKey(id)
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: load estimates: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var e models.SavedEstimate
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			logger.StoreLog.Warnf("skipping undecodable estimate %s: %v", ids[i], err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteEstimate removes a saved estimate and its index entry.
func (c *Cache) DeleteEstimate(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, estimateKey(id))
		pipe.ZRem(ctx, estimateIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: delete estimate %s: %w", id, err)
	}
	if del.Val() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// rateLimitLua increments the counter and sets the TTL only on the first
// request of the window, so later requests never extend it.
var rateLimitLua = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// RateLimitCheck performs a fixed-window rate limit check for key and reports
// whether the request is allowed.
func (c *Cache) RateLimitCheck(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error) {
	windowSeconds := int(window / time.Second)
	if windowSeconds < 1 {
		windowSeconds = 1
	}
	count, err := rateLimitLua.Run(ctx, c.client, []string{rateLimitPrefix + key}, windowSeconds).Int64()
	if err != nil {
		return false, fmt.Errorf("cache: rate limit check: %w", err)
	}
	return count <= maxRequests, nil
}
