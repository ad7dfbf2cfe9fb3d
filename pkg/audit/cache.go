package audit

import (
	"context"
	"time"

	"github.com/shinamagazin/shina-audit/pkg/observability"
	"github.com/shinamagazin/shina-audit/pkg/storage"
	"github.com/shinamagazin/shina-audit/pkg/storage/postgres"
)

const (
	distinctEntityTypesKey = "shina-audit:distinct:entity_types"
	distinctActionsKey     = "shina-audit:distinct:actions"
)

// DistinctCache holds the distinct entity type and action lists, which
// change rarely but are requested by every filter form.
type DistinctCache interface {
	Get(ctx context.Context, key string) ([]string, bool)
	Set(ctx context.Context, key string, values []string)
	Invalidate(ctx context.Context)
}

// RedisDistinctCache stores distinct values in Redis. Redis errors are
// logged and treated as misses.
type RedisDistinctCache struct {
	client  *postgres.RedisClient
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRedisDistinctCache creates a cache whose entries live for ttl
func NewRedisDistinctCache(client *postgres.RedisClient, ttl time.Duration,
	logger *observability.Logger, metrics *observability.Metrics) *RedisDistinctCache {

	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisDistinctCache{
		client:  client,
		ttl:     ttl,
		logger:  logger.WithField("cache", storage.CacheDistinctValues),
		metrics: metrics,
	}
}

// Get returns the cached values for key
func (c *RedisDistinctCache) Get(ctx context.Context, key string) ([]string, bool) {
	var values []string
	found, err := c.client.GetJSON(ctx, key, &values)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("distinct cache read failed")
	}
	if err != nil || !found {
		c.count(false)
		return nil, false
	}
	c.count(true)
	return values, true
}

// Set caches values under key
func (c *RedisDistinctCache) Set(ctx context.Context, key string, values []string) {
	if err := c.client.SetJSON(ctx, key, values, c.ttl); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("distinct cache write failed")
	}
}

// Invalidate drops both cached lists
func (c *RedisDistinctCache) Invalidate(ctx context.Context) {
	if err := c.client.Delete(ctx, distinctEntityTypesKey, distinctActionsKey); err != nil {
		c.logger.WithError(err).Warn("distinct cache invalidation failed")
	}
}

func (c *RedisDistinctCache) count(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues(storage.CacheDistinctValues).Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues(storage.CacheDistinctValues).Inc()
	}
}
