package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/pkg/logging"
)

const cacheIndexKey = "slotcache:index"

// SlotCache is a bounded, short-TTL cache of slot projections. It exists to
// bound read amplification under repeated navigation and is never a source
// of truth for booking decisions: entries expire on TTL and the oldest entry
// is evicted past capacity.
type SlotCache struct {
	client   *redis.Client
	ttl      time.Duration
	capacity int
	metrics  CacheMetrics
	logger   *logging.Logger
}

// CacheMetrics records cache lookup outcomes. Optional.
type CacheMetrics interface {
	ObserveLookup(hit bool)
}

// NewSlotCache creates a cache with the given TTL and capacity.
func NewSlotCache(client *redis.Client, ttl time.Duration, capacity int, logger *logging.Logger) *SlotCache {
	if client == nil {
		panic("catalog: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	if capacity <= 0 {
		capacity = 64
	}
	return &SlotCache{client: client, ttl: ttl, capacity: capacity, logger: logger}
}

// WithMetrics attaches lookup metrics.
func (c *SlotCache) WithMetrics(m CacheMetrics) *SlotCache {
	c.metrics = m
	return c
}

// Get returns the cached slots for a key, or ok=false on miss. Redis
// failures degrade to a miss; the catalog always has the database to fall
// back on.
func (c *SlotCache) Get(ctx context.Context, key string) ([]domain.AvailabilitySlot, bool) {
	raw, err := c.client.Get(ctx, entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.observe(false)
		return nil, false
	}
	if err != nil {
		c.logger.Warn("slot cache read failed", "error", err, "key", key)
		c.observe(false)
		return nil, false
	}
	var slots []domain.AvailabilitySlot
	if err := json.Unmarshal(raw, &slots); err != nil {
		c.logger.Warn("slot cache entry corrupt", "error", err, "key", key)
		c.observe(false)
		return nil, false
	}
	c.observe(true)
	return slots, true
}

func (c *SlotCache) observe(hit bool) {
	if c.metrics != nil {
		c.metrics.ObserveLookup(hit)
	}
}

// Put stores slots under the key, evicting the oldest entries once the cache
// is over capacity.
func (c *SlotCache) Put(ctx context.Context, key string, slots []domain.AvailabilitySlot) {
	raw, err := json.Marshal(slots)
	if err != nil {
		c.logger.Warn("slot cache marshal failed", "error", err, "key", key)
		return
	}
	if err := c.client.Set(ctx, entryKey(key), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("slot cache write failed", "error", err, "key", key)
		return
	}
	now := float64(time.Now().UnixNano())
	if err := c.client.ZAdd(ctx, cacheIndexKey, redis.Z{Score: now, Member: key}).Err(); err != nil {
		c.logger.Warn("slot cache index write failed", "error", err, "key", key)
		return
	}
	c.evictOverCapacity(ctx)
}

// Invalidate drops a key, e.g. after a booking changes availability.
func (c *SlotCache) Invalidate(ctx context.Context, key string) {
	if err := c.client.Del(ctx, entryKey(key)).Err(); err != nil {
		c.logger.Warn("slot cache invalidate failed", "error", err, "key", key)
	}
	c.client.ZRem(ctx, cacheIndexKey, key)
}

func (c *SlotCache) evictOverCapacity(ctx context.Context) {
	size, err := c.client.ZCard(ctx, cacheIndexKey).Result()
	if err != nil || size <= int64(c.capacity) {
		return
	}
	evicted, err := c.client.ZPopMin(ctx, cacheIndexKey, size-int64(c.capacity)).Result()
	if err != nil {
		return
	}
	for _, z := range evicted {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		c.client.Del(ctx, entryKey(member))
	}
}

func entryKey(key string) string {
	return fmt.Sprintf("slotcache:entry:%s", key)
}
