package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/pkg/logging"
)

func newTestCache(t *testing.T, capacity int) (*SlotCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSlotCache(client, 3*time.Minute, capacity, logging.Nop()), mr
}

func sampleSlots(n int) []domain.AvailabilitySlot {
	slots := make([]domain.AvailabilitySlot, 0, n)
	for i := 0; i < n; i++ {
		slots = append(slots, domain.AvailabilitySlot{
			ID:          uuid.New(),
			TherapistID: uuid.New(),
			ServiceID:   uuid.New(),
			Date:        "2025-06-01",
			StartTime:   "10:00",
			EndTime:     "10:30",
		})
	}
	return slots
}

func TestCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, 4)
	ctx := context.Background()
	slots := sampleSlots(2)

	_, ok := cache.Get(ctx, "svc-a")
	require.False(t, ok, "cold cache should miss")

	cache.Put(ctx, "svc-a", slots)

	got, ok := cache.Get(ctx, "svc-a")
	require.True(t, ok)
	require.Len(t, got, 2)
	require.Equal(t, slots[0].ID, got[0].ID)
}

func TestCacheTTLExpiry(t *testing.T) {
	cache, mr := newTestCache(t, 4)
	ctx := context.Background()

	cache.Put(ctx, "svc-a", sampleSlots(1))
	mr.FastForward(4 * time.Minute)

	_, ok := cache.Get(ctx, "svc-a")
	require.False(t, ok, "entry should expire after TTL")
}

func TestCacheEvictsOldestPastCapacity(t *testing.T) {
	cache, _ := newTestCache(t, 2)
	ctx := context.Background()

	cache.Put(ctx, "first", sampleSlots(1))
	cache.Put(ctx, "second", sampleSlots(1))
	cache.Put(ctx, "third", sampleSlots(1))

	_, ok := cache.Get(ctx, "first")
	require.False(t, ok, "oldest entry should be evicted")
	_, ok = cache.Get(ctx, "second")
	require.True(t, ok)
	_, ok = cache.Get(ctx, "third")
	require.True(t, ok)
}

func TestCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t, 4)
	ctx := context.Background()

	cache.Put(ctx, "svc-a", sampleSlots(1))
	cache.Invalidate(ctx, "svc-a")

	_, ok := cache.Get(ctx, "svc-a")
	require.False(t, ok)
}

func TestCacheSurvivesRedisOutage(t *testing.T) {
	cache, mr := newTestCache(t, 4)
	ctx := context.Background()
	mr.Close()

	// Degrades to a miss instead of failing the request path.
	_, ok := cache.Get(ctx, "svc-a")
	require.False(t, ok)
	cache.Put(ctx, "svc-a", sampleSlots(1))
}
