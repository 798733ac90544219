package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/calmora/clinic-booking/pkg/logging"
)

// AttemptGuard suppresses double-submits for flows whose idempotency key is
// regenerated per attempt (clinic-pay): while one reserve call for a
// (user, slot) pair is in flight, a second one is rejected instead of racing
// the first with a different key. Redis failures fail open — the Authority's
// slot lock still guarantees at most one booking.
type AttemptGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewAttemptGuard creates a guard with the given hold TTL.
func NewAttemptGuard(client *redis.Client, ttl time.Duration, logger *logging.Logger) *AttemptGuard {
	if client == nil {
		panic("booking: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &AttemptGuard{client: client, ttl: ttl, logger: logger}
}

// Acquire claims the in-flight marker. Returns false when another attempt
// for the same pair is already running.
func (g *AttemptGuard) Acquire(ctx context.Context, userID, slotID uuid.UUID) bool {
	ok, err := g.client.SetNX(ctx, guardKey(userID, slotID), "1", g.ttl).Result()
	if err != nil {
		g.logger.Warn("attempt guard unavailable, failing open", "error", err)
		return true
	}
	return ok
}

// Release drops the marker once the attempt settles.
func (g *AttemptGuard) Release(ctx context.Context, userID, slotID uuid.UUID) {
	if err := g.client.Del(ctx, guardKey(userID, slotID)).Err(); err != nil {
		g.logger.Warn("attempt guard release failed", "error", err)
	}
}

func guardKey(userID, slotID uuid.UUID) string {
	return fmt.Sprintf("booking:inflight:%s:%s", userID, slotID)
}
