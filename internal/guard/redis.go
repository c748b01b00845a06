package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"studio/internal/domain"
)

// InFlight holds a short-lived per-user lock so that a user cannot run two
// generations at once. When Redis is not configured every call succeeds, so
// single-node deployments work without it.
type InFlight struct {
	Client *redis.Client
	TTL    time.Duration
	Logger zerolog.Logger
}

// NewInFlight connects to Redis at addr. An empty addr disables the guard.
func NewInFlight(addr, password string, ttl time.Duration, logger zerolog.Logger) *InFlight {
	g := &InFlight{TTL: ttl, Logger: logger}
	if addr == "" {
		return g
	}
	g.Client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	return g
}

func lockKey(userID string) string {
	return "studio:inflight:" + userID
}

// Acquire takes the user's lock. It returns domain.ErrInFlight when another
// generation already holds it. Redis outages fail open: a broken guard must
// not block paying users.
func (g *InFlight) Acquire(ctx context.Context, userID string) error {
	if g.Client == nil {
		return nil
	}
	ok, err := g.Client.SetNX(ctx, lockKey(userID), "1", g.TTL).Result()
	if err != nil {
		g.Logger.Warn().Err(err).Msg("inflight guard unavailable, failing open")
		return nil
	}
	if !ok {
		return fmt.Errorf("guard: user %s already has a generation running: %w", userID, domain.ErrInFlight)
	}
	return nil
}

// Release drops the user's lock. Safe to call when the guard is disabled or
// the lock already expired.
func (g *InFlight) Release(ctx context.Context, userID string) {
	if g.Client == nil {
		return
	}
	if err := g.Client.Del(ctx, lockKey(userID)).Err(); err != nil {
		g.Logger.Warn().Err(err).Msg("inflight guard release failed")
	}
}

// Close tears down the Redis connection.
func (g *InFlight) Close() error {
	if g.Client == nil {
		return nil
	}
	return g.Client.Close()
}
