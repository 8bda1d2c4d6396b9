package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/utils/response"
	"go.uber.org/zap"
)

const attemptWindow = 15 * time.Minute

// AttemptStore is the shared counter behind the guard; RedisCache satisfies it
type AttemptStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, keys ...string) error
}

// BruteForceGuard locks out client IPs that keep presenting unknown API keys
type BruteForceGuard struct {
	store AttemptStore
	log   *zap.Logger
}

// NewBruteForceGuard creates a guard backed by store
func NewBruteForceGuard(store AttemptStore, log *zap.Logger) *BruteForceGuard {
	if log == nil {
		log = zap.NewNop()
	}
	return &BruteForceGuard{store: store, log: log}
}

func attemptKey(ip string) string { return fmt.Sprintf("brute_force:attempts:%s", ip) }
func lockKey(ip string) string    { return fmt.Sprintf("brute_force:lock:%s", ip) }

// lockDuration applies progressive lockouts by failures within the window
func lockDuration(attempts int64) time.Duration {
	switch {
	case attempts >= 100:
		return time.Hour
	case attempts >= 50:
		return 10 * time.Minute
	case attempts >= 20:
		return time.Minute
	default:
		return 0
	}
}

// Locked reports the remaining lockout of ip, or 0. Store failures never lock anyone out.
func (g *BruteForceGuard) Locked(ctx context.Context, ip string) time.Duration {
	ttl, err := g.store.TTL(ctx, lockKey(ip))
	if err != nil {
		g.log.Warn("brute force lock lookup failed", zap.String("ip", ip), zap.Error(err))
		return 0
	}
	return ttl
}

// RecordFailure counts an unknown key from ip and locks it out past the thresholds
func (g *BruteForceGuard) RecordFailure(ctx context.Context, ip string) {
	attempts, err := g.store.Increment(ctx, attemptKey(ip), attemptWindow)
	if err != nil {
		g.log.Warn("failed to record authentication failure", zap.String("ip", ip), zap.Error(err))
		return
	}

	d := lockDuration(attempts)
	if d == 0 {
		return
	}
	if err := g.store.Set(ctx, lockKey(ip), "locked", d); err != nil {
		g.log.Warn("failed to lock out client", zap.String("ip", ip), zap.Error(err))
		return
	}
	g.log.Warn("client locked out after repeated invalid API keys",
		zap.String("ip", ip), zap.Int64("attempts", attempts), zap.Duration("lock", d))
}

// Unlock clears the failure count and any lockout of ip
func (g *BruteForceGuard) Unlock(ctx context.Context, ip string) error {
	if err := g.store.Delete(ctx, attemptKey(ip), lockKey(ip)); err != nil {
		return fmt.Errorf("unlock %s: %w", ip, err)
	}
	g.log.Info("client unlocked", zap.String("ip", ip))
	return nil
}

// reject answers a locked out client with 429 and Retry-After
func (g *BruteForceGuard) reject(c *fiber.Ctx, remaining time.Duration) error {
	return response.FromError(c, &services.Error{
		Kind:       services.KindRateLimited,
		Message:    "Too many invalid API keys from this address",
		RetryAfter: remaining,
	})
}
