package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"reset-guard/internal/config"
	"reset-guard/internal/models"
	redisrepo "reset-guard/internal/repository/redis"
	"reset-guard/internal/util"
)

// RateStore is the transactional counter store. Enforce must execute
// the whole read-modify-write atomically per (scope, key).
type RateStore interface {
	Enforce(ctx context.Context, scope models.Scope, hashedKey string, now time.Time, policy config.ScopePolicy) error
}

// RateLimiter applies the per-scope cooldown and window quota. The
// identifier is hashed before it leaves this type, so the store only
// ever sees digests.
type RateLimiter struct {
	store    RateStore
	policies map[models.Scope]config.ScopePolicy
}

func NewRateLimiter(store RateStore, cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		store: store,
		policies: map[models.Scope]config.ScopePolicy{
			models.ScopePasswordResetEmail: cfg.Email,
			models.ScopePasswordResetPhone: cfg.Phone,
			models.ScopePasswordResetIP:    cfg.IP,
		},
	}
}

// Enforce checks one scope for one raw identifier at time now. Each
// call is an independent transaction; there is no cross-scope
// atomicity. Counters reflect attempts, not successes.
func (l *RateLimiter) Enforce(ctx context.Context, scope models.Scope, identifier string, now time.Time) error {
	policy, ok := l.policies[scope]
	if !ok {
		return wrapError(CodeInternal, "unknown rate limit scope", errors.New(string(scope)))
	}

	err := l.store.Enforce(ctx, scope, HashIdentifier(identifier), now, policy)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redisrepo.ErrCooldownActive):
		util.Warn("rate limit cooldown hit", util.String("scope", string(scope)))
		return newError(CodeResourceExhausted, "Requests are arriving too fast. Please wait and try again.")
	case errors.Is(err, redisrepo.ErrQuotaExceeded):
		util.Warn("rate limit quota exceeded", util.String("scope", string(scope)))
		return newError(CodeResourceExhausted, "Request limit exceeded. Please try again later.")
	default:
		return wrapError(CodeInternal, "rate limit check failed", err)
	}
}

// HashIdentifier produces the one-way digest persisted as the
// counter key, bounding PII exposure in the counter store.
func HashIdentifier(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])
}
