package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"reset-guard/internal/client"
	"reset-guard/internal/config"
	"reset-guard/internal/models"
	"reset-guard/internal/util"
)

const rateLimitKeyPrefix = "auth_rate_limits:"

// Rejection reasons surfaced by the counter protocol.
var (
	ErrCooldownActive = errors.New("request arrived before cooldown expired")
	ErrQuotaExceeded  = errors.New("request quota exceeded for current window")
)

// enforceScript runs the whole read-modify-write on one counter hash
// inside Redis. Scripts execute atomically, so two concurrent calls
// for the same (scope, key) serialize and cannot both pass a check
// that should fail one of them. A rejected request never mutates the
// record.
//
// Returns {1, count} on allow, {0, 1} on cooldown, {0, 2} on quota.
const enforceScript = `
local key = KEYS[1]
local scope = ARGV[1]
local now = tonumber(ARGV[2])
local cooldown = tonumber(ARGV[3])
local window = tonumber(ARGV[4])
local max = tonumber(ARGV[5])

local last = redis.call('HGET', key, 'last_requested_at_ms')
if not last then
    redis.call('HSET', key,
        'scope', scope,
        'request_count', 1,
        'window_started_at_ms', now,
        'last_requested_at_ms', now,
        'updated_at_ms', now)
    return {1, 1}
end

if now - tonumber(last) < cooldown then
    return {0, 1}
end

local window_start = tonumber(redis.call('HGET', key, 'window_started_at_ms')) or now
local count = tonumber(redis.call('HGET', key, 'request_count')) or 0
local elapsed = (now - window_start) >= window

local candidate
if elapsed then
    candidate = 1
else
    candidate = count + 1
end

if (not elapsed) and candidate > max then
    return {0, 2}
end

if elapsed then
    redis.call('HSET', key, 'window_started_at_ms', now)
end
redis.call('HSET', key,
    'request_count', candidate,
    'last_requested_at_ms', now,
    'updated_at_ms', now)
return {1, candidate}
`

// RateLimitStore persists one counter record per (scope, key) pair.
// Records are created lazily and never expired or deleted here;
// retention is an external concern.
type RateLimitStore struct {
	client *client.RedisClient
}

func NewRateLimitStore(client *client.RedisClient) *RateLimitStore {
	return &RateLimitStore{client: client}
}

// Enforce applies the cooldown and window quota for one (scope, key)
// pair at time now. The key must already be a one-way hash of the
// identifier; raw identifiers never reach this store.
func (s *RateLimitStore) Enforce(ctx context.Context, scope models.Scope, hashedKey string, now time.Time, policy config.ScopePolicy) error {
	key := recordKey(scope, hashedKey)
	nowMs := now.UnixMilli()

	result, err := s.client.Eval(ctx, enforceScript, []string{key},
		string(scope), nowMs, policy.Cooldown.Milliseconds(),
		policy.Window.Milliseconds(), policy.MaxPerWindow)
	if err != nil {
		util.Error("rate limit transaction failed",
			zap.String("scope", string(scope)),
			zap.Error(err))
		return fmt.Errorf("rate limit transaction failed: %w", err)
	}

	reply, ok := result.([]interface{})
	if !ok || len(reply) != 2 {
		return fmt.Errorf("unexpected reply from rate limit script: %v", result)
	}

	allowed, _ := reply[0].(int64)
	detail, _ := reply[1].(int64)

	if allowed == 1 {
		util.Debug("rate limit check passed",
			zap.String("scope", string(scope)),
			zap.Int64("request_count", detail))
		return nil
	}

	switch detail {
	case 1:
		return ErrCooldownActive
	default:
		return ErrQuotaExceeded
	}
}

// GetRecord reads a counter record. The second return is false when
// no record exists yet for the pair.
func (s *RateLimitStore) GetRecord(ctx context.Context, scope models.Scope, hashedKey string) (*models.RateLimitRecord, bool, error) {
	fields, err := s.client.HGetAll(ctx, recordKey(scope, hashedKey))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rate limit record: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	record := &models.RateLimitRecord{
		Scope:             models.Scope(fields["scope"]),
		RequestCount:      parseInt64(fields["request_count"]),
		WindowStartedAtMs: parseInt64(fields["window_started_at_ms"]),
		LastRequestedAtMs: parseInt64(fields["last_requested_at_ms"]),
		UpdatedAtMs:       parseInt64(fields["updated_at_ms"]),
	}
	return record, true, nil
}

// recordKey builds "{prefix}{scope}_{hash}" so distinct scopes for
// the same identifier hash stay independent records.
func recordKey(scope models.Scope, hashedKey string) string {
	return rateLimitKeyPrefix + string(scope) + "_" + hashedKey
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
