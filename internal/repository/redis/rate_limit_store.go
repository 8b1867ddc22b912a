package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/client"
	"otp-service/internal/models"
	"otp-service/internal/util"
)

const (
	rateLimitPrefix     = "rate_limit:"
	rateLimitStartSfx   = ":window_start"
	rateLimitLockPrefix = "rate_limit_lock:"
)

// incrementScript makes increment-and-read one atomic step and stamps the
// window start on the first increment of a window. Both keys share the
// window TTL so a quiet key disappears on its own.
const incrementScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[1])
end
return count
`

// RateLimitStore is the Redis-backed CounterStore used in production. One
// counter per (user, phone fingerprint) key, a window-start stamp, and a
// lockout timestamp retained past its own expiry so eligibility resets can
// observe that a lockout has lapsed.
type RateLimitStore struct {
	client        *client.RedisClient
	lockRetention time.Duration
}

func NewRateLimitStore(redisClient *client.RedisClient, lockRetention time.Duration) *RateLimitStore {
	return &RateLimitStore{client: redisClient, lockRetention: lockRetention}
}

func (s *RateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	countKey := rateLimitPrefix + key
	startKey := countKey + rateLimitStartSfx

	result, err := s.client.Eval(ctx, incrementScript,
		[]string{countKey, startKey},
		window.Milliseconds(), time.Now().UnixMilli())
	if err != nil {
		util.Error("Failed to increment rate limit counter",
			zap.String("key", key),
			zap.Duration("window", window),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from increment script: %T", result)
	}

	util.Debug("Rate limit counter incremented",
		zap.String("key", key),
		zap.Int64("count", count))

	return count, nil
}

func (s *RateLimitStore) Status(ctx context.Context, key string) (models.RateLimitStatus, error) {
	var status models.RateLimitStatus

	countKey := rateLimitPrefix + key

	countStr, err := s.client.Get(ctx, countKey)
	switch {
	case err == nil:
		count, parseErr := strconv.ParseInt(countStr, 10, 64)
		if parseErr != nil {
			util.Error("Invalid counter format",
				zap.String("key", key),
				zap.String("count_str", countStr),
				zap.Error(parseErr))
			return status, fmt.Errorf("invalid counter format: %w", parseErr)
		}
		status.Count = count
	case errors.Is(err, client.ErrKeyNotFound):
		// no sends this window
	default:
		return status, fmt.Errorf("failed to get rate limit counter: %w", err)
	}

	if startStr, err := s.client.Get(ctx, countKey+rateLimitStartSfx); err == nil {
		if ms, parseErr := strconv.ParseInt(startStr, 10, 64); parseErr == nil {
			status.WindowStart = time.UnixMilli(ms)
		}
	} else if !errors.Is(err, client.ErrKeyNotFound) {
		return status, fmt.Errorf("failed to get rate limit window start: %w", err)
	}

	if lockStr, err := s.client.Get(ctx, rateLimitLockPrefix+key); err == nil {
		if ms, parseErr := strconv.ParseInt(lockStr, 10, 64); parseErr == nil {
			status.LockedUntil = time.UnixMilli(ms)
		}
	} else if !errors.Is(err, client.ErrKeyNotFound) {
		return status, fmt.Errorf("failed to get rate limit lockout: %w", err)
	}

	return status, nil
}

func (s *RateLimitStore) Reset(ctx context.Context, key string) error {
	countKey := rateLimitPrefix + key
	keys := []string{
		countKey,
		countKey + rateLimitStartSfx,
		rateLimitLockPrefix + key,
	}

	if err := s.client.Del(ctx, keys...); err != nil {
		util.Error("Failed to reset rate limit counter",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to reset rate limit counter: %w", err)
	}

	util.Debug("Rate limit counter reset", zap.String("key", key))
	return nil
}

func (s *RateLimitStore) SetLockout(ctx context.Context, key string, until time.Time) error {
	// Retain past the lockout itself so ResetIfEligible can still see an
	// expired lockout and clear the counter.
	ttl := time.Until(until) + s.lockRetention
	if ttl <= 0 {
		ttl = s.lockRetention
	}

	lockKey := rateLimitLockPrefix + key
	if err := s.client.Set(ctx, lockKey, until.UnixMilli(), ttl); err != nil {
		util.Error("Failed to set rate limit lockout",
			zap.String("key", key),
			zap.Time("until", until),
			zap.Error(err))
		return fmt.Errorf("failed to set rate limit lockout: %w", err)
	}

	util.Debug("Rate limit lockout set",
		zap.String("key", key),
		zap.Time("until", until))
	return nil
}
