package ratelimit

import (
	"context"
	"fmt"
	"time"

	"otp-service/internal/config"
	"otp-service/internal/models"
)

// CounterStore is the storage primitive behind a Limiter. Implementations
// must make Increment linearizable per key: two concurrent calls can never
// observe the same pre-increment count. The returned value is the count
// after this call's own increment, which is what lets callers do an atomic
// increment-and-compare instead of a racy read-modify-write.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	Status(ctx context.Context, key string) (models.RateLimitStatus, error)
	Reset(ctx context.Context, key string) error
	SetLockout(ctx context.Context, key string, until time.Time) error
}

// Limiter tracks OTP send attempts for one (user, phone) key over a rolling
// window. It is cheap to construct per request; all state lives in the
// store.
type Limiter struct {
	store    CounterStore
	key      string
	maxSends int
	window   time.Duration
	lockout  time.Duration
	now      func() time.Time
}

// NewOTPSendLimiter builds a limiter for the OTP send purpose. The phone is
// identified by fingerprint so the raw number never becomes a storage key.
func NewOTPSendLimiter(store CounterStore, userID, phoneFingerprint string, cfg *config.Config) *Limiter {
	return &Limiter{
		store:    store,
		key:      fmt.Sprintf("otp_send:%s:%s", userID, phoneFingerprint),
		maxSends: cfg.RateLimit.MaxOTPSends,
		window:   cfg.RateLimit.Window,
		lockout:  cfg.RateLimit.LockoutDuration,
		now:      time.Now,
	}
}

// WithClock overrides the limiter's time source. Test hook.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// ResetIfEligible clears the counter when a previously applied lockout has
// naturally expired, giving the user a fresh window. Idempotent; a user who
// was never locked out is left untouched.
func (l *Limiter) ResetIfEligible(ctx context.Context) error {
	status, err := l.store.Status(ctx, l.key)
	if err != nil {
		return fmt.Errorf("failed to read rate limit status: %w", err)
	}
	if status.LockedUntil.IsZero() || l.now().Before(status.LockedUntil) {
		return nil
	}
	if err := l.store.Reset(ctx, l.key); err != nil {
		return fmt.Errorf("failed to reset rate limit counter: %w", err)
	}
	return nil
}

// Exceeded reports whether the key is at or over the send ceiling, or under
// an active lockout.
func (l *Limiter) Exceeded(ctx context.Context) (bool, error) {
	status, err := l.store.Status(ctx, l.key)
	if err != nil {
		return false, fmt.Errorf("failed to read rate limit status: %w", err)
	}
	if l.lockedNow(status) {
		return true, nil
	}
	return status.Count >= int64(l.maxSends), nil
}

// Increment atomically charges one send attempt and returns the resulting
// count. The count may exceed the ceiling transiently under concurrency;
// callers must re-check Exceeded (or compare the returned count) afterward.
func (l *Limiter) Increment(ctx context.Context) (int64, error) {
	count, err := l.store.Increment(ctx, l.key, l.window)
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return count, nil
}

// LockOut refuses all further sends for the configured duration, regardless
// of count.
func (l *Limiter) LockOut(ctx context.Context) error {
	until := l.now().Add(l.lockout)
	if err := l.store.SetLockout(ctx, l.key, until); err != nil {
		return fmt.Errorf("failed to set rate limit lockout: %w", err)
	}
	return nil
}

// LockedUntil returns the active lockout expiry, or the zero time when no
// lockout is in force.
func (l *Limiter) LockedUntil(ctx context.Context) (time.Time, error) {
	status, err := l.store.Status(ctx, l.key)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read rate limit status: %w", err)
	}
	if !l.lockedNow(status) {
		return time.Time{}, nil
	}
	return status.LockedUntil, nil
}

// MaxSends exposes the configured ceiling.
func (l *Limiter) MaxSends() int {
	return l.maxSends
}

func (l *Limiter) lockedNow(status models.RateLimitStatus) bool {
	return !status.LockedUntil.IsZero() && l.now().Before(status.LockedUntil)
}
