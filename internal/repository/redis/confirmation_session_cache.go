package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/client"
	"otp-service/internal/models"
	"otp-service/internal/util"
)

const confirmationSessionPrefix = "phone_confirmation:"

var ErrSessionNotFound = errors.New("no phone confirmation session")

// ConfirmationSessionCache stores the pending phone-confirmation state for
// a user. Entries carry the in-flight code and expire with the OTP, so a
// stale code can never be confirmed.
type ConfirmationSessionCache struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewConfirmationSessionCache(redisClient *client.RedisClient, ttl time.Duration) *ConfirmationSessionCache {
	return &ConfirmationSessionCache{client: redisClient, ttl: ttl}
}

func (c *ConfirmationSessionCache) Put(ctx context.Context, session models.PhoneConfirmationSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal confirmation session: %w", err)
	}

	key := confirmationSessionPrefix + session.UserID
	if err := c.client.Set(ctx, key, payload, c.ttl); err != nil {
		util.Error("Failed to store confirmation session",
			zap.String("user_id", session.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to store confirmation session: %w", err)
	}

	util.Debug("Confirmation session stored",
		zap.String("user_id", session.UserID),
		zap.Duration("ttl", c.ttl))
	return nil
}

func (c *ConfirmationSessionCache) Get(ctx context.Context, userID string) (*models.PhoneConfirmationSession, error) {
	key := confirmationSessionPrefix + userID

	payload, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w for user %s", ErrSessionNotFound, userID)
		}
		util.Error("Failed to get confirmation session",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get confirmation session: %w", err)
	}

	var session models.PhoneConfirmationSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal confirmation session: %w", err)
	}
	return &session, nil
}

func (c *ConfirmationSessionCache) Delete(ctx context.Context, userID string) error {
	key := confirmationSessionPrefix + userID
	if err := c.client.Del(ctx, key); err != nil {
		util.Error("Failed to delete confirmation session",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to delete confirmation session: %w", err)
	}
	return nil
}
