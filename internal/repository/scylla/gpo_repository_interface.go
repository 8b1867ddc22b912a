package scylla

import (
	"context"

	"otp-service/internal/models"
)

// GpoRepository is the persistence boundary for mail confirmation records.
// Both record types are append-only; there is no update path.
type GpoRepository interface {
	// CreateConfirmation validates and persists a letter entry. Validation
	// failures are returned as *EntryValidationError.
	CreateConfirmation(ctx context.Context, entry *models.GpoConfirmation) error

	// CreateConfirmationCode persists the fingerprint record linking a
	// profile to a mailed code.
	CreateConfirmationCode(ctx context.Context, code *models.GpoConfirmationCode) error

	// GetCodeByFingerprint looks up the code record for a candidate OTP
	// fingerprint, for the verification flow.
	GetCodeByFingerprint(ctx context.Context, fingerprint string) (*models.GpoConfirmationCode, error)

	HealthCheck(ctx context.Context) error
}
