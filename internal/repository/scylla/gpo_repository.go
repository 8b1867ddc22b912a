package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-service/internal/encryption"
	"otp-service/internal/models"
	"otp-service/internal/util"
)

var ErrCodeNotFound = errors.New("confirmation code not found")

// EntryValidationError reports which entry fields failed validation.
type EntryValidationError struct {
	Fields []string
}

func (e *EntryValidationError) Error() string {
	return fmt.Sprintf("invalid confirmation entry: %s", strings.Join(e.Fields, ", "))
}

// GpoConfirmationRepository persists mail confirmation entries and code
// records in ScyllaDB. The entry's PII and plaintext OTP are serialized
// into a single payload and envelope-encrypted before they touch disk.
type GpoConfirmationRepository struct {
	client    *ScyllaClient
	encryptor *encryption.Manager
	validate  *validator.Validate
}

func NewGpoConfirmationRepository(client *ScyllaClient, encryptor *encryption.Manager) *GpoConfirmationRepository {
	return &GpoConfirmationRepository{
		client:    client,
		encryptor: encryptor,
		validate:  validator.New(),
	}
}

func (r *GpoConfirmationRepository) CreateConfirmation(ctx context.Context, entry *models.GpoConfirmation) error {
	if err := r.validate.Struct(entry); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			fields := make([]string, 0, len(invalid))
			for _, fe := range invalid {
				fields = append(fields, fe.Field())
			}
			return &EntryValidationError{Fields: fields}
		}
		return fmt.Errorf("failed to validate confirmation entry: %w", err)
	}

	if entry.EntryID == "" {
		entry.EntryID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal confirmation entry: %w", err)
	}

	sealed, err := r.encryptor.Encrypt(ctx, string(payload))
	if err != nil {
		return fmt.Errorf("failed to encrypt confirmation entry: %w", err)
	}

	// WithContext copies the prepared query; Bind mutates in place, so the
	// copy must come first or concurrent requests overwrite each other's
	// bound values on the shared statement.
	query := r.client.Prepared.CreateGpoConfirmation.WithContext(ctx).Bind(
		entry.EntryID, entry.Issuer,
		sealed.Ciphertext, sealed.EncryptedDEK, sealed.KeyID,
		entry.CreatedAt,
	)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create GPO confirmation entry",
			zap.String("entry_id", entry.EntryID),
			zap.String("issuer", entry.Issuer),
			zap.Error(err))
		return fmt.Errorf("failed to create GPO confirmation entry: %w", err)
	}

	util.Info("GPO confirmation entry created",
		zap.String("entry_id", entry.EntryID),
		zap.String("issuer", entry.Issuer))
	return nil
}

func (r *GpoConfirmationRepository) CreateConfirmationCode(ctx context.Context, code *models.GpoConfirmationCode) error {
	if code.CodeID == "" {
		code.CodeID = uuid.New().String()
	}
	code.CreatedAt = time.Now().UTC()

	query := r.client.Prepared.CreateGpoConfirmationCode.WithContext(ctx).Bind(
		code.OTPFingerprint, code.CodeID, code.ProfileID, code.CreatedAt,
	)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create GPO confirmation code",
			zap.String("code_id", code.CodeID),
			zap.Int64("profile_id", code.ProfileID),
			zap.Error(err))
		return fmt.Errorf("failed to create GPO confirmation code: %w", err)
	}

	util.Info("GPO confirmation code created",
		zap.String("code_id", code.CodeID),
		zap.Int64("profile_id", code.ProfileID))
	return nil
}

func (r *GpoConfirmationRepository) GetCodeByFingerprint(ctx context.Context, fingerprint string) (*models.GpoConfirmationCode, error) {
	code := &models.GpoConfirmationCode{}

	query := r.client.Prepared.GetCodeByFingerprint.WithContext(ctx).Bind(fingerprint)

	err := r.client.ScanWithRetry(query,
		&code.OTPFingerprint, &code.CodeID, &code.ProfileID, &code.CreatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrCodeNotFound
		}
		util.Error("Failed to get confirmation code by fingerprint", zap.Error(err))
		return nil, fmt.Errorf("failed to get confirmation code: %w", err)
	}

	return code, nil
}

func (r *GpoConfirmationRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}
