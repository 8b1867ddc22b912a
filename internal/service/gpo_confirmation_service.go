package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-service/internal/analytics"
	"otp-service/internal/hashing"
	"otp-service/internal/models"
	"otp-service/internal/otp"
	"otp-service/internal/repository/scylla"
	"otp-service/internal/util"
)

const gpoOTPLength = 10

// ErrProfileArgument is returned when the caller supplies neither or both
// of the profile and profile ID. It fires before anything is persisted.
var ErrProfileArgument = errors.New("exactly one of profile or profile_id must be provided")

// InvalidEntryError reports a letter entry the repository refused to
// persist. The underlying validation detail is reachable through Unwrap.
type InvalidEntryError struct {
	Err error
}

func (e *InvalidEntryError) Error() string {
	return fmt.Sprintf("invalid letter entry: %v", e.Err)
}

func (e *InvalidEntryError) Unwrap() error {
	return e.Err
}

// GpoConfirmationRequest asks for one mailed confirmation letter. Exactly
// one of Profile and ProfileID must be set; OTP may be left empty to have
// a code generated.
type GpoConfirmationRequest struct {
	PII       models.GpoPII
	Issuer    string
	AgencyID  int
	Profile   *models.Profile
	ProfileID *int64
	OTP       string
}

// GpoConfirmationResult reports the persisted records for one letter.
type GpoConfirmationResult struct {
	EntryID        string `json:"entry_id"`
	CodeID         string `json:"code_id"`
	OTP            string `json:"otp"`
	OTPFingerprint string `json:"otp_fingerprint"`
}

// GpoConfirmationService issues mail-based confirmations: a letter entry
// holding the address and plaintext code for the print vendor, and a code
// record holding only the fingerprint for later verification.
type GpoConfirmationService struct {
	repo          scylla.GpoRepository
	generator     *otp.Generator
	fingerprinter *hashing.Fingerprinter
	costs         analytics.CostTracker
	now           func() time.Time
}

func NewGpoConfirmationService(
	repo scylla.GpoRepository,
	generator *otp.Generator,
	fingerprinter *hashing.Fingerprinter,
	costs analytics.CostTracker,
) *GpoConfirmationService {
	return &GpoConfirmationService{
		repo:          repo,
		generator:     generator,
		fingerprinter: fingerprinter,
		costs:         costs,
		now:           time.Now,
	}
}

// WithClock overrides the service's time source. Test hook.
func (s *GpoConfirmationService) WithClock(now func() time.Time) *GpoConfirmationService {
	s.now = now
	return s
}

// Issue creates the letter entry and, only once that succeeds, the code
// record. An invalid entry comes back as *InvalidEntryError with nothing
// persisted; a code-record failure leaves the entry in place for operator
// reconciliation. The cost event at the end is best-effort.
func (s *GpoConfirmationService) Issue(ctx context.Context, req GpoConfirmationRequest) (*GpoConfirmationResult, error) {
	profileID, err := resolveProfileID(req)
	if err != nil {
		return nil, err
	}

	code := req.OTP
	if code == "" {
		code, err = s.generator.Generate(gpoOTPLength)
		if err != nil {
			return nil, fmt.Errorf("generate letter otp: %w", err)
		}
	}

	now := s.now().UTC()
	entry := &models.GpoConfirmation{
		EntryID:   uuid.New().String(),
		Address1:  util.NormalizeField(req.PII.Address1),
		Address2:  util.NormalizeField(req.PII.Address2),
		City:      util.NormalizeField(req.PII.City),
		State:     util.NormalizeField(req.PII.State),
		Zipcode:   util.NormalizeZip(req.PII.Zipcode),
		FirstName: util.NormalizeField(req.PII.FirstName),
		LastName:  util.NormalizeField(req.PII.LastName),
		OTP:       code,
		Issuer:    req.Issuer,
		CreatedAt: now,
	}

	if err := s.repo.CreateConfirmation(ctx, entry); err != nil {
		var validationErr *scylla.EntryValidationError
		if errors.As(err, &validationErr) {
			return nil, &InvalidEntryError{Err: validationErr}
		}
		return nil, fmt.Errorf("persist letter entry: %w", err)
	}

	fingerprint := s.fingerprinter.Fingerprint(code)
	record := &models.GpoConfirmationCode{
		CodeID:         uuid.New().String(),
		ProfileID:      profileID,
		OTPFingerprint: fingerprint,
		CreatedAt:      now,
	}
	if err := s.repo.CreateConfirmationCode(ctx, record); err != nil {
		util.Error("Letter entry persisted but code record failed",
			zap.String("entry_id", entry.EntryID),
			zap.Int64("profile_id", profileID),
			zap.Error(err))
		return nil, fmt.Errorf("persist confirmation code: %w", err)
	}

	s.costs.AddSpCost(ctx, req.Issuer, req.AgencyID, analytics.CostTypeGpoLetter)

	return &GpoConfirmationResult{
		EntryID:        entry.EntryID,
		CodeID:         record.CodeID,
		OTP:            code,
		OTPFingerprint: fingerprint,
	}, nil
}

// VerifyCode checks a user-submitted letter code for the given profile.
func (s *GpoConfirmationService) VerifyCode(ctx context.Context, profileID int64, code string) (bool, error) {
	record, err := s.repo.GetCodeByFingerprint(ctx, s.fingerprinter.Fingerprint(code))
	if err != nil {
		if errors.Is(err, scylla.ErrCodeNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("look up confirmation code: %w", err)
	}
	return record.ProfileID == profileID, nil
}

func resolveProfileID(req GpoConfirmationRequest) (int64, error) {
	switch {
	case req.Profile != nil && req.ProfileID != nil:
		return 0, ErrProfileArgument
	case req.Profile != nil:
		return req.Profile.ID, nil
	case req.ProfileID != nil:
		return *req.ProfileID, nil
	default:
		return 0, ErrProfileArgument
	}
}
