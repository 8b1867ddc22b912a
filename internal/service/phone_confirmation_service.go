package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/analytics"
	"otp-service/internal/bucketing"
	"otp-service/internal/config"
	"otp-service/internal/hashing"
	"otp-service/internal/models"
	"otp-service/internal/otp"
	"otp-service/internal/phone"
	"otp-service/internal/ratelimit"
	"otp-service/internal/repository/redis"
	"otp-service/internal/telephony"
	"otp-service/internal/util"
)

var ErrInvalidDeliveryMethod = errors.New("invalid delivery method")

// SessionStore is the pending-confirmation persistence the dispatcher
// needs. Satisfied by redis.ConfirmationSessionCache.
type SessionStore interface {
	Put(ctx context.Context, session models.PhoneConfirmationSession) error
	Get(ctx context.Context, userID string) (*models.PhoneConfirmationSession, error)
	Delete(ctx context.Context, userID string) error
}

// SendOTPRequest asks for one confirmation code delivery.
type SendOTPRequest struct {
	UserID         string                `json:"user_id" validate:"required"`
	Phone          string                `json:"phone" validate:"required"`
	DeliveryMethod models.DeliveryMethod `json:"delivery_method" validate:"required"`
	Resend         *bool                 `json:"resend,omitempty"`
}

// SendOTPResult reports the outcome of a dispatch attempt along with the
// attributes the analytics pipeline wants. A rate-limited or carrier-refused
// attempt is a non-success result, not an error; errors are reserved for
// malformed input and infrastructure failures.
type SendOTPResult struct {
	Success           bool                  `json:"success"`
	RateLimitExceeded bool                  `json:"rate_limit_exceeded"`
	DeliveryMethod    models.DeliveryMethod `json:"otp_delivery_preference"`
	CountryCode       string                `json:"country_code"`
	AreaCode          string                `json:"area_code"`
	PhoneFingerprint  string                `json:"phone_fingerprint"`
	ExperimentBucket  string                `json:"experiment_bucket,omitempty"`
	TelephonyError    string                `json:"telephony_error,omitempty"`
}

// PhoneConfirmationService dispatches confirmation OTPs over SMS or voice,
// enforcing the per-(user, phone) send limit before anything reaches the
// carrier.
type PhoneConfirmationService struct {
	counters      ratelimit.CounterStore
	sessions      SessionStore
	transport     telephony.Transport
	generator     *otp.Generator
	digitGen      *otp.Generator
	fingerprinter *hashing.Fingerprinter
	experiment    *bucketing.Experiment
	recorder      analytics.Recorder
	cfg           *config.Config
	now           func() time.Time
}

func NewPhoneConfirmationService(
	counters ratelimit.CounterStore,
	sessions SessionStore,
	transport telephony.Transport,
	generator *otp.Generator,
	fingerprinter *hashing.Fingerprinter,
	experiment *bucketing.Experiment,
	recorder analytics.Recorder,
	cfg *config.Config,
) *PhoneConfirmationService {
	return &PhoneConfirmationService{
		counters:      counters,
		sessions:      sessions,
		transport:     transport,
		generator:     generator,
		digitGen:      generator.WithAlphabet(otp.AlphabetDigit),
		fingerprinter: fingerprinter,
		experiment:    experiment,
		recorder:      recorder,
		cfg:           cfg,
		now:           time.Now,
	}
}

// WithClock overrides the service's time source. Test hook.
func (s *PhoneConfirmationService) WithClock(now func() time.Time) *PhoneConfirmationService {
	s.now = now
	return s
}

// Send runs one dispatch attempt. A phone that cannot be parsed aborts
// before any counter is touched. The limiter is consulted twice: once
// before incrementing, and again on the post-increment count, so two
// concurrent requests with one slot left can never both reach the carrier.
func (s *PhoneConfirmationService) Send(ctx context.Context, req SendOTPRequest) (*SendOTPResult, error) {
	if !req.DeliveryMethod.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDeliveryMethod, req.DeliveryMethod)
	}

	parsed, err := phone.Parse(req.Phone)
	if err != nil {
		return nil, fmt.Errorf("parse confirmation phone: %w", err)
	}

	phoneFP := s.fingerprinter.FingerprintPhone(parsed.E164)

	// The bucket is reported on every outcome, rate-limited ones included,
	// so the assignment happens before any limiter branch.
	var arm bucketing.Arm
	var bucket string
	if s.experiment.Enabled {
		arm = s.experiment.Bucket(req.UserID)
		bucket = string(arm)
	}

	limiter := ratelimit.NewOTPSendLimiter(s.counters, req.UserID, phoneFP, s.cfg).WithClock(s.now)

	if err := limiter.ResetIfEligible(ctx); err != nil {
		return nil, fmt.Errorf("reset rate limit: %w", err)
	}

	exceeded, err := limiter.Exceeded(ctx)
	if err != nil {
		return nil, fmt.Errorf("check rate limit: %w", err)
	}
	if !exceeded {
		count, err := limiter.Increment(ctx)
		if err != nil {
			return nil, fmt.Errorf("increment rate limit: %w", err)
		}
		// The count is this call's own post-increment value, so the
		// comparison closes the window between check and increment.
		exceeded = count > int64(limiter.MaxSends())
	}

	if exceeded {
		if err := limiter.LockOut(ctx); err != nil {
			util.Error("Failed to apply OTP send lockout",
				zap.String("user_id", req.UserID),
				zap.Error(err))
		}
		result := s.buildResult(req, parsed, phoneFP, true, false, bucket)
		s.record(ctx, req, result)
		return result, nil
	}

	code, format, length, err := s.generateCode(req.DeliveryMethod, arm)
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	next := models.PhoneConfirmationSession{
		UserID:         req.UserID,
		Phone:          parsed.E164,
		DeliveryMethod: req.DeliveryMethod,
	}.RegenerateCode(code, s.now())
	if err := s.sessions.Put(ctx, next); err != nil {
		return nil, fmt.Errorf("store confirmation session: %w", err)
	}

	// A delivery still in flight when the code expires is worthless;
	// bound the carrier call by the code's own lifetime.
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.OTP.ExpiresIn)
	defer cancel()

	resp, err := s.transport.SendConfirmationOTP(sendCtx, telephony.Message{
		OTP:         code,
		To:          parsed.E164,
		Expiration:  s.cfg.OTP.ExpiresIn,
		Format:      format,
		Length:      length,
		Channel:     req.DeliveryMethod,
		Domain:      s.cfg.Telephony.DomainName,
		CountryCode: parsed.CountryCode,
		Metadata: telephony.Metadata{
			AreaCode:         parsed.AreaCode,
			PhoneFingerprint: phoneFP,
			Resend:           req.Resend,
		},
	})

	result := s.buildResult(req, parsed, phoneFP, false, false, bucket)
	switch {
	case err != nil:
		result.TelephonyError = err.Error()
		util.Error("Telephony send failed",
			zap.String("user_id", req.UserID),
			zap.String("channel", string(req.DeliveryMethod)),
			zap.Error(err))
	case !resp.Success:
		result.TelephonyError = resp.Error
		util.Warn("Telephony send refused",
			zap.String("user_id", req.UserID),
			zap.String("channel", string(req.DeliveryMethod)),
			zap.String("reason", resp.Error))
	default:
		result.Success = true
	}

	s.record(ctx, req, result)
	return result, nil
}

// Confirm checks a submitted code against the user's pending session. A
// match consumes the session so the code cannot be replayed. Expired and
// mismatched codes both come back as a plain false.
func (s *PhoneConfirmationService) Confirm(ctx context.Context, userID, code string) (bool, error) {
	session, err := s.sessions.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, redis.ErrSessionNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load confirmation session: %w", err)
	}

	if s.now().After(session.SentAt.Add(s.cfg.OTP.ExpiresIn)) {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(session.Code), []byte(code)) != 1 {
		return false, nil
	}

	if err := s.sessions.Delete(ctx, userID); err != nil {
		util.Warn("Failed to consume confirmation session",
			zap.String("user_id", userID),
			zap.Error(err))
	}
	return true, nil
}

// generateCode picks the code shape for this delivery. Voice calls for
// users bucketed into the ten-digit arm get a numeric code an automated
// call can read out; everyone else gets the standard character code.
func (s *PhoneConfirmationService) generateCode(method models.DeliveryMethod, arm bucketing.Arm) (code string, format telephony.OTPFormat, length int, err error) {
	if method == models.DeliveryVoice && arm == bucketing.ArmTenDigitOTP {
		format = telephony.FormatDigit
		length = 10
		code, err = s.digitGen.Generate(length)
		return code, format, length, err
	}

	format = telephony.FormatCharacter
	length = s.cfg.OTP.Length
	code, err = s.generator.Generate(length)
	return code, format, length, err
}

func (s *PhoneConfirmationService) buildResult(req SendOTPRequest, parsed *phone.Parsed, phoneFP string, rateLimited, success bool, bucket string) *SendOTPResult {
	return &SendOTPResult{
		Success:           success,
		RateLimitExceeded: rateLimited,
		DeliveryMethod:    req.DeliveryMethod,
		CountryCode:       parsed.CountryCode,
		AreaCode:          parsed.AreaCode,
		PhoneFingerprint:  phoneFP,
		ExperimentBucket:  bucket,
	}
}

func (s *PhoneConfirmationService) record(ctx context.Context, req SendOTPRequest, result *SendOTPResult) {
	event := analytics.OTPSendEvent{
		UserID:            req.UserID,
		DeliveryMethod:    string(req.DeliveryMethod),
		CountryCode:       result.CountryCode,
		AreaCode:          result.AreaCode,
		PhoneFingerprint:  result.PhoneFingerprint,
		RateLimitExceeded: result.RateLimitExceeded,
		Success:           result.Success,
		SentAt:            s.now().UTC(),
	}
	if s.experiment.Enabled {
		event.ExperimentName = s.experiment.Name
		event.ExperimentBucket = result.ExperimentBucket
	}
	s.recorder.RecordOTPSend(ctx, event)
}
