package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-service/internal/analytics"
	"otp-service/internal/bucketing"
	"otp-service/internal/config"
	"otp-service/internal/hashing"
	"otp-service/internal/models"
	"otp-service/internal/otp"
	"otp-service/internal/phone"
	"otp-service/internal/ratelimit"
	redisrepo "otp-service/internal/repository/redis"
	"otp-service/internal/telephony"
)

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]models.PhoneConfirmationSession
	putErr   error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]models.PhoneConfirmationSession)}
}

func (s *fakeSessionStore) Put(ctx context.Context, session models.PhoneConfirmationSession) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.UserID] = session
	return nil
}

func (s *fakeSessionStore) Get(ctx context.Context, userID string) (*models.PhoneConfirmationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[userID]
	if !ok {
		return nil, fmt.Errorf("%w for user %s", redisrepo.ErrSessionNotFound, userID)
	}
	return &session, nil
}

func (s *fakeSessionStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

type fakeTransport struct {
	mu          sync.Mutex
	messages    []telephony.Message
	response    *telephony.Response
	err         error
	deadline    time.Time
	hasDeadline bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{response: &telephony.Response{Success: true}}
}

func (f *fakeTransport) SendConfirmationOTP(ctx context.Context, msg telephony.Message) (*telephony.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadline, f.hasDeadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	f.messages = append(f.messages, msg)
	return f.response, nil
}

func (f *fakeTransport) sent() []telephony.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]telephony.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *fakeTransport) lastDeadline() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deadline, f.hasDeadline
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []analytics.OTPSendEvent
}

func (f *fakeRecorder) RecordOTPSend(ctx context.Context, event analytics.OTPSendEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeRecorder) recorded() []analytics.OTPSendEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]analytics.OTPSendEvent, len(f.events))
	copy(out, f.events)
	return out
}

func dispatcherConfig(experimentEnabled bool, experimentPercent int) *config.Config {
	return &config.Config{
		Fingerprint: config.FingerprintConfig{MasterKey: "test-master-key"},
		OTP: config.OTPConfig{
			Length:    6,
			ExpiresIn: 10 * time.Minute,
		},
		RateLimit: config.RateLimitConfig{
			MaxOTPSends:     2,
			Window:          10 * time.Minute,
			LockoutDuration: time.Hour,
		},
		ABTest: config.ABTestConfig{
			ExperimentName:     "ten_digit_otp",
			TenDigitOTPEnabled: experimentEnabled,
			TenDigitOTPPercent: experimentPercent,
		},
		Telephony: config.TelephonyConfig{DomainName: "idp.example.com"},
	}
}

type dispatcherFixture struct {
	service   *PhoneConfirmationService
	counters  *ratelimit.MemoryStore
	sessions  *fakeSessionStore
	transport *fakeTransport
	recorder  *fakeRecorder
	clock     *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newDispatcherFixture(t *testing.T, cfg *config.Config) *dispatcherFixture {
	t.Helper()

	clock := newFakeClock()
	counters := ratelimit.NewMemoryStore().WithClock(clock.Now)
	sessions := newFakeSessionStore()
	transport := newFakeTransport()
	recorder := &fakeRecorder{}

	fingerprinter, err := hashing.NewFingerprinter(cfg)
	require.NoError(t, err)

	svc := NewPhoneConfirmationService(
		counters,
		sessions,
		transport,
		otp.NewGenerator(nil),
		fingerprinter,
		bucketing.NewTenDigitOTPExperiment(cfg),
		recorder,
		cfg,
	).WithClock(clock.Now)

	return &dispatcherFixture{
		service:   svc,
		counters:  counters,
		sessions:  sessions,
		transport: transport,
		recorder:  recorder,
		clock:     clock,
	}
}

func smsRequest() SendOTPRequest {
	return SendOTPRequest{
		UserID:         "user-1",
		Phone:          "+12025550123",
		DeliveryMethod: models.DeliverySMS,
	}
}

func TestSendDeliversCharacterCode(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))

	result, err := fx.service.Send(context.Background(), smsRequest())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.RateLimitExceeded)
	assert.Equal(t, models.DeliverySMS, result.DeliveryMethod)
	assert.Equal(t, "US", result.CountryCode)
	assert.Equal(t, "202", result.AreaCode)
	assert.NotEmpty(t, result.PhoneFingerprint)
	assert.Empty(t, result.ExperimentBucket)

	sent := fx.transport.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, telephony.FormatCharacter, sent[0].Format)
	assert.Equal(t, 6, sent[0].Length)
	assert.Len(t, sent[0].OTP, 6)
	assert.Equal(t, "+12025550123", sent[0].To)
	assert.Equal(t, "idp.example.com", sent[0].Domain)
	assert.Equal(t, result.PhoneFingerprint, sent[0].Metadata.PhoneFingerprint)
}

func TestSendStoresSessionWithDeliveredCode(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))

	_, err := fx.service.Send(context.Background(), smsRequest())
	require.NoError(t, err)

	session, err := fx.sessions.Get(context.Background(), "user-1")
	require.NoError(t, err)
	sent := fx.transport.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, sent[0].OTP, session.Code)
	assert.Equal(t, "+12025550123", session.Phone)
	assert.Equal(t, models.DeliverySMS, session.DeliveryMethod)
	assert.Equal(t, fx.clock.Now(), session.SentAt)
}

func TestSendRegeneratesCodePerAttempt(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))
	ctx := context.Background()

	_, err := fx.service.Send(ctx, smsRequest())
	require.NoError(t, err)
	_, err = fx.service.Send(ctx, smsRequest())
	require.NoError(t, err)

	sent := fx.transport.sent()
	require.Len(t, sent, 2)
	assert.NotEqual(t, sent[0].OTP, sent[1].OTP, "a resend must carry a fresh code")

	session, err := fx.sessions.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, sent[1].OTP, session.Code, "only the latest code is valid")
}

func TestSendVoiceTenDigitArm(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(true, 100))

	req := smsRequest()
	req.DeliveryMethod = models.DeliveryVoice
	result, err := fx.service.Send(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, string(bucketing.ArmTenDigitOTP), result.ExperimentBucket)

	sent := fx.transport.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, telephony.FormatDigit, sent[0].Format)
	assert.Equal(t, 10, sent[0].Length)
	require.Len(t, sent[0].OTP, 10)
	for _, r := range sent[0].OTP {
		assert.Contains(t, otp.AlphabetDigit, string(r))
	}
}

func TestSendSMSIgnoresTenDigitArm(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(true, 100))

	result, err := fx.service.Send(context.Background(), smsRequest())
	require.NoError(t, err)

	// Bucketed into the treatment arm, but the arm only changes voice calls.
	assert.Equal(t, string(bucketing.ArmTenDigitOTP), result.ExperimentBucket)
	sent := fx.transport.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, telephony.FormatCharacter, sent[0].Format)
	assert.Equal(t, 6, sent[0].Length)
}

func TestSendDisabledExperimentOmitsBucket(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 100))

	req := smsRequest()
	req.DeliveryMethod = models.DeliveryVoice
	result, err := fx.service.Send(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, result.ExperimentBucket)
	sent := fx.transport.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, telephony.FormatCharacter, sent[0].Format)

	events := fx.recorder.recorded()
	require.Len(t, events, 1)
	assert.Empty(t, events[0].ExperimentName)
	assert.Empty(t, events[0].ExperimentBucket)
}

func TestSendRateLimited(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := fx.service.Send(ctx, smsRequest())
		require.NoError(t, err)
		assert.True(t, result.Success)
	}

	result, err := fx.service.Send(ctx, smsRequest())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.RateLimitExceeded)
	assert.Len(t, fx.transport.sent(), 2, "limited attempt must not reach the carrier")

	events := fx.recorder.recorded()
	require.Len(t, events, 3)
	assert.True(t, events[2].RateLimitExceeded)
	assert.False(t, events[2].Success)
}

func TestSendRateLimitedReportsExperimentBucket(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(true, 100))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := fx.service.Send(ctx, smsRequest())
		require.NoError(t, err)
		// Every outcome carries the user's assignment, the limited one too.
		assert.Equal(t, string(bucketing.ArmTenDigitOTP), result.ExperimentBucket)
	}

	events := fx.recorder.recorded()
	require.Len(t, events, 3)
	assert.True(t, events[2].RateLimitExceeded)
	assert.Equal(t, "ten_digit_otp", events[2].ExperimentName)
	assert.Equal(t, string(bucketing.ArmTenDigitOTP), events[2].ExperimentBucket)
}

func TestSendRateLimitLockoutOutlastsWindow(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		fx.service.Send(ctx, smsRequest())
	}

	// Window lapses but the lockout from the limited attempt holds.
	fx.clock.Advance(15 * time.Minute)
	result, err := fx.service.Send(ctx, smsRequest())
	require.NoError(t, err)
	assert.True(t, result.RateLimitExceeded)
	assert.Len(t, fx.transport.sent(), 2)
}

func TestSendRecoversAfterLockoutLapses(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		fx.service.Send(ctx, smsRequest())
	}
	require.Len(t, fx.transport.sent(), 2)

	fx.clock.Advance(2 * time.Hour)

	result, err := fx.service.Send(ctx, smsRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.RateLimitExceeded)
	assert.Len(t, fx.transport.sent(), 3)
}

func TestSendConcurrentLastSlot(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))
	ctx := context.Background()

	// Burn one of the two slots.
	_, err := fx.service.Send(ctx, smsRequest())
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan *SendOTPResult, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := fx.service.Send(ctx, smsRequest())
			assert.NoError(t, err)
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	delivered := 0
	for result := range results {
		if result.Success {
			delivered++
		} else {
			assert.True(t, result.RateLimitExceeded)
		}
	}
	assert.LessOrEqual(t, delivered, 1, "one remaining slot allows at most one delivery")
	assert.LessOrEqual(t, len(fx.transport.sent()), 2)
}

func TestSendUnparseablePhoneAborts(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))

	req := smsRequest()
	req.Phone = "not a phone"
	_, err := fx.service.Send(context.Background(), req)
	assert.ErrorIs(t, err, phone.ErrParse)

	assert.Empty(t, fx.transport.sent())
	assert.Empty(t, fx.recorder.recorded(), "aborted dispatch records nothing")
}

func TestSendInvalidDeliveryMethod(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))

	req := smsRequest()
	req.DeliveryMethod = "carrier_pigeon"
	_, err := fx.service.Send(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidDeliveryMethod)
	assert.Empty(t, fx.transport.sent())
}

func TestSendCarrierRefusal(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))
	fx.transport.response = &telephony.Response{Success: false, Error: "undeliverable destination"}

	result, err := fx.service.Send(context.Background(), smsRequest())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.False(t, result.RateLimitExceeded)
	assert.Equal(t, "undeliverable destination", result.TelephonyError)

	events := fx.recorder.recorded()
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
}

func TestSendTransportError(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))
	fx.transport.err = errors.New("gateway unreachable")

	result, err := fx.service.Send(context.Background(), smsRequest())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.TelephonyError, "gateway unreachable")
}

func TestSendBoundsCarrierCallByCodeLifetime(t *testing.T) {
	cfg := dispatcherConfig(false, 0)
	fx := newDispatcherFixture(t, cfg)

	before := time.Now()
	result, err := fx.service.Send(context.Background(), smsRequest())
	require.NoError(t, err)
	require.True(t, result.Success)

	deadline, ok := fx.transport.lastDeadline()
	require.True(t, ok, "carrier call must carry a deadline")
	assert.WithinDuration(t, before.Add(cfg.OTP.ExpiresIn), deadline, 5*time.Second)
}

// blockingTransport holds the carrier call open until its context expires.
type blockingTransport struct{}

func (blockingTransport) SendConfirmationOTP(ctx context.Context, msg telephony.Message) (*telephony.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSendReturnsWhenCarrierCallOutlivesCode(t *testing.T) {
	cfg := dispatcherConfig(false, 0)
	cfg.OTP.ExpiresIn = 50 * time.Millisecond
	fx := newDispatcherFixture(t, cfg)
	fx.service.transport = blockingTransport{}

	done := make(chan struct{})
	var result *SendOTPResult
	var err error
	go func() {
		defer close(done)
		result, err = fx.service.Send(context.Background(), smsRequest())
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not return after the code lifetime elapsed")
	}

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.TelephonyError, context.DeadlineExceeded.Error())
}

func TestSendAnalyticsCarriesFingerprintNotPhone(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))

	result, err := fx.service.Send(context.Background(), smsRequest())
	require.NoError(t, err)

	events := fx.recorder.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, result.PhoneFingerprint, events[0].PhoneFingerprint)
	assert.NotContains(t, events[0].PhoneFingerprint, "202555")
	assert.Equal(t, "US", events[0].CountryCode)
	assert.Equal(t, "202", events[0].AreaCode)
	assert.Equal(t, "sms", events[0].DeliveryMethod)
}

func TestSendPhoneFingerprintIsStable(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))
	ctx := context.Background()

	first, err := fx.service.Send(ctx, smsRequest())
	require.NoError(t, err)

	// Same number in a different format must produce the same fingerprint.
	req := smsRequest()
	req.Phone = "(202) 555-0123"
	second, err := fx.service.Send(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.PhoneFingerprint, second.PhoneFingerprint)
}

func TestConfirmConsumesSession(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))
	ctx := context.Background()

	_, err := fx.service.Send(ctx, smsRequest())
	require.NoError(t, err)
	sent := fx.transport.sent()
	require.Len(t, sent, 1)

	ok, err := fx.service.Confirm(ctx, "user-1", sent[0].OTP)
	require.NoError(t, err)
	assert.True(t, ok)

	// Replay fails: the session is gone.
	ok, err = fx.service.Confirm(ctx, "user-1", sent[0].OTP)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfirmWrongCode(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))
	ctx := context.Background()

	_, err := fx.service.Send(ctx, smsRequest())
	require.NoError(t, err)

	ok, err := fx.service.Confirm(ctx, "user-1", "WRONGX")
	require.NoError(t, err)
	assert.False(t, ok)

	// The session survives a wrong guess.
	_, err = fx.sessions.Get(ctx, "user-1")
	assert.NoError(t, err)
}

func TestConfirmExpiredCode(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))
	ctx := context.Background()

	_, err := fx.service.Send(ctx, smsRequest())
	require.NoError(t, err)
	sent := fx.transport.sent()

	fx.clock.Advance(11 * time.Minute)

	ok, err := fx.service.Confirm(ctx, "user-1", sent[0].OTP)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfirmUnknownUser(t *testing.T) {
	fx := newDispatcherFixture(t, dispatcherConfig(false, 0))

	ok, err := fx.service.Confirm(context.Background(), "nobody", "ABCDEF")
	require.NoError(t, err)
	assert.False(t, ok)
}
