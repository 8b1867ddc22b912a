package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-service/internal/analytics"
	"otp-service/internal/config"
	"otp-service/internal/hashing"
	"otp-service/internal/models"
	"otp-service/internal/otp"
	"otp-service/internal/repository/scylla"
)

type fakeGpoRepository struct {
	mu      sync.Mutex
	entries []models.GpoConfirmation
	codes   []models.GpoConfirmationCode

	entryErr error
	codeErr  error
}

func (r *fakeGpoRepository) CreateConfirmation(ctx context.Context, entry *models.GpoConfirmation) error {
	if entry.Address1 == "" || entry.City == "" {
		return &scylla.EntryValidationError{Fields: []string{"address1", "city"}}
	}
	if r.entryErr != nil {
		return r.entryErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeGpoRepository) CreateConfirmationCode(ctx context.Context, code *models.GpoConfirmationCode) error {
	if r.codeErr != nil {
		return r.codeErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, *code)
	return nil
}

func (r *fakeGpoRepository) GetCodeByFingerprint(ctx context.Context, fingerprint string) (*models.GpoConfirmationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, code := range r.codes {
		if code.OTPFingerprint == fingerprint {
			found := code
			return &found, nil
		}
	}
	return nil, scylla.ErrCodeNotFound
}

func (r *fakeGpoRepository) HealthCheck(ctx context.Context) error {
	return nil
}

type fakeCostTracker struct {
	mu     sync.Mutex
	events []analytics.SpCostEvent
}

func (f *fakeCostTracker) AddSpCost(ctx context.Context, issuer string, agencyID int, costType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, analytics.SpCostEvent{
		Issuer:   issuer,
		AgencyID: agencyID,
		CostType: costType,
	})
}

func newGpoFixture(t *testing.T) (*GpoConfirmationService, *fakeGpoRepository, *fakeCostTracker, *hashing.Fingerprinter) {
	t.Helper()

	cfg := &config.Config{
		Fingerprint: config.FingerprintConfig{MasterKey: "test-master-key"},
	}
	fingerprinter, err := hashing.NewFingerprinter(cfg)
	require.NoError(t, err)

	repo := &fakeGpoRepository{}
	costs := &fakeCostTracker{}
	svc := NewGpoConfirmationService(repo, otp.NewGenerator(nil), fingerprinter, costs)
	return svc, repo, costs, fingerprinter
}

func letterPII() models.GpoPII {
	return models.GpoPII{
		Address1:  "1600 Pennsylvania Ave NW",
		City:      "Washington",
		State:     "DC",
		Zipcode:   "20500",
		FirstName: "Jamie",
		LastName:  "Rivera",
	}
}

func profileID(id int64) *int64 {
	return &id
}

func TestIssueGeneratesTenCharacterCode(t *testing.T) {
	svc, repo, _, fingerprinter := newGpoFixture(t)

	result, err := svc.Issue(context.Background(), GpoConfirmationRequest{
		PII:       letterPII(),
		Issuer:    "urn:gov:sp:test",
		AgencyID:  7,
		ProfileID: profileID(42),
	})
	require.NoError(t, err)

	require.Len(t, result.OTP, 10)
	for _, r := range result.OTP {
		assert.Contains(t, otp.AlphabetCharacter, string(r))
	}
	assert.Equal(t, fingerprinter.Fingerprint(result.OTP), result.OTPFingerprint)

	require.Len(t, repo.entries, 1)
	assert.Equal(t, result.OTP, repo.entries[0].OTP, "the letter carries the plaintext code")
	assert.Equal(t, "urn:gov:sp:test", repo.entries[0].Issuer)

	require.Len(t, repo.codes, 1)
	assert.Equal(t, int64(42), repo.codes[0].ProfileID)
	assert.Equal(t, result.OTPFingerprint, repo.codes[0].OTPFingerprint)
	assert.NotEqual(t, result.OTP, repo.codes[0].OTPFingerprint,
		"the code record must never hold the plaintext")
}

func TestIssueNormalizesAddressFields(t *testing.T) {
	svc, repo, _, _ := newGpoFixture(t)

	pii := letterPII()
	pii.Address1 = "  1600   Pennsylvania Ave NW "
	pii.Zipcode = " 20500-0001 "
	_, err := svc.Issue(context.Background(), GpoConfirmationRequest{
		PII:       pii,
		Issuer:    "urn:gov:sp:test",
		ProfileID: profileID(42),
	})
	require.NoError(t, err)

	require.Len(t, repo.entries, 1)
	assert.Equal(t, "1600 Pennsylvania Ave NW", repo.entries[0].Address1)
	assert.Equal(t, "20500-0001", repo.entries[0].Zipcode)
}

func TestIssueUsesProvidedCode(t *testing.T) {
	svc, repo, _, _ := newGpoFixture(t)

	result, err := svc.Issue(context.Background(), GpoConfirmationRequest{
		PII:       letterPII(),
		Issuer:    "urn:gov:sp:test",
		ProfileID: profileID(42),
		OTP:       "REISSUE987",
	})
	require.NoError(t, err)

	assert.Equal(t, "REISSUE987", result.OTP)
	require.Len(t, repo.entries, 1)
	assert.Equal(t, "REISSUE987", repo.entries[0].OTP)
}

func TestIssueAcceptsProfileStruct(t *testing.T) {
	svc, repo, _, _ := newGpoFixture(t)

	_, err := svc.Issue(context.Background(), GpoConfirmationRequest{
		PII:     letterPII(),
		Issuer:  "urn:gov:sp:test",
		Profile: &models.Profile{ID: 99, UserID: "user-9"},
	})
	require.NoError(t, err)

	require.Len(t, repo.codes, 1)
	assert.Equal(t, int64(99), repo.codes[0].ProfileID)
}

func TestIssueRejectsBothProfileReferences(t *testing.T) {
	svc, repo, costs, _ := newGpoFixture(t)

	_, err := svc.Issue(context.Background(), GpoConfirmationRequest{
		PII:       letterPII(),
		Issuer:    "urn:gov:sp:test",
		Profile:   &models.Profile{ID: 99},
		ProfileID: profileID(42),
	})
	assert.ErrorIs(t, err, ErrProfileArgument)

	assert.Empty(t, repo.entries, "argument errors must fire before persistence")
	assert.Empty(t, repo.codes)
	assert.Empty(t, costs.events)
}

func TestIssueRejectsMissingProfileReference(t *testing.T) {
	svc, repo, _, _ := newGpoFixture(t)

	_, err := svc.Issue(context.Background(), GpoConfirmationRequest{
		PII:    letterPII(),
		Issuer: "urn:gov:sp:test",
	})
	assert.ErrorIs(t, err, ErrProfileArgument)
	assert.Empty(t, repo.entries)
}

func TestIssueInvalidEntry(t *testing.T) {
	svc, repo, costs, _ := newGpoFixture(t)

	pii := letterPII()
	pii.Address1 = ""
	_, err := svc.Issue(context.Background(), GpoConfirmationRequest{
		PII:       pii,
		Issuer:    "urn:gov:sp:test",
		ProfileID: profileID(42),
	})

	var invalidEntry *InvalidEntryError
	require.ErrorAs(t, err, &invalidEntry)

	var validationErr *scylla.EntryValidationError
	assert.ErrorAs(t, err, &validationErr, "the validation detail stays reachable")

	assert.Empty(t, repo.codes, "no code record without a persisted entry")
	assert.Empty(t, costs.events, "no cost for a letter that was never queued")
}

func TestIssueCodeRecordFailure(t *testing.T) {
	svc, repo, costs, _ := newGpoFixture(t)
	repo.codeErr = errors.New("write timeout")

	_, err := svc.Issue(context.Background(), GpoConfirmationRequest{
		PII:       letterPII(),
		Issuer:    "urn:gov:sp:test",
		ProfileID: profileID(42),
	})
	require.Error(t, err)

	var invalidEntry *InvalidEntryError
	assert.False(t, errors.As(err, &invalidEntry), "a storage failure is not a validation failure")
	assert.Len(t, repo.entries, 1, "the entry remains for reconciliation")
	assert.Empty(t, costs.events)
}

func TestIssueTracksLetterCost(t *testing.T) {
	svc, _, costs, _ := newGpoFixture(t)

	_, err := svc.Issue(context.Background(), GpoConfirmationRequest{
		PII:       letterPII(),
		Issuer:    "urn:gov:sp:test",
		AgencyID:  7,
		ProfileID: profileID(42),
	})
	require.NoError(t, err)

	require.Len(t, costs.events, 1)
	assert.Equal(t, analytics.CostTypeGpoLetter, costs.events[0].CostType)
	assert.Equal(t, "urn:gov:sp:test", costs.events[0].Issuer)
	assert.Equal(t, 7, costs.events[0].AgencyID)
}

func TestVerifyCode(t *testing.T) {
	svc, _, _, _ := newGpoFixture(t)
	ctx := context.Background()

	result, err := svc.Issue(ctx, GpoConfirmationRequest{
		PII:       letterPII(),
		Issuer:    "urn:gov:sp:test",
		ProfileID: profileID(42),
	})
	require.NoError(t, err)

	ok, err := svc.VerifyCode(ctx, 42, result.OTP)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.VerifyCode(ctx, 41, result.OTP)
	require.NoError(t, err)
	assert.False(t, ok, "code belongs to a different profile")

	ok, err = svc.VerifyCode(ctx, 42, "WRONGCODE9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIssueConcurrentLettersKeepRecordsDistinct(t *testing.T) {
	svc, repo, _, fingerprinter := newGpoFixture(t)

	const workers = 16
	var wg sync.WaitGroup
	results := make([]*GpoConfirmationResult, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.Issue(context.Background(), GpoConfirmationRequest{
				PII:       letterPII(),
				Issuer:    fmt.Sprintf("urn:gov:sp:test:%d", i),
				AgencyID:  i,
				ProfileID: profileID(int64(100 + i)),
			})
			if assert.NoError(t, err) {
				results[i] = result
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, repo.entries, workers)
	require.Len(t, repo.codes, workers)

	entriesByID := make(map[string]models.GpoConfirmation, workers)
	for _, entry := range repo.entries {
		entriesByID[entry.EntryID] = entry
	}
	codesByFingerprint := make(map[string]models.GpoConfirmationCode, workers)
	for _, code := range repo.codes {
		codesByFingerprint[code.OTPFingerprint] = code
	}
	require.Len(t, entriesByID, workers)
	require.Len(t, codesByFingerprint, workers)

	// Each letter's persisted rows must carry its own request's values,
	// never a concurrent caller's.
	for i, result := range results {
		require.NotNil(t, result)

		entry, ok := entriesByID[result.EntryID]
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("urn:gov:sp:test:%d", i), entry.Issuer)

		code, ok := codesByFingerprint[fingerprinter.Fingerprint(result.OTP)]
		require.True(t, ok)
		assert.Equal(t, int64(100+i), code.ProfileID)
		assert.Equal(t, result.CodeID, code.CodeID)
	}
}
