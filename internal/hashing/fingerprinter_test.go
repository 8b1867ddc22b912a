package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-service/internal/config"
)

func testConfig(key string) *config.Config {
	return &config.Config{
		Fingerprint: config.FingerprintConfig{MasterKey: key},
	}
}

func TestNewFingerprinterRequiresKey(t *testing.T) {
	_, err := NewFingerprinter(testConfig(""))
	assert.ErrorIs(t, err, ErrEmptyMasterKey)
}

func TestFingerprintIsDeterministic(t *testing.T) {
	f, err := NewFingerprinter(testConfig("test-master-key"))
	require.NoError(t, err)

	first := f.Fingerprint("ABC123XYZ9")
	second := f.Fingerprint("ABC123XYZ9")
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestFingerprintDiffersPerSecret(t *testing.T) {
	f, err := NewFingerprinter(testConfig("test-master-key"))
	require.NoError(t, err)

	assert.NotEqual(t, f.Fingerprint("CODE-A"), f.Fingerprint("CODE-B"))
}

func TestFingerprintDiffersPerKey(t *testing.T) {
	f1, err := NewFingerprinter(testConfig("key-one"))
	require.NoError(t, err)
	f2, err := NewFingerprinter(testConfig("key-two"))
	require.NoError(t, err)

	assert.NotEqual(t, f1.Fingerprint("SAME"), f2.Fingerprint("SAME"))
}

func TestPhoneAndCodePurposesAreIndependent(t *testing.T) {
	f, err := NewFingerprinter(testConfig("test-master-key"))
	require.NoError(t, err)

	// The same input under different purposes must not collide, or a
	// leaked phone digest would also verify as a code digest.
	assert.NotEqual(t, f.Fingerprint("+12025551234"), f.FingerprintPhone("+12025551234"))
}

func TestVerify(t *testing.T) {
	f, err := NewFingerprinter(testConfig("test-master-key"))
	require.NoError(t, err)

	fp := f.Fingerprint("SECRET")
	assert.True(t, f.Verify("SECRET", fp))
	assert.False(t, f.Verify("WRONG", fp))
	assert.False(t, f.Verify("SECRET", "not-a-fingerprint"))
}
