package hashing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"otp-service/internal/config"
)

var ErrEmptyMasterKey = errors.New("fingerprint master key is empty")

// Purpose labels keep digests from being comparable across secret types.
// A phone fingerprint can never collide with an OTP fingerprint even for
// equal input strings.
const (
	PurposeOTP   = "otp"
	PurposePhone = "phone"
)

// Fingerprinter produces deterministic one-way digests of secrets so the
// secret itself never has to be stored. The digest is an HMAC-SHA256 under
// a purpose-scoped subkey derived from the configured master key, so it is
// stable across process restarts and infeasible to invert without the key.
type Fingerprinter struct {
	masterKey []byte

	mu      sync.RWMutex
	subkeys map[string][]byte
}

func NewFingerprinter(cfg *config.Config) (*Fingerprinter, error) {
	if cfg.Fingerprint.MasterKey == "" {
		return nil, ErrEmptyMasterKey
	}
	return &Fingerprinter{
		masterKey: []byte(cfg.Fingerprint.MasterKey),
		subkeys:   make(map[string][]byte),
	}, nil
}

// Fingerprint digests an OTP code.
func (f *Fingerprinter) Fingerprint(secret string) string {
	return f.fingerprintWithPurpose(secret, PurposeOTP)
}

// FingerprintPhone digests an E.164 phone number for analytics attributes.
func (f *Fingerprinter) FingerprintPhone(e164 string) string {
	return f.fingerprintWithPurpose(e164, PurposePhone)
}

func (f *Fingerprinter) fingerprintWithPurpose(secret, purpose string) string {
	mac := hmac.New(sha256.New, f.subkey(purpose))
	mac.Write([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify compares a candidate secret against a stored fingerprint in
// constant time.
func (f *Fingerprinter) Verify(secret, fingerprint string) bool {
	computed := f.Fingerprint(secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(fingerprint)) == 1
}

func (f *Fingerprinter) subkey(purpose string) []byte {
	f.mu.RLock()
	key, ok := f.subkeys[purpose]
	f.mu.RUnlock()
	if ok {
		return key
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if key, ok := f.subkeys[purpose]; ok {
		return key
	}

	key = make([]byte, 32)
	reader := hkdf.New(sha256.New, f.masterKey, nil, []byte("fingerprint:"+purpose))
	if _, err := io.ReadFull(reader, key); err != nil {
		// hkdf only fails when asked for more output than the hash allows
		panic(fmt.Sprintf("hkdf expand failed: %v", err))
	}
	f.subkeys[purpose] = key
	return key
}
