package models

import "time"

// GpoConfirmation is the persisted record of one physical-mail confirmation
// attempt. The plaintext OTP is held only here, because the letter vendor
// needs it for the printed payload; it is encrypted at rest along with the
// address PII. Rows are append-only.
type GpoConfirmation struct {
	EntryID   string    `json:"entry_id"`
	Address1  string    `json:"address1" validate:"required"`
	Address2  string    `json:"address2"`
	City      string    `json:"city" validate:"required"`
	State     string    `json:"state" validate:"required,len=2"`
	Zipcode   string    `json:"zipcode" validate:"required,min=5"`
	FirstName string    `json:"first_name" validate:"required"`
	LastName  string    `json:"last_name" validate:"required"`
	OTP       string    `json:"otp" validate:"required,min=10"`
	Issuer    string    `json:"issuer"`
	CreatedAt time.Time `json:"created_at"`
}

// GpoConfirmationCode links a profile to the fingerprint of a mailed OTP.
// The plaintext code never appears in this table. Rows are append-only.
type GpoConfirmationCode struct {
	CodeID         string    `json:"code_id"`
	ProfileID      int64     `json:"profile_id"`
	OTPFingerprint string    `json:"otp_fingerprint"`
	CreatedAt      time.Time `json:"created_at"`
}

// Profile is the identity-proofing profile a mailed code is attached to.
type Profile struct {
	ID     int64  `json:"id"`
	UserID string `json:"user_id"`
}

// GpoPII carries the caller-supplied address fields for a letter.
type GpoPII struct {
	Address1  string `json:"address1"`
	Address2  string `json:"address2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zipcode   string `json:"zipcode"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}
