package telephony

import (
	"context"
	"time"

	"otp-service/internal/models"
)

// OTPFormat tells the carrier how to render the code: spelled-out
// characters for SMS, or digits an automated voice call can read.
type OTPFormat string

const (
	FormatCharacter OTPFormat = "character"
	FormatDigit     OTPFormat = "digit"
)

// Metadata rides along with a confirmation message for carrier-side
// analytics. Only the phone fingerprint is included, never the raw number
// beyond the destination field itself.
type Metadata struct {
	AreaCode         string `json:"area_code"`
	PhoneFingerprint string `json:"phone_fingerprint"`
	Resend           *bool  `json:"resend"`
}

// Message is one confirmation OTP delivery request.
type Message struct {
	OTP         string                `json:"otp"`
	To          string                `json:"to"`
	Expiration  time.Duration         `json:"expiration"`
	Format      OTPFormat             `json:"otp_format"`
	Length      int                   `json:"otp_length"`
	Channel     models.DeliveryMethod `json:"channel"`
	Domain      string                `json:"domain"`
	CountryCode string                `json:"country_code"`
	Metadata    Metadata              `json:"extra_metadata"`
}

// Response reports whether the carrier accepted the message. A refusal is
// an expected outcome, not an error.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Transport is the delivery boundary. Implementations must honor ctx
// cancellation; callers bound the call by the OTP expiration window.
type Transport interface {
	SendConfirmationOTP(ctx context.Context, msg Message) (*Response, error)
}
