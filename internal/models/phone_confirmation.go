package models

import "time"

// DeliveryMethod is the OTP delivery channel.
type DeliveryMethod string

const (
	DeliverySMS   DeliveryMethod = "sms"
	DeliveryVoice DeliveryMethod = "voice"
)

func (m DeliveryMethod) Valid() bool {
	return m == DeliverySMS || m == DeliveryVoice
}

// PhoneConfirmationSession is the pending-confirmation state for one user's
// phone verification attempt. The code is replaced on every send; only its
// fingerprint outlives the verification flow.
type PhoneConfirmationSession struct {
	UserID         string         `json:"user_id"`
	Phone          string         `json:"phone"`
	Code           string         `json:"code"`
	DeliveryMethod DeliveryMethod `json:"delivery_method"`
	SentAt         time.Time      `json:"sent_at"`
}

// RegenerateCode returns a copy of the session carrying a freshly issued
// code and send time.
func (s PhoneConfirmationSession) RegenerateCode(code string, now time.Time) PhoneConfirmationSession {
	s.Code = code
	s.SentAt = now.UTC()
	return s
}

// RateLimitStatus is a read-only view of one send-rate counter.
type RateLimitStatus struct {
	Count       int64
	WindowStart time.Time
	LockedUntil time.Time
}
