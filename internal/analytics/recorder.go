package analytics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/client"
	"otp-service/internal/util"
)

// OTPSendEvent is the analytics row for one dispatch attempt. It carries
// fingerprints only; the raw phone number and code never reach the
// warehouse.
type OTPSendEvent struct {
	UserID            string
	DeliveryMethod    string
	CountryCode       string
	AreaCode          string
	PhoneFingerprint  string
	RateLimitExceeded bool
	Success           bool
	ExperimentName    string
	ExperimentBucket  string
	SentAt            time.Time
}

// Recorder sinks dispatch analytics. Recording is best-effort: a sink
// outage must never fail the user-facing send.
type Recorder interface {
	RecordOTPSend(ctx context.Context, event OTPSendEvent)
}

// ClickHouseRecorder writes send events to the analytics warehouse.
type ClickHouseRecorder struct {
	ch *client.ClickHouseClient
}

func NewClickHouseRecorder(ch *client.ClickHouseClient) *ClickHouseRecorder {
	return &ClickHouseRecorder{ch: ch}
}

const insertOTPSendEvent = `
    INSERT INTO otp_send_events (
        user_id, delivery_method, country_code, area_code, phone_fingerprint,
        rate_limit_exceeded, success, experiment_name, experiment_bucket, sent_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (r *ClickHouseRecorder) RecordOTPSend(ctx context.Context, event OTPSendEvent) {
	if event.SentAt.IsZero() {
		event.SentAt = time.Now().UTC()
	}

	err := r.ch.Exec(ctx, insertOTPSendEvent,
		event.UserID, event.DeliveryMethod, event.CountryCode, event.AreaCode,
		event.PhoneFingerprint, event.RateLimitExceeded, event.Success,
		event.ExperimentName, event.ExperimentBucket, event.SentAt,
	)
	if err != nil {
		util.Warn("Failed to record OTP send event",
			zap.String("user_id", event.UserID),
			zap.Error(err))
		return
	}

	util.Debug("OTP send event recorded",
		zap.String("user_id", event.UserID),
		zap.Bool("success", event.Success),
		zap.Bool("rate_limit_exceeded", event.RateLimitExceeded))
}

// NopRecorder drops events; used when no warehouse is configured.
type NopRecorder struct{}

func (NopRecorder) RecordOTPSend(context.Context, OTPSendEvent) {}
