package analytics

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/client"
	"otp-service/internal/util"
)

// Cost types recognized by the billing pipeline.
const (
	CostTypeGpoLetter = "gpo_letter"
	CostTypeSMS       = "sms"
	CostTypeVoice     = "voice"
)

// SpCostEvent is one billable unit attributed to a service provider.
type SpCostEvent struct {
	Issuer    string    `json:"issuer"`
	AgencyID  int       `json:"agency_id"`
	CostType  string    `json:"cost_type"`
	CreatedAt time.Time `json:"created_at"`
}

// CostTracker records billable events for downstream cost attribution.
// Tracking is best-effort: failures are logged and swallowed so billing
// hiccups never abort the operation that incurred the cost.
type CostTracker interface {
	AddSpCost(ctx context.Context, issuer string, agencyID int, costType string)
}

// KafkaCostTracker publishes cost events to the billing topic.
type KafkaCostTracker struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaCostTracker(producer *client.KafkaProducer, topic string) *KafkaCostTracker {
	return &KafkaCostTracker{producer: producer, topic: topic}
}

func (t *KafkaCostTracker) AddSpCost(ctx context.Context, issuer string, agencyID int, costType string) {
	event := SpCostEvent{
		Issuer:    issuer,
		AgencyID:  agencyID,
		CostType:  costType,
		CreatedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		util.Warn("Failed to marshal SP cost event",
			zap.String("cost_type", costType),
			zap.Error(err))
		return
	}

	if err := t.producer.ProduceMessage(ctx, t.topic, []byte(issuer), payload, nil); err != nil {
		util.Warn("Failed to publish SP cost event",
			zap.String("issuer", issuer),
			zap.String("cost_type", costType),
			zap.Error(err))
		return
	}

	util.Debug("SP cost event published",
		zap.String("issuer", issuer),
		zap.String("cost_type", costType))
}

// NopCostTracker drops cost events; used in tests and when Kafka is absent.
type NopCostTracker struct{}

func (NopCostTracker) AddSpCost(context.Context, string, int, string) {}
