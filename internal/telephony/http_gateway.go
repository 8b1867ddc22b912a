package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/config"
	"otp-service/internal/util"
)

// HTTPGateway delivers confirmation OTPs through the telephony gateway's
// REST endpoint. The gateway owns the actual SMS/voice carrier
// integrations; this client only reports whether it accepted the message.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(cfg *config.Config) *HTTPGateway {
	return &HTTPGateway{
		baseURL: cfg.Telephony.GatewayURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (g *HTTPGateway) SendConfirmationOTP(ctx context.Context, msg Message) (*Response, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal telephony message: %w", err)
	}

	url := g.baseURL + "/v1/confirmation-otp"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build telephony request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telephony gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		util.Warn("Telephony gateway refused message",
			zap.Int("status", resp.StatusCode),
			zap.String("channel", string(msg.Channel)))
		return &Response{
			Success: false,
			Error:   fmt.Sprintf("gateway returned status %d", resp.StatusCode),
		}, nil
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode telephony response: %w", err)
	}

	util.Debug("Telephony gateway accepted message",
		zap.String("channel", string(msg.Channel)),
		zap.Bool("success", out.Success))
	return &out, nil
}
