package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dadmatch/dadmatch/internal/telemetry"
)

// PushSenderConfig holds push gateway settings.
type PushSenderConfig struct {
	// GatewayURL is the HTTP endpoint of the push delivery gateway.
	GatewayURL string

	// APIKey authenticates against the gateway.
	APIKey string

	// Timeout for HTTP requests.
	Timeout time.Duration
}

// PushSender sends notifications to a web-push gateway over HTTP.
type PushSender struct {
	gatewayURL   string
	apiKey       string
	maskedAPIKey string // For safe logging (first 5 chars + "...")
	httpClient   *http.Client
}

// NewPushSender creates a push notification sender.
func NewPushSender(config PushSenderConfig) *PushSender {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	// Create masked key for safe logging
	masked := "***"
	if len(config.APIKey) > 5 {
		masked = config.APIKey[:5] + "***"
	}

	sender := &PushSender{
		gatewayURL:   config.GatewayURL,
		apiKey:       config.APIKey,
		maskedAPIKey: masked,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}

	telemetry.GetGlobalLogger().WithFields(logrus.Fields{
		"gateway": config.GatewayURL,
		"api_key": sender.maskedAPIKey,
	}).Debug("Push sender configured")

	return sender
}

// Channel returns the channel this sender handles.
func (s *PushSender) Channel() Channel {
	return ChannelPush
}

// Send delivers a message through the push gateway.
func (s *PushSender) Send(ctx context.Context, msg *Message) SendResult {
	if msg.To.PushToken == "" {
		return SendResult{
			Success: false,
			Error:   fmt.Errorf("recipient %s has no push token", msg.To.UserID),
		}
	}

	reqBody := map[string]interface{}{
		"token": msg.To.PushToken,
		"title": msg.Subject,
		"body":  msg.Body,
	}
	if len(msg.Data) > 0 {
		reqBody["data"] = msg.Data
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return SendResult{Success: false, Error: fmt.Errorf("failed to marshal push payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return SendResult{Success: false, Error: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return SendResult{Success: false, Error: fmt.Errorf("push gateway request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SendResult{
			Success: false,
			Error:   fmt.Errorf("push gateway returned %s: %s", resp.Status, string(respBody)),
		}
	}

	return SendResult{Success: true}
}
