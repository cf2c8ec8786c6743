package botapi

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/relaywire/messaging-relay/internal/domain"
	"github.com/relaywire/messaging-relay/pkg/logger"
)

// Client calls the external reply-classification service. The service URL
// and key are per-channel, so they travel with each request instead of
// living on the client.
type Client struct {
	httpClient *resty.Client
}

func NewClient(timeout time.Duration) *Client {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{httpClient: client}
}

// ClassifyRequest carries the conversation context for one inbound message.
type ClassifyRequest struct {
	ChannelID   string `json:"channel_id"`
	ChatID      int64  `json:"chat_id"`
	ContactID   string `json:"contact_id"`
	MessageID   string `json:"message_id"`
	MessageText string `json:"message_text"`
	MessageType string `json:"message_type"`
	Timestamp   int64  `json:"timestamp"`
	ProviderID  string `json:"provider_id"`
}

func (c *Client) Classify(
	ctx context.Context,
	serviceURL, apiKey string,
	req ClassifyRequest,
) (*domain.BotDecision, error) {
	var decision domain.BotDecision

	start := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("x-service-key", apiKey).
		SetBody(req).
		SetResult(&decision).
		Post(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("reply service request failed: %w", err)
	}

	logger.Debugf("Reply service call completed in %v (status: %d)", time.Since(start), resp.StatusCode())

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("reply service returned status %d", resp.StatusCode())
	}

	if decision.Action == "" {
		return nil, fmt.Errorf("reply service returned no action")
	}

	return &decision, nil
}
