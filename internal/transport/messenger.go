// Package transport holds outbound delivery adapters. The chat
// transport's wire protocol lives outside this repository; the bot core
// only needs a way to push a message at a user id.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// WebhookMessenger delivers messages by POSTing them to the chat
// transport's delivery hook. The transport owns the actual protocol.
type WebhookMessenger struct {
	url  string
	http *http.Client
}

func NewWebhookMessenger(url string) *WebhookMessenger {
	return &WebhookMessenger{url: url, http: &http.Client{}}
}

type deliveryPayload struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// Send posts one message. Any non-2xx answer counts as a delivery
// failure for that recipient.
func (m *WebhookMessenger) Send(ctx context.Context, userID, text string) error {
	body, err := json.Marshal(deliveryPayload{UserID: userID, Text: text})
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver to %s: status %d", userID, resp.StatusCode)
	}
	return nil
}
