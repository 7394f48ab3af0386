// Package notify publishes out-of-band chat events to devices through the
// EMQX HTTP publish API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Publisher delivers a payload to a topic. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Source tags used in chat payloads.
const (
	SourceUser      = "1"
	SourceAssistant = "0"
)

// ChatMessage is one entry of a chat notification payload.
type ChatMessage struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// ChatTopic is the topic a device subscribes to for its conversation.
func ChatTopic(deviceID string) string {
	return fmt.Sprintf("app/%s/chat", deviceID)
}

// ChatPayload encodes the user message and assistant reply of one turn.
func ChatPayload(user, assistant string) ([]byte, error) {
	return json.Marshal([]ChatMessage{
		{Source: SourceUser, Content: user},
		{Source: SourceAssistant, Content: assistant},
	})
}

// EMQXPublisher posts messages to {baseURL}/api/v5/publish with basic auth.
type EMQXPublisher struct {
	baseURL string
	key     string
	secret  string
	client  *http.Client
}

// NewEMQXPublisher returns a publisher, or a no-op one when baseURL is empty.
func NewEMQXPublisher(baseURL, key, secret string, client *http.Client) Publisher {
	if baseURL == "" {
		return Nop{}
	}
	return &EMQXPublisher{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		secret:  secret,
		client:  client,
	}
}

type publishRequest struct {
	Topic   string `json:"topic"`
	QoS     int    `json:"qos"`
	Payload string `json:"payload"`
}

func (p *EMQXPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	body, err := json.Marshal(publishRequest{Topic: topic, QoS: 0, Payload: string(payload)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v5/publish", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(p.key, p.secret)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("emqx publish: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("emqx publish returned status %d", resp.StatusCode)
	}
	return nil
}

// Nop discards every message.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
