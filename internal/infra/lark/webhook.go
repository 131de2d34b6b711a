package lark

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
)

const (
	eventMessageReceive = "im.message.receive_v1"
	eventChatUpdated    = "im.chat.updated_v1"
)

// Callback is a decoded event callback
type Callback struct {
	Challenge string
	Event     domain.InboundEvent
}

type envelope struct {
	// v1 verification request
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Token     string `json:"token"`

	// encrypted callbacks carry only this field
	Encrypt string `json:"encrypt"`

	// v2 event callback
	Schema string `json:"schema"`
	Header *struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Token     string `json:"token"`
		AppID     string `json:"app_id"`
	} `json:"header"`
	Event json.RawMessage `json:"event"`
}

type chatUpdated struct {
	ChatID      string `json:"chat_id"`
	AfterChange *struct {
		Name string `json:"name"`
	} `json:"after_change"`
}

// DecodeCallback verifies and decodes an HTTP event callback body.
// verificationToken must match the token the app is configured with.
func DecodeCallback(body []byte, verificationToken string) (*Callback, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, domain.VerificationError("malformed lark callback: %v", err)
	}
	if env.Encrypt != "" {
		return nil, domain.VerificationError("encrypted lark callbacks are not supported; disable the encrypt key")
	}

	token := env.Token
	if env.Header != nil {
		token = env.Header.Token
	}
	if verificationToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(verificationToken)) != 1 {
		return nil, domain.VerificationError("lark verification token mismatch")
	}

	if env.Type == "url_verification" {
		return &Callback{Challenge: env.Challenge}, nil
	}
	if env.Header == nil {
		return nil, domain.VerificationError("lark callback without header")
	}

	switch env.Header.EventType {
	case eventMessageReceive:
		var data larkim.P2MessageReceiveV1Data
		if err := json.Unmarshal(env.Event, &data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventMessageReceive, err)
		}
		return &Callback{Event: InboundMessage(&data)}, nil
	case eventChatUpdated:
		var data chatUpdated
		if err := json.Unmarshal(env.Event, &data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventChatUpdated, err)
		}
		name := ""
		if data.AfterChange != nil {
			name = data.AfterChange.Name
		}
		return &Callback{Event: ChatRenamed(data.ChatID, name)}, nil
	default:
		return &Callback{Event: domain.IgnoredEvent{Platform: domain.PlatformLark, Kind: env.Header.EventType}}, nil
	}
}

// WebhookSender posts to a Lark custom-bot webhook URL
type WebhookSender struct {
	url  string
	http *http.Client
}

// NewWebhookSender creates a sender for url
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{url: url, http: &http.Client{Timeout: 15 * time.Second}}
}

// URL returns the webhook URL
func (w *WebhookSender) URL() string {
	return w.url
}

// Send posts a text message, or a post message when title is set
func (w *WebhookSender) Send(ctx context.Context, title string, lines []string, text string) error {
	var payload map[string]interface{}
	if title != "" {
		payload = map[string]interface{}{
			"msg_type": "post",
			"content": map[string]interface{}{
				"post": map[string]interface{}{
					"zh_cn": map[string]interface{}{
						"title":   title,
						"content": PostParagraphs(lines),
					},
				},
			},
		}
	} else {
		payload = map[string]interface{}{
			"msg_type": "text",
			"content":  map[string]string{"text": text},
		}
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, Truncate(string(data), 200))
	}

	var result struct {
		Code       int    `json:"code"`
		Msg        string `json:"msg"`
		StatusCode int    `json:"StatusCode"`
	}
	if err := json.Unmarshal(data, &result); err == nil && (result.Code != 0 || result.StatusCode != 0) {
		return fmt.Errorf("webhook error: code=%d %s", result.Code+result.StatusCode, result.Msg)
	}
	return nil
}
