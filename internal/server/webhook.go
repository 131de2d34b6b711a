package server

import (
	"net/http"

	"github.com/PLark-droid/lark-slack-connector/internal/infra/lark"
	slackinfra "github.com/PLark-droid/lark-slack-connector/internal/infra/slack"
	"github.com/PLark-droid/lark-slack-connector/internal/service"
)

// SlackWebhook decodes Slack Events API requests signed with the app's signing secret
type SlackWebhook struct {
	signingSecret string
}

// NewSlackWebhook creates a Slack Events API decoder
func NewSlackWebhook(signingSecret string) *SlackWebhook {
	return &SlackWebhook{signingSecret: signingSecret}
}

func (w *SlackWebhook) Decode(header http.Header, body []byte) (*service.WebhookResult, error) {
	cb, err := slackinfra.DecodeCallback(header, body, w.signingSecret)
	if err != nil {
		return nil, err
	}
	return &service.WebhookResult{Challenge: cb.Challenge, Event: cb.Event}, nil
}

// LarkWebhook decodes Lark event callbacks carrying the app's verification token
type LarkWebhook struct {
	verificationToken string
}

// NewLarkWebhook creates a Lark event callback decoder
func NewLarkWebhook(verificationToken string) *LarkWebhook {
	return &LarkWebhook{verificationToken: verificationToken}
}

func (w *LarkWebhook) Decode(header http.Header, body []byte) (*service.WebhookResult, error) {
	cb, err := lark.DecodeCallback(body, w.verificationToken)
	if err != nil {
		return nil, err
	}
	return &service.WebhookResult{Challenge: cb.Challenge, Event: cb.Event}, nil
}
