package slack

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
)

// Callback is a decoded Events API request
type Callback struct {
	Challenge string
	Event     domain.InboundEvent
}

// DecodeCallback verifies the request signature and decodes an Events API body
func DecodeCallback(header http.Header, body []byte, signingSecret string) (*Callback, error) {
	if signingSecret == "" {
		return nil, domain.VerificationError("slack signing secret not configured")
	}
	sv, err := slack.NewSecretsVerifier(header, signingSecret)
	if err != nil {
		return nil, domain.VerificationError("slack signature headers: %v", err)
	}
	if _, err := sv.Write(body); err != nil {
		return nil, domain.VerificationError("slack signature: %v", err)
	}
	if err := sv.Ensure(); err != nil {
		return nil, domain.VerificationError("slack signature mismatch: %v", err)
	}

	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return nil, fmt.Errorf("parse slack event: %w", err)
	}

	if ev.Type == slackevents.URLVerification {
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			return nil, fmt.Errorf("parse slack challenge: %w", err)
		}
		return &Callback{Challenge: challenge.Challenge}, nil
	}
	return &Callback{Event: FromEventsAPI(ev)}, nil
}

// FromEventsAPI maps an Events API envelope to an inbound event
func FromEventsAPI(ev slackevents.EventsAPIEvent) domain.InboundEvent {
	if ev.Type != slackevents.CallbackEvent {
		return domain.IgnoredEvent{Platform: domain.PlatformSlack, Kind: ev.Type}
	}

	switch inner := ev.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if inner.SubType == "channel_name" {
			return domain.ChannelRenamed{Platform: domain.PlatformSlack, ChannelID: inner.Channel}
		}
		return domain.TextMessage{Raw: domain.RawMessage{
			Platform:   domain.PlatformSlack,
			ChannelID:  inner.Channel,
			Timestamp:  inner.TimeStamp,
			ThreadID:   inner.ThreadTimeStamp,
			SenderID:   inner.User,
			SenderName: inner.Username,
			BotID:      inner.BotID,
			SubType:    inner.SubType,
			Content:    inner.Text,
		}}
	case *slackevents.AppMentionEvent:
		return domain.MentionEvent{Raw: domain.RawMessage{
			Platform:  domain.PlatformSlack,
			ChannelID: inner.Channel,
			Timestamp: inner.TimeStamp,
			ThreadID:  inner.ThreadTimeStamp,
			SenderID:  inner.User,
			BotID:     inner.BotID,
			Content:   inner.Text,
			IsMention: true,
		}}
	case *slackevents.ChannelRenameEvent:
		return domain.ChannelRenamed{
			Platform:  domain.PlatformSlack,
			ChannelID: inner.Channel.ID,
			Name:      inner.Channel.Name,
		}
	default:
		return domain.IgnoredEvent{Platform: domain.PlatformSlack, Kind: ev.InnerEvent.Type}
	}
}

// MessageToRaw converts a message returned by the history or replies API
func MessageToRaw(channel string, m slack.Message) domain.RawMessage {
	return domain.RawMessage{
		Platform:   domain.PlatformSlack,
		ChannelID:  channel,
		Timestamp:  m.Timestamp,
		ThreadID:   m.ThreadTimestamp,
		SenderID:   m.User,
		SenderName: m.Username,
		BotID:      m.BotID,
		SubType:    m.SubType,
		Content:    m.Text,
		ReplyCount: m.ReplyCount,
	}
}
