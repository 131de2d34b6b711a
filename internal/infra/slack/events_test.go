package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
)

func signedHeader(secret string, body []byte, at time.Time) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + string(body)))

	h := http.Header{}
	h.Set("X-Slack-Request-Timestamp", ts)
	h.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return h
}

func TestDecodeCallback(t *testing.T) {
	body := []byte(`{"token":"t","team_id":"T1","api_app_id":"A1","type":"event_callback","event_id":"Ev1","event_time":1700000000,
	  "event":{"type":"message","channel":"C1","user":"U1","text":"hello","ts":"1700000000.000100","thread_ts":"1700000000.000050","channel_type":"channel"}}`)

	cb, err := DecodeCallback(signedHeader("shh", body, time.Now()), body, "shh")
	require.NoError(t, err)
	assert.Empty(t, cb.Challenge)
	assert.Equal(t, domain.TextMessage{Raw: domain.RawMessage{
		Platform:  domain.PlatformSlack,
		ChannelID: "C1",
		Timestamp: "1700000000.000100",
		ThreadID:  "1700000000.000050",
		SenderID:  "U1",
		Content:   "hello",
	}}, cb.Event)
}

func TestDecodeCallback_Challenge(t *testing.T) {
	body := []byte(`{"token":"t","challenge":"abc","type":"url_verification"}`)
	cb, err := DecodeCallback(signedHeader("shh", body, time.Now()), body, "shh")
	require.NoError(t, err)
	assert.Equal(t, "abc", cb.Challenge)
}

func TestDecodeCallback_RejectsBadSignatures(t *testing.T) {
	body := []byte(`{"token":"t","challenge":"abc","type":"url_verification"}`)

	tests := []struct {
		name   string
		header http.Header
		secret string
	}{
		{"wrong secret", signedHeader("other", body, time.Now()), "shh"},
		{"stale timestamp", signedHeader("shh", body, time.Now().Add(-time.Hour)), "shh"},
		{"missing headers", http.Header{}, "shh"},
		{"no secret configured", signedHeader("", body, time.Now()), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCallback(tt.header, body, tt.secret)
			assert.ErrorIs(t, err, domain.ErrWebhookVerification)
		})
	}
}

func callback(data interface{}, typ string) slackevents.EventsAPIEvent {
	return slackevents.EventsAPIEvent{
		Type:       slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{Type: typ, Data: data},
	}
}

func TestFromEventsAPI(t *testing.T) {
	tests := []struct {
		name string
		in   slackevents.EventsAPIEvent
		want domain.InboundEvent
	}{
		{
			name: "bot message keeps marker",
			in:   callback(&slackevents.MessageEvent{Channel: "C1", BotID: "B1", SubType: "bot_message", Text: "x", TimeStamp: "1.1"}, "message"),
			want: domain.TextMessage{Raw: domain.RawMessage{Platform: domain.PlatformSlack, ChannelID: "C1", Timestamp: "1.1", BotID: "B1", SubType: "bot_message", Content: "x"}},
		},
		{
			name: "app mention",
			in:   callback(&slackevents.AppMentionEvent{Channel: "C1", User: "U1", Text: "<@UBOT> hi", TimeStamp: "1.2"}, "app_mention"),
			want: domain.MentionEvent{Raw: domain.RawMessage{Platform: domain.PlatformSlack, ChannelID: "C1", Timestamp: "1.2", SenderID: "U1", Content: "<@UBOT> hi", IsMention: true}},
		},
		{
			name: "channel_name subtype",
			in:   callback(&slackevents.MessageEvent{Channel: "C1", SubType: "channel_name"}, "message"),
			want: domain.ChannelRenamed{Platform: domain.PlatformSlack, ChannelID: "C1"},
		},
		{
			name: "channel rename",
			in: callback(&slackevents.ChannelRenameEvent{
				Channel: slackevents.ChannelRenameInfo{ID: "C1", Name: "general-2"},
			}, "channel_rename"),
			want: domain.ChannelRenamed{Platform: domain.PlatformSlack, ChannelID: "C1", Name: "general-2"},
		},
		{
			name: "other inner event",
			in:   callback(&slackevents.ReactionAddedEvent{}, "reaction_added"),
			want: domain.IgnoredEvent{Platform: domain.PlatformSlack, Kind: "reaction_added"},
		},
		{
			name: "non-callback envelope",
			in:   slackevents.EventsAPIEvent{Type: "app_rate_limited"},
			want: domain.IgnoredEvent{Platform: domain.PlatformSlack, Kind: "app_rate_limited"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromEventsAPI(tt.in))
		})
	}
}

func TestMessageToRaw(t *testing.T) {
	m := slack.Message{Msg: slack.Msg{
		User:            "U1",
		Text:            "root",
		Timestamp:       "1700000000.000100",
		ThreadTimestamp: "1700000000.000100",
		ReplyCount:      3,
	}}
	raw := MessageToRaw("C1", m)
	assert.Equal(t, "C1", raw.ChannelID)
	assert.Equal(t, 3, raw.ReplyCount)
	assert.Equal(t, domain.PlatformSlack, raw.Platform)
}
