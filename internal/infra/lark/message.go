package lark

import (
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
)

// EventToRaw converts a received message event
func EventToRaw(ev *larkim.P2MessageReceiveV1Data) (domain.RawMessage, bool) {
	if ev == nil || ev.Message == nil {
		return domain.RawMessage{}, false
	}
	m := ev.Message
	raw := domain.RawMessage{
		Platform:  domain.PlatformLark,
		ChannelID: deref(m.ChatId),
		Timestamp: deref(m.CreateTime),
		MessageID: deref(m.MessageId),
		ThreadID:  threadOf(m.RootId, m.ThreadId),
		MsgType:   deref(m.MessageType),
		Content:   deref(m.Content),
	}
	if ev.Sender != nil {
		raw.SenderType = deref(ev.Sender.SenderType)
		if ev.Sender.SenderId != nil {
			raw.SenderID = deref(ev.Sender.SenderId.OpenId)
		}
	}
	for _, mention := range m.Mentions {
		if mention == nil {
			continue
		}
		mn := domain.Mention{Key: deref(mention.Key), Name: deref(mention.Name)}
		if mention.Id != nil {
			mn.ID = deref(mention.Id.OpenId)
		}
		if mn.ID == "" {
			raw.IsMention = true
		}
		raw.Mentions = append(raw.Mentions, mn)
	}
	return raw, raw.ChannelID != "" && raw.Timestamp != ""
}

// InboundMessage classifies a received message event. Messages that mention
// the app become MentionEvent; events without a chat or timestamp are ignored.
func InboundMessage(ev *larkim.P2MessageReceiveV1Data) domain.InboundEvent {
	raw, ok := EventToRaw(ev)
	if !ok {
		return domain.IgnoredEvent{Platform: domain.PlatformLark, Kind: eventMessageReceive}
	}
	if raw.IsMention {
		return domain.MentionEvent{Raw: raw}
	}
	return domain.TextMessage{Raw: raw}
}

// ChatRenamed builds the rename event of a chat update. name may be empty.
func ChatRenamed(chatID, name string) domain.InboundEvent {
	return domain.ChannelRenamed{Platform: domain.PlatformLark, ChannelID: chatID, Name: name}
}

// MessageToRaw converts a message returned by the history API
func MessageToRaw(m *larkim.Message) domain.RawMessage {
	raw := domain.RawMessage{
		Platform:  domain.PlatformLark,
		ChannelID: deref(m.ChatId),
		Timestamp: deref(m.CreateTime),
		MessageID: deref(m.MessageId),
		ThreadID:  threadOf(m.RootId, m.ThreadId),
		MsgType:   deref(m.MsgType),
	}
	if m.Body != nil {
		raw.Content = deref(m.Body.Content)
	}
	if m.Sender != nil {
		raw.SenderType = deref(m.Sender.SenderType)
		if deref(m.Sender.IdType) == "open_id" {
			raw.SenderID = deref(m.Sender.Id)
		} else if raw.SenderType == "" {
			raw.SenderType = "app"
		}
	}
	for _, mention := range m.Mentions {
		if mention == nil {
			continue
		}
		mn := domain.Mention{Key: deref(mention.Key), Name: deref(mention.Name)}
		if deref(mention.IdType) == "open_id" || mention.IdType == nil {
			mn.ID = deref(mention.Id)
		}
		raw.Mentions = append(raw.Mentions, mn)
	}
	return raw
}

func threadOf(rootID, threadID *string) string {
	if r := deref(rootID); r != "" {
		return r
	}
	return deref(threadID)
}
