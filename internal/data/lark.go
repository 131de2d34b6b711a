package data

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/repo"
	"github.com/PLark-droid/lark-slack-connector/internal/infra/lark"
)

// WebhookChannel is the destination channel name that routes a message to the
// workspace's Lark custom-bot webhook instead of the IM API
const WebhookChannel = "webhook"

// larkRepo implements the Lark platform client
type larkRepo struct {
	client  *lark.Client
	webhook *lark.WebhookSender
	log     zerolog.Logger
}

// NewLarkRepo creates a Lark platform client. Either client or webhook may be nil,
// but not both.
func NewLarkRepo(client *lark.Client, webhook *lark.WebhookSender, log zerolog.Logger) repo.PlatformClient {
	return &larkRepo{client: client, webhook: webhook, log: log.With().Str("component", "lark").Logger()}
}

func (r *larkRepo) Platform() domain.Platform {
	return domain.PlatformLark
}

func (r *larkRepo) Credential() string {
	if r.client != nil {
		return r.client.AppID() + ":" + r.client.AppSecret()
	}
	if r.webhook != nil {
		return r.webhook.URL()
	}
	return ""
}

func (r *larkRepo) SendMessage(ctx context.Context, payload domain.RenderedPayload) (domain.SendResult, error) {
	if payload.Channel == WebhookChannel || r.client == nil {
		if r.webhook == nil {
			return domain.SendResult{}, domain.NewConfigError("lark.webhook_url", "no webhook configured for channel %q", payload.Channel)
		}
		if err := r.webhook.Send(ctx, payload.Title, payload.Lines, payload.Text); err != nil {
			return domain.SendResult{}, domain.NewTransientAPIError(domain.PlatformLark, "webhook", err)
		}
		return domain.SendResult{}, nil
	}

	var (
		sent *lark.Sent
		err  error
	)
	if payload.Rich() {
		sent, err = r.client.SendPost(ctx, payload.Channel, payload.Title, payload.Lines)
	} else {
		sent, err = r.client.SendText(ctx, payload.Channel, payload.Text)
	}
	if err != nil {
		return domain.SendResult{}, domain.NewTransientAPIError(domain.PlatformLark, "im.message.create", err)
	}
	return domain.SendResult{ID: sent.MessageID, Timestamp: sent.CreateTime}, nil
}

// FetchHistory returns messages at or after oldest (milliseconds), newest first
func (r *larkRepo) FetchHistory(ctx context.Context, channel, oldest string, limit int) ([]domain.RawMessage, error) {
	if r.client == nil {
		return nil, domain.ErrUnsupported
	}

	if oldest == "" {
		items, err := r.client.LatestMessages(ctx, channel, limit)
		if err != nil {
			return nil, domain.NewTransientAPIError(domain.PlatformLark, "im.message.list", err)
		}
		out := make([]domain.RawMessage, 0, len(items))
		for _, m := range items {
			if m.Deleted != nil && *m.Deleted {
				continue
			}
			out = append(out, lark.MessageToRaw(m))
		}
		return out, nil
	}

	// The list API filters by whole seconds
	startTime := ""
	if ms, err := strconv.ParseInt(oldest, 10, 64); err == nil {
		startTime = strconv.FormatInt(ms/1000, 10)
	}
	items, err := r.client.ListMessages(ctx, channel, startTime, limit)
	if err != nil {
		return nil, domain.NewTransientAPIError(domain.PlatformLark, "im.message.list", err)
	}
	out := make([]domain.RawMessage, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		m := items[i]
		if m.Deleted != nil && *m.Deleted {
			continue
		}
		out = append(out, lark.MessageToRaw(m))
	}
	return out, nil
}

// FetchThreadReplies is unsupported: Lark replies appear in the chat history
// with their root id set and are picked up there
func (r *larkRepo) FetchThreadReplies(ctx context.Context, channel, threadID, oldest string) ([]domain.RawMessage, error) {
	return nil, domain.ErrUnsupported
}

func (r *larkRepo) FetchDirectory(ctx context.Context, kind domain.DirectoryKind) (*domain.Directory, error) {
	dir := domain.NewDirectory()
	if r.client == nil {
		return dir, nil
	}

	chats, err := r.client.ListChats(ctx)
	if err != nil {
		return nil, domain.NewTransientAPIError(domain.PlatformLark, "im.chat.list", err)
	}

	switch kind {
	case domain.DirectoryChannels:
		for _, c := range chats {
			dir.Add(domain.Member{ID: c.ChatID, Name: c.Name})
		}
	case domain.DirectoryUsers:
		for _, c := range chats {
			members, err := r.client.GetChatMembers(ctx, c.ChatID)
			if err != nil {
				r.log.Warn().Err(err).Str("chat", c.ChatID).Msg("Skipping chat members")
				continue
			}
			for _, m := range members {
				dir.Add(domain.Member{ID: m.MemberID, Name: m.Name})
			}
		}
	}
	return dir, nil
}
