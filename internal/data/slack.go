package data

import (
	"context"
	"fmt"
	stdlog "log"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/repo"
	slackinfra "github.com/PLark-droid/lark-slack-connector/internal/infra/slack"
)

// SlackConfig holds the credentials of one Slack workspace
type SlackConfig struct {
	BotToken   string
	UserToken  string
	SendAsUser bool
	APIURL     string // overrides https://slack.com/api/ in tests
	Debug      bool
}

// slackRepo implements the Slack platform client
type slackRepo struct {
	api    *slack.Client
	poster *slack.Client
	token  string
	log    zerolog.Logger
}

// NewSlackRepo creates a Slack platform client. Messages are posted with the
// user token when SendAsUser is set.
func NewSlackRepo(cfg SlackConfig, log zerolog.Logger) repo.PlatformClient {
	log = log.With().Str("component", "slack").Logger()
	api := newSlackAPI(cfg.BotToken, cfg, log)
	poster := api
	if cfg.SendAsUser && cfg.UserToken != "" {
		poster = newSlackAPI(cfg.UserToken, cfg, log)
	}
	return &slackRepo{api: api, poster: poster, token: cfg.BotToken, log: log}
}

func newSlackAPI(token string, cfg SlackConfig, log zerolog.Logger) *slack.Client {
	opts := []slack.Option{
		slack.OptionLog(stdlog.New(log.With().Str("sdk", "slack").Logger(), "", 0)),
	}
	if cfg.Debug {
		opts = append(opts, slack.OptionDebug(true))
	}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return slack.New(token, opts...)
}

func (r *slackRepo) Platform() domain.Platform {
	return domain.PlatformSlack
}

func (r *slackRepo) Credential() string {
	return r.token
}

// SendMessage posts flat text; Slack has no title/body split in this relay
func (r *slackRepo) SendMessage(ctx context.Context, payload domain.RenderedPayload) (domain.SendResult, error) {
	_, ts, err := r.poster.PostMessageContext(ctx, payload.Channel,
		slack.MsgOptionText(payload.Text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return domain.SendResult{}, domain.NewTransientAPIError(domain.PlatformSlack, "chat.postMessage", err)
	}
	r.log.Debug().Str("channel", payload.Channel).Str("ts", ts).Msg("Message sent")
	return domain.SendResult{ID: ts, Timestamp: ts}, nil
}

// FetchHistory returns messages at or after oldest, newest first. An
// incremental fetch pages until the backlog is exhausted.
func (r *slackRepo) FetchHistory(ctx context.Context, channel, oldest string, limit int) ([]domain.RawMessage, error) {
	params := &slack.GetConversationHistoryParameters{
		ChannelID: channel,
		Oldest:    oldest,
		Inclusive: oldest != "",
		Limit:     limit,
	}

	var out []domain.RawMessage
	for {
		resp, err := r.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return nil, domain.NewTransientAPIError(domain.PlatformSlack, "conversations.history", err)
		}
		for _, m := range resp.Messages {
			out = append(out, slackinfra.MessageToRaw(channel, m))
		}
		next := resp.ResponseMetaData.NextCursor
		if oldest == "" || !resp.HasMore || next == "" || next == params.Cursor {
			return out, nil
		}
		params.Cursor = next
	}
}

// FetchThreadReplies returns replies at or after oldest. The parent message is
// included by the API and left for the caller to skip.
func (r *slackRepo) FetchThreadReplies(ctx context.Context, channel, threadID, oldest string) ([]domain.RawMessage, error) {
	params := &slack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: threadID,
		Oldest:    oldest,
		Inclusive: true,
		Limit:     200,
	}

	var out []domain.RawMessage
	for {
		msgs, hasMore, next, err := r.api.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return nil, domain.NewTransientAPIError(domain.PlatformSlack, "conversations.replies", err)
		}
		for _, m := range msgs {
			out = append(out, slackinfra.MessageToRaw(channel, m))
		}
		if !hasMore || next == "" || next == params.Cursor {
			return out, nil
		}
		params.Cursor = next
	}
}

func (r *slackRepo) FetchDirectory(ctx context.Context, kind domain.DirectoryKind) (*domain.Directory, error) {
	dir := domain.NewDirectory()
	switch kind {
	case domain.DirectoryUsers:
		users, err := r.api.GetUsersContext(ctx)
		if err != nil {
			return nil, domain.NewTransientAPIError(domain.PlatformSlack, "users.list", err)
		}
		for _, u := range users {
			if u.Deleted {
				continue
			}
			display := u.Profile.DisplayName
			if display == "" {
				display = u.RealName
			}
			if display == "" {
				display = u.Name
			}
			dir.Add(domain.Member{
				ID:      u.ID,
				Name:    display,
				Aliases: []string{u.Name, u.RealName, u.Profile.DisplayName, u.Profile.RealName},
			})
		}
	case domain.DirectoryChannels:
		params := &slack.GetConversationsParameters{
			Types:           []string{"public_channel", "private_channel"},
			ExcludeArchived: true,
			Limit:           200,
		}
		for {
			channels, next, err := r.api.GetConversationsContext(ctx, params)
			if err != nil {
				return nil, domain.NewTransientAPIError(domain.PlatformSlack, "conversations.list", err)
			}
			for _, ch := range channels {
				dir.Add(domain.Member{ID: ch.ID, Name: ch.Name})
			}
			if next == "" {
				break
			}
			params.Cursor = next
		}
	default:
		return nil, fmt.Errorf("unknown directory kind %q", kind)
	}
	return dir, nil
}
