package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/rs/zerolog"
)

// ChatMember represents a member in a chat
type ChatMember struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name"`
}

// ChatInfo represents a chat the bot belongs to
type ChatInfo struct {
	ChatID string `json:"chat_id"`
	Name   string `json:"name"`
}

// Sent identifies a message created by the client
type Sent struct {
	MessageID  string
	CreateTime string // milliseconds
}

// Client is the Lark IM API client
type Client struct {
	appID     string
	appSecret string
	larkCli   *lark.Client
	log       zerolog.Logger
}

// Option configures a Client
type Option func(*options)

type options struct {
	baseURL string
}

// WithBaseURL points the client at another open platform host, for example
// https://open.larksuite.com or a test server
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// NewClient creates a new Lark client
func NewClient(appID, appSecret string, log zerolog.Logger, opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log = log.With().Str("component", "lark").Logger()
	larkOpts := []lark.ClientOptionFunc{
		lark.WithLogger(NewLogger(log)),
		lark.WithLogLevel(larkcore.LogLevelInfo),
	}
	if o.baseURL != "" {
		larkOpts = append(larkOpts, lark.WithOpenBaseUrl(o.baseURL))
	}

	return &Client{
		appID:     appID,
		appSecret: appSecret,
		larkCli:   lark.NewClient(appID, appSecret, larkOpts...),
		log:       log,
	}
}

// AppID returns the app id the client authenticates as
func (c *Client) AppID() string {
	return c.appID
}

// AppSecret returns the app secret
func (c *Client) AppSecret() string {
	return c.appSecret
}

// SendText sends a text message to a chat. Mentions in the text use
// <at user_id="ou_xxx">name</at> tags.
func (c *Client) SendText(ctx context.Context, chatID, text string) (*Sent, error) {
	content := map[string]string{"text": text}
	contentJSON, _ := json.Marshal(content)
	return c.create(ctx, chatID, larkim.MsgTypeText, string(contentJSON))
}

// SendPost sends a rich text (post) message with a title and one paragraph per line
func (c *Client) SendPost(ctx context.Context, chatID, title string, lines []string) (*Sent, error) {
	post := map[string]interface{}{
		"zh_cn": map[string]interface{}{
			"title":   title,
			"content": PostParagraphs(lines),
		},
	}
	contentJSON, _ := json.Marshal(post)
	return c.create(ctx, chatID, larkim.MsgTypePost, string(contentJSON))
}

func (c *Client) create(ctx context.Context, chatID, msgType, content string) (*Sent, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("send message failed: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("send message error: code=%d %s", resp.Code, resp.Msg)
	}

	sent := &Sent{}
	if resp.Data != nil {
		sent.MessageID = deref(resp.Data.MessageId)
		sent.CreateTime = deref(resp.Data.CreateTime)
	}
	c.log.Debug().Str("chat", chatID).Str("message_id", sent.MessageID).Msg("Message sent")
	return sent, nil
}

var atTagRe = regexp.MustCompile(`<at user_id="([^"]+)">([^<]*)</at>`)

// PostParagraphs converts text lines into post paragraphs, turning inline
// <at> tags into at elements
func PostParagraphs(lines []string) [][]map[string]interface{} {
	content := make([][]map[string]interface{}, 0, len(lines))
	for _, line := range lines {
		var para []map[string]interface{}
		rest := line
		for {
			loc := atTagRe.FindStringSubmatchIndex(rest)
			if loc == nil {
				break
			}
			if loc[0] > 0 {
				para = append(para, map[string]interface{}{"tag": "text", "text": rest[:loc[0]]})
			}
			para = append(para, map[string]interface{}{
				"tag":       "at",
				"user_id":   rest[loc[2]:loc[3]],
				"user_name": rest[loc[4]:loc[5]],
			})
			rest = rest[loc[1]:]
		}
		if rest != "" || len(para) == 0 {
			para = append(para, map[string]interface{}{"tag": "text", "text": rest})
		}
		content = append(content, para)
	}
	return content
}

// ListMessages returns messages of a chat created at or after startTime
// (seconds), oldest first
func (c *Client) ListMessages(ctx context.Context, chatID, startTime string, limit int) ([]*larkim.Message, error) {
	if limit > 50 || limit <= 0 {
		limit = 50
	}

	var messages []*larkim.Message
	var pageToken string
	for {
		builder := larkim.NewListMessageReqBuilder().
			ContainerIdType("chat").
			ContainerId(chatID).
			SortType("ByCreateTimeAsc").
			PageSize(limit)
		if startTime != "" {
			builder = builder.StartTime(startTime)
		}
		if pageToken != "" {
			builder = builder.PageToken(pageToken)
		}

		resp, err := c.larkCli.Im.Message.List(ctx, builder.Build())
		if err != nil {
			return nil, fmt.Errorf("get chat history failed: %w", err)
		}
		if !resp.Success() {
			return nil, fmt.Errorf("get chat history error: code=%d %s", resp.Code, resp.Msg)
		}
		messages = append(messages, resp.Data.Items...)

		if resp.Data.HasMore == nil || !*resp.Data.HasMore || deref(resp.Data.PageToken) == "" {
			break
		}
		pageToken = *resp.Data.PageToken
	}

	c.log.Debug().Str("chat", chatID).Int("count", len(messages)).Msg("Retrieved messages")
	return messages, nil
}

// LatestMessages returns up to limit of the most recent messages, newest first
func (c *Client) LatestMessages(ctx context.Context, chatID string, limit int) ([]*larkim.Message, error) {
	if limit > 50 || limit <= 0 {
		limit = 50
	}
	req := larkim.NewListMessageReqBuilder().
		ContainerIdType("chat").
		ContainerId(chatID).
		SortType("ByCreateTimeDesc").
		PageSize(limit).
		Build()

	resp, err := c.larkCli.Im.Message.List(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get chat history failed: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("get chat history error: code=%d %s", resp.Code, resp.Msg)
	}
	return resp.Data.Items, nil
}

// ListChats retrieves all chats the bot is a member of
func (c *Client) ListChats(ctx context.Context) ([]*ChatInfo, error) {
	var chats []*ChatInfo
	var pageToken string

	for {
		builder := larkim.NewListChatReqBuilder().PageSize(100)
		if pageToken != "" {
			builder = builder.PageToken(pageToken)
		}

		resp, err := c.larkCli.Im.Chat.List(ctx, builder.Build())
		if err != nil {
			return nil, fmt.Errorf("list chats failed: %w", err)
		}
		if !resp.Success() {
			return nil, fmt.Errorf("list chats error: code=%d %s", resp.Code, resp.Msg)
		}
		for _, item := range resp.Data.Items {
			chats = append(chats, &ChatInfo{ChatID: deref(item.ChatId), Name: deref(item.Name)})
		}

		if resp.Data.HasMore == nil || !*resp.Data.HasMore || deref(resp.Data.PageToken) == "" {
			break
		}
		pageToken = *resp.Data.PageToken
	}
	return chats, nil
}

// GetChatMembers retrieves members of a chat (group)
// Uses pagination to get all members
func (c *Client) GetChatMembers(ctx context.Context, chatID string) ([]*ChatMember, error) {
	var members []*ChatMember
	var pageToken string

	for {
		reqBuilder := larkim.NewGetChatMembersReqBuilder().
			MemberIdType("open_id").
			ChatId(chatID).
			PageSize(100)

		if pageToken != "" {
			reqBuilder = reqBuilder.PageToken(pageToken)
		}

		resp, err := c.larkCli.Im.ChatMembers.Get(ctx, reqBuilder.Build())
		if err != nil {
			return nil, fmt.Errorf("get chat members failed: %w", err)
		}
		if !resp.Success() {
			return nil, fmt.Errorf("get chat members error: code=%d %s", resp.Code, resp.Msg)
		}

		for _, item := range resp.Data.Items {
			members = append(members, &ChatMember{
				MemberID: deref(item.MemberId),
				Name:     deref(item.Name),
			})
		}

		if resp.Data.PageToken == nil || *resp.Data.PageToken == "" {
			break
		}
		pageToken = *resp.Data.PageToken
	}

	c.log.Debug().Str("chat", chatID).Int("count", len(members)).Msg("Retrieved chat members")
	return members, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Truncate shortens s to n runes for log output
func Truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
