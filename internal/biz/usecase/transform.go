package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
)

// ErrSkip is returned by Normalize for messages that carry nothing to forward,
// such as edits and deletions
var ErrSkip = errors.New("message has no forwardable content")

// NameLookup resolves a platform id to its display name
type NameLookup func(kind domain.DirectoryKind, id string) (string, bool)

// Slack subtypes whose text is forwarded as is
var slackTextSubtypes = map[string]bool{
	"":                 true,
	"thread_broadcast": true,
	"file_share":       true,
	"me_message":       true,
	"bot_message":      true,
}

// Slack subtypes that never produce a forwarded message
var slackSkipSubtypes = map[string]bool{
	"message_changed": true,
	"message_deleted": true,
	"message_replied": true,
	"channel_name":    true,
}

var (
	slackMarkupRe   = regexp.MustCompile(`<([^<>]+)>`)
	larkMentionKey  = regexp.MustCompile(`@_user_\d+`)
	multiSpaceRe    = regexp.MustCompile(`[ \t]{2,}`)
	channelPrefixRe = regexp.MustCompile(`(?s)^#([^\s#]+)\s+(.*)$`)

	slackEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")
)

// TransformUsecase converts platform messages to normalized messages and renders
// normalized messages for a destination platform
type TransformUsecase struct {
	opts domain.FormatOptions
}

// NewTransformUsecase validates the formatting options
func NewTransformUsecase(opts domain.FormatOptions) (*TransformUsecase, error) {
	if _, err := opts.Location(); err != nil {
		return nil, domain.NewConfigError("format.timezone", "%v", err)
	}
	return &TransformUsecase{opts: opts}, nil
}

// Options returns the formatting options
func (uc *TransformUsecase) Options() domain.FormatOptions {
	return uc.opts
}

// Normalize converts a raw platform message. names may be nil.
func (uc *TransformUsecase) Normalize(raw *domain.RawMessage, names NameLookup) (*domain.NormalizedMessage, error) {
	if names == nil {
		names = func(domain.DirectoryKind, string) (string, bool) { return "", false }
	}

	var (
		text string
		err  error
	)
	switch raw.Platform {
	case domain.PlatformSlack:
		text, err = normalizeSlackText(raw, names)
	case domain.PlatformLark:
		text, err = normalizeLarkText(raw)
	default:
		return nil, fmt.Errorf("unknown platform %q", raw.Platform)
	}
	if err != nil {
		return nil, err
	}

	msg := &domain.NormalizedMessage{
		SourcePlatform:  raw.Platform,
		SourceChannelID: raw.ChannelID,
		SenderID:        raw.SenderID,
		SenderName:      raw.SenderName,
		Text:            text,
		SourceTimestamp: raw.Timestamp,
		MessageID:       raw.MessageID,
		ThreadID:        raw.ThreadID,
		IsMention:       raw.IsMention,
	}
	if name, ok := names(domain.DirectoryChannels, raw.ChannelID); ok {
		msg.SourceChannelName = name
	}
	if msg.SenderName == "" && raw.SenderID != "" {
		if name, ok := names(domain.DirectoryUsers, raw.SenderID); ok {
			msg.SenderName = name
		}
	}
	msg.IsThreadReply = uc.opts.IncludeThreadReplies && msg.IsReply()
	return msg, nil
}

func normalizeSlackText(raw *domain.RawMessage, names NameLookup) (string, error) {
	if slackSkipSubtypes[raw.SubType] {
		return "", ErrSkip
	}
	if !slackTextSubtypes[raw.SubType] {
		return placeholder(raw.SubType), nil
	}
	text := strings.TrimSpace(CleanSlackMarkup(raw.Content, names))
	if text == "" {
		if raw.SubType != "" {
			return placeholder(raw.SubType), nil
		}
		return "", ErrSkip
	}
	return text, nil
}

// CleanSlackMarkup rewrites Slack's angle-bracket markup into plain text:
// user and channel references become @name and #name, links become
// "label (url)", and HTML entities are unescaped.
func CleanSlackMarkup(text string, names NameLookup) string {
	out := slackMarkupRe.ReplaceAllStringFunc(text, func(m string) string {
		inner := m[1 : len(m)-1]
		ref, label, hasLabel := strings.Cut(inner, "|")
		switch {
		case strings.HasPrefix(ref, "@"):
			id := ref[1:]
			if hasLabel && label != "" {
				return "@" + strings.TrimPrefix(label, "@")
			}
			if name, ok := names(domain.DirectoryUsers, id); ok {
				return "@" + name
			}
			return "@" + id
		case strings.HasPrefix(ref, "#"):
			id := ref[1:]
			if hasLabel && label != "" {
				return "#" + label
			}
			if name, ok := names(domain.DirectoryChannels, id); ok {
				return "#" + name
			}
			return "#" + id
		case strings.HasPrefix(ref, "!"):
			if hasLabel && label != "" {
				return label
			}
			special, _, _ := strings.Cut(ref[1:], "^")
			return "@" + special
		default:
			if hasLabel && label != "" && label != ref {
				return fmt.Sprintf("%s (%s)", label, ref)
			}
			return ref
		}
	})
	return slackEntities.Replace(out)
}

func normalizeLarkText(raw *domain.RawMessage) (string, error) {
	var text string
	switch raw.MsgType {
	case "text":
		var parsed struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(raw.Content), &parsed); err != nil {
			return "", fmt.Errorf("parse text content: %w", err)
		}
		text = parsed.Text
	case "post":
		t, err := parseLarkPost(raw.Content, raw.Mentions)
		if err != nil {
			return "", err
		}
		text = t
	default:
		return placeholder(raw.MsgType), nil
	}

	text = ReplaceLarkMentions(text, raw.Mentions)
	text = strings.TrimSpace(multiSpaceRe.ReplaceAllString(text, " "))
	if text == "" {
		return "", ErrSkip
	}
	return text, nil
}

// ReplaceLarkMentions rewrites Lark's @_user_N placeholders. A placeholder with
// mention data becomes @name, a bot mention (no open id) is removed, and any
// placeholder left without data is stripped.
func ReplaceLarkMentions(text string, mentions []domain.Mention) string {
	for _, m := range mentions {
		if m.Key == "" {
			continue
		}
		replacement := ""
		if m.ID != "" && m.Name != "" {
			replacement = "@" + m.Name
		}
		text = replaceMentionKey(text, m.Key, replacement)
	}
	text = larkMentionKey.ReplaceAllString(text, "")
	return strings.ReplaceAll(text, "@_all", "@all")
}

// replaceMentionKey replaces key where it is not the prefix of a longer key
// (@_user_1 must not match inside @_user_10)
func replaceMentionKey(text, key, replacement string) string {
	var b strings.Builder
	for {
		i := strings.Index(text, key)
		if i < 0 {
			b.WriteString(text)
			return b.String()
		}
		end := i + len(key)
		b.WriteString(text[:i])
		if end < len(text) && text[end] >= '0' && text[end] <= '9' {
			b.WriteString(key)
		} else {
			b.WriteString(replacement)
		}
		text = text[end:]
	}
}

type larkPostElement struct {
	Tag      string `json:"tag"`
	Text     string `json:"text"`
	Href     string `json:"href"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

type larkPost struct {
	Title   string              `json:"title"`
	Content [][]larkPostElement `json:"content"`
}

// parseLarkPost extracts text and mention segments from a post body, with or
// without a locale wrapper, joined with single spaces
func parseLarkPost(content string, mentions []domain.Mention) (string, error) {
	var post larkPost
	if err := json.Unmarshal([]byte(content), &post); err != nil {
		return "", fmt.Errorf("parse post content: %w", err)
	}
	if post.Title == "" && len(post.Content) == 0 {
		var locales map[string]json.RawMessage
		if err := json.Unmarshal([]byte(content), &locales); err != nil {
			return "", fmt.Errorf("parse post content: %w", err)
		}
		for _, key := range []string{"zh_cn", "en_us", "ja_jp"} {
			if body, ok := locales[key]; ok {
				_ = json.Unmarshal(body, &post)
				break
			}
		}
		if post.Title == "" && len(post.Content) == 0 {
			for _, body := range locales {
				if json.Unmarshal(body, &post) == nil && (post.Title != "" || len(post.Content) > 0) {
					break
				}
			}
		}
	}

	byKey := make(map[string]domain.Mention, len(mentions))
	for _, m := range mentions {
		byKey[m.Key] = m
		if m.ID != "" {
			byKey[m.ID] = m
		}
	}

	var segments []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	add(post.Title)
	for _, line := range post.Content {
		for _, el := range line {
			switch el.Tag {
			case "text", "md":
				add(el.Text)
			case "a":
				if el.Text != "" && el.Href != "" && el.Text != el.Href {
					add(fmt.Sprintf("%s (%s)", el.Text, el.Href))
				} else {
					add(el.Text + el.Href)
				}
			case "at":
				if el.UserID == "all" {
					add("@all")
					continue
				}
				if m, ok := byKey[el.UserID]; ok {
					if m.ID != "" && m.Name != "" {
						add("@" + m.Name)
					}
					continue
				}
				if el.UserName != "" {
					add("@" + el.UserName)
				}
			case "code_block":
				add(el.Text)
			}
		}
	}
	return strings.Join(segments, " "), nil
}

func placeholder(kind string) string {
	if kind == "" {
		kind = "unknown"
	}
	return fmt.Sprintf("[%s message]", kind)
}

// SplitChannelReference parses a leading "#channel " token. It returns the
// channel name and the remaining body.
func SplitChannelReference(text string) (name, rest string, ok bool) {
	m := channelPrefixRe.FindStringSubmatch(text)
	if m == nil || strings.TrimSpace(m[2]) == "" {
		return "", "", false
	}
	return m[1], m[2], true
}

// UnresolvedChannelWarning prefixes text with a visible banner naming the channel
// that could not be found
func UnresolvedChannelWarning(name, text string) string {
	return fmt.Sprintf("⚠️ Channel #%s was not found; delivered to the mapped channel instead.\n%s", name, text)
}
