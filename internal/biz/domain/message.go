package domain

// Platform identifies one side of the relay
type Platform string

const (
	PlatformSlack Platform = "slack"
	PlatformLark  Platform = "lark"
)

// Other returns the opposite platform
func (p Platform) Other() Platform {
	if p == PlatformSlack {
		return PlatformLark
	}
	return PlatformSlack
}

// Direction is the forwarding direction of a message or a mapping
type Direction string

const (
	DirectionSlackToLark   Direction = "slack_to_lark"
	DirectionLarkToSlack   Direction = "lark_to_slack"
	DirectionBidirectional Direction = "bidirectional"
)

// DirectionFrom returns the direction of a message observed on the source platform
func DirectionFrom(source Platform) Direction {
	if source == PlatformSlack {
		return DirectionSlackToLark
	}
	return DirectionLarkToSlack
}

// Valid reports whether d is a known direction
func (d Direction) Valid() bool {
	switch d {
	case DirectionSlackToLark, DirectionLarkToSlack, DirectionBidirectional:
		return true
	}
	return false
}

// Allows reports whether a mapping with direction d applies to a message travelling in current
func (d Direction) Allows(current Direction) bool {
	return d == DirectionBidirectional || d == current
}

// Target returns the destination platform of a concrete direction
func (d Direction) Target() Platform {
	if d == DirectionLarkToSlack {
		return PlatformSlack
	}
	return PlatformLark
}

// NormalizedMessage is the platform-agnostic message handed through the relay pipeline
type NormalizedMessage struct {
	SourcePlatform    Platform
	SourceChannelID   string
	SourceChannelName string
	SenderID          string
	SenderName        string
	Text              string
	SourceTimestamp   string // Slack ts, or Lark create_time in milliseconds
	MessageID         string // Lark message_id; empty on Slack, where ts is the id
	ThreadID          string // set when the message belongs to a thread
	IsMention         bool
	IsThreadReply     bool
}

// Direction returns the direction this message travels in
func (m *NormalizedMessage) Direction() Direction {
	return DirectionFrom(m.SourcePlatform)
}

// IsReply reports whether the message is a reply inside a thread rather than the thread root
func (m *NormalizedMessage) IsReply() bool {
	if m.ThreadID == "" {
		return false
	}
	return m.ThreadID != m.SourceTimestamp && m.ThreadID != m.MessageID
}

// Mention is a mention attached to a raw platform message
type Mention struct {
	Key  string // Lark placeholder such as @_user_1
	ID   string // open id; empty for bot/app mentions
	Name string
}

// RawMessage is a platform message as delivered by a transport or a history API,
// before normalization
type RawMessage struct {
	Platform   Platform
	ChannelID  string
	Timestamp  string
	MessageID  string
	ThreadID   string
	SenderID   string
	SenderName string
	SenderType string // Lark: user or app
	BotID      string // Slack bot_id
	SubType    string // Slack message subtype
	MsgType    string // Lark msg_type
	Content    string // Slack text, or Lark content JSON
	Mentions   []Mention
	ReplyCount int
	IsMention  bool
}

// IsBot reports whether the message carries a bot or application sender marker
func (m *RawMessage) IsBot() bool {
	return m.BotID != "" || m.SubType == "bot_message" || m.SenderType == "app"
}

// Destination is a channel a message is forwarded to
type Destination struct {
	Platform  Platform
	ChannelID string
}

// RenderedPayload is a message rendered for a destination platform
type RenderedPayload struct {
	Platform Platform
	Channel  string
	Title    string   // rich destinations only
	Lines    []string // rich destinations only
	Text     string   // flat rendering, always set
}

// Rich reports whether the payload carries a title/body structure
func (p *RenderedPayload) Rich() bool {
	return p.Title != ""
}

// SendResult identifies a message created by the relay on a destination platform
type SendResult struct {
	ID        string
	Timestamp string
}
