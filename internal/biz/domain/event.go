package domain

// InboundEvent is the closed set of events a push transport delivers to a relay
type InboundEvent interface {
	inboundEvent()
}

// TextMessage is an ordinary message posted in a channel
type TextMessage struct {
	Raw RawMessage
}

// MentionEvent is a message directed at the relay's bot
type MentionEvent struct {
	Raw RawMessage
}

// ChannelRenamed reports that a channel changed its name. Name may be empty
// when the platform does not include it.
type ChannelRenamed struct {
	Platform  Platform
	ChannelID string
	Name      string
}

// IgnoredEvent is an event the relay received but does not act on
type IgnoredEvent struct {
	Platform Platform
	Kind     string
}

func (TextMessage) inboundEvent()    {}
func (MentionEvent) inboundEvent()   {}
func (ChannelRenamed) inboundEvent() {}
func (IgnoredEvent) inboundEvent()   {}

// ConnState is the state of a workspace's connection to one platform
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
)
