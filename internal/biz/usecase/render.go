package usecase

import (
	"strings"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
)

const threadReplyPrefix = "[thread reply] "

// Render builds the payload for dest. body is the text to forward, which may
// differ from msg.Text after channel-reference and mention rewriting.
func (uc *TransformUsecase) Render(msg *domain.NormalizedMessage, dest domain.Destination, body string) domain.RenderedPayload {
	if msg.IsThreadReply {
		body = threadReplyPrefix + body
	}
	header := uc.header(msg)

	payload := domain.RenderedPayload{
		Platform: dest.Platform,
		Channel:  dest.ChannelID,
		Text:     strings.Join(append(header, body), "\n"),
	}
	if dest.Platform == domain.PlatformLark && len(header) > 0 {
		payload.Title = strings.Join(header, " | ")
		payload.Lines = strings.Split(body, "\n")
	}
	return payload
}

func (uc *TransformUsecase) header(msg *domain.NormalizedMessage) []string {
	var fields []string
	if uc.opts.ShowChannelName {
		name := msg.SourceChannelName
		if name == "" {
			name = msg.SourceChannelID
		}
		if name != "" {
			fields = append(fields, "#"+name)
		}
	}
	if uc.opts.ShowSenderName {
		name := msg.SenderName
		if name == "" {
			name = msg.SenderID
		}
		if name != "" {
			fields = append(fields, name)
		}
	}
	if uc.opts.ShowTimestamp {
		if t, ok := domain.ParseTimestamp(msg.SourcePlatform, msg.SourceTimestamp); ok {
			loc, err := uc.opts.Location()
			if err == nil {
				fields = append(fields, t.In(loc).Format(uc.opts.Layout()))
			}
		}
	}
	return fields
}
