package service

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/PLark-droid/lark-slack-connector/internal/biz"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/repo"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/usecase"
)

// Counters aggregates forwarding outcomes
type Counters struct {
	slackToLark atomic.Int64
	larkToSlack atomic.Int64
	errors      atomic.Int64
}

// CounterSnapshot is a point-in-time copy of Counters
type CounterSnapshot struct {
	SlackToLark int64 `json:"slackToLark"`
	LarkToSlack int64 `json:"larkToSlack"`
	Errors      int64 `json:"errors"`
}

// Snapshot reads all counters
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		SlackToLark: c.slackToLark.Load(),
		LarkToSlack: c.larkToSlack.Load(),
		Errors:      c.errors.Load(),
	}
}

func (c *Counters) forwarded(dir domain.Direction) {
	if dir == domain.DirectionSlackToLark {
		c.slackToLark.Add(1)
	} else {
		c.larkToSlack.Add(1)
	}
}

// Pipeline runs one message through filter, identity resolution, rendering,
// sending and the sent ledger. Push and poll relays share it.
type Pipeline struct {
	workspace string
	uc        *biz.Usecases
	clients   map[domain.Platform]repo.PlatformClient
	counters  *Counters
	log       zerolog.Logger
}

// NewPipeline creates the pipeline of one workspace
func NewPipeline(
	workspace string,
	uc *biz.Usecases,
	clients map[domain.Platform]repo.PlatformClient,
	counters *Counters,
	log zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		workspace: workspace,
		uc:        uc,
		clients:   clients,
		counters:  counters,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// Normalize converts a raw message, resolving display names through the source platform
func (p *Pipeline) Normalize(ctx context.Context, raw *domain.RawMessage) (*domain.NormalizedMessage, error) {
	var names usecase.NameLookup
	if src, ok := p.clients[raw.Platform]; ok {
		names = p.uc.Identity.Names(ctx, src)
	}
	return p.uc.Transform.Normalize(raw, names)
}

// Forward evaluates msg and delivers it to every destination it maps to.
// Failures are logged and counted per destination; it returns how many
// destinations received the message.
func (p *Pipeline) Forward(ctx context.Context, msg *domain.NormalizedMessage) int {
	log := p.log.With().
		Str("channel", msg.SourceChannelID).
		Str("ts", msg.SourceTimestamp).
		Str("platform", string(msg.SourcePlatform)).
		Logger()

	decision := p.uc.Filter.Evaluate(msg)
	if !decision.Forward {
		log.Debug().Str("reason", decision.Reason).Msg("Message not forwarded")
		return 0
	}

	delivered := 0
	for _, dest := range decision.Destinations {
		if p.deliver(ctx, msg, dest, log) {
			delivered++
		}
	}
	return delivered
}

func (p *Pipeline) deliver(ctx context.Context, msg *domain.NormalizedMessage, dest domain.Destination, log zerolog.Logger) bool {
	dst, ok := p.clients[dest.Platform]
	if !ok {
		log.Error().Str("dest_platform", string(dest.Platform)).Msg("No client for destination platform")
		p.counters.errors.Add(1)
		return false
	}

	body := msg.Text
	if name, rest, ok := usecase.SplitChannelReference(body); ok {
		if id, found := p.uc.Identity.ResolveChannelReference(ctx, name, dst); found {
			dest.ChannelID = id
			body = rest
		} else {
			log.Warn().Str("reference", name).Msg("Channel reference not found, using mapped destination")
			body = usecase.UnresolvedChannelWarning(name, msg.Text)
		}
	}
	body = p.uc.Identity.ResolveMentions(ctx, body, dst)

	payload := p.uc.Transform.Render(msg, dest, body)
	res, err := dst.SendMessage(ctx, payload)
	if err != nil {
		ev := log.Error()
		if errors.Is(err, domain.ErrTransientAPI) {
			ev = log.Warn()
		}
		ev.Err(err).Str("dest", dest.ChannelID).Msg("Send failed, message dropped")
		p.counters.errors.Add(1)
		return false
	}

	// The message is already delivered; a ledger failure must not trigger a resend
	keys := []string{res.Timestamp}
	if res.ID != res.Timestamp {
		keys = append(keys, res.ID)
	}
	for _, key := range keys {
		if err := p.uc.Ledger.RecordSent(ctx, dest.ChannelID, key); err != nil {
			log.Error().Err(err).Str("dest", dest.ChannelID).Msg("Failed to record sent message")
			p.counters.errors.Add(1)
		}
	}

	p.counters.forwarded(msg.Direction())
	log.Info().
		Str("dest", dest.ChannelID).
		Str("dest_ts", res.Timestamp).
		Msg("Message forwarded")
	return true
}
