package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/PLark-droid/lark-slack-connector/internal/biz"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/repo"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/usecase"
)

// EventSink receives events and connection state changes from a transport
type EventSink interface {
	Handle(ctx context.Context, ev domain.InboundEvent) error
	SetConnState(p domain.Platform, state domain.ConnState)
}

// PushRelay handles events delivered by live transports for one workspace
type PushRelay struct {
	workspace string
	uc        *biz.Usecases
	pipeline  *Pipeline
	clients   map[domain.Platform]repo.PlatformClient
	counters  *Counters
	log       zerolog.Logger

	mu     sync.RWMutex
	states map[domain.Platform]domain.ConnState
}

// NewPushRelay creates a push relay
func NewPushRelay(
	workspace string,
	uc *biz.Usecases,
	pipeline *Pipeline,
	clients map[domain.Platform]repo.PlatformClient,
	counters *Counters,
	log zerolog.Logger,
) *PushRelay {
	return &PushRelay{
		workspace: workspace,
		uc:        uc,
		pipeline:  pipeline,
		clients:   clients,
		counters:  counters,
		log:       log.With().Str("component", "push").Logger(),
		states:    make(map[domain.Platform]domain.ConnState),
	}
}

// Handle dispatches one inbound event. Errors are returned only for ledger
// failures, so the transport can ask the platform to redeliver.
func (r *PushRelay) Handle(ctx context.Context, ev domain.InboundEvent) error {
	switch e := ev.(type) {
	case domain.TextMessage:
		return r.handleMessage(ctx, e.Raw)
	case domain.MentionEvent:
		return r.handleMessage(ctx, e.Raw)
	case domain.ChannelRenamed:
		return r.handleRename(ctx, e)
	case domain.IgnoredEvent:
		r.log.Debug().Str("platform", string(e.Platform)).Str("kind", e.Kind).Msg("Event ignored")
		return nil
	default:
		return fmt.Errorf("unhandled event type %T", ev)
	}
}

func (r *PushRelay) handleMessage(ctx context.Context, raw domain.RawMessage) error {
	log := r.log.With().
		Str("platform", string(raw.Platform)).
		Str("channel", raw.ChannelID).
		Str("ts", raw.Timestamp).
		Logger()

	// Filter out messages sent by bots, including this relay, to prevent loops
	if raw.IsBot() {
		log.Debug().Msg("Skipping bot message")
		return nil
	}

	ours, err := r.sentByUs(ctx, raw)
	if err != nil {
		return err
	}
	if ours {
		log.Debug().Msg("Skipping message produced by the relay")
		return nil
	}

	first, err := r.uc.Ledger.MarkSeen(ctx, raw.Platform, raw.ChannelID, raw.Timestamp)
	if err != nil {
		return err
	}
	if !first {
		log.Debug().Msg("Skipping duplicate delivery")
		return nil
	}

	msg, err := r.pipeline.Normalize(ctx, &raw)
	if errors.Is(err, usecase.ErrSkip) {
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to normalize message")
		r.counters.errors.Add(1)
		return nil
	}

	r.pipeline.Forward(ctx, msg)
	return nil
}

func (r *PushRelay) sentByUs(ctx context.Context, raw domain.RawMessage) (bool, error) {
	for _, key := range []string{raw.Timestamp, raw.MessageID} {
		if key == "" {
			continue
		}
		ok, err := r.uc.Ledger.WasSentByUs(ctx, raw.ChannelID, key)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (r *PushRelay) handleRename(ctx context.Context, e domain.ChannelRenamed) error {
	src, ok := r.clients[e.Platform]
	if !ok {
		return nil
	}
	r.log.Info().
		Str("platform", string(e.Platform)).
		Str("channel", e.ChannelID).
		Str("name", e.Name).
		Msg("Channel renamed, refreshing channel directory")
	return r.uc.Identity.Invalidate(ctx, src, domain.DirectoryChannels)
}

// SetConnState records the connection state of a transport
func (r *PushRelay) SetConnState(p domain.Platform, state domain.ConnState) {
	r.mu.Lock()
	prev := r.states[p]
	r.states[p] = state
	r.mu.Unlock()

	if prev != state {
		r.log.Info().
			Str("platform", string(p)).
			Str("from", string(prev)).
			Str("to", string(state)).
			Msg("Connection state changed")
	}
}

// ConnStates returns a copy of the connection states
func (r *PushRelay) ConnStates() map[domain.Platform]domain.ConnState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.Platform]domain.ConnState, len(r.states))
	for p, s := range r.states {
		out[p] = s
	}
	return out
}
