package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PLark-droid/lark-slack-connector/internal/biz"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
)

type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errStoreDown
}

func (failingStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	return errStoreDown
}

func (failingStore) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return false, errStoreDown
}

func (failingStore) Delete(ctx context.Context, key string) error {
	return errStoreDown
}

func (failingStore) Close() error {
	return nil
}

func TestPushRelay_ForwardsOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, bareFormat(), domain.MessageFilter{})
	relay := env.push()

	ev := domain.TextMessage{Raw: slackMessage("C1", "1700000000.000100", "U1", "hello")}
	require.NoError(t, relay.Handle(ctx, ev))
	require.NoError(t, relay.Handle(ctx, ev), "redelivery is not an error")

	assert.Len(t, env.lark.sentPayloads(), 1)
	assert.Equal(t, int64(1), env.counters.Snapshot().SlackToLark)
}

func TestPushRelay_MentionEvent(t *testing.T) {
	env := newTestEnv(t, bareFormat(), domain.MessageFilter{})
	relay := env.push()

	raw := larkMessage("oc_1", "om_1", "1700000000000", "hey bot")
	raw.IsMention = true
	require.NoError(t, relay.Handle(context.Background(), domain.MentionEvent{Raw: raw}))

	sent := env.slack.sentPayloads()
	require.Len(t, sent, 1)
	assert.Equal(t, "C1", sent[0].Channel)
}

func TestPushRelay_SkipsBots(t *testing.T) {
	env := newTestEnv(t, bareFormat(), domain.MessageFilter{})
	relay := env.push()

	bot := slackMessage("C1", "1700000000.000100", "", "beep")
	bot.BotID = "B1"
	app := larkMessage("oc_1", "om_1", "1700000000000", "beep")
	app.SenderType = "app"

	require.NoError(t, relay.Handle(context.Background(), domain.TextMessage{Raw: bot}))
	require.NoError(t, relay.Handle(context.Background(), domain.TextMessage{Raw: app}))
	assert.Empty(t, env.lark.sentPayloads())
	assert.Empty(t, env.slack.sentPayloads())
}

func TestPushRelay_NoLoop(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, bareFormat(), domain.MessageFilter{})
	relay := env.push()

	require.NoError(t, relay.Handle(ctx, domain.TextMessage{Raw: slackMessage("C1", "1700000000.000100", "U1", "round trip")}))
	require.Len(t, env.lark.sentPayloads(), 1)

	// Lark echoes the relay's own message back without a bot marker
	echo := larkMessage("oc_1", "om_sent_1", "1700000900001", "round trip")
	require.NoError(t, relay.Handle(ctx, domain.TextMessage{Raw: echo}))

	assert.Empty(t, env.slack.sentPayloads())
	assert.Equal(t, CounterSnapshot{SlackToLark: 1}, env.counters.Snapshot())
}

func TestPushRelay_SkipsEditsAndDeletes(t *testing.T) {
	env := newTestEnv(t, bareFormat(), domain.MessageFilter{})
	relay := env.push()

	for ts, subtype := range map[string]string{
		"1700000000.000100": "message_changed",
		"1700000000.000200": "message_deleted",
	} {
		raw := slackMessage("C1", ts, "U1", "edited")
		raw.SubType = subtype
		require.NoError(t, relay.Handle(context.Background(), domain.TextMessage{Raw: raw}))
	}
	assert.Empty(t, env.lark.sentPayloads())
	assert.Equal(t, CounterSnapshot{}, env.counters.Snapshot())
}

func TestPushRelay_InvalidLarkContent(t *testing.T) {
	env := newTestEnv(t, bareFormat(), domain.MessageFilter{})
	relay := env.push()

	raw := larkMessage("oc_1", "om_1", "1700000000000", "x")
	raw.Content = "{not json"
	require.NoError(t, relay.Handle(context.Background(), domain.TextMessage{Raw: raw}))
	assert.Empty(t, env.slack.sentPayloads())
	assert.Equal(t, int64(1), env.counters.Snapshot().Errors)
}

func TestPushRelay_ChannelRenamedRefreshesDirectory(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, bareFormat(), domain.MessageFilter{})
	relay := env.push()

	_, err := env.uc.Identity.Directory(ctx, env.slack, domain.DirectoryChannels)
	require.NoError(t, err)
	_, err = env.uc.Identity.Directory(ctx, env.slack, domain.DirectoryChannels)
	require.NoError(t, err)
	assert.Equal(t, 1, env.slack.dirFetches)

	require.NoError(t, relay.Handle(ctx, domain.ChannelRenamed{Platform: domain.PlatformSlack, ChannelID: "C1", Name: "general-2"}))

	_, err = env.uc.Identity.Directory(ctx, env.slack, domain.DirectoryChannels)
	require.NoError(t, err)
	assert.Equal(t, 2, env.slack.dirFetches)
}

func TestPushRelay_IgnoredEvent(t *testing.T) {
	env := newTestEnv(t, bareFormat(), domain.MessageFilter{})
	assert.NoError(t, env.push().Handle(context.Background(), domain.IgnoredEvent{Platform: domain.PlatformSlack, Kind: "reaction_added"}))
}

func TestPushRelay_LedgerFailureIsReturned(t *testing.T) {
	env := newTestEnv(t, bareFormat(), domain.MessageFilter{})
	uc, err := biz.NewUsecases(failingStore{}, biz.Rules{
		Workspace: "ws1",
		Mappings:  []domain.ChannelMapping{{Source: "C1", Dest: "oc_1", Direction: domain.DirectionSlackToLark}},
		Format:    bareFormat(),
	}, nil, zerolog.Nop())
	require.NoError(t, err)

	pipeline := NewPipeline("ws1", uc, env.clients, env.counters, zerolog.Nop())
	relay := NewPushRelay("ws1", uc, pipeline, env.clients, env.counters, zerolog.Nop())

	err = relay.Handle(context.Background(), domain.TextMessage{Raw: slackMessage("C1", "1700000000.000100", "U1", "hello")})
	assert.ErrorIs(t, err, errStoreDown)
	assert.Empty(t, env.lark.sentPayloads())
}

func TestPushRelay_ConnStates(t *testing.T) {
	env := newTestEnv(t, bareFormat(), domain.MessageFilter{})
	relay := env.push()

	relay.SetConnState(domain.PlatformSlack, domain.ConnConnecting)
	relay.SetConnState(domain.PlatformSlack, domain.ConnConnected)
	relay.SetConnState(domain.PlatformLark, domain.ConnDisconnected)

	assert.Equal(t, map[domain.Platform]domain.ConnState{
		domain.PlatformSlack: domain.ConnConnected,
		domain.PlatformLark:  domain.ConnDisconnected,
	}, relay.ConnStates())
}
