package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
)

func TestIdentity_ResolveMentions(t *testing.T) {
	ctx := context.Background()
	uc := NewIdentityUsecase(newMockStore(), "ws1", zerolog.Nop())
	lark := newLarkDirectory()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single mention", "@alice hi", `<at user_id="ou_alice">Alice</at> hi`},
		{"case insensitive", "ping @BOB please", `ping <at user_id="ou_bob">Bob</at> please`},
		{"alias with dot", "@alice.w done", `<at user_id="ou_alice">Alice</at> done`},
		{"trailing punctuation", "thanks @bob.", `thanks <at user_id="ou_bob">Bob</at>.`},
		{"unknown left verbatim", "@unknownuser hi", "@unknownuser hi"},
		{"email is not a mention", "mail bob@example.com", "mail bob@example.com"},
		{"two mentions", "@alice @bob", `<at user_id="ou_alice">Alice</at> <at user_id="ou_bob">Bob</at>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, uc.ResolveMentions(ctx, tt.in, lark))
		})
	}
}

func TestIdentity_ResolveMentionsWithEmptyDirectory(t *testing.T) {
	uc := NewIdentityUsecase(newMockStore(), "ws1", zerolog.Nop())
	empty := &mockDirectorySource{platform: domain.PlatformSlack, credential: "xoxb"}

	assert.Equal(t, "@unknownuser hi", uc.ResolveMentions(context.Background(), "@unknownuser hi", empty))
}

func TestIdentity_SlackMentionSyntax(t *testing.T) {
	users := domain.NewDirectory()
	users.Add(domain.Member{ID: "U123", Name: "Carol"})
	slack := &mockDirectorySource{
		platform:    domain.PlatformSlack,
		credential:  "xoxb-1",
		directories: map[domain.DirectoryKind]*domain.Directory{domain.DirectoryUsers: users},
	}
	uc := NewIdentityUsecase(newMockStore(), "ws1", zerolog.Nop())

	assert.Equal(t, "hey <@U123>", uc.ResolveMentions(context.Background(), "hey @carol", slack))
}

func TestIdentity_FetchErrorLeavesTextUnchanged(t *testing.T) {
	src := &mockDirectorySource{platform: domain.PlatformLark, credential: "x", err: errors.New("rate limited")}
	uc := NewIdentityUsecase(newMockStore(), "ws1", zerolog.Nop())

	assert.Equal(t, "@alice hi", uc.ResolveMentions(context.Background(), "@alice hi", src))
	_, ok := uc.ResolveChannelReference(context.Background(), "general", src)
	assert.False(t, ok)
}

func TestIdentity_CacheTTL(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	uc := NewIdentityUsecase(store, "ws1", zerolog.Nop())
	lark := newLarkDirectory()

	uc.ResolveMentions(ctx, "@alice", lark)
	uc.ResolveMentions(ctx, "@bob", lark)
	assert.Equal(t, 1, lark.fetches, "second lookup is served from cache")

	store.advance(DefaultIdentityTTL)
	uc.ResolveMentions(ctx, "@alice", lark)
	assert.Equal(t, 2, lark.fetches, "expired entry triggers a full refetch")

	require.NoError(t, uc.Invalidate(ctx, lark, domain.DirectoryUsers))
	uc.ResolveMentions(ctx, "@alice", lark)
	assert.Equal(t, 3, lark.fetches)
}

func TestIdentity_CacheKeyNeverContainsCredential(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	uc := NewIdentityUsecase(store, "ws1", zerolog.Nop())
	lark := newLarkDirectory()

	uc.ResolveMentions(ctx, "@alice", lark)
	require.Len(t, store.entries, 1)
	for key := range store.entries {
		assert.NotContains(t, key, lark.credential)
		assert.True(t, strings.HasPrefix(key, "identity:ws1:"+Fingerprint(lark.credential)+":users"))
	}
	assert.Len(t, Fingerprint("anything"), 12)
}

func TestIdentity_ResolveChannelReference(t *testing.T) {
	ctx := context.Background()
	uc := NewIdentityUsecase(newMockStore(), "ws1", zerolog.Nop())
	lark := newLarkDirectory()

	id, ok := uc.ResolveChannelReference(ctx, "General", lark)
	assert.True(t, ok)
	assert.Equal(t, "oc_general", id)

	_, ok = uc.ResolveChannelReference(ctx, "nowhere", lark)
	assert.False(t, ok)
}

func TestIdentity_Names(t *testing.T) {
	uc := NewIdentityUsecase(newMockStore(), "ws1", zerolog.Nop())
	names := uc.Names(context.Background(), newLarkDirectory())

	name, ok := names(domain.DirectoryUsers, "ou_bob")
	assert.True(t, ok)
	assert.Equal(t, "Bob", name)

	_, ok = names(domain.DirectoryUsers, "")
	assert.False(t, ok)
}
