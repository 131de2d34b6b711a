package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
)

func fakeSlackAPI(t *testing.T, handlers map[string]func(r *http.Request) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		h, ok := handlers[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h(r))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSlackRepo_SendMessage(t *testing.T) {
	var gotChannel, gotText, gotAuth string
	srv := fakeSlackAPI(t, map[string]func(r *http.Request) any{
		"/chat.postMessage": func(r *http.Request) any {
			gotChannel = r.FormValue("channel")
			gotText = r.FormValue("text")
			gotAuth = r.FormValue("token") + r.Header.Get("Authorization")
			return map[string]any{"ok": true, "channel": "C1", "ts": "1700000000.000900"}
		},
	})

	client := NewSlackRepo(SlackConfig{
		BotToken:   "xoxb-bot",
		UserToken:  "xoxp-user",
		SendAsUser: true,
		APIURL:     srv.URL + "/",
	}, zerolog.Nop())

	res, err := client.SendMessage(context.Background(), domain.RenderedPayload{Channel: "C1", Text: "#general\nhello"})
	require.NoError(t, err)
	assert.Equal(t, "1700000000.000900", res.Timestamp)
	assert.Equal(t, "C1", gotChannel)
	assert.Equal(t, "#general\nhello", gotText)
	assert.Contains(t, gotAuth, "xoxp-user")
	assert.Equal(t, "xoxb-bot", client.Credential())
}

func TestSlackRepo_SendErrorIsTransient(t *testing.T) {
	srv := fakeSlackAPI(t, map[string]func(r *http.Request) any{
		"/chat.postMessage": func(r *http.Request) any {
			return map[string]any{"ok": false, "error": "channel_not_found"}
		},
	})
	client := NewSlackRepo(SlackConfig{BotToken: "xoxb", APIURL: srv.URL + "/"}, zerolog.Nop())

	_, err := client.SendMessage(context.Background(), domain.RenderedPayload{Channel: "C404", Text: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransientAPI))
}

func TestSlackRepo_FetchHistory(t *testing.T) {
	var gotOldest, gotInclusive string
	srv := fakeSlackAPI(t, map[string]func(r *http.Request) any{
		"/conversations.history": func(r *http.Request) any {
			gotOldest = r.FormValue("oldest")
			gotInclusive = r.FormValue("inclusive")
			return map[string]any{
				"ok": true,
				"messages": []map[string]any{
					{"type": "message", "user": "U2", "text": "second", "ts": "1700000000.000300", "reply_count": 2, "thread_ts": "1700000000.000300"},
					{"type": "message", "bot_id": "B1", "text": "from bot", "ts": "1700000000.000200"},
				},
				"has_more": false,
			}
		},
	})
	client := NewSlackRepo(SlackConfig{BotToken: "xoxb", APIURL: srv.URL + "/"}, zerolog.Nop())

	msgs, err := client.FetchHistory(context.Background(), "C1", "1700000000.000100", 100)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1700000000.000100", gotOldest)
	assert.Contains(t, []string{"1", "true"}, gotInclusive)

	assert.Equal(t, "C1", msgs[0].ChannelID)
	assert.Equal(t, 2, msgs[0].ReplyCount)
	assert.False(t, msgs[0].IsBot())
	assert.True(t, msgs[1].IsBot())
}

func TestSlackRepo_FetchHistoryReadsWholeBacklog(t *testing.T) {
	const pages = 15
	var calls atomic.Int32
	srv := fakeSlackAPI(t, map[string]func(r *http.Request) any{
		"/conversations.history": func(r *http.Request) any {
			calls.Add(1)
			page := 0
			if c := r.FormValue("cursor"); c != "" {
				page, _ = strconv.Atoi(strings.TrimPrefix(c, "page_"))
			}
			resp := map[string]any{
				"ok": true,
				"messages": []map[string]any{
					{"type": "message", "user": "U1", "text": "backlog", "ts": fmt.Sprintf("1700000000.%06d", pages-page)},
				},
				"has_more": page < pages-1,
			}
			if page < pages-1 {
				resp["response_metadata"] = map[string]any{"next_cursor": fmt.Sprintf("page_%d", page+1)}
			}
			return resp
		},
	})
	client := NewSlackRepo(SlackConfig{BotToken: "xoxb", APIURL: srv.URL + "/"}, zerolog.Nop())

	msgs, err := client.FetchHistory(context.Background(), "C1", "1700000000.000000", 1)
	require.NoError(t, err)
	assert.Equal(t, int32(pages), calls.Load())
	require.Len(t, msgs, pages)
	assert.Equal(t, "1700000000.000015", msgs[0].Timestamp)
	assert.Equal(t, "1700000000.000001", msgs[pages-1].Timestamp)

	// The initial fetch only needs the newest page
	calls.Store(0)
	msgs, err = client.FetchHistory(context.Background(), "C1", "", 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, msgs, 1)
}

func TestSlackRepo_FetchDirectory(t *testing.T) {
	srv := fakeSlackAPI(t, map[string]func(r *http.Request) any{
		"/users.list": func(r *http.Request) any {
			return map[string]any{
				"ok": true,
				"members": []map[string]any{
					{"id": "U1", "name": "alice", "real_name": "Alice Wong", "profile": map[string]any{"display_name": "ali"}},
					{"id": "U2", "name": "gone", "deleted": true},
				},
				"response_metadata": map[string]any{"next_cursor": ""},
			}
		},
		"/conversations.list": func(r *http.Request) any {
			return map[string]any{
				"ok":                true,
				"channels":          []map[string]any{{"id": "C1", "name": "general"}},
				"response_metadata": map[string]any{"next_cursor": ""},
			}
		},
	})
	client := NewSlackRepo(SlackConfig{BotToken: "xoxb", APIURL: srv.URL + "/"}, zerolog.Nop())

	users, err := client.FetchDirectory(context.Background(), domain.DirectoryUsers)
	require.NoError(t, err)
	for _, name := range []string{"alice", "Alice Wong", "ali"} {
		id, ok := users.Lookup(name)
		assert.True(t, ok, name)
		assert.Equal(t, "U1", id)
	}
	_, ok := users.Lookup("gone")
	assert.False(t, ok)
	display, _ := users.DisplayName("U1")
	assert.Equal(t, "ali", display)

	channels, err := client.FetchDirectory(context.Background(), domain.DirectoryChannels)
	require.NoError(t, err)
	id, ok := channels.Lookup("General")
	assert.True(t, ok)
	assert.Equal(t, "C1", id)
}

func TestLarkRepo_WebhookOnly(t *testing.T) {
	client := NewLarkRepo(nil, nil, zerolog.Nop())

	_, err := client.SendMessage(context.Background(), domain.RenderedPayload{Channel: WebhookChannel, Text: "x"})
	assert.True(t, domain.IsConfigError(err))

	_, err = client.FetchHistory(context.Background(), "oc_1", "", 10)
	assert.ErrorIs(t, err, domain.ErrUnsupported)

	_, err = client.FetchThreadReplies(context.Background(), "oc_1", "om_1", "")
	assert.ErrorIs(t, err, domain.ErrUnsupported)

	dir, err := client.FetchDirectory(context.Background(), domain.DirectoryUsers)
	require.NoError(t, err)
	assert.Empty(t, dir.Names)
}
