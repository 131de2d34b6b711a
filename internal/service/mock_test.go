package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/PLark-droid/lark-slack-connector/internal/biz"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/repo"
	"github.com/PLark-droid/lark-slack-connector/internal/data"
)

// Mock implementations

type fakePlatform struct {
	platform domain.Platform

	mu       sync.Mutex
	users    *domain.Directory
	channels *domain.Directory
	history  map[string][]domain.RawMessage // ascending by ts
	replies  map[string][]domain.RawMessage // keyed by thread id
	sent     []domain.RenderedPayload
	sendErr  error
	fetchErr error
	seq      int

	dirFetches int
}

func newFakePlatform(p domain.Platform) *fakePlatform {
	return &fakePlatform{
		platform: p,
		users:    domain.NewDirectory(),
		channels: domain.NewDirectory(),
		history:  make(map[string][]domain.RawMessage),
		replies:  make(map[string][]domain.RawMessage),
	}
}

func (f *fakePlatform) Platform() domain.Platform {
	return f.platform
}

func (f *fakePlatform) Credential() string {
	return "token-" + string(f.platform)
}

func (f *fakePlatform) FetchDirectory(ctx context.Context, kind domain.DirectoryKind) (*domain.Directory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirFetches++
	if kind == domain.DirectoryUsers {
		return f.users, nil
	}
	return f.channels, nil
}

func (f *fakePlatform) SendMessage(ctx context.Context, payload domain.RenderedPayload) (domain.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return domain.SendResult{}, f.sendErr
	}
	f.seq++
	f.sent = append(f.sent, payload)
	if f.platform == domain.PlatformLark {
		return domain.SendResult{
			ID:        fmt.Sprintf("om_sent_%d", f.seq),
			Timestamp: fmt.Sprintf("%d", 1700000900000+f.seq),
		}, nil
	}
	ts := fmt.Sprintf("1700000900.%06d", f.seq)
	return domain.SendResult{ID: ts, Timestamp: ts}, nil
}

func (f *fakePlatform) FetchHistory(ctx context.Context, channel, oldest string, limit int) ([]domain.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []domain.RawMessage
	msgs := f.history[channel]
	for i := len(msgs) - 1; i >= 0; i-- {
		if oldest != "" && domain.CompareTimestamps(msgs[i].Timestamp, oldest) < 0 {
			continue
		}
		out = append(out, msgs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakePlatform) FetchThreadReplies(ctx context.Context, channel, threadID, oldest string) ([]domain.RawMessage, error) {
	if f.platform == domain.PlatformLark {
		return nil, domain.ErrUnsupported
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RawMessage
	for _, m := range f.replies[threadID] {
		if oldest == "" || domain.CompareTimestamps(m.Timestamp, oldest) >= 0 {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakePlatform) post(m domain.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.Platform = f.platform
	msgs := append(f.history[m.ChannelID], m)
	sort.SliceStable(msgs, func(i, j int) bool {
		return domain.CompareTimestamps(msgs[i].Timestamp, msgs[j].Timestamp) < 0
	})
	f.history[m.ChannelID] = msgs
}

func (f *fakePlatform) reply(threadID string, m domain.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.Platform = f.platform
	m.ThreadID = threadID
	f.replies[threadID] = append(f.replies[threadID], m)
}

func (f *fakePlatform) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakePlatform) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func (f *fakePlatform) sentPayloads() []domain.RenderedPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RenderedPayload(nil), f.sent...)
}

type fakeTransport struct {
	platform domain.Platform
	startErr error

	mu      sync.Mutex
	sink    EventSink
	started bool
	stopped bool
}

func (t *fakeTransport) Platform() domain.Platform {
	return t.platform
}

func (t *fakeTransport) Start(ctx context.Context, sink EventSink) error {
	if t.startErr != nil {
		return t.startErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
	t.started = true
	sink.SetConnState(t.platform, domain.ConnConnected)
	return nil
}

func (t *fakeTransport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

type fakeDecoder struct {
	result *WebhookResult
	err    error
}

func (d *fakeDecoder) Decode(header http.Header, body []byte) (*WebhookResult, error) {
	return d.result, d.err
}

var errSendFailed = errors.New("send failed")

// flakyStore fails every call while down is set
type flakyStore struct {
	repo.Store
	down atomic.Bool
}

func (s *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.down.Load() {
		return "", false, errStoreDown
	}
	return s.Store.Get(ctx, key)
}

func (s *flakyStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.down.Load() {
		return errStoreDown
	}
	return s.Store.Put(ctx, key, value, ttl)
}

func (s *flakyStore) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if s.down.Load() {
		return false, errStoreDown
	}
	return s.Store.PutIfAbsent(ctx, key, value, ttl)
}

// Test fixtures

type testEnv struct {
	store    *flakyStore
	uc       *biz.Usecases
	slack    *fakePlatform
	lark     *fakePlatform
	clients  map[domain.Platform]repo.PlatformClient
	counters *Counters
	pipeline *Pipeline
	now      time.Time
}

func bareFormat() domain.FormatOptions {
	return domain.FormatOptions{Timezone: "UTC", IncludeThreadReplies: true}
}

func newTestEnv(t *testing.T, format domain.FormatOptions, filter domain.MessageFilter) *testEnv {
	t.Helper()
	env := &testEnv{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return env.now }
	env.store = &flakyStore{Store: data.NewMemoryStore(clock)}

	uc, err := biz.NewUsecases(env.store, biz.Rules{
		Workspace: "ws1",
		Filter:    filter,
		Mappings: []domain.ChannelMapping{
			{Source: "C1", Dest: "oc_1", Direction: domain.DirectionBidirectional},
		},
		Format: format,
	}, clock, zerolog.Nop())
	require.NoError(t, err)
	env.uc = uc

	env.slack = newFakePlatform(domain.PlatformSlack)
	env.slack.users.Add(domain.Member{ID: "U1", Name: "alice"})
	env.slack.channels.Add(domain.Member{ID: "C1", Name: "general"})
	env.slack.channels.Add(domain.Member{ID: "C2", Name: "random"})

	env.lark = newFakePlatform(domain.PlatformLark)
	env.lark.users.Add(domain.Member{ID: "ou_bob", Name: "Bob"})
	env.lark.channels.Add(domain.Member{ID: "oc_1", Name: "lark-general"})
	env.lark.channels.Add(domain.Member{ID: "oc_ann", Name: "announcements"})

	env.clients = map[domain.Platform]repo.PlatformClient{
		domain.PlatformSlack: env.slack,
		domain.PlatformLark:  env.lark,
	}
	env.counters = &Counters{}
	env.pipeline = NewPipeline("ws1", env.uc, env.clients, env.counters, zerolog.Nop())
	return env
}

func (e *testEnv) push() *PushRelay {
	return NewPushRelay("ws1", e.uc, e.pipeline, e.clients, e.counters, zerolog.Nop())
}

func (e *testEnv) poller(source *fakePlatform, includeThreads bool) *PollRelay {
	return NewPollRelay("ws1", source, e.uc, e.pipeline, e.counters, PollOptions{
		IncludeThreads: includeThreads,
		Now:            func() time.Time { return e.now },
	}, zerolog.Nop())
}

func slackMessage(channel, ts, user, text string) domain.RawMessage {
	return domain.RawMessage{
		Platform:  domain.PlatformSlack,
		ChannelID: channel,
		Timestamp: ts,
		SenderID:  user,
		Content:   text,
	}
}

func larkMessage(chat, id, createTime, text string) domain.RawMessage {
	return domain.RawMessage{
		Platform:   domain.PlatformLark,
		ChannelID:  chat,
		Timestamp:  createTime,
		MessageID:  id,
		SenderID:   "ou_bob",
		SenderType: "user",
		MsgType:    "text",
		Content:    fmt.Sprintf(`{"text":%q}`, text),
	}
}
