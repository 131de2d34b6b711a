package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/PLark-droid/lark-slack-connector/internal/biz"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/repo"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/usecase"
)

const (
	// DefaultHistoryLimit is the page size of one incremental history fetch
	DefaultHistoryLimit = 100

	// DefaultThreadScanDepth is how many recent messages are checked for threads
	DefaultThreadScanDepth = 20
)

// PollOptions tunes a PollRelay
type PollOptions struct {
	HistoryLimit    int
	ThreadScanDepth int
	IncludeThreads  bool
	Now             func() time.Time
}

// PollRelay forwards messages from channels that only expose history APIs.
// Channels are processed sequentially within one tick.
type PollRelay struct {
	workspace string
	source    repo.PlatformClient
	uc        *biz.Usecases
	pipeline  *Pipeline
	counters  *Counters
	opts      PollOptions
	log       zerolog.Logger

	mu       sync.Mutex
	channels []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPollRelay creates a poll relay reading from source
func NewPollRelay(
	workspace string,
	source repo.PlatformClient,
	uc *biz.Usecases,
	pipeline *Pipeline,
	counters *Counters,
	opts PollOptions,
	log zerolog.Logger,
) *PollRelay {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.ThreadScanDepth <= 0 {
		opts.ThreadScanDepth = DefaultThreadScanDepth
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &PollRelay{
		workspace: workspace,
		source:    source,
		uc:        uc,
		pipeline:  pipeline,
		counters:  counters,
		opts:      opts,
		log:       log.With().Str("component", "poll").Str("platform", string(source.Platform())).Logger(),
	}
}

// AddChannel adds a channel to poll. Adding a channel twice has no effect.
func (p *PollRelay) AddChannel(channelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.channels {
		if c == channelID {
			return
		}
	}
	p.channels = append(p.channels, channelID)
}

// Channels returns the polled channels
func (p *PollRelay) Channels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.channels...)
}

// Start polls immediately, then once per interval until Stop
func (p *PollRelay) Start(ctx context.Context, interval time.Duration) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.loop(interval)

	p.log.Info().Dur("interval", interval).Int("channels", len(p.Channels())).Msg("Poller started")
}

// Stop stops scheduling ticks and waits for an in-flight tick to finish
func (p *PollRelay) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info().Msg("Poller stopped")
}

func (p *PollRelay) loop(interval time.Duration) {
	defer p.wg.Done()

	// In-flight API calls are allowed to complete after Stop
	tickCtx := context.WithoutCancel(p.ctx)
	p.PollOnce(tickCtx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(tickCtx)
		}
	}
}

// PollOnce runs one tick over all channels
func (p *PollRelay) PollOnce(ctx context.Context) {
	for _, ch := range p.Channels() {
		if p.ctx != nil && p.ctx.Err() != nil {
			return
		}
		if err := p.pollChannel(ctx, ch); err != nil {
			p.log.Warn().Err(err).Str("channel", ch).Msg("Poll failed, retrying next tick")
			p.counters.errors.Add(1)
		}
		if p.opts.IncludeThreads {
			if err := p.pollThreads(ctx, ch); err != nil {
				p.log.Warn().Err(err).Str("channel", ch).Msg("Thread poll failed, retrying next tick")
				p.counters.errors.Add(1)
			}
		}
	}
}

func (p *PollRelay) pollChannel(ctx context.Context, ch string) error {
	cursor, ok, err := p.uc.Ledger.ChannelCursor(ctx, ch)
	if err != nil {
		return err
	}
	if !ok {
		return p.initChannel(ctx, ch)
	}

	msgs, err := p.source.FetchHistory(ctx, ch, cursor, p.opts.HistoryLimit)
	if err != nil {
		return err
	}
	sortAscending(msgs)

	for i := range msgs {
		raw := &msgs[i]
		if domain.CompareTimestamps(raw.Timestamp, cursor) <= 0 {
			continue
		}
		handed, err := p.handOff(ctx, raw)
		if err != nil {
			return err
		}
		if !handed {
			continue
		}
		if err := p.uc.Ledger.AdvanceChannelCursor(ctx, ch, raw.Timestamp); err != nil {
			return err
		}
		cursor = raw.Timestamp
	}
	return nil
}

// initChannel sets the cursor to the newest message so backlog is never forwarded
func (p *PollRelay) initChannel(ctx context.Context, ch string) error {
	latest, err := p.source.FetchHistory(ctx, ch, "", 1)
	if err != nil {
		return err
	}
	baseline := domain.FormatTimestamp(p.source.Platform(), p.opts.Now())
	if len(latest) > 0 {
		baseline = latest[0].Timestamp
	}
	if err := p.uc.Ledger.SetBaseline(ctx, ch, baseline); err != nil {
		return err
	}
	if err := p.uc.Ledger.AdvanceChannelCursor(ctx, ch, baseline); err != nil {
		return err
	}
	p.log.Info().Str("channel", ch).Str("cursor", baseline).Msg("Channel cursor initialised")
	return nil
}

// pollThreads scans recent messages for threads and forwards new replies
func (p *PollRelay) pollThreads(ctx context.Context, ch string) error {
	recent, err := p.source.FetchHistory(ctx, ch, "", p.opts.ThreadScanDepth)
	if err != nil {
		return err
	}
	for i := range recent {
		root := &recent[i]
		if root.ReplyCount == 0 {
			continue
		}
		err := p.pollThread(ctx, ch, root.Timestamp)
		if errors.Is(err, domain.ErrUnsupported) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *PollRelay) pollThread(ctx context.Context, ch, threadID string) error {
	cursor, ok, err := p.uc.Ledger.ThreadCursor(ctx, ch, threadID)
	if err != nil {
		return err
	}
	if !ok {
		cursor, err = p.initThread(ctx, ch, threadID)
		if err != nil || cursor == "" {
			return err
		}
	}

	replies, err := p.source.FetchThreadReplies(ctx, ch, threadID, cursor)
	if err != nil {
		return err
	}
	sortAscending(replies)

	for i := range replies {
		raw := &replies[i]
		if raw.Timestamp == threadID || domain.CompareTimestamps(raw.Timestamp, cursor) <= 0 {
			continue
		}
		// Broadcast replies also appear in the channel history and are forwarded there
		if raw.SubType == "thread_broadcast" {
			continue
		}
		if raw.ThreadID == "" {
			raw.ThreadID = threadID
		}
		handed, err := p.handOff(ctx, raw)
		if err != nil {
			return err
		}
		if !handed {
			continue
		}
		if err := p.uc.Ledger.AdvanceThreadCursor(ctx, ch, threadID, raw.Timestamp); err != nil {
			return err
		}
		cursor = raw.Timestamp
	}
	return nil
}

// initThread picks the starting cursor of a thread seen for the first time.
// A thread started after the channel baseline starts at its root; an older one
// starts at the baseline. Without a baseline the thread's current replies are
// treated as already seen, and an empty cursor is returned.
func (p *PollRelay) initThread(ctx context.Context, ch, threadID string) (string, error) {
	baseline, ok, err := p.uc.Ledger.Baseline(ctx, ch)
	if err != nil {
		return "", err
	}
	if ok {
		cursor := threadID
		if domain.CompareTimestamps(baseline, cursor) > 0 {
			cursor = baseline
		}
		return cursor, p.uc.Ledger.AdvanceThreadCursor(ctx, ch, threadID, cursor)
	}

	replies, err := p.source.FetchThreadReplies(ctx, ch, threadID, "")
	if err != nil {
		return "", err
	}
	latest := threadID
	for _, r := range replies {
		if domain.CompareTimestamps(r.Timestamp, latest) > 0 {
			latest = r.Timestamp
		}
	}
	return "", p.uc.Ledger.AdvanceThreadCursor(ctx, ch, threadID, latest)
}

// handOff passes one fetched message to the pipeline. It reports whether the
// message reached the filter stage, which is what moves the cursor. Bot
// messages and relay-produced messages are not handed off.
func (p *PollRelay) handOff(ctx context.Context, raw *domain.RawMessage) (bool, error) {
	log := p.log.With().Str("channel", raw.ChannelID).Str("ts", raw.Timestamp).Logger()

	if raw.IsBot() {
		return false, nil
	}
	for _, key := range []string{raw.Timestamp, raw.MessageID} {
		if key == "" {
			continue
		}
		ours, err := p.uc.Ledger.WasSentByUs(ctx, raw.ChannelID, key)
		if err != nil {
			return false, err
		}
		if ours {
			return false, nil
		}
	}

	msg, err := p.pipeline.Normalize(ctx, raw)
	if errors.Is(err, usecase.ErrSkip) {
		return true, nil
	}
	if err != nil {
		// A message that cannot be parsed would fail on every tick
		log.Error().Err(err).Msg("Failed to normalize message, skipping")
		p.counters.errors.Add(1)
		return true, nil
	}

	p.pipeline.Forward(ctx, msg)
	return true, nil
}

func sortAscending(msgs []domain.RawMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return domain.CompareTimestamps(msgs[i].Timestamp, msgs[j].Timestamp) < 0
	})
}
