package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/repo"
)

const (
	// DefaultSentTTL is how long an outbound message is recognised as relay-produced
	DefaultSentTTL = 5 * time.Minute

	// DefaultSeenTTL is how long a push delivery is remembered for redelivery dedup
	DefaultSeenTTL = 5 * time.Minute

	sentinel = "1"
)

// LedgerUsecase records loop-prevention markers and poll cursors for one workspace.
// Every key is namespaced by the workspace id.
type LedgerUsecase struct {
	store     repo.Store
	workspace string
	sentTTL   time.Duration
	seenTTL   time.Duration
}

// NewLedgerUsecase creates a ledger for workspace over store
func NewLedgerUsecase(store repo.Store, workspace string) *LedgerUsecase {
	return &LedgerUsecase{
		store:     store,
		workspace: workspace,
		sentTTL:   DefaultSentTTL,
		seenTTL:   DefaultSeenTTL,
	}
}

// RecordSent marks (channel, ts) as produced by the relay
func (uc *LedgerUsecase) RecordSent(ctx context.Context, channel, ts string) error {
	if channel == "" || ts == "" {
		return nil
	}
	if err := uc.store.Put(ctx, uc.sentKey(channel, ts), sentinel, uc.sentTTL); err != nil {
		return fmt.Errorf("record sent: %w", err)
	}
	return nil
}

// WasSentByUs reports whether (channel, ts) was produced by the relay within the TTL
func (uc *LedgerUsecase) WasSentByUs(ctx context.Context, channel, ts string) (bool, error) {
	_, ok, err := uc.store.Get(ctx, uc.sentKey(channel, ts))
	if err != nil {
		return false, fmt.Errorf("lookup sent: %w", err)
	}
	return ok, nil
}

// MarkSeen records a push delivery and reports whether it is the first one
func (uc *LedgerUsecase) MarkSeen(ctx context.Context, platform domain.Platform, channel, ts string) (bool, error) {
	key := fmt.Sprintf("seen:%s:%s:%s:%s", uc.workspace, platform, channel, ts)
	first, err := uc.store.PutIfAbsent(ctx, key, sentinel, uc.seenTTL)
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	return first, nil
}

// ChannelCursor returns the last timestamp handed to the pipeline for channel
func (uc *LedgerUsecase) ChannelCursor(ctx context.Context, channel string) (string, bool, error) {
	return uc.get(ctx, uc.cursorKey(channel))
}

// AdvanceChannelCursor moves the channel cursor forward to ts. Older values are ignored.
func (uc *LedgerUsecase) AdvanceChannelCursor(ctx context.Context, channel, ts string) error {
	return uc.advance(ctx, uc.cursorKey(channel), ts)
}

// ThreadCursor returns the last reply timestamp handed to the pipeline for a thread
func (uc *LedgerUsecase) ThreadCursor(ctx context.Context, channel, threadID string) (string, bool, error) {
	return uc.get(ctx, uc.cursorKey(channel, threadID))
}

// AdvanceThreadCursor moves a thread cursor forward to ts. Older values are ignored.
// Like channel cursors, thread cursors never expire.
func (uc *LedgerUsecase) AdvanceThreadCursor(ctx context.Context, channel, threadID, ts string) error {
	return uc.advance(ctx, uc.cursorKey(channel, threadID), ts)
}

// Baseline returns the timestamp at which channel was first observed
func (uc *LedgerUsecase) Baseline(ctx context.Context, channel string) (string, bool, error) {
	return uc.get(ctx, fmt.Sprintf("baseline:%s:%s", uc.workspace, channel))
}

// SetBaseline records the timestamp at which channel was first observed
func (uc *LedgerUsecase) SetBaseline(ctx context.Context, channel, ts string) error {
	if err := uc.store.Put(ctx, fmt.Sprintf("baseline:%s:%s", uc.workspace, channel), ts, 0); err != nil {
		return fmt.Errorf("set baseline: %w", err)
	}
	return nil
}

func (uc *LedgerUsecase) advance(ctx context.Context, key, ts string) error {
	current, ok, err := uc.get(ctx, key)
	if err != nil {
		return err
	}
	if ok && domain.CompareTimestamps(ts, current) <= 0 {
		return nil
	}
	if err := uc.store.Put(ctx, key, ts, 0); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

func (uc *LedgerUsecase) get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := uc.store.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return v, ok, nil
}

func (uc *LedgerUsecase) sentKey(channel, ts string) string {
	return fmt.Sprintf("sent:%s:%s:%s", uc.workspace, channel, ts)
}

func (uc *LedgerUsecase) cursorKey(parts ...string) string {
	key := "cursor:" + uc.workspace
	for _, p := range parts {
		key += ":" + p
	}
	return key
}
