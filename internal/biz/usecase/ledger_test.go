package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
)

func TestLedger_RecordSentRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	ledger := NewLedgerUsecase(store, "ws1")

	require.NoError(t, ledger.RecordSent(ctx, "C1", "1700000000.000100"))

	sent, err := ledger.WasSentByUs(ctx, "C1", "1700000000.000100")
	require.NoError(t, err)
	assert.True(t, sent)

	other, err := ledger.WasSentByUs(ctx, "C2", "1700000000.000100")
	require.NoError(t, err)
	assert.False(t, other)

	store.advance(DefaultSentTTL)
	sent, err = ledger.WasSentByUs(ctx, "C1", "1700000000.000100")
	require.NoError(t, err)
	assert.False(t, sent, "entry must expire after the TTL")
}

func TestLedger_WorkspacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	a := NewLedgerUsecase(store, "a")
	b := NewLedgerUsecase(store, "b")

	require.NoError(t, a.RecordSent(ctx, "C1", "1.0"))
	sent, err := b.WasSentByUs(ctx, "C1", "1.0")
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestLedger_MarkSeen(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedgerUsecase(newMockStore(), "ws1")

	first, err := ledger.MarkSeen(ctx, domain.PlatformSlack, "C1", "1.0")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := ledger.MarkSeen(ctx, domain.PlatformSlack, "C1", "1.0")
	require.NoError(t, err)
	assert.False(t, again)

	otherPlatform, err := ledger.MarkSeen(ctx, domain.PlatformLark, "C1", "1.0")
	require.NoError(t, err)
	assert.True(t, otherPlatform)
}

func TestLedger_CursorIsMonotonic(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedgerUsecase(newMockStore(), "ws1")

	_, ok, err := ledger.ChannelCursor(ctx, "C1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ledger.AdvanceChannelCursor(ctx, "C1", "1700000000.000200"))
	require.NoError(t, ledger.AdvanceChannelCursor(ctx, "C1", "1700000000.000100"))
	require.NoError(t, ledger.AdvanceChannelCursor(ctx, "C1", "999999999.999999"))

	cur, ok, err := ledger.ChannelCursor(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1700000000.000200", cur)

	require.NoError(t, ledger.AdvanceChannelCursor(ctx, "C1", "1700000000.000300"))
	cur, _, _ = ledger.ChannelCursor(ctx, "C1")
	assert.Equal(t, "1700000000.000300", cur)
}

func TestLedger_ThreadCursorPersistsSeparately(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	ledger := NewLedgerUsecase(store, "ws1")

	require.NoError(t, ledger.AdvanceChannelCursor(ctx, "C1", "5.0"))
	require.NoError(t, ledger.AdvanceThreadCursor(ctx, "C1", "3.0", "4.0"))

	cur, ok, err := ledger.ThreadCursor(ctx, "C1", "3.0")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "4.0", cur)

	// A restarted relay sees the same cursor through a new ledger over the same store
	restarted := NewLedgerUsecase(store, "ws1")
	cur, ok, err = restarted.ThreadCursor(ctx, "C1", "3.0")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "4.0", cur)

	store.advance(30 * 24 * time.Hour)
	cur, ok, _ = restarted.ThreadCursor(ctx, "C1", "3.0")
	assert.True(t, ok, "thread cursors never expire")
	assert.Equal(t, "4.0", cur)
	_, ok, _ = restarted.ChannelCursor(ctx, "C1")
	assert.True(t, ok, "channel cursors never expire")
}

func TestLedger_StoreErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	store.err = errors.New("connection refused")
	ledger := NewLedgerUsecase(store, "ws1")

	assert.Error(t, ledger.RecordSent(ctx, "C1", "1.0"))
	_, err := ledger.WasSentByUs(ctx, "C1", "1.0")
	assert.Error(t, err)
	assert.Error(t, ledger.AdvanceChannelCursor(ctx, "C1", "1.0"))
}

func TestLedger_Baseline(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedgerUsecase(newMockStore(), "ws1")

	_, ok, err := ledger.Baseline(ctx, "C1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ledger.SetBaseline(ctx, "C1", "10.0"))
	ts, ok, err := ledger.Baseline(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "10.0", ts)
}
