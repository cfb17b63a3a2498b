package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_pinbar/internal/domain"
)

func sampleRecord(id, symbol string) *domain.InstanceRecord {
	cfg := domain.StrategyConfig{Exchange: "bybit", Symbol: symbol}.WithDefaults(nil)
	return &domain.InstanceRecord{
		ID:        id,
		Config:    cfg,
		Status:    domain.StatusRunning,
		StartedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func newTestSQLite(t *testing.T) *SQLiteStore {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveListDelete(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	rec := sampleRecord("a", "BTCUSDT")
	require.NoError(t, store.SaveInstance(ctx, rec))
	require.NoError(t, store.SaveInstance(ctx, sampleRecord("b", "ETHUSDT")))

	recs, err := store.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	require.NoError(t, store.DeleteInstance(ctx, "b"))
	recs, err = store.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, "BTCUSDT", recs[0].Config.Symbol)
	assert.True(t, rec.StartedAt.Equal(recs[0].StartedAt))
}

func TestSQLiteStore_UpsertKeepsPosition(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	rec := sampleRecord("a", "BTCUSDT")
	require.NoError(t, store.SaveInstance(ctx, rec))

	rec.LastProcessedCandleTime = 1700000000000
	rec.CurrentPosition = &domain.Position{
		Symbol:     "BTCUSDT",
		Side:       domain.SideLong,
		EntryPrice: 100,
		Quantity:   0.1,
		StopPrice:  95,
	}
	rec.PushTrade(domain.TradeRecord{Side: domain.SideLong, EntryPrice: 100, Status: domain.TradeOpen})
	require.NoError(t, store.SaveInstance(ctx, rec))

	recs, err := store.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	got := recs[0]
	assert.Equal(t, int64(1700000000000), got.LastProcessedCandleTime)
	require.NotNil(t, got.CurrentPosition)
	assert.Equal(t, 95.0, got.CurrentPosition.StopPrice)
	require.Len(t, got.TradeHistory, 1)
	assert.Equal(t, domain.TradeOpen, got.TradeHistory[0].Status)
}

func TestSQLiteStore_DeleteUnknownIsNoop(t *testing.T) {
	store := newTestSQLite(t)
	assert.NoError(t, store.DeleteInstance(context.Background(), "missing"))
}
