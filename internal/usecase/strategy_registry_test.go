package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"github.com/vitos/crypto_trade_pinbar/internal/usecase"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T, gw domain.Gateway, store *MemStore, n *RecordingNotifier) *usecase.StrategyRegistry {
	reg := usecase.NewStrategyRegistry(map[string]domain.Gateway{"Bybit": gw}, store, n, fastSettings(), zap.NewNop())
	t.Cleanup(reg.Shutdown)
	return reg
}

func flatGateway() *FakeGateway {
	gw := NewFakeGateway()
	gw.SetCandles("1h", plain(t0), plain(t0+hourMs))
	gw.SetCandles("4h", plain(t0), plain(t0+4*hourMs))
	gw.SetCandles("1d", plain(t0), plain(t0+24*hourMs))
	return gw
}

func TestRegistry_StartConflict(t *testing.T) {
	n := &RecordingNotifier{}
	reg := newTestRegistry(t, flatGateway(), NewMemStore(), n)
	ctx := context.Background()

	id, err := reg.Start(ctx, domain.StrategyConfig{Exchange: "bybit", Symbol: "BTCUSDT"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = reg.Start(ctx, domain.StrategyConfig{Exchange: "BYBIT", Symbol: "btcusdt", PatternRatio: 0.5})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, id, conflict.InstanceID)

	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, domain.StatusRunning, list[0].Status)
	assert.Equal(t, 1, n.Count(domain.EventStrategyStarted))

	// A different market type is a different triple.
	_, err = reg.Start(ctx, domain.StrategyConfig{Exchange: "bybit", Symbol: "BTCUSDT", MarketType: domain.MarketSpot})
	require.NoError(t, err)
	assert.Len(t, reg.List(), 2)
}

func TestRegistry_StartValidation(t *testing.T) {
	reg := newTestRegistry(t, flatGateway(), NewMemStore(), &RecordingNotifier{})
	ctx := context.Background()

	_, err := reg.Start(ctx, domain.StrategyConfig{Exchange: "binance", Symbol: "BTCUSDT"})
	assert.ErrorIs(t, err, domain.ErrUnknownExchange)

	_, err = reg.Start(ctx, domain.StrategyConfig{Exchange: "bybit", Symbol: "BTCUSDT", ConfluenceThreshold: 4})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = reg.Start(ctx, domain.StrategyConfig{Exchange: "bybit"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	// The trading timeframe must be one of the evaluated ones.
	_, err = reg.Start(ctx, domain.StrategyConfig{Exchange: "bybit", Symbol: "BTCUSDT", Timeframes: []string{"4h", "1d"}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = reg.Start(ctx, domain.StrategyConfig{Exchange: "bybit", Symbol: "BTCUSDT", Timeframes: []string{"15m", "4h"}, TradingTimeframe: "1h"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	assert.Empty(t, reg.List())
}

func TestRegistry_StopDeletesInstance(t *testing.T) {
	store := NewMemStore()
	n := &RecordingNotifier{}
	reg := newTestRegistry(t, flatGateway(), store, n)
	ctx := context.Background()

	id, err := reg.Start(ctx, domain.StrategyConfig{Exchange: "bybit", Symbol: "ETHUSDT"})
	require.NoError(t, err)
	_, ok := store.Get(id)
	require.True(t, ok)

	stopped, err := reg.Stop(ctx, id)
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Empty(t, reg.List())
	_, ok = store.Get(id)
	assert.False(t, ok)
	assert.Equal(t, 1, n.Count(domain.EventStrategyStopped))

	stopped, err = reg.Stop(ctx, id)
	require.NoError(t, err)
	assert.False(t, stopped)

	// The triple is free again.
	_, err = reg.Start(ctx, domain.StrategyConfig{Exchange: "bybit", Symbol: "ETHUSDT"})
	assert.NoError(t, err)
}

func TestRegistry_RestoreDoesNotReenter(t *testing.T) {
	gw := longSetupGateway()
	gw.Positions = []domain.PositionSnapshot{{Symbol: "BTCUSDT", Side: domain.SideLong, Quantity: 0.1}}

	openedAt := time.Now().Add(-time.Hour)
	rec := &domain.InstanceRecord{
		ID:                      "persisted-1",
		Config:                  testConfig(),
		Status:                  domain.StatusRunning,
		StartedAt:               openedAt,
		LastProcessedCandleTime: t0,
		CurrentPosition: &domain.Position{
			Symbol: "BTCUSDT", Side: domain.SideLong, EntryPrice: 100, Quantity: 0.1,
			StopPrice: 91, TakeProfitPrice: 113.5, EntryOrderID: "m-old", OpenedAt: openedAt,
		},
		TradeHistory: []domain.TradeRecord{{
			SignalTime: t0, Side: domain.SideLong, EntryPrice: 100, Quantity: 0.1,
			OrderID: "m-old", Status: domain.TradeOpen, OpenedAt: openedAt,
		}},
	}
	store := NewMemStore(rec)
	n := &RecordingNotifier{}
	reg := newTestRegistry(t, gw, store, n)

	restored, err := reg.RestoreAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.Equal(t, 1, n.Count(domain.EventStrategyRestored))

	require.Eventually(t, func() bool { return gw.CandleCallCount() >= 6 }, 2*time.Second, 5*time.Millisecond)

	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusRunning, list[0].Status)
	require.NotNil(t, list[0].CurrentPosition)

	reg.Shutdown()

	assert.Zero(t, gw.MarketOrderCount())
	got, ok := reg.Get("persisted-1")
	assert.False(t, ok, "shutdown clears the in-memory set")
	assert.Nil(t, got)

	persisted, ok := store.Get("persisted-1")
	require.True(t, ok, "shutdown keeps persisted records")
	assert.Len(t, persisted.TradeHistory, 1)
	assert.Equal(t, domain.StatusRunning, persisted.Status)
}

func TestRegistry_RestoreSkipsConflicts(t *testing.T) {
	a := &domain.InstanceRecord{ID: "a", Config: testConfig(), StartedAt: time.Now()}
	b := &domain.InstanceRecord{ID: "b", Config: testConfig(), StartedAt: time.Now()}
	unknown := &domain.InstanceRecord{ID: "c", Config: domain.StrategyConfig{Exchange: "kraken", Symbol: "XBTUSD"}}
	reg := newTestRegistry(t, flatGateway(), NewMemStore(a, b, unknown), &RecordingNotifier{})

	restored, err := reg.RestoreAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.Len(t, reg.List(), 1)
}

func TestRegistry_ShutdownKeepsRecordsForRestore(t *testing.T) {
	store := NewMemStore()
	gw := flatGateway()
	reg := usecase.NewStrategyRegistry(map[string]domain.Gateway{"bybit": gw}, store, &RecordingNotifier{}, fastSettings(), zap.NewNop())

	id, err := reg.Start(context.Background(), domain.StrategyConfig{Exchange: "bybit", Symbol: "BTCUSDT"})
	require.NoError(t, err)

	reg.Shutdown()
	assert.Empty(t, reg.List())
	_, ok := store.Get(id)
	require.True(t, ok)

	n := &RecordingNotifier{}
	next := newTestRegistry(t, gw, store, n)
	restored, err := next.RestoreAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	rec, ok := next.Get(id)
	require.True(t, ok)
	assert.Equal(t, domain.StatusRunning, rec.Status)
	assert.Equal(t, 1, n.Count(domain.EventStrategyRestored))
}

func TestRegistry_StopWithCancelledContextStillDeletes(t *testing.T) {
	store := NewMemStore()
	reg := newTestRegistry(t, flatGateway(), store, &RecordingNotifier{})

	id, err := reg.Start(context.Background(), domain.StrategyConfig{Exchange: "bybit", Symbol: "BTCUSDT"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stopped, err := reg.Stop(ctx, id)
	require.NoError(t, err)
	assert.True(t, stopped)
	_, ok := store.Get(id)
	assert.False(t, ok, "a cancelled request must not leave the record behind")
}

// stuckGateway blocks ETHUSDT candle fetches until released, ignoring ctx, like a
// venue call that hangs past its deadline.
type stuckGateway struct {
	*FakeGateway
	entered     chan struct{}
	release     chan struct{}
	enterOnce   sync.Once
	releaseOnce sync.Once
}

func newStuckGateway() *stuckGateway {
	return &stuckGateway{
		FakeGateway: flatGateway(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *stuckGateway) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	if symbol == "ETHUSDT" {
		g.enterOnce.Do(func() { close(g.entered) })
		<-g.release
	}
	return g.FakeGateway.FetchCandles(ctx, symbol, timeframe, limit)
}

func (g *stuckGateway) Release() {
	g.releaseOnce.Do(func() { close(g.release) })
}

func TestRegistry_StopDoesNotBlockOtherCalls(t *testing.T) {
	gw := newStuckGateway()
	store := NewMemStore()
	reg := newTestRegistry(t, gw, store, &RecordingNotifier{})
	t.Cleanup(gw.Release)
	ctx := context.Background()
	eth := domain.StrategyConfig{Exchange: "bybit", Symbol: "ETHUSDT"}

	id, err := reg.Start(ctx, eth)
	require.NoError(t, err)
	select {
	case <-gw.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("instance loop never reached the gateway")
	}

	stopped := make(chan bool, 1)
	go func() {
		ok, _ := reg.Stop(ctx, id)
		stopped <- ok
	}()

	require.Eventually(t, func() bool { return len(reg.List()) == 0 }, 2*time.Second, 5*time.Millisecond)
	_, ok := reg.Get(id)
	assert.False(t, ok)

	// The triple stays reserved while its loop is still winding down.
	_, err = reg.Start(ctx, eth)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, id, conflict.InstanceID)

	_, err = reg.Start(ctx, domain.StrategyConfig{Exchange: "bybit", Symbol: "BTCUSDT"})
	require.NoError(t, err)

	select {
	case <-stopped:
		t.Fatal("Stop returned before the loop exited")
	default:
	}

	gw.Release()
	select {
	case ok := <-stopped:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the gateway was released")
	}
	_, ok = store.Get(id)
	assert.False(t, ok)

	_, err = reg.Start(ctx, eth)
	require.NoError(t, err)
	assert.Len(t, reg.List(), 2)
}
