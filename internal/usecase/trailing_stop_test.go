package usecase_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"github.com/vitos/crypto_trade_pinbar/internal/usecase"
	"go.uber.org/zap"
)

func TestProposeTrailingStop(t *testing.T) {
	long := &domain.Position{Side: domain.SideLong, StopPrice: 95}
	short := &domain.Position{Side: domain.SideShort, StopPrice: 105}

	prev := domain.Candle{High: 102, Low: 97}
	higher := domain.Candle{High: 104, Low: 99}
	lower := domain.Candle{High: 101, Low: 96}

	stop, ok := usecase.ProposeTrailingStop(long, prev, higher)
	assert.True(t, ok)
	assert.Equal(t, 97.0, stop)

	_, ok = usecase.ProposeTrailingStop(long, prev, lower)
	assert.False(t, ok, "no new high, no move")

	stop, ok = usecase.ProposeTrailingStop(short, prev, lower)
	assert.True(t, ok)
	assert.Equal(t, 102.0, stop)

	_, ok = usecase.ProposeTrailingStop(short, prev, higher)
	assert.False(t, ok, "no new low, no move")

	// Would loosen the stop.
	tight := &domain.Position{Side: domain.SideLong, StopPrice: 98}
	_, ok = usecase.ProposeTrailingStop(tight, prev, higher)
	assert.False(t, ok)
}

func TestProposeTrailingStop_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randomCandle := func() domain.Candle {
		low := 80 + rng.Float64()*40
		return domain.Candle{Low: low, High: low + rng.Float64()*10}
	}

	for _, side := range []domain.Side{domain.SideLong, domain.SideShort} {
		pos := &domain.Position{Side: side, StopPrice: 100}
		prev := randomCandle()
		for i := 0; i < 5000; i++ {
			cur := randomCandle()
			if stop, ok := usecase.ProposeTrailingStop(pos, prev, cur); ok {
				if side == domain.SideLong {
					require.Greater(t, stop, pos.StopPrice)
				} else {
					require.Less(t, stop, pos.StopPrice)
				}
				pos.StopPrice = stop
			}
			prev = cur
		}
	}
}

func trailingCandles(gw *FakeGateway) {
	gw.SetCandles("1h",
		domain.Candle{OpenTime: t0, High: 100, Low: 95},
		domain.Candle{OpenTime: t0 + hourMs, High: 102, Low: 97},
		domain.Candle{OpenTime: t0 + 2*hourMs, High: 104, Low: 99},
		// Forming candle, ignored.
		domain.Candle{OpenTime: t0 + 3*hourMs, High: 90, Low: 80},
	)
}

func TestTrailingStopManager_Update(t *testing.T) {
	gw := NewFakeGateway()
	trailingCandles(gw)

	pos := &domain.Position{Symbol: "BTCUSDT", Side: domain.SideLong, StopPrice: 94, TakeProfitOrderID: "tp-1"}
	m := usecase.NewTrailingStopManager(gw, "1h", zap.NewNop())

	upd, err := m.Update(context.Background(), pos)
	require.NoError(t, err)
	require.NotNil(t, upd)

	assert.Equal(t, 97.0, pos.StopPrice)
	assert.Equal(t, 94.0, upd.OldStop)
	assert.Equal(t, t0+hourMs, upd.PrevCandleTime)
	assert.Equal(t, t0+2*hourMs, upd.CurrentCandleTime)
	assert.Equal(t, 97.0, upd.Reference)
	assert.Equal(t, 104.0, upd.Extreme)
	assert.Len(t, pos.TrailingHistory, 1)
	assert.Empty(t, pos.TakeProfitOrderID)

	assert.Equal(t, 1, gw.Cancels)
	require.Len(t, gw.StopOrders, 1)
	assert.Equal(t, domain.StopLoss, gw.StopOrders[0].Kind)
	assert.Equal(t, domain.OrderSell, gw.StopOrders[0].Side)

	// Same candles again: stop already at prev.low, nothing to do.
	upd, err = m.Update(context.Background(), pos)
	require.NoError(t, err)
	assert.Nil(t, upd)
	assert.Equal(t, 1, gw.Cancels)
}

func TestTrailingStopManager_FailedPlacementKeepsStop(t *testing.T) {
	gw := NewFakeGateway()
	trailingCandles(gw)
	gw.StopErr = errTimeout

	pos := &domain.Position{Symbol: "BTCUSDT", Side: domain.SideLong, StopPrice: 94, StopOrderID: "sl-1"}
	m := usecase.NewTrailingStopManager(gw, "1h", zap.NewNop())

	upd, err := m.Update(context.Background(), pos)
	assert.Nil(t, upd)
	var rej *domain.ExchangeRejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, 94.0, pos.StopPrice)
	assert.Empty(t, pos.StopOrderID)
	assert.Empty(t, pos.TrailingHistory)
}

func TestTrailingStopManager_ShortHistory(t *testing.T) {
	gw := NewFakeGateway()
	gw.SetCandles("1h", domain.Candle{High: 1, Low: 0.5}, domain.Candle{High: 2, Low: 1})

	pos := &domain.Position{Symbol: "BTCUSDT", Side: domain.SideLong, StopPrice: 0.1}
	upd, err := usecase.NewTrailingStopManager(gw, "1h", zap.NewNop()).Update(context.Background(), pos)
	require.NoError(t, err)
	assert.Nil(t, upd)
}
