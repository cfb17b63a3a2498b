package usecase_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"github.com/vitos/crypto_trade_pinbar/internal/usecase"
)

func closedTrade(side domain.Side, entry, exit, qty float64, reason domain.CloseReason) domain.TradeRecord {
	return domain.TradeRecord{
		Side:        side,
		EntryPrice:  entry,
		Quantity:    qty,
		Status:      domain.TradeClosed,
		ClosePrice:  exit,
		CloseReason: reason,
	}
}

func TestEstimatedPnL(t *testing.T) {
	assert.InDelta(t, 2.0, usecase.EstimatedPnL(closedTrade(domain.SideLong, 100, 110, 0.2, domain.CloseTakeProfit)), 1e-9)
	assert.InDelta(t, -1.0, usecase.EstimatedPnL(closedTrade(domain.SideShort, 100, 110, 0.1, domain.CloseStopLoss)), 1e-9)
	assert.Zero(t, usecase.EstimatedPnL(domain.TradeRecord{Side: domain.SideLong, EntryPrice: 100, Status: domain.TradeOpen}))
}

func TestAnalyzeTrades(t *testing.T) {
	summaries := []domain.InstanceSummary{
		{Exchange: "bybit", Symbol: "BTCUSDT", TradeHistory: []domain.TradeRecord{
			{Side: domain.SideLong, Status: domain.TradeOpen},
			closedTrade(domain.SideLong, 100, 107.5, 1, domain.CloseTakeProfit),
			closedTrade(domain.SideLong, 100, 95, 1, domain.CloseStopLoss),
		}},
		{Exchange: "bybit", Symbol: "ETHUSDT", TradeHistory: []domain.TradeRecord{
			closedTrade(domain.SideShort, 50, 55, 1, domain.CloseExternal),
		}},
		{Exchange: "binance", Symbol: "SOLUSDT"},
	}

	stats := usecase.AnalyzeTrades(summaries)
	require.Len(t, stats, 3)

	btc := stats[0]
	assert.Equal(t, "BTCUSDT", btc.Symbol)
	assert.Equal(t, 3, btc.Trades)
	assert.Equal(t, 1, btc.Open)
	assert.Equal(t, 1, btc.TakeProfits)
	assert.Equal(t, 1, btc.StopLosses)
	assert.InDelta(t, 2.5, btc.EstimatedPnL, 1e-9)
	assert.InDelta(t, 0.5, btc.WinRate, 1e-9)

	assert.Equal(t, "SOLUSDT", stats[1].Symbol)
	assert.Zero(t, stats[1].Trades)

	eth := stats[2]
	assert.Equal(t, 1, eth.External)
	assert.Equal(t, 1, eth.Losses)
	assert.InDelta(t, -5.0, eth.EstimatedPnL, 1e-9)
}
