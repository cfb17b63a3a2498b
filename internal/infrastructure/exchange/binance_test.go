package exchange_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"github.com/vitos/crypto_trade_pinbar/internal/infrastructure/exchange"
)

func newBinanceStub(t *testing.T, onOrder func(r *http.Request)) *exchange.BinanceFuturesAdapter {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/klines"):
			_, _ = io.WriteString(w, `[
				[1700000000000,"100","102","99","101","7",1700003599999,"0",10,"0","0","0"],
				[1700003600000,"101","103","100","102","5",1700007199999,"0",8,"0","0","0"]]`)
		case strings.HasSuffix(r.URL.Path, "/exchangeInfo"):
			_, _ = io.WriteString(w, `{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","filters":[
				{"filterType":"PRICE_FILTER","minPrice":"556.80","maxPrice":"4529764","tickSize":"0.10"},
				{"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"1000","stepSize":"0.001"},
				{"filterType":"MIN_NOTIONAL","notional":"100"}]}]}`)
		case strings.HasSuffix(r.URL.Path, "/positionRisk"):
			_, _ = io.WriteString(w, `[
				{"symbol":"BTCUSDT","positionAmt":"-0.010","entryPrice":"30000","positionSide":"BOTH"},
				{"symbol":"BTCUSDT","positionAmt":"0","entryPrice":"0","positionSide":"BOTH"}]`)
		case strings.HasSuffix(r.URL.Path, "/order"):
			if onOrder != nil {
				_ = r.ParseForm()
				onOrder(r)
			}
			_, _ = io.WriteString(w, `{"orderId":42,"symbol":"BTCUSDT","avgPrice":"30001.5","executedQty":"0.010"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code":-1,"msg":"not found"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return exchange.NewBinanceFuturesAdapter("key", "secret", srv.URL)
}

func TestBinance_FetchCandles(t *testing.T) {
	b := newBinanceStub(t, nil)
	candles, err := b.FetchCandles(context.Background(), "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1700000000000), candles[0].OpenTime)
	assert.Equal(t, 99.0, candles[0].Low)
	assert.Equal(t, 102.0, candles[1].Close)
}

func TestBinance_FetchPositionsSignedAmount(t *testing.T) {
	b := newBinanceStub(t, nil)
	pos, err := b.FetchPositions(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, domain.SideShort, pos[0].Side)
	assert.InDelta(t, 0.01, pos[0].Quantity, 1e-12)
}

func TestBinance_Orders(t *testing.T) {
	var types []string
	b := newBinanceStub(t, func(r *http.Request) {
		types = append(types, r.Form.Get("type"))
	})
	ctx := context.Background()

	res, err := b.PlaceMarketOrder(ctx, "BTCUSDT", domain.OrderBuy, 0.01)
	require.NoError(t, err)
	assert.Equal(t, "42", res.OrderID)
	assert.Equal(t, 30001.5, res.AvgPrice)

	_, err = b.PlaceStopOrder(ctx, domain.StopLoss, "BTCUSDT", domain.OrderSell, 29000)
	require.NoError(t, err)
	_, err = b.PlaceStopOrder(ctx, domain.TakeProfit, "BTCUSDT", domain.OrderSell, 31000)
	require.NoError(t, err)

	assert.Equal(t, []string{"MARKET", "STOP_MARKET", "TAKE_PROFIT_MARKET"}, types)
	assert.True(t, b.SupportsMarket(domain.MarketFuture))
	assert.False(t, b.SupportsMarket(domain.MarketSpot))
}

func TestBinance_InstrumentRules(t *testing.T) {
	b := newBinanceStub(t, nil)
	rules, err := b.InstrumentRules(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.001, rules.QtyStep)
	assert.Equal(t, 100.0, rules.MinNotional)
	assert.Equal(t, 0.1, rules.TickSize)

	_, err = b.InstrumentRules(context.Background(), "DOGEUSDT")
	assert.Error(t, err)
}
