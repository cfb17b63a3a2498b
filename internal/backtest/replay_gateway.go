// Package backtest replays historical candles through the live strategy components.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
)

// ReplayGateway is a domain.Gateway over recorded candles. It only exposes bars
// opened at or before the replay cursor, so the last bar returned for the trading
// timeframe is the one currently forming. Orders fill instantly at the cursor price.
type ReplayGateway struct {
	mu     sync.Mutex
	series map[string][]domain.Candle
	now    int64
	price  float64
	rules  domain.InstrumentRules
	orders int
}

func NewReplayGateway(series map[string][]domain.Candle, rules domain.InstrumentRules) *ReplayGateway {
	cp := make(map[string][]domain.Candle, len(series))
	for tf, cs := range series {
		sorted := make([]domain.Candle, len(cs))
		copy(sorted, cs)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenTime < sorted[j].OpenTime })
		cp[tf] = sorted
	}
	return &ReplayGateway{series: cp, rules: rules}
}

// Bars returns the sorted series for a timeframe.
func (g *ReplayGateway) Bars(timeframe string) []domain.Candle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.series[timeframe]
}

// Advance moves the cursor to openTime and sets the fill price.
func (g *ReplayGateway) Advance(openTime int64, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = openTime
	g.price = price
}

func (g *ReplayGateway) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cs, ok := g.series[timeframe]
	if !ok {
		return nil, fmt.Errorf("replay: no %s history for %s", timeframe, symbol)
	}
	n := sort.Search(len(cs), func(i int) bool { return cs[i].OpenTime > g.now })
	visible := cs[:n]
	if limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	out := make([]domain.Candle, len(visible))
	copy(out, visible)
	return out, nil
}

func (g *ReplayGateway) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.price, nil
}

// FetchPositions reports nothing; the engine tracks its own position.
func (g *ReplayGateway) FetchPositions(ctx context.Context, symbol string) ([]domain.PositionSnapshot, error) {
	return nil, nil
}

func (g *ReplayGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (g *ReplayGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	return nil
}

func (g *ReplayGateway) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*domain.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders++
	return &domain.OrderResult{
		OrderID:   fmt.Sprintf("replay-%d", g.orders),
		AvgPrice:  g.price,
		FilledQty: quantity,
	}, nil
}

func (g *ReplayGateway) PlaceStopOrder(ctx context.Context, kind domain.StopKind, symbol string, side domain.OrderSide, stopPrice float64) (*domain.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders++
	return &domain.OrderResult{OrderID: fmt.Sprintf("replay-%s-%d", kind, g.orders)}, nil
}

func (g *ReplayGateway) InstrumentRules(ctx context.Context, symbol string) (domain.InstrumentRules, error) {
	return g.rules, nil
}
