package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"go.uber.org/zap"
)

// trailingCandleLimit covers three closed bars plus the forming one.
const trailingCandleLimit = 4

// ProposeTrailingStop inspects the last two closed candles and returns the tightened
// stop, if any. Long stops only rise and short stops only fall.
func ProposeTrailingStop(pos *domain.Position, prev, current domain.Candle) (float64, bool) {
	switch pos.Side {
	case domain.SideLong:
		if current.High > prev.High && prev.Low > pos.StopPrice {
			return prev.Low, true
		}
	case domain.SideShort:
		if current.Low < prev.Low && prev.High < pos.StopPrice {
			return prev.High, true
		}
	}
	return 0, false
}

type TrailingStopManager struct {
	gateway   domain.Gateway
	timeframe string
	logger    *zap.Logger
	now       func() time.Time
}

func NewTrailingStopManager(gateway domain.Gateway, timeframe string, logger *zap.Logger) *TrailingStopManager {
	if timeframe == "" {
		timeframe = "1h"
	}
	return &TrailingStopManager{gateway: gateway, timeframe: timeframe, logger: logger, now: time.Now}
}

// Update re-evaluates the stop of pos and, when it tightens, replaces the protective
// orders on the venue and mutates pos in place. A nil update means the stop held.
// On a failed replacement pos keeps its previous stop so the next cycle retries.
func (m *TrailingStopManager) Update(ctx context.Context, pos *domain.Position) (*domain.TrailingUpdate, error) {
	candles, err := m.gateway.FetchCandles(ctx, pos.Symbol, m.timeframe, trailingCandleLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trailing candles: %w", err)
	}
	if len(candles) < 3 {
		return nil, nil
	}
	closed := candles[:len(candles)-1]
	prev, current := closed[len(closed)-2], closed[len(closed)-1]

	newStop, ok := ProposeTrailingStop(pos, prev, current)
	if !ok {
		return nil, nil
	}

	if err := m.gateway.CancelAllOrders(ctx, pos.Symbol); err != nil {
		return nil, &domain.ExchangeRejection{Op: "cancel protective orders", Err: err}
	}
	res, err := m.gateway.PlaceStopOrder(ctx, domain.StopLoss, pos.Symbol, pos.Side.CloseOrderSide(), newStop)
	if err != nil {
		// The old stop is gone from the venue; the caller keeps the old level and retries.
		pos.StopOrderID = ""
		pos.TakeProfitOrderID = ""
		return nil, &domain.ExchangeRejection{Op: "place trailing stop", Err: err}
	}

	upd := domain.TrailingUpdate{
		At:                m.now(),
		OldStop:           pos.StopPrice,
		NewStop:           newStop,
		PrevCandleTime:    prev.OpenTime,
		CurrentCandleTime: current.OpenTime,
	}
	if pos.Side == domain.SideLong {
		upd.Reference, upd.Extreme = prev.Low, current.High
	} else {
		upd.Reference, upd.Extreme = prev.High, current.Low
	}

	pos.StopPrice = newStop
	pos.StopOrderID = res.OrderID
	// Take-profit is not reissued after a trailing adjustment.
	pos.TakeProfitOrderID = ""
	pos.TrailingHistory = append(pos.TrailingHistory, upd)

	m.logger.Info("Trailing stop tightened",
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("old_stop", upd.OldStop),
		zap.Float64("new_stop", upd.NewStop))
	return &upd, nil
}
