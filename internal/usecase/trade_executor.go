package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"go.uber.org/zap"
)

type TradeExecutor struct {
	gateway domain.Gateway
	logger  *zap.Logger
	now     func() time.Time
}

func NewTradeExecutor(gateway domain.Gateway, logger *zap.Logger) *TradeExecutor {
	return &TradeExecutor{
		gateway: gateway,
		logger:  logger,
		now:     time.Now,
	}
}

// Open submits the entry market order and returns the filled position without
// protective orders. Leverage is only set for futures and a failure there is logged.
func (e *TradeExecutor) Open(ctx context.Context, cfg domain.StrategyConfig, side domain.Side, levels RiskLevels, size OrderSize) (*domain.Position, error) {
	if cfg.MarketType == domain.MarketFuture {
		if err := e.gateway.SetLeverage(ctx, cfg.Symbol, cfg.Leverage); err != nil {
			e.logger.Warn("Failed to set leverage",
				zap.String("symbol", cfg.Symbol),
				zap.Int("leverage", cfg.Leverage),
				zap.Error(err))
		}
	}

	res, err := e.gateway.PlaceMarketOrder(ctx, cfg.Symbol, side.EntryOrderSide(), size.Quantity)
	if err != nil {
		return nil, &domain.ExchangeRejection{Op: "market order", Err: err}
	}

	pos := &domain.Position{
		Symbol:          cfg.Symbol,
		Side:            side,
		EntryPrice:      levels.Entry,
		Quantity:        size.Quantity,
		StopPrice:       levels.Stop,
		TakeProfitPrice: levels.TakeProfit,
		EntryOrderID:    res.OrderID,
		OpenedAt:        e.now(),
	}
	if res.AvgPrice > 0 {
		pos.EntryPrice = res.AvgPrice
	}
	if res.FilledQty > 0 {
		pos.Quantity = res.FilledQty
	}

	e.logger.Info("Entry filled",
		zap.String("symbol", cfg.Symbol),
		zap.String("side", string(side)),
		zap.Float64("qty", pos.Quantity),
		zap.Float64("price", pos.EntryPrice),
		zap.String("order_id", res.OrderID))
	return pos, nil
}

// Protect places whichever protective legs pos is missing. Each leg is attempted
// independently; the position stays open even when a leg fails, and a later call
// retries only the failed legs.
func (e *TradeExecutor) Protect(ctx context.Context, pos *domain.Position) error {
	closeSide := pos.Side.CloseOrderSide()

	var errs []error
	if pos.NeedsStopOrder() {
		if res, err := e.gateway.PlaceStopOrder(ctx, domain.StopLoss, pos.Symbol, closeSide, pos.StopPrice); err != nil {
			errs = append(errs, &domain.ExchangeRejection{Op: "stop-loss order", Err: err})
		} else {
			pos.StopOrderID = res.OrderID
		}
	}
	if pos.NeedsTakeProfitOrder() {
		if res, err := e.gateway.PlaceStopOrder(ctx, domain.TakeProfit, pos.Symbol, closeSide, pos.TakeProfitPrice); err != nil {
			errs = append(errs, &domain.ExchangeRejection{Op: "take-profit order", Err: err})
		} else {
			pos.TakeProfitOrderID = res.OrderID
		}
	}
	return errors.Join(errs...)
}
