package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"github.com/vitos/crypto_trade_pinbar/internal/usecase"
	"go.uber.org/zap"
)

// minReplayBars is the confirmed candle, the forming one and at least one bar to trade.
const minReplayBars = 3

var ErrNotEnoughHistory = errors.New("backtest: not enough history")

type Options struct {
	Config            domain.StrategyConfig
	Rules             domain.InstrumentRules
	InitialBalance    float64
	TrailingTimeframe string
	// Compound sizes every entry as the whole balance used as margin.
	Compound bool
}

type EquityPoint struct {
	Time   int64   `json:"time"`
	Equity float64 `json:"equity"`
}

type Report struct {
	Exchange       string               `json:"exchange"`
	Symbol         string               `json:"symbol"`
	Bars           int                  `json:"bars"`
	From           int64                `json:"from"`
	To             int64                `json:"to"`
	InitialBalance float64              `json:"initial_balance"`
	FinalBalance   float64              `json:"final_balance"`
	TotalReturn    float64              `json:"total_return"`
	MaxDrawdown    float64              `json:"max_drawdown"`
	AvgWin         float64              `json:"avg_win"`
	AvgLoss        float64              `json:"avg_loss"`
	ProfitFactor   float64              `json:"profit_factor"`
	TrailedTrades  int                  `json:"trailed_trades"`
	Stats          usecase.TradeStats   `json:"stats"`
	Trades         []domain.TradeRecord `json:"trades"`
	Equity         []EquityPoint        `json:"equity"`
}

type Engine struct {
	opts   Options
	logger *zap.Logger
}

func NewEngine(opts Options, logger *zap.Logger) *Engine {
	if opts.TrailingTimeframe == "" {
		opts.TrailingTimeframe = opts.Config.TradingTimeframe
	}
	return &Engine{opts: opts, logger: logger}
}

// run holds the state of one replay.
type run struct {
	balance  float64
	pos      *domain.Position
	trade    int
	trades   []domain.TradeRecord
	trailed  int
	equity   []EquityPoint
	peak     float64
	drawdown float64
}

// Run walks the trading timeframe bar by bar. On every bar it first settles a hit
// stop or take-profit, then trails the stop on the closed bars, and when flat asks
// the confluence evaluator for a fresh signal entered at the bar's open.
// An open position is closed at the last close.
func (e *Engine) Run(ctx context.Context, series map[string][]domain.Candle) (*Report, error) {
	cfg := e.opts.Config
	gw := NewReplayGateway(series, e.opts.Rules)
	bars := gw.Bars(cfg.TradingTimeframe)
	if len(bars) < minReplayBars {
		return nil, fmt.Errorf("%w: %d %s bars", ErrNotEnoughHistory, len(bars), cfg.TradingTimeframe)
	}

	var ready int64
	for _, tf := range cfg.Timeframes {
		tfBars := gw.Bars(tf)
		if len(tfBars) < 2 {
			return nil, fmt.Errorf("%w: %d %s bars", ErrNotEnoughHistory, len(tfBars), tf)
		}
		// The first moment this timeframe has a confirmed candle.
		if tfBars[1].OpenTime > ready {
			ready = tfBars[1].OpenTime
		}
	}

	evaluator := usecase.NewConfluenceEvaluator(gw, e.logger)
	executor := usecase.NewTradeExecutor(gw, e.logger)
	trailing := usecase.NewTrailingStopManager(gw, e.opts.TrailingTimeframe, e.logger)

	st := &run{balance: e.opts.InitialBalance, peak: e.opts.InitialBalance}
	var lastProcessed int64

	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		gw.Advance(bar.OpenTime, bar.Open)

		if st.pos != nil {
			if price, reason, hit := exitHit(st.pos, bar); hit {
				e.close(st, price, reason, bar.OpenTime)
			}
		}

		if st.pos != nil {
			upd, err := trailing.Update(ctx, st.pos)
			if err != nil {
				return nil, fmt.Errorf("trailing stop at %d: %w", bar.OpenTime, err)
			}
			if upd != nil {
				st.pos.TrailingHistory[len(st.pos.TrailingHistory)-1].At = barTime(bar.OpenTime)
			}
		}

		if st.pos == nil && i >= minReplayBars-1 && bar.OpenTime >= ready && st.balance > 0 {
			ev, err := evaluator.Evaluate(ctx, cfg)
			if err != nil {
				return nil, err
			}
			if ev.Signal != domain.SignalNone && ev.SignalTime > lastProcessed {
				if e.open(ctx, st, executor, ev, bar) {
					lastProcessed = ev.SignalTime
				}
			}
		}

		st.mark(bar)
	}

	last := bars[len(bars)-1]
	if st.pos != nil {
		e.close(st, last.Close, domain.CloseExternal, last.OpenTime)
		st.equity[len(st.equity)-1].Equity = st.balance
	}
	return e.report(st, bars), nil
}

func (e *Engine) open(ctx context.Context, st *run, executor *usecase.TradeExecutor, ev *usecase.Evaluation, bar domain.Candle) bool {
	cfg := e.opts.Config
	if e.opts.Compound {
		cfg.OrderAmount = st.balance
		cfg.OrderSizing = domain.SizingMargin
	}

	levels, err := usecase.ComputeRiskLevels(ev.Signal, bar.Open, ev.Anchor, cfg.TakeProfitMultiple, cfg.StopLossMultiple)
	if err == nil {
		levels, err = usecase.RoundLevels(ev.Signal, levels, e.opts.Rules.TickSize)
	}
	var size usecase.OrderSize
	if err == nil {
		size, err = usecase.SizeOrder(cfg, bar.Open, e.opts.Rules)
	}
	if err != nil {
		e.logger.Debug("Signal skipped", zap.Int64("bar", bar.OpenTime), zap.Error(err))
		return false
	}

	pos, err := executor.Open(ctx, cfg, ev.Signal.Side(), levels, size)
	if err != nil {
		e.logger.Debug("Entry skipped", zap.Int64("bar", bar.OpenTime), zap.Error(err))
		return false
	}
	pos.OpenedAt = barTime(bar.OpenTime)
	if err := executor.Protect(ctx, pos); err != nil {
		return false
	}

	st.pos = pos
	st.trade = len(st.trades)
	st.trades = append(st.trades, domain.TradeRecord{
		SignalTime:      ev.SignalTime,
		Side:            pos.Side,
		EntryPrice:      pos.EntryPrice,
		Quantity:        pos.Quantity,
		Notional:        pos.EntryPrice * pos.Quantity,
		Leverage:        cfg.Leverage,
		StopPrice:       pos.StopPrice,
		TakeProfitPrice: pos.TakeProfitPrice,
		OrderID:         pos.EntryOrderID,
		Status:          domain.TradeOpen,
		OpenedAt:        pos.OpenedAt,
	})

	e.logger.Info("Backtest entry",
		zap.Time("at", pos.OpenedAt),
		zap.String("side", string(pos.Side)),
		zap.Float64("price", pos.EntryPrice),
		zap.Float64("stop", pos.StopPrice),
		zap.Float64("tp", pos.TakeProfitPrice))
	return true
}

func (e *Engine) close(st *run, price float64, reason domain.CloseReason, at int64) {
	closedAt := barTime(at)
	tr := &st.trades[st.trade]
	tr.Status = domain.TradeClosed
	tr.ClosePrice = price
	tr.CloseReason = reason
	tr.CloseTime = &closedAt

	pnl := usecase.EstimatedPnL(*tr)
	st.balance += pnl
	if len(st.pos.TrailingHistory) > 0 {
		st.trailed++
	}

	e.logger.Info("Backtest exit",
		zap.Time("at", closedAt),
		zap.String("reason", string(reason)),
		zap.Float64("price", price),
		zap.Float64("pnl", pnl),
		zap.Float64("balance", st.balance))
	st.pos = nil
}

// exitHit reports whether bar touched a protective level of pos. Take-profit wins
// when both are inside the bar, and is ignored once the stop has trailed. A stop
// gapped through at the open fills at the open.
func exitHit(pos *domain.Position, bar domain.Candle) (float64, domain.CloseReason, bool) {
	tpActive := pos.TakeProfitPrice > 0 && len(pos.TrailingHistory) == 0
	switch pos.Side {
	case domain.SideLong:
		if tpActive && bar.High >= pos.TakeProfitPrice {
			return math.Max(pos.TakeProfitPrice, bar.Open), domain.CloseTakeProfit, true
		}
		if bar.Low <= pos.StopPrice {
			return math.Min(pos.StopPrice, bar.Open), domain.CloseStopLoss, true
		}
	case domain.SideShort:
		if tpActive && bar.Low <= pos.TakeProfitPrice {
			return math.Min(pos.TakeProfitPrice, bar.Open), domain.CloseTakeProfit, true
		}
		if bar.High >= pos.StopPrice {
			return math.Max(pos.StopPrice, bar.Open), domain.CloseStopLoss, true
		}
	}
	return 0, "", false
}

// mark records equity at the bar close and updates the running drawdown.
func (st *run) mark(bar domain.Candle) {
	equity := st.balance
	if st.pos != nil {
		open := domain.TradeRecord{
			Status:     domain.TradeClosed,
			Side:       st.pos.Side,
			EntryPrice: st.pos.EntryPrice,
			Quantity:   st.pos.Quantity,
			ClosePrice: bar.Close,
		}
		equity += usecase.EstimatedPnL(open)
	}
	st.equity = append(st.equity, EquityPoint{Time: bar.OpenTime, Equity: equity})
	if equity > st.peak {
		st.peak = equity
	}
	if st.peak > 0 {
		if dd := (st.peak - equity) / st.peak; dd > st.drawdown {
			st.drawdown = dd
		}
	}
}

func (e *Engine) report(st *run, bars []domain.Candle) *Report {
	cfg := e.opts.Config
	rep := &Report{
		Exchange:       cfg.Exchange,
		Symbol:         cfg.Symbol,
		Bars:           len(bars),
		From:           bars[0].OpenTime,
		To:             bars[len(bars)-1].OpenTime,
		InitialBalance: e.opts.InitialBalance,
		FinalBalance:   st.balance,
		MaxDrawdown:    st.drawdown,
		TrailedTrades:  st.trailed,
		Trades:         st.trades,
		Equity:         st.equity,
	}
	if e.opts.InitialBalance > 0 {
		rep.TotalReturn = (st.balance - e.opts.InitialBalance) / e.opts.InitialBalance
	}

	summary := domain.InstanceSummary{Exchange: cfg.Exchange, Symbol: cfg.Symbol, TradeHistory: st.trades}
	if stats := usecase.AnalyzeTrades([]domain.InstanceSummary{summary}); len(stats) > 0 {
		rep.Stats = stats[0]
	}

	var grossWin, grossLoss float64
	for _, tr := range st.trades {
		pnl := usecase.EstimatedPnL(tr)
		if pnl > 0 {
			grossWin += pnl
		} else if pnl < 0 {
			grossLoss -= pnl
		}
	}
	if rep.Stats.Wins > 0 {
		rep.AvgWin = grossWin / float64(rep.Stats.Wins)
	}
	if rep.Stats.Losses > 0 {
		rep.AvgLoss = -grossLoss / float64(rep.Stats.Losses)
	}
	// Zero when there is no losing trade to divide by.
	if grossLoss > 0 {
		rep.ProfitFactor = grossWin / grossLoss
	}
	return rep
}

func barTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
