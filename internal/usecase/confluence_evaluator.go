package usecase

import (
	"context"
	"errors"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// confirmedCandleLimit is the number of bars fetched per timeframe. The last one is
// still forming; the one before it is the confirmed candle.
const confirmedCandleLimit = 2

var errShortHistory = errors.New("not enough candles")

type TimeframeVote struct {
	Timeframe string
	Candle    domain.Candle
	Long      bool
	Short     bool
	Err       error
}

type Evaluation struct {
	Signal     domain.Signal
	LongVotes  int
	ShortVotes int
	// Anchor is the trading timeframe's confirmed candle, set only when that
	// timeframe voted for the winning direction.
	Anchor *domain.Candle
	// SignalTime is the open time of the candle that identifies this signal.
	SignalTime int64
	Votes      []TimeframeVote
}

type ConfluenceEvaluator struct {
	gateway domain.Gateway
	logger  *zap.Logger
}

func NewConfluenceEvaluator(gateway domain.Gateway, logger *zap.Logger) *ConfluenceEvaluator {
	return &ConfluenceEvaluator{gateway: gateway, logger: logger}
}

// Evaluate fetches every configured timeframe concurrently and tallies pinbar votes.
// A failing timeframe is skipped; the remaining ones still vote.
func (e *ConfluenceEvaluator) Evaluate(ctx context.Context, cfg domain.StrategyConfig) (*Evaluation, error) {
	votes := make([]TimeframeVote, len(cfg.Timeframes))

	g, gctx := errgroup.WithContext(ctx)
	for i, tf := range cfg.Timeframes {
		i, tf := i, tf
		votes[i].Timeframe = tf
		g.Go(func() error {
			candles, err := e.gateway.FetchCandles(gctx, cfg.Symbol, tf, confirmedCandleLimit)
			if err != nil {
				votes[i].Err = err
				return nil
			}
			if len(candles) < confirmedCandleLimit {
				votes[i].Err = errShortHistory
				return nil
			}
			c := candles[len(candles)-2]
			votes[i].Candle = c
			votes[i].Long = IsPinbar(c, domain.SideLong, cfg.PatternRatio)
			votes[i].Short = IsPinbar(c, domain.SideShort, cfg.PatternRatio)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return e.tally(cfg, votes), nil
}

func (e *ConfluenceEvaluator) tally(cfg domain.StrategyConfig, votes []TimeframeVote) *Evaluation {
	ev := &Evaluation{Signal: domain.SignalNone, Votes: votes}
	for _, v := range votes {
		if v.Err != nil {
			e.logger.Warn("Skipping timeframe",
				zap.String("symbol", cfg.Symbol),
				zap.String("timeframe", v.Timeframe),
				zap.Error(v.Err))
			continue
		}
		if v.Long {
			ev.LongVotes++
		}
		if v.Short {
			ev.ShortVotes++
		}
	}

	var winner domain.Side
	switch {
	case ev.LongVotes >= cfg.ConfluenceThreshold:
		ev.Signal = domain.SignalBuy
		winner = domain.SideLong
	case ev.ShortVotes >= cfg.ConfluenceThreshold:
		ev.Signal = domain.SignalSell
		winner = domain.SideShort
	default:
		return ev
	}

	var tradingTime int64
	for _, v := range votes {
		if v.Err != nil {
			continue
		}
		voted := (winner == domain.SideLong && v.Long) || (winner == domain.SideShort && v.Short)
		if v.Timeframe == cfg.TradingTimeframe {
			tradingTime = v.Candle.OpenTime
			if voted {
				c := v.Candle
				ev.Anchor = &c
			}
		}
		if voted && v.Candle.OpenTime > ev.SignalTime {
			ev.SignalTime = v.Candle.OpenTime
		}
	}
	// The trading timeframe's bar keys deduplication whenever it was fetched.
	if tradingTime > 0 {
		ev.SignalTime = tradingTime
	}
	return ev
}
