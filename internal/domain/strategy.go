package domain

import (
	"fmt"
	"strings"
	"time"
)

type MarketType string

const (
	MarketSpot   MarketType = "spot"
	MarketFuture MarketType = "future"
)

// OrderSizing selects how OrderAmount is turned into a notional value.
type OrderSizing string

const (
	// SizingMargin treats OrderAmount as posted margin: notional = amount * leverage.
	SizingMargin OrderSizing = "margin"
	// SizingNotional treats OrderAmount as the position value itself.
	SizingNotional OrderSizing = "notional"
)

type Signal string

const (
	SignalNone Signal = "none"
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
)

// Side maps a directional signal to the position side it opens.
func (s Signal) Side() Side {
	if s == SignalSell {
		return SideShort
	}
	return SideLong
}

const (
	DefaultPatternRatio        = 0.66
	DefaultConfluenceThreshold = 2
	DefaultTakeProfitMultiple  = 1.5
	DefaultStopLossMultiple    = 1.0
	DefaultLeverage            = 5
	DefaultOrderAmount         = 10.0
	DefaultTradingTimeframe    = "1h"

	MaxTradeHistory = 10
)

// DefaultTimeframes is the confluence set used when a config does not name one.
var DefaultTimeframes = []string{"1h", "4h", "1d"}

// StrategyConfig is immutable for the life of a strategy instance.
type StrategyConfig struct {
	Exchange            string      `json:"exchange"`
	Symbol              string      `json:"symbol"`
	MarketType          MarketType  `json:"market_type"`
	TradingTimeframe    string      `json:"trading_timeframe"`
	Timeframes          []string    `json:"timeframes,omitempty"`
	PatternRatio        float64     `json:"pattern_ratio"`
	ConfluenceThreshold int         `json:"confluence_threshold"`
	TakeProfitMultiple  float64     `json:"take_profit_multiple"`
	StopLossMultiple    float64     `json:"stop_loss_multiple"`
	Leverage            int         `json:"leverage"`
	OrderAmount         float64     `json:"order_amount"`
	OrderSizing         OrderSizing `json:"order_sizing"`
}

// WithDefaults returns a copy with zero values replaced by defaults.
// fallbackTimeframes is used when the config names no timeframe set.
func (c StrategyConfig) WithDefaults(fallbackTimeframes []string) StrategyConfig {
	c.Exchange = strings.ToLower(strings.TrimSpace(c.Exchange))
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if c.MarketType == "" {
		c.MarketType = MarketFuture
	}
	if c.TradingTimeframe == "" {
		c.TradingTimeframe = DefaultTradingTimeframe
	}
	if len(c.Timeframes) == 0 {
		if len(fallbackTimeframes) == 0 {
			fallbackTimeframes = DefaultTimeframes
		}
		c.Timeframes = append([]string(nil), fallbackTimeframes...)
	} else {
		c.Timeframes = append([]string(nil), c.Timeframes...)
	}
	if c.PatternRatio == 0 {
		c.PatternRatio = DefaultPatternRatio
	}
	if c.ConfluenceThreshold == 0 {
		c.ConfluenceThreshold = DefaultConfluenceThreshold
	}
	if c.TakeProfitMultiple == 0 {
		c.TakeProfitMultiple = DefaultTakeProfitMultiple
	}
	if c.StopLossMultiple == 0 {
		c.StopLossMultiple = DefaultStopLossMultiple
	}
	if c.Leverage == 0 {
		c.Leverage = DefaultLeverage
	}
	if c.OrderAmount == 0 {
		c.OrderAmount = DefaultOrderAmount
	}
	if c.OrderSizing == "" {
		c.OrderSizing = SizingNotional
	}
	return c
}

func (c StrategyConfig) Validate() error {
	if c.Exchange == "" {
		return fmt.Errorf("%w: exchange is required", ErrInvalidConfig)
	}
	if c.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidConfig)
	}
	if c.MarketType != MarketSpot && c.MarketType != MarketFuture {
		return fmt.Errorf("%w: unknown market type %q", ErrInvalidConfig, c.MarketType)
	}
	if c.OrderSizing != SizingMargin && c.OrderSizing != SizingNotional {
		return fmt.Errorf("%w: unknown order sizing %q", ErrInvalidConfig, c.OrderSizing)
	}
	if c.PatternRatio <= 0 {
		return fmt.Errorf("%w: pattern ratio must be positive", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Timeframes))
	for _, tf := range c.Timeframes {
		if tf == "" || seen[tf] {
			return fmt.Errorf("%w: invalid or duplicate timeframe %q", ErrInvalidConfig, tf)
		}
		seen[tf] = true
	}
	if c.TradingTimeframe != "" && !seen[c.TradingTimeframe] {
		return fmt.Errorf("%w: trading timeframe %q is not one of the evaluated timeframes", ErrInvalidConfig, c.TradingTimeframe)
	}
	if c.ConfluenceThreshold < 1 || c.ConfluenceThreshold > len(c.Timeframes) {
		return fmt.Errorf("%w: confluence threshold %d outside 1..%d", ErrInvalidConfig, c.ConfluenceThreshold, len(c.Timeframes))
	}
	if c.TakeProfitMultiple <= 0 || c.StopLossMultiple <= 0 {
		return fmt.Errorf("%w: take-profit and stop-loss multiples must be positive", ErrInvalidConfig)
	}
	if c.Leverage < 1 {
		return fmt.Errorf("%w: leverage must be at least 1", ErrInvalidConfig)
	}
	if c.OrderAmount <= 0 {
		return fmt.Errorf("%w: order amount must be positive", ErrInvalidConfig)
	}
	return nil
}

// Key identifies the (exchange, symbol, market type) triple; at most one instance may own it.
func (c StrategyConfig) Key() string {
	return strings.ToLower(c.Exchange) + "|" + strings.ToUpper(c.Symbol) + "|" + string(c.MarketType)
}

type InstanceStatus string

const (
	StatusLoaded  InstanceStatus = "loaded"
	StatusRunning InstanceStatus = "running"
)

// SignalRecord is the last signal an instance evaluated.
type SignalRecord struct {
	Signal          Signal    `json:"signal"`
	SignalTime      int64     `json:"signal_time"`
	Price           float64   `json:"price,omitempty"`
	StopPrice       float64   `json:"stop_price,omitempty"`
	TakeProfitPrice float64   `json:"take_profit_price,omitempty"`
	LongVotes       int       `json:"long_votes"`
	ShortVotes      int       `json:"short_votes"`
	At              time.Time `json:"at"`
}

// InstanceRecord is the persisted state of one strategy instance.
type InstanceRecord struct {
	ID                      string         `json:"id"`
	Config                  StrategyConfig `json:"config"`
	Status                  InstanceStatus `json:"status"`
	StartedAt               time.Time      `json:"started_at"`
	LastProcessedCandleTime int64          `json:"last_processed_candle_time"`
	LastSignal              *SignalRecord  `json:"last_signal,omitempty"`
	CurrentPosition         *Position      `json:"current_position,omitempty"`
	TradeHistory            []TradeRecord  `json:"trade_history"`
}

func (r *InstanceRecord) Clone() *InstanceRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Config.Timeframes = append([]string(nil), r.Config.Timeframes...)
	if r.LastSignal != nil {
		sig := *r.LastSignal
		cp.LastSignal = &sig
	}
	cp.CurrentPosition = r.CurrentPosition.Clone()
	cp.TradeHistory = make([]TradeRecord, len(r.TradeHistory))
	copy(cp.TradeHistory, r.TradeHistory)
	return &cp
}

// PushTrade prepends a trade, keeping at most MaxTradeHistory entries (most recent first).
func (r *InstanceRecord) PushTrade(tr TradeRecord) {
	r.TradeHistory = append([]TradeRecord{tr}, r.TradeHistory...)
	if len(r.TradeHistory) > MaxTradeHistory {
		r.TradeHistory = r.TradeHistory[:MaxTradeHistory]
	}
}

// InstanceSummary is what the registry reports for listing.
type InstanceSummary struct {
	ID                      string         `json:"id"`
	Exchange                string         `json:"exchange"`
	Symbol                  string         `json:"symbol"`
	MarketType              MarketType     `json:"market_type"`
	TradingTimeframe        string         `json:"trading_timeframe"`
	Status                  InstanceStatus `json:"status"`
	StartedAt               time.Time      `json:"started_at"`
	LastProcessedCandleTime int64          `json:"last_processed_candle_time"`
	LastSignal              *SignalRecord  `json:"last_signal,omitempty"`
	CurrentPosition         *Position      `json:"current_position,omitempty"`
	TradeHistory            []TradeRecord  `json:"trade_history,omitempty"`
}

func (r *InstanceRecord) Summary() InstanceSummary {
	cp := r.Clone()
	return InstanceSummary{
		ID:                      cp.ID,
		Exchange:                cp.Config.Exchange,
		Symbol:                  cp.Config.Symbol,
		MarketType:              cp.Config.MarketType,
		TradingTimeframe:        cp.Config.TradingTimeframe,
		Status:                  cp.Status,
		StartedAt:               cp.StartedAt,
		LastProcessedCandleTime: cp.LastProcessedCandleTime,
		LastSignal:              cp.LastSignal,
		CurrentPosition:         cp.CurrentPosition,
		TradeHistory:            cp.TradeHistory,
	}
}
