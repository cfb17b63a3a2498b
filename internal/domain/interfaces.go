package domain

import "context"

// Gateway defines the subset of exchange connectivity the strategy engine consumes.
// Implementations must tolerate concurrent FetchCandles calls for different
// timeframes of the same symbol.
type Gateway interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	FetchTicker(ctx context.Context, symbol string) (float64, error)
	FetchPositions(ctx context.Context, symbol string) ([]PositionSnapshot, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	CancelAllOrders(ctx context.Context, symbol string) error
	PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, quantity float64) (*OrderResult, error)

	// PlaceStopOrder submits a trigger order that closes the entire position on the symbol.
	PlaceStopOrder(ctx context.Context, kind StopKind, symbol string, side OrderSide, stopPrice float64) (*OrderResult, error)
}

// InstrumentInfoProvider is optionally implemented by gateways that know the
// venue's lot size and minimum notional for a symbol.
type InstrumentInfoProvider interface {
	InstrumentRules(ctx context.Context, symbol string) (InstrumentRules, error)
}

// MarketScoped is implemented by gateways that serve more than one market type.
type MarketScoped interface {
	ForMarket(market MarketType) Gateway
}

// MarketSupport is implemented by gateways that only trade some market types.
type MarketSupport interface {
	SupportsMarket(market MarketType) bool
}

// Candle is one OHLCV bar. OpenTime is in unix milliseconds.
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// StateStore persists strategy instances keyed by instance id.
// SaveInstance must replace the whole record atomically.
type StateStore interface {
	SaveInstance(ctx context.Context, rec *InstanceRecord) error
	DeleteInstance(ctx context.Context, id string) error
	ListInstances(ctx context.Context) ([]*InstanceRecord, error)
}

// Notifier receives lifecycle and trade events. Notify must not block.
type Notifier interface {
	Notify(evt Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(evt Event)

func (f NotifierFunc) Notify(evt Event) { f(evt) }
