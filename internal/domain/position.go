package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// OrderSide is the direction of a single order as sent to the venue.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// EntryOrderSide returns the order side that opens a position on this side.
func (s Side) EntryOrderSide() OrderSide {
	if s == SideShort {
		return OrderSell
	}
	return OrderBuy
}

// CloseOrderSide returns the order side that reduces a position on this side.
func (s Side) CloseOrderSide() OrderSide {
	if s == SideShort {
		return OrderBuy
	}
	return OrderSell
}

type StopKind string

const (
	StopLoss   StopKind = "stop_loss"
	TakeProfit StopKind = "take_profit"
)

// PositionSnapshot is the normalized live position reported by a gateway.
type PositionSnapshot struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
}

// OrderResult is returned by the gateway for every accepted order.
// AvgPrice and FilledQty are zero when the venue does not report them synchronously.
type OrderResult struct {
	OrderID   string  `json:"order_id"`
	AvgPrice  float64 `json:"avg_price"`
	FilledQty float64 `json:"filled_qty"`
}

// InstrumentRules holds venue precision metadata for a symbol.
type InstrumentRules struct {
	QtyStep     float64 `json:"qty_step"`
	MinNotional float64 `json:"min_notional"`
	TickSize    float64 `json:"tick_size,omitempty"`
}

// Position represents the open position owned by a strategy instance.
type Position struct {
	Symbol            string           `json:"symbol"`
	Side              Side             `json:"side"`
	EntryPrice        float64          `json:"entry_price"`
	Quantity          float64          `json:"quantity"`
	StopPrice         float64          `json:"stop_price"`
	TakeProfitPrice   float64          `json:"take_profit_price"`
	EntryOrderID      string           `json:"entry_order_id"`
	StopOrderID       string           `json:"stop_order_id,omitempty"`
	TakeProfitOrderID string           `json:"take_profit_order_id,omitempty"`
	OpenedAt          time.Time        `json:"opened_at"`
	TrailingHistory   []TrailingUpdate `json:"trailing_history,omitempty"`
}

// NeedsStopOrder reports whether the stop-loss leg has no live order.
func (p *Position) NeedsStopOrder() bool {
	return p.StopOrderID == "" && p.StopPrice > 0
}

// NeedsTakeProfitOrder reports whether the take-profit leg has no live order. Once
// the stop has trailed the take-profit is abandoned and never needed again.
func (p *Position) NeedsTakeProfitOrder() bool {
	return p.TakeProfitOrderID == "" && p.TakeProfitPrice > 0 && len(p.TrailingHistory) == 0
}

func (p *Position) Unprotected() bool {
	return p.NeedsStopOrder() || p.NeedsTakeProfitOrder()
}

func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	if len(p.TrailingHistory) > 0 {
		cp.TrailingHistory = make([]TrailingUpdate, len(p.TrailingHistory))
		copy(cp.TrailingHistory, p.TrailingHistory)
	}
	return &cp
}

// TrailingUpdate records one accepted stop tightening.
type TrailingUpdate struct {
	At                time.Time `json:"at"`
	OldStop           float64   `json:"old_stop"`
	NewStop           float64   `json:"new_stop"`
	PrevCandleTime    int64     `json:"prev_candle_time"`
	CurrentCandleTime int64     `json:"current_candle_time"`
	// Reference is the previous candle's low (long) or high (short).
	Reference float64 `json:"reference"`
	// Extreme is the current candle's high (long) or low (short).
	Extreme float64 `json:"extreme"`
}

type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

type CloseReason string

const (
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
	CloseExternal   CloseReason = "external"
)

// TradeRecord is the snapshot taken at entry. Only the closing fields change afterwards.
type TradeRecord struct {
	SignalTime      int64       `json:"signal_time"`
	Side            Side        `json:"side"`
	EntryPrice      float64     `json:"entry_price"`
	Quantity        float64     `json:"quantity"`
	Notional        float64     `json:"notional"`
	Leverage        int         `json:"leverage"`
	StopPrice       float64     `json:"stop_price"`
	TakeProfitPrice float64     `json:"take_profit_price"`
	OrderID         string      `json:"order_id"`
	Status          TradeStatus `json:"status"`
	OpenedAt        time.Time   `json:"opened_at"`
	CloseTime       *time.Time  `json:"close_time,omitempty"`
	ClosePrice      float64     `json:"close_price,omitempty"`
	CloseReason     CloseReason `json:"close_reason,omitempty"`
}
