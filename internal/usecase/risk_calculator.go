package usecase

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_trade_pinbar/internal/domain"
)

const (
	// fallbackStopFraction replaces an anchor stop that sits beyond the current price.
	fallbackStopFraction = 0.01
	// flatRiskFraction is the risk distance used when no anchor candle is available.
	flatRiskFraction = 0.01
)

type RiskLevels struct {
	Entry      float64
	Stop       float64
	TakeProfit float64
	Risk       float64
}

// ComputeRiskLevels derives stop and take-profit prices for a signal.
// With an anchor the candle extreme sets the risk distance, otherwise a flat 1% of price.
// Both multiples scale the same distance.
func ComputeRiskLevels(signal domain.Signal, price float64, anchor *domain.Candle, tpMultiple, slMultiple float64) (RiskLevels, error) {
	if signal != domain.SignalBuy && signal != domain.SignalSell {
		return RiskLevels{}, fmt.Errorf("%w: no directional signal", domain.ErrInvalidRiskLevels)
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return RiskLevels{}, fmt.Errorf("%w: invalid price %v", domain.ErrInvalidRiskLevels, price)
	}

	var risk float64
	if anchor != nil {
		if signal == domain.SignalBuy {
			risk = price - anchor.Low
			if risk <= 0 {
				risk = price - price*(1-fallbackStopFraction)
			}
		} else {
			risk = anchor.High - price
			if risk <= 0 {
				risk = price*(1+fallbackStopFraction) - price
			}
		}
	} else {
		risk = price * flatRiskFraction
	}

	lv := RiskLevels{Entry: price, Risk: risk}
	if signal == domain.SignalBuy {
		lv.TakeProfit = price + risk*tpMultiple
		lv.Stop = price - risk*slMultiple
	} else {
		lv.TakeProfit = price - risk*tpMultiple
		lv.Stop = price + risk*slMultiple
	}

	if err := checkRiskLevels(signal, lv); err != nil {
		return RiskLevels{}, err
	}
	return lv, nil
}

func checkRiskLevels(signal domain.Signal, lv RiskLevels) error {
	ok := lv.Stop > 0 && lv.TakeProfit > 0
	if signal == domain.SignalBuy {
		ok = ok && lv.TakeProfit > lv.Entry && lv.Stop < lv.Entry
	} else {
		ok = ok && lv.TakeProfit < lv.Entry && lv.Stop > lv.Entry
	}
	if !ok {
		return fmt.Errorf("%w: %s entry=%v stop=%v tp=%v", domain.ErrInvalidRiskLevels, signal, lv.Entry, lv.Stop, lv.TakeProfit)
	}
	return nil
}

// RoundLevels snaps the stop and take-profit to the instrument tick. Stops move away
// from the entry and take-profits toward it, so rounding never adds risk or reward.
// A zero tick leaves the levels untouched.
func RoundLevels(signal domain.Signal, lv RiskLevels, tick float64) (RiskLevels, error) {
	if tick <= 0 {
		return lv, nil
	}
	step := decimal.NewFromFloat(tick)
	snap := func(v float64) float64 {
		q := decimal.NewFromFloat(v).Div(step)
		if signal == domain.SignalBuy {
			q = q.Floor()
		} else {
			q = q.Ceil()
		}
		return q.Mul(step).InexactFloat64()
	}

	out := lv
	out.Stop = snap(lv.Stop)
	out.TakeProfit = snap(lv.TakeProfit)
	if err := checkRiskLevels(signal, out); err != nil {
		return RiskLevels{}, err
	}
	return out, nil
}

type OrderSize struct {
	Quantity float64
	Notional float64
}

// SizeOrder converts the configured amount into a quantity rounded down to the
// instrument step and rejects orders whose notional falls under the venue floor.
func SizeOrder(cfg domain.StrategyConfig, price float64, rules domain.InstrumentRules) (OrderSize, error) {
	if price <= 0 {
		return OrderSize{}, fmt.Errorf("%w: price %v", domain.ErrZeroQuantity, price)
	}
	notional := decimal.NewFromFloat(cfg.OrderAmount)
	if cfg.OrderSizing == domain.SizingMargin {
		notional = notional.Mul(decimal.NewFromInt(int64(cfg.Leverage)))
	}
	px := decimal.NewFromFloat(price)
	qty := notional.Div(px)

	if rules.QtyStep > 0 {
		step := decimal.NewFromFloat(rules.QtyStep)
		qty = qty.Div(step).Floor().Mul(step)
	}
	if qty.Sign() <= 0 {
		return OrderSize{}, fmt.Errorf("%w: amount %v at price %v", domain.ErrZeroQuantity, cfg.OrderAmount, price)
	}

	actual := qty.Mul(px)
	if rules.MinNotional > 0 && actual.LessThan(decimal.NewFromFloat(rules.MinNotional)) {
		a, _ := actual.Float64()
		return OrderSize{}, fmt.Errorf("%w: %.4f < %.4f", domain.ErrBelowMinNotional, a, rules.MinNotional)
	}

	q, _ := qty.Float64()
	n, _ := actual.Float64()
	return OrderSize{Quantity: q, Notional: n}, nil
}
