package usecase

import (
	"math"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
)

// CandleShape holds the derived geometry of a single bar.
type CandleShape struct {
	Body        float64
	UpperShadow float64
	LowerShadow float64
	Range       float64
}

func ShapeOf(c domain.Candle) CandleShape {
	return CandleShape{
		Body:        math.Abs(c.Close - c.Open),
		UpperShadow: c.High - math.Max(c.Open, c.Close),
		LowerShadow: math.Min(c.Open, c.Close) - c.Low,
		Range:       c.High - c.Low,
	}
}

// IsPinbar reports whether the candle is a reversal pinbar in the given direction.
// A long pinbar has a lower shadow longer than body*ratio; a short pinbar the mirror.
// Degenerate candles (high == low) never qualify.
func IsPinbar(c domain.Candle, side domain.Side, ratio float64) bool {
	s := ShapeOf(c)
	if s.Range == 0 {
		return false
	}
	switch side {
	case domain.SideLong:
		return s.LowerShadow > s.Body*ratio
	case domain.SideShort:
		return s.UpperShadow > s.Body*ratio
	}
	return false
}
