package usecase

import (
	"sort"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
)

// TradeStats aggregates the bounded trade history of every instance on one symbol.
type TradeStats struct {
	Exchange    string  `json:"exchange"`
	Symbol      string  `json:"symbol"`
	Trades      int     `json:"trades"`
	Open        int     `json:"open"`
	StopLosses  int     `json:"stop_losses"`
	TakeProfits int     `json:"take_profits"`
	External    int     `json:"external"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`
	// EstimatedPnL uses the price seen at reconciliation, not the venue's fill.
	EstimatedPnL float64 `json:"estimated_pnl"`
}

// EstimatedPnL returns the quote-currency result of a closed trade, or 0 if it is open.
func EstimatedPnL(t domain.TradeRecord) float64 {
	if t.Status != domain.TradeClosed || t.ClosePrice <= 0 {
		return 0
	}
	if t.Side == domain.SideShort {
		return (t.EntryPrice - t.ClosePrice) * t.Quantity
	}
	return (t.ClosePrice - t.EntryPrice) * t.Quantity
}

// AnalyzeTrades groups trades by exchange and symbol, ordered by estimated PnL descending.
func AnalyzeTrades(summaries []domain.InstanceSummary) []TradeStats {
	byKey := make(map[string]*TradeStats)
	for _, s := range summaries {
		key := s.Exchange + "|" + s.Symbol
		st, ok := byKey[key]
		if !ok {
			st = &TradeStats{Exchange: s.Exchange, Symbol: s.Symbol}
			byKey[key] = st
		}
		for _, t := range s.TradeHistory {
			st.Trades++
			if t.Status == domain.TradeOpen {
				st.Open++
				continue
			}
			switch t.CloseReason {
			case domain.CloseStopLoss:
				st.StopLosses++
			case domain.CloseTakeProfit:
				st.TakeProfits++
			default:
				st.External++
			}
			pnl := EstimatedPnL(t)
			st.EstimatedPnL += pnl
			if pnl > 0 {
				st.Wins++
			} else if pnl < 0 {
				st.Losses++
			}
		}
	}

	out := make([]TradeStats, 0, len(byKey))
	for _, st := range byKey {
		if decided := st.Wins + st.Losses; decided > 0 {
			st.WinRate = float64(st.Wins) / float64(decided)
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EstimatedPnL == out[j].EstimatedPnL {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].EstimatedPnL > out[j].EstimatedPnL
	})
	return out
}
