package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/vitos/crypto_trade_pinbar/internal/domain"
)

// BinanceFuturesAdapter is a domain.Gateway over USDT-M futures using go-binance.
// It assumes a one-way position mode account.
type BinanceFuturesAdapter struct {
	client *futures.Client

	mu    sync.Mutex
	rules map[string]domain.InstrumentRules
}

func NewBinanceFuturesAdapter(apiKey, apiSecret, baseURL string) *BinanceFuturesAdapter {
	client := futures.NewClient(apiKey, apiSecret)
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		client.BaseURL = strings.TrimRight(baseURL, "/")
	}
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	return &BinanceFuturesAdapter{
		client: client,
		rules:  make(map[string]domain.InstrumentRules),
	}
}

func (b *BinanceFuturesAdapter) SupportsMarket(market domain.MarketType) bool {
	return market == domain.MarketFuture
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func binanceSide(side domain.OrderSide) futures.SideType {
	if side == domain.OrderSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func (b *BinanceFuturesAdapter) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	kls, err := b.client.NewKlinesService().Symbol(symbol).Interval(timeframe).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, domain.Candle{
			OpenTime: kl.OpenTime,
			Open:     parseFloat(kl.Open),
			High:     parseFloat(kl.High),
			Low:      parseFloat(kl.Low),
			Close:    parseFloat(kl.Close),
			Volume:   parseFloat(kl.Volume),
		})
	}
	return out, nil
}

func (b *BinanceFuturesAdapter) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range prices {
		if p != nil && p.Symbol == symbol {
			return parseFloat(p.Price), nil
		}
	}
	return 0, fmt.Errorf("binance: ticker for %s not found", symbol)
}

// FetchPositions maps the signed positionAmt of one-way mode to a side.
func (b *BinanceFuturesAdapter) FetchPositions(ctx context.Context, symbol string) ([]domain.PositionSnapshot, error) {
	risks, err := b.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.PositionSnapshot
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := domain.SideLong
		if amt < 0 {
			side = domain.SideShort
			amt = -amt
		}
		out = append(out, domain.PositionSnapshot{
			Symbol:     r.Symbol,
			Side:       side,
			Quantity:   amt,
			EntryPrice: parseFloat(r.EntryPrice),
		})
	}
	return out, nil
}

func (b *BinanceFuturesAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := b.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return err
}

func (b *BinanceFuturesAdapter) CancelAllOrders(ctx context.Context, symbol string) error {
	return b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
}

func (b *BinanceFuturesAdapter) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*domain.OrderResult, error) {
	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binanceSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatQty(quantity)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.OrderResult{
		OrderID:   strconv.FormatInt(res.OrderID, 10),
		AvgPrice:  parseFloat(res.AvgPrice),
		FilledQty: parseFloat(res.ExecutedQuantity),
	}, nil
}

// PlaceStopOrder places a mark-price triggered close-position order.
func (b *BinanceFuturesAdapter) PlaceStopOrder(ctx context.Context, kind domain.StopKind, symbol string, side domain.OrderSide, stopPrice float64) (*domain.OrderResult, error) {
	orderType := futures.OrderTypeStopMarket
	if kind == domain.TakeProfit {
		orderType = futures.OrderTypeTakeProfitMarket
	}
	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binanceSide(side)).
		Type(orderType).
		StopPrice(formatQty(stopPrice)).
		ClosePosition(true).
		WorkingType(futures.WorkingTypeMarkPrice).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.OrderResult{OrderID: strconv.FormatInt(res.OrderID, 10)}, nil
}

func (b *BinanceFuturesAdapter) InstrumentRules(ctx context.Context, symbol string) (domain.InstrumentRules, error) {
	b.mu.Lock()
	r, ok := b.rules[symbol]
	b.mu.Unlock()
	if ok {
		return r, nil
	}

	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return domain.InstrumentRules{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range info.Symbols {
		var rules domain.InstrumentRules
		if lot := s.LotSizeFilter(); lot != nil {
			rules.QtyStep = parseFloat(lot.StepSize)
		}
		if mn := s.MinNotionalFilter(); mn != nil {
			rules.MinNotional = parseFloat(mn.Notional)
		}
		if pf := s.PriceFilter(); pf != nil {
			rules.TickSize = parseFloat(pf.TickSize)
		}
		b.rules[s.Symbol] = rules
	}
	r, ok = b.rules[symbol]
	if !ok {
		return domain.InstrumentRules{}, fmt.Errorf("binance: instrument %s not found", symbol)
	}
	return r, nil
}
