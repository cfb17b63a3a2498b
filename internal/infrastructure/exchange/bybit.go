package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
)

const (
	BybitBaseURL = "https://api.bybit.com"

	bybitLinear = "linear"
	bybitSpot   = "spot"

	// bybitLeverageNotModified is returned when the requested leverage is already set.
	bybitLeverageNotModified = 110043
)

var bybitIntervals = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W", "1M": "M",
}

type bybitInstrument struct {
	rules    domain.InstrumentRules
	baseCoin string
}

// BybitAdapter is a domain.Gateway over the Bybit v5 REST API. One adapter serves a
// single category; ForMarket returns a sibling for the other one.
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	category  string
	client    *http.Client

	mu          *sync.Mutex
	instruments map[string]bybitInstrument
}

func NewBybitAdapter(apiKey, apiSecret, baseURL string) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	return &BybitAdapter{
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		baseURL:     strings.TrimRight(baseURL, "/"),
		category:    bybitLinear,
		client:      &http.Client{Timeout: 10 * time.Second},
		mu:          &sync.Mutex{},
		instruments: make(map[string]bybitInstrument),
	}
}

// ForMarket returns an adapter bound to the category matching the market type.
func (b *BybitAdapter) ForMarket(market domain.MarketType) domain.Gateway {
	cat := bybitLinear
	if market == domain.MarketSpot {
		cat = bybitSpot
	}
	if cat == b.category {
		return b
	}
	cp := *b
	cp.category = cat
	cp.mu = &sync.Mutex{}
	cp.instruments = make(map[string]bybitInstrument)
	return &cp
}

// --- REST API ---

func (b *BybitAdapter) sign(params string, timestamp int64, recvWindow int) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type BybitAPIError struct {
	Code    int
	Message string
}

func (e *BybitAPIError) Error() string {
	return fmt.Sprintf("bybit api error %d: %s", e.Code, e.Message)
}

// sendRequest signs and sends a request. GET parameters travel in query, POST
// parameters in a JSON body. The decoded result is written into out.
func (b *BybitAdapter) sendRequest(ctx context.Context, method, path string, query url.Values, payload map[string]interface{}, out interface{}) error {
	timestamp := time.Now().UnixMilli()
	recvWindow := 5000

	var body []byte
	var paramsStr string

	if method == http.MethodGet {
		paramsStr = query.Encode()
		if paramsStr != "" {
			path += "?" + paramsStr
		}
	} else if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", b.sign(paramsStr, timestamp, recvWindow))
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("bybit http %d: %s", resp.StatusCode, string(respBody))
	}

	var env bybitEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("bybit decode: %w", err)
	}
	if env.RetCode != 0 {
		return &BybitAPIError{Code: env.RetCode, Message: env.RetMsg}
	}
	if out != nil && len(env.Result) > 0 {
		return json.Unmarshal(env.Result, out)
	}
	return nil
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func bybitSide(side domain.OrderSide) string {
	if side == domain.OrderSell {
		return "Sell"
	}
	return "Buy"
}

func (b *BybitAdapter) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	interval, ok := bybitIntervals[timeframe]
	if !ok {
		return nil, fmt.Errorf("bybit: unsupported timeframe %q", timeframe)
	}
	q := url.Values{}
	q.Set("category", b.category)
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	var result struct {
		List [][]string `json:"list"`
	}
	if err := b.sendRequest(ctx, http.MethodGet, "/v5/market/kline", q, nil, &result); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(result.List))
	for _, raw := range result.List {
		// Format: [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(raw[0], 10, 64)
		open, _ := strconv.ParseFloat(raw[1], 64)
		high, _ := strconv.ParseFloat(raw[2], 64)
		low, _ := strconv.ParseFloat(raw[3], 64)
		closePrice, _ := strconv.ParseFloat(raw[4], 64)
		volume, _ := strconv.ParseFloat(raw[5], 64)

		candles = append(candles, domain.Candle{
			OpenTime: ts,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   volume,
		})
	}

	// Bybit returns newest first; reverse to chronological order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func (b *BybitAdapter) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("category", b.category)
	q.Set("symbol", symbol)

	var result struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := b.sendRequest(ctx, http.MethodGet, "/v5/market/tickers", q, nil, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("bybit: ticker for %s not found", symbol)
	}
	return strconv.ParseFloat(result.List[0].LastPrice, 64)
}

// FetchPositions returns live positions. On spot the wallet balance of the base
// coin is reported as a long position.
func (b *BybitAdapter) FetchPositions(ctx context.Context, symbol string) ([]domain.PositionSnapshot, error) {
	if b.category == bybitSpot {
		return b.spotPosition(ctx, symbol)
	}

	q := url.Values{}
	q.Set("category", b.category)
	q.Set("symbol", symbol)

	var result struct {
		List []struct {
			Symbol   string `json:"symbol"`
			Side     string `json:"side"`
			Size     string `json:"size"`
			AvgPrice string `json:"avgPrice"`
		} `json:"list"`
	}
	if err := b.sendRequest(ctx, http.MethodGet, "/v5/position/list", q, nil, &result); err != nil {
		return nil, err
	}

	var out []domain.PositionSnapshot
	for _, raw := range result.List {
		size, _ := strconv.ParseFloat(raw.Size, 64)
		if size == 0 || raw.Side == "" || raw.Side == "None" {
			continue
		}
		entry, _ := strconv.ParseFloat(raw.AvgPrice, 64)
		side := domain.SideLong
		if raw.Side == "Sell" {
			side = domain.SideShort
		}
		out = append(out, domain.PositionSnapshot{
			Symbol:     raw.Symbol,
			Side:       side,
			Quantity:   size,
			EntryPrice: entry,
		})
	}
	return out, nil
}

func (b *BybitAdapter) spotPosition(ctx context.Context, symbol string) ([]domain.PositionSnapshot, error) {
	inst, err := b.instrument(ctx, symbol)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("accountType", "UNIFIED")
	q.Set("coin", inst.baseCoin)

	var result struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := b.sendRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", q, nil, &result); err != nil {
		return nil, err
	}
	for _, acct := range result.List {
		for _, c := range acct.Coin {
			if c.Coin != inst.baseCoin {
				continue
			}
			bal, _ := strconv.ParseFloat(c.WalletBalance, 64)
			// Balances below one lot are dust left over from rounding.
			if bal < inst.rules.QtyStep || bal == 0 {
				return nil, nil
			}
			return []domain.PositionSnapshot{{Symbol: symbol, Side: domain.SideLong, Quantity: bal}}, nil
		}
	}
	return nil, nil
}

func (b *BybitAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if b.category == bybitSpot {
		return nil
	}
	payload := map[string]interface{}{
		"category":     b.category,
		"symbol":       symbol,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}
	err := b.sendRequest(ctx, http.MethodPost, "/v5/position/set-leverage", nil, payload, nil)
	if apiErr, ok := err.(*BybitAPIError); ok && apiErr.Code == bybitLeverageNotModified {
		return nil
	}
	return err
}

// CancelAllOrders cancels open orders and, on derivatives, clears the position's
// attached stop-loss and take-profit.
func (b *BybitAdapter) CancelAllOrders(ctx context.Context, symbol string) error {
	payload := map[string]interface{}{
		"category": b.category,
		"symbol":   symbol,
	}
	if b.category == bybitSpot {
		payload["orderFilter"] = "tpslOrder"
	}
	if err := b.sendRequest(ctx, http.MethodPost, "/v5/order/cancel-all", nil, payload, nil); err != nil {
		return err
	}
	if b.category == bybitSpot {
		return nil
	}
	reset := map[string]interface{}{
		"category":    b.category,
		"symbol":      symbol,
		"tpslMode":    "Full",
		"positionIdx": 0,
		"stopLoss":    "0",
		"takeProfit":  "0",
	}
	return b.sendRequest(ctx, http.MethodPost, "/v5/position/trading-stop", nil, reset, nil)
}

func (b *BybitAdapter) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*domain.OrderResult, error) {
	payload := map[string]interface{}{
		"category":  b.category,
		"symbol":    symbol,
		"side":      bybitSide(side),
		"orderType": "Market",
		"qty":       formatQty(quantity),
	}
	if b.category == bybitSpot {
		payload["marketUnit"] = "baseCoin"
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := b.sendRequest(ctx, http.MethodPost, "/v5/order/create", nil, payload, &result); err != nil {
		return nil, err
	}
	return &domain.OrderResult{OrderID: result.OrderID}, nil
}

// PlaceStopOrder attaches a full-position stop-loss or take-profit. Derivatives use the
// position trading-stop endpoint; spot places a tpsl conditional order for the whole balance.
func (b *BybitAdapter) PlaceStopOrder(ctx context.Context, kind domain.StopKind, symbol string, side domain.OrderSide, stopPrice float64) (*domain.OrderResult, error) {
	if b.category == bybitSpot {
		return b.placeSpotStop(ctx, symbol, side, stopPrice)
	}

	field := "stopLoss"
	if kind == domain.TakeProfit {
		field = "takeProfit"
	}
	payload := map[string]interface{}{
		"category":    b.category,
		"symbol":      symbol,
		"tpslMode":    "Full",
		"positionIdx": 0,
		field:         formatQty(stopPrice),
	}
	if err := b.sendRequest(ctx, http.MethodPost, "/v5/position/trading-stop", nil, payload, nil); err != nil {
		return nil, err
	}
	return &domain.OrderResult{OrderID: fmt.Sprintf("%s:%s:%s", field, symbol, formatQty(stopPrice))}, nil
}

func (b *BybitAdapter) placeSpotStop(ctx context.Context, symbol string, side domain.OrderSide, stopPrice float64) (*domain.OrderResult, error) {
	positions, err := b.spotPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("bybit: no %s balance to protect", symbol)
	}
	payload := map[string]interface{}{
		"category":     b.category,
		"symbol":       symbol,
		"side":         bybitSide(side),
		"orderType":    "Market",
		"qty":          formatQty(positions[0].Quantity),
		"marketUnit":   "baseCoin",
		"triggerPrice": formatQty(stopPrice),
		"orderFilter":  "tpslOrder",
	}
	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := b.sendRequest(ctx, http.MethodPost, "/v5/order/create", nil, payload, &result); err != nil {
		return nil, err
	}
	return &domain.OrderResult{OrderID: result.OrderID}, nil
}

func (b *BybitAdapter) InstrumentRules(ctx context.Context, symbol string) (domain.InstrumentRules, error) {
	inst, err := b.instrument(ctx, symbol)
	if err != nil {
		return domain.InstrumentRules{}, err
	}
	return inst.rules, nil
}

func (b *BybitAdapter) instrument(ctx context.Context, symbol string) (bybitInstrument, error) {
	b.mu.Lock()
	inst, ok := b.instruments[symbol]
	b.mu.Unlock()
	if ok {
		return inst, nil
	}

	q := url.Values{}
	q.Set("category", b.category)
	q.Set("symbol", symbol)

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			BaseCoin      string `json:"baseCoin"`
			LotSizeFilter struct {
				QtyStep          string `json:"qtyStep"`
				BasePrecision    string `json:"basePrecision"`
				MinNotionalValue string `json:"minNotionalValue"`
				MinOrderAmt      string `json:"minOrderAmt"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := b.sendRequest(ctx, http.MethodGet, "/v5/market/instruments-info", q, nil, &result); err != nil {
		return bybitInstrument{}, err
	}
	if len(result.List) == 0 {
		return bybitInstrument{}, fmt.Errorf("bybit: instrument %s not found", symbol)
	}

	raw := result.List[0]
	step := raw.LotSizeFilter.QtyStep
	minNotional := raw.LotSizeFilter.MinNotionalValue
	if b.category == bybitSpot {
		step = raw.LotSizeFilter.BasePrecision
		minNotional = raw.LotSizeFilter.MinOrderAmt
	}
	inst.baseCoin = raw.BaseCoin
	inst.rules.QtyStep, _ = strconv.ParseFloat(step, 64)
	inst.rules.MinNotional, _ = strconv.ParseFloat(minNotional, 64)
	inst.rules.TickSize, _ = strconv.ParseFloat(raw.PriceFilter.TickSize, 64)

	b.mu.Lock()
	b.instruments[symbol] = inst
	b.mu.Unlock()
	return inst, nil
}
