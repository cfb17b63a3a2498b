package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
)

type placedOrder struct {
	Kind      domain.StopKind
	Side      domain.OrderSide
	Quantity  float64
	StopPrice float64
}

// FakeGateway is an in-memory exchange. Market orders fill at Price and, when
// AutoFill is set, create a matching live position.
type FakeGateway struct {
	mu sync.Mutex

	Candles    map[string][]domain.Candle
	CandleErrs map[string]error
	Price      float64
	Positions  []domain.PositionSnapshot
	Rules      domain.InstrumentRules
	AutoFill   bool

	MarketErr error
	StopErr   error
	CancelErr error

	MarketOrders  []placedOrder
	StopOrders    []placedOrder
	Cancels       int
	LeverageCalls []int
	CandleCalls   int
	nextID        int
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		Candles:    make(map[string][]domain.Candle),
		CandleErrs: make(map[string]error),
		Price:      100,
		AutoFill:   true,
	}
}

func (f *FakeGateway) SetCandles(tf string, candles ...domain.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Candles[tf] = candles
}

func (f *FakeGateway) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CandleCalls++
	if err := f.CandleErrs[timeframe]; err != nil {
		return nil, err
	}
	cs := f.Candles[timeframe]
	if limit > 0 && len(cs) > limit {
		cs = cs[len(cs)-limit:]
	}
	out := make([]domain.Candle, len(cs))
	copy(out, cs)
	return out, nil
}

func (f *FakeGateway) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Price, nil
}

func (f *FakeGateway) FetchPositions(ctx context.Context, symbol string) ([]domain.PositionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PositionSnapshot, len(f.Positions))
	copy(out, f.Positions)
	return out, nil
}

func (f *FakeGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LeverageCalls = append(f.LeverageCalls, leverage)
	return nil
}

func (f *FakeGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancels++
	return f.CancelErr
}

func (f *FakeGateway) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MarketErr != nil {
		return nil, f.MarketErr
	}
	f.MarketOrders = append(f.MarketOrders, placedOrder{Side: side, Quantity: quantity})
	if f.AutoFill {
		ps := domain.SideLong
		if side == domain.OrderSell {
			ps = domain.SideShort
		}
		f.Positions = append(f.Positions, domain.PositionSnapshot{Symbol: symbol, Side: ps, Quantity: quantity, EntryPrice: f.Price})
	}
	f.nextID++
	return &domain.OrderResult{OrderID: fmt.Sprintf("m-%d", f.nextID), AvgPrice: f.Price, FilledQty: quantity}, nil
}

func (f *FakeGateway) PlaceStopOrder(ctx context.Context, kind domain.StopKind, symbol string, side domain.OrderSide, stopPrice float64) (*domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StopErr != nil {
		return nil, f.StopErr
	}
	f.StopOrders = append(f.StopOrders, placedOrder{Kind: kind, Side: side, StopPrice: stopPrice})
	f.nextID++
	return &domain.OrderResult{OrderID: fmt.Sprintf("s-%d", f.nextID)}, nil
}

func (f *FakeGateway) InstrumentRules(ctx context.Context, symbol string) (domain.InstrumentRules, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Rules, nil
}

func (f *FakeGateway) ClearPositions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Positions = nil
}

func (f *FakeGateway) MarketOrderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.MarketOrders)
}

func (f *FakeGateway) CandleCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CandleCalls
}

type MemStore struct {
	mu      sync.Mutex
	recs    map[string]*domain.InstanceRecord
	Saves   int
	SaveErr error
}

func NewMemStore(recs ...*domain.InstanceRecord) *MemStore {
	s := &MemStore{recs: make(map[string]*domain.InstanceRecord)}
	for _, r := range recs {
		s.recs[r.ID] = r.Clone()
	}
	return s
}

func (s *MemStore) SaveInstance(ctx context.Context, rec *domain.InstanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.Saves++
	s.recs[rec.ID] = rec.Clone()
	return nil
}

func (s *MemStore) DeleteInstance(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

func (s *MemStore) ListInstances(ctx context.Context) ([]*domain.InstanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.InstanceRecord, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *MemStore) Get(id string) (*domain.InstanceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	return r.Clone(), ok
}

type RecordingNotifier struct {
	mu     sync.Mutex
	Events []domain.Event
}

func (n *RecordingNotifier) Notify(evt domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Events = append(n.Events, evt)
}

func (n *RecordingNotifier) Count(t domain.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.Events {
		if e.Type == t {
			c++
		}
	}
	return c
}

var errTimeout = errors.New("request timeout")

// pinbarLong has a long lower wick: body 1, lower shadow 9, upper shadow 0.5.
func pinbarLong(openTime int64) domain.Candle {
	return domain.Candle{OpenTime: openTime, Open: 100, High: 101.5, Low: 91, Close: 101}
}

// pinbarShort has a long upper wick.
func pinbarShort(openTime int64) domain.Candle {
	return domain.Candle{OpenTime: openTime, Open: 101, High: 110, Low: 100.5, Close: 100}
}

// plain is a full-body candle that matches neither direction.
func plain(openTime int64) domain.Candle {
	return domain.Candle{OpenTime: openTime, Open: 100, High: 110.5, Low: 99.5, Close: 110}
}
