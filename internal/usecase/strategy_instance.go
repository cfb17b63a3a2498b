package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"go.uber.org/zap"
)

// EngineSettings are process-wide knobs shared by every strategy instance.
type EngineSettings struct {
	PollInterval      time.Duration
	DuplicateWait     time.Duration
	ErrorBackoff      time.Duration
	Timeframes        []string
	TrailingTimeframe string
	MinNotional       float64
	DefaultQtyStep    float64
}

func DefaultEngineSettings() EngineSettings {
	return EngineSettings{
		PollInterval:      10 * time.Second,
		DuplicateWait:     5 * time.Second,
		ErrorBackoff:      5 * time.Second,
		Timeframes:        append([]string(nil), domain.DefaultTimeframes...),
		TrailingTimeframe: "1h",
		MinNotional:       5,
		DefaultQtyStep:    0.0001,
	}
}

type InstanceDeps struct {
	Gateway  domain.Gateway
	Store    domain.StateStore
	Notifier domain.Notifier
	Settings EngineSettings
	Logger   *zap.Logger
}

// StrategyInstance runs the polling loop for one (exchange, symbol, market type) triple
// and exclusively owns its position and trade history.
type StrategyInstance struct {
	mu     sync.RWMutex
	record *domain.InstanceRecord

	gateway   domain.Gateway
	store     domain.StateStore
	notifier  domain.Notifier
	settings  EngineSettings
	logger    *zap.Logger
	evaluator *ConfluenceEvaluator
	guard     *PositionGuard
	trailing  *TrailingStopManager
	executor  *TradeExecutor
	now       func() time.Time

	// lastRejected is the signal time of the last rejection notice sent.
	lastRejected int64

	cancel context.CancelFunc
	done   chan struct{}
}

func NewStrategyInstance(rec *domain.InstanceRecord, deps InstanceDeps) *StrategyInstance {
	logger := deps.Logger.With(
		zap.String("instance", rec.ID),
		zap.String("exchange", rec.Config.Exchange),
		zap.String("symbol", rec.Config.Symbol))
	return &StrategyInstance{
		record:    rec.Clone(),
		gateway:   deps.Gateway,
		store:     deps.Store,
		notifier:  deps.Notifier,
		settings:  deps.Settings,
		logger:    logger,
		evaluator: NewConfluenceEvaluator(deps.Gateway, logger),
		guard:     NewPositionGuard(deps.Gateway),
		trailing:  NewTrailingStopManager(deps.Gateway, deps.Settings.TrailingTimeframe, logger),
		executor:  NewTradeExecutor(deps.Gateway, logger),
		now:       time.Now,
	}
}

func (s *StrategyInstance) ID() string { return s.record.ID }

func (s *StrategyInstance) Config() domain.StrategyConfig { return s.record.Config }

// Snapshot returns a deep copy of the instance state.
func (s *StrategyInstance) Snapshot() *domain.InstanceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.Clone()
}

// Start promotes the instance to Running and launches its loop on a background context.
func (s *StrategyInstance) Start() {
	s.mu.Lock()
	s.record.Status = domain.StatusRunning
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop cancels the loop and waits until it has observed the cancellation.
func (s *StrategyInstance) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *StrategyInstance) run(ctx context.Context) {
	defer close(s.done)
	s.logger.Info("Strategy loop started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Strategy loop stopped")
			return
		case <-timer.C:
		}

		wait := s.settings.PollInterval
		extra, err := s.safeCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.Error("Strategy cycle failed", zap.Error(err))
			wait = s.settings.ErrorBackoff
		}
		timer.Reset(wait + extra)
	}
}

func (s *StrategyInstance) safeCycle(ctx context.Context) (extra time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in strategy cycle: %v", r)
			s.notify(domain.EventError, domain.SeverityError, err.Error())
		}
	}()
	return s.Cycle(ctx)
}

// Cycle runs one evaluation pass. The returned duration is extra time to wait before
// the next cycle when the detected signal was already processed.
func (s *StrategyInstance) Cycle(ctx context.Context) (time.Duration, error) {
	cfg := s.record.Config

	ev, err := s.evaluator.Evaluate(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("confluence evaluation: %w", err)
	}

	var extra time.Duration
	opened := false
	if ev.Signal != domain.SignalNone {
		s.recordSignal(ctx, ev)

		s.mu.RLock()
		processed := s.record.LastProcessedCandleTime
		s.mu.RUnlock()

		if ev.SignalTime <= processed {
			extra = s.settings.DuplicateWait
		} else {
			opened, err = s.handleSignal(ctx, ev)
			if err != nil {
				return extra, err
			}
		}
	}

	s.mu.RLock()
	hasPosition := s.record.CurrentPosition != nil
	s.mu.RUnlock()

	if hasPosition && !opened {
		if err := s.reconcile(ctx); err != nil {
			return extra, err
		}
	}
	return extra, nil
}

func (s *StrategyInstance) recordSignal(ctx context.Context, ev *Evaluation) {
	s.mu.Lock()
	last := s.record.LastSignal
	if last != nil && last.Signal == ev.Signal && last.SignalTime == ev.SignalTime {
		s.mu.Unlock()
		return
	}
	s.record.LastSignal = &domain.SignalRecord{
		Signal:     ev.Signal,
		SignalTime: ev.SignalTime,
		LongVotes:  ev.LongVotes,
		ShortVotes: ev.ShortVotes,
		At:         s.now(),
	}
	s.mu.Unlock()

	s.logger.Info("Confluence signal",
		zap.String("signal", string(ev.Signal)),
		zap.Int64("signal_time", ev.SignalTime),
		zap.Int("long_votes", ev.LongVotes),
		zap.Int("short_votes", ev.ShortVotes))
	s.persist(ctx)
}

// handleSignal authorizes, sizes and executes a fresh signal. Rejections are
// reported and swallowed; only transient gateway failures are returned.
func (s *StrategyInstance) handleSignal(ctx context.Context, ev *Evaluation) (bool, error) {
	cfg := s.record.Config
	side := ev.Signal.Side()

	s.mu.RLock()
	current := s.record.CurrentPosition.Clone()
	s.mu.RUnlock()

	if err := s.guard.Authorize(ctx, cfg.Symbol, side, current); err != nil {
		var rej *domain.GuardRejection
		if errors.As(err, &rej) {
			s.rejectSignal(ev, rej.Error())
			return false, nil
		}
		return false, err
	}

	price, err := s.gateway.FetchTicker(ctx, cfg.Symbol)
	if err != nil {
		return false, fmt.Errorf("failed to fetch ticker: %w", err)
	}

	rules := s.instrumentRules(ctx)
	levels, err := ComputeRiskLevels(ev.Signal, price, ev.Anchor, cfg.TakeProfitMultiple, cfg.StopLossMultiple)
	if err == nil {
		levels, err = RoundLevels(ev.Signal, levels, rules.TickSize)
	}
	if err != nil {
		s.rejectSignal(ev, err.Error())
		return false, nil
	}

	size, err := SizeOrder(cfg, price, rules)
	if err != nil {
		s.rejectSignal(ev, err.Error())
		return false, nil
	}

	s.mu.Lock()
	if s.record.LastSignal != nil && s.record.LastSignal.SignalTime == ev.SignalTime {
		s.record.LastSignal.Price = price
		s.record.LastSignal.StopPrice = levels.Stop
		s.record.LastSignal.TakeProfitPrice = levels.TakeProfit
	}
	s.mu.Unlock()

	pos, err := s.executor.Open(ctx, cfg, side, levels, size)
	if err != nil {
		s.logger.Error("Entry order failed", zap.Error(err))
		s.notify(domain.EventError, domain.SeverityError, fmt.Sprintf("%s entry failed: %v", cfg.Symbol, err))
		return false, nil
	}

	trade := domain.TradeRecord{
		SignalTime:      ev.SignalTime,
		Side:            side,
		EntryPrice:      pos.EntryPrice,
		Quantity:        pos.Quantity,
		Notional:        pos.EntryPrice * pos.Quantity,
		Leverage:        cfg.Leverage,
		StopPrice:       pos.StopPrice,
		TakeProfitPrice: pos.TakeProfitPrice,
		OrderID:         pos.EntryOrderID,
		Status:          domain.TradeOpen,
		OpenedAt:        pos.OpenedAt,
	}

	s.mu.Lock()
	s.record.CurrentPosition = pos.Clone()
	s.record.LastProcessedCandleTime = ev.SignalTime
	s.record.PushTrade(trade)
	s.mu.Unlock()
	s.persist(ctx)

	s.notify(domain.EventOrderFilled, domain.SeveritySuccess,
		fmt.Sprintf("%s %s opened: qty=%v entry=%v stop=%v tp=%v",
			cfg.Symbol, side, pos.Quantity, pos.EntryPrice, pos.StopPrice, pos.TakeProfitPrice))

	if err := s.executor.Protect(ctx, pos); err != nil {
		s.logger.Error("Protective orders incomplete", zap.Error(err))
		s.notify(domain.EventError, domain.SeverityError,
			fmt.Sprintf("%s protective orders incomplete: %v", cfg.Symbol, err))
	}
	s.mu.Lock()
	s.record.CurrentPosition = pos
	s.mu.Unlock()
	s.persist(ctx)

	return true, nil
}

func (s *StrategyInstance) rejectSignal(ev *Evaluation, reason string) {
	s.logger.Info("Signal rejected",
		zap.String("signal", string(ev.Signal)),
		zap.Int64("signal_time", ev.SignalTime),
		zap.String("reason", reason))

	s.mu.Lock()
	first := s.lastRejected != ev.SignalTime
	s.lastRejected = ev.SignalTime
	s.mu.Unlock()

	if first {
		s.notify(domain.EventSignalRejected, domain.SeverityWarning,
			fmt.Sprintf("%s %s signal rejected: %s", s.record.Config.Symbol, ev.Signal, reason))
	}
}

func (s *StrategyInstance) instrumentRules(ctx context.Context) domain.InstrumentRules {
	var rules domain.InstrumentRules
	if p, ok := s.gateway.(domain.InstrumentInfoProvider); ok {
		r, err := p.InstrumentRules(ctx, s.record.Config.Symbol)
		if err != nil {
			s.logger.Warn("Failed to load instrument rules, using defaults", zap.Error(err))
		} else {
			rules = r
		}
	}
	if rules.QtyStep <= 0 {
		rules.QtyStep = s.settings.DefaultQtyStep
	}
	if rules.MinNotional <= 0 {
		rules.MinNotional = s.settings.MinNotional
	}
	return rules
}

// reconcile checks the tracked position against the venue. A vanished position is
// recorded as closed; a live one gets any missing protective legs re-placed and then
// a trailing-stop pass.
func (s *StrategyInstance) reconcile(ctx context.Context) error {
	cfg := s.record.Config

	s.mu.RLock()
	pos := s.record.CurrentPosition.Clone()
	s.mu.RUnlock()
	if pos == nil {
		return nil
	}

	live, err := s.gateway.FetchPositions(ctx, cfg.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch positions: %w", err)
	}
	lp := findLivePosition(live, cfg.Symbol)
	if lp == nil || lp.Side != pos.Side {
		s.closePosition(ctx, pos)
		return nil
	}

	if pos.Unprotected() {
		s.repairProtection(ctx, pos)
	}

	upd, err := s.trailing.Update(ctx, pos)
	if err != nil {
		var rej *domain.ExchangeRejection
		if !errors.As(err, &rej) {
			return fmt.Errorf("trailing stop: %w", err)
		}
		s.mu.Lock()
		s.record.CurrentPosition = pos
		s.mu.Unlock()
		s.persist(ctx)
		s.notify(domain.EventError, domain.SeverityError,
			fmt.Sprintf("%s trailing stop update failed: %v", cfg.Symbol, err))
		return nil
	}
	if upd == nil {
		return nil
	}

	s.mu.Lock()
	s.record.CurrentPosition = pos
	s.mu.Unlock()
	s.persist(ctx)
	s.notify(domain.EventTrailingStopUpdated, domain.SeverityInfo,
		fmt.Sprintf("%s %s stop moved %v -> %v", cfg.Symbol, pos.Side, upd.OldStop, upd.NewStop))
	return nil
}

// repairProtection re-places the protective legs pos lost to an earlier failure.
func (s *StrategyInstance) repairProtection(ctx context.Context, pos *domain.Position) {
	s.logger.Warn("Position is missing protective orders, re-placing",
		zap.Bool("stop_loss", pos.NeedsStopOrder()),
		zap.Bool("take_profit", pos.NeedsTakeProfitOrder()))

	err := s.executor.Protect(ctx, pos)
	s.mu.Lock()
	s.record.CurrentPosition = pos.Clone()
	s.mu.Unlock()
	s.persist(ctx)

	if err != nil {
		s.logger.Error("Protective orders still incomplete", zap.Error(err))
		s.notify(domain.EventError, domain.SeverityError,
			fmt.Sprintf("%s protective orders still incomplete: %v", s.record.Config.Symbol, err))
	}
}

func (s *StrategyInstance) closePosition(ctx context.Context, pos *domain.Position) {
	cfg := s.record.Config

	price, err := s.gateway.FetchTicker(ctx, cfg.Symbol)
	if err != nil {
		s.logger.Warn("Failed to fetch close price", zap.Error(err))
		price = 0
	}
	reason := InferCloseReason(pos, price)
	closedAt := s.now()

	s.mu.Lock()
	for i := range s.record.TradeHistory {
		tr := &s.record.TradeHistory[i]
		if tr.Status == domain.TradeOpen && tr.OrderID == pos.EntryOrderID {
			tr.Status = domain.TradeClosed
			tr.CloseTime = &closedAt
			tr.ClosePrice = price
			tr.CloseReason = reason
			break
		}
	}
	s.record.CurrentPosition = nil
	s.mu.Unlock()
	s.persist(ctx)

	s.logger.Info("Position closed",
		zap.String("side", string(pos.Side)),
		zap.String("reason", string(reason)),
		zap.Float64("price", price))
	s.notify(domain.EventPositionClosed, domain.SeverityInfo,
		fmt.Sprintf("%s %s closed (%s) near %v", cfg.Symbol, pos.Side, reason, price))
}

// InferCloseReason guesses which protective order closed pos from the price seen
// after it disappeared.
func InferCloseReason(pos *domain.Position, price float64) domain.CloseReason {
	if price <= 0 {
		return domain.CloseExternal
	}
	switch pos.Side {
	case domain.SideLong:
		if price <= pos.StopPrice {
			return domain.CloseStopLoss
		}
		if pos.TakeProfitPrice > 0 && price >= pos.TakeProfitPrice {
			return domain.CloseTakeProfit
		}
	case domain.SideShort:
		if price >= pos.StopPrice {
			return domain.CloseStopLoss
		}
		if pos.TakeProfitPrice > 0 && price <= pos.TakeProfitPrice {
			return domain.CloseTakeProfit
		}
	}
	return domain.CloseExternal
}

// persist writes the current state. Cancellation of ctx is ignored.
func (s *StrategyInstance) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	rec := s.Snapshot()
	if err := s.store.SaveInstance(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("Failed to persist strategy state", zap.Error(err))
	}
}

func (s *StrategyInstance) notify(t domain.EventType, sev domain.Severity, msg string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(domain.Event{
		Type:       t,
		InstanceID: s.record.ID,
		Symbol:     s.record.Config.Symbol,
		Severity:   sev,
		Message:    msg,
		Time:       s.now(),
	})
}
