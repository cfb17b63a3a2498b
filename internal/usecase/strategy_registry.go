package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"go.uber.org/zap"
)

// StrategyRegistry owns the set of running strategy instances. All map mutations are
// serialized by mu; waiting on an instance loop happens outside it. byKey may briefly
// hold the key of an instance that is still stopping.
type StrategyRegistry struct {
	mu       sync.Mutex
	byID     map[string]*StrategyInstance
	byKey    map[string]string
	gateways map[string]domain.Gateway
	store    domain.StateStore
	notifier domain.Notifier
	settings EngineSettings
	logger   *zap.Logger
	newID    func() string
	now      func() time.Time
}

func NewStrategyRegistry(gateways map[string]domain.Gateway, store domain.StateStore, notifier domain.Notifier, settings EngineSettings, logger *zap.Logger) *StrategyRegistry {
	gw := make(map[string]domain.Gateway, len(gateways))
	for name, g := range gateways {
		gw[normalizeExchange(name)] = g
	}
	return &StrategyRegistry{
		byID:     make(map[string]*StrategyInstance),
		byKey:    make(map[string]string),
		gateways: gw,
		store:    store,
		notifier: notifier,
		settings: settings,
		logger:   logger,
		newID:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

func normalizeExchange(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *StrategyRegistry) gatewayFor(cfg domain.StrategyConfig) (domain.Gateway, error) {
	gw, ok := r.gateways[normalizeExchange(cfg.Exchange)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownExchange, cfg.Exchange)
	}
	if ms, ok := gw.(domain.MarketSupport); ok && !ms.SupportsMarket(cfg.MarketType) {
		return nil, fmt.Errorf("%w: %s does not trade %s markets", domain.ErrInvalidConfig, cfg.Exchange, cfg.MarketType)
	}
	if scoped, ok := gw.(domain.MarketScoped); ok {
		return scoped.ForMarket(cfg.MarketType), nil
	}
	return gw, nil
}

func (r *StrategyRegistry) deps(gw domain.Gateway) InstanceDeps {
	return InstanceDeps{
		Gateway:  gw,
		Store:    r.store,
		Notifier: r.notifier,
		Settings: r.settings,
		Logger:   r.logger,
	}
}

// Start creates, persists and schedules a new instance. It returns a
// *domain.ConflictError when the triple is already owned by another instance.
func (r *StrategyRegistry) Start(ctx context.Context, cfg domain.StrategyConfig) (string, error) {
	cfg = cfg.WithDefaults(r.settings.Timeframes)
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	gw, err := r.gatewayFor(cfg)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := cfg.Key()
	if id, exists := r.byKey[key]; exists {
		return "", &domain.ConflictError{Key: key, InstanceID: id}
	}

	rec := &domain.InstanceRecord{
		ID:        r.newID(),
		Config:    cfg,
		Status:    domain.StatusRunning,
		StartedAt: r.now(),
	}
	if r.store != nil {
		if err := r.store.SaveInstance(ctx, rec); err != nil {
			return "", fmt.Errorf("failed to persist instance: %w", err)
		}
	}

	inst := NewStrategyInstance(rec, r.deps(gw))
	r.byID[rec.ID] = inst
	r.byKey[key] = rec.ID
	inst.Start()

	r.logger.Info("Strategy started",
		zap.String("instance", rec.ID),
		zap.String("key", key))
	r.notify(domain.EventStrategyStarted, domain.SeveritySuccess, rec,
		fmt.Sprintf("strategy started for %s on %s (%s)", cfg.Symbol, cfg.Exchange, cfg.MarketType))
	return rec.ID, nil
}

// Stop cancels the instance, waits for its loop to exit and removes it from the
// registry and the store. It returns false when the id is unknown. The triple stays
// reserved until the loop has exited, but the registry lock is not held meanwhile.
func (r *StrategyRegistry) Stop(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	inst, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	key := inst.Config().Key()
	delete(r.byID, id)
	r.mu.Unlock()

	defer r.releaseKey(key, id)
	inst.Stop()

	rec := inst.Snapshot()
	r.logger.Info("Strategy stopped", zap.String("instance", id))
	r.notify(domain.EventStrategyStopped, domain.SeverityInfo, rec,
		fmt.Sprintf("strategy stopped for %s on %s", rec.Config.Symbol, rec.Config.Exchange))

	if r.store != nil {
		if err := r.store.DeleteInstance(context.WithoutCancel(ctx), id); err != nil {
			return true, fmt.Errorf("failed to delete persisted instance: %w", err)
		}
	}
	return true, nil
}

// releaseKey frees key unless it has been claimed by another instance since.
func (r *StrategyRegistry) releaseKey(key, id string) {
	r.mu.Lock()
	if r.byKey[key] == id {
		delete(r.byKey, key)
	}
	r.mu.Unlock()
}

// List returns summaries ordered by start time.
func (r *StrategyRegistry) List() []domain.InstanceSummary {
	r.mu.Lock()
	insts := make([]*StrategyInstance, 0, len(r.byID))
	for _, inst := range r.byID {
		insts = append(insts, inst)
	}
	r.mu.Unlock()

	out := make([]domain.InstanceSummary, 0, len(insts))
	for _, inst := range insts {
		out = append(out, inst.Snapshot().Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (r *StrategyRegistry) Get(id string) (*domain.InstanceRecord, bool) {
	r.mu.Lock()
	inst, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return inst.Snapshot(), true
}

// RestoreAll loads every persisted instance and promotes it to Running. Records that
// cannot be scheduled are logged and left in the store. It returns the number restored.
func (r *StrategyRegistry) RestoreAll(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	recs, err := r.store.ListInstances(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load instances: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, rec := range recs {
		rec.Config = rec.Config.WithDefaults(r.settings.Timeframes)
		if err := rec.Config.Validate(); err != nil {
			r.logger.Error("Skipping persisted instance", zap.String("instance", rec.ID), zap.Error(err))
			continue
		}
		gw, err := r.gatewayFor(rec.Config)
		if err != nil {
			r.logger.Error("Skipping persisted instance", zap.String("instance", rec.ID), zap.Error(err))
			continue
		}
		key := rec.Config.Key()
		if _, exists := r.byID[rec.ID]; exists {
			continue
		}
		if other, exists := r.byKey[key]; exists {
			r.logger.Warn("Skipping persisted instance, triple already owned",
				zap.String("instance", rec.ID),
				zap.String("owner", other),
				zap.String("key", key))
			continue
		}

		rec.Status = domain.StatusLoaded
		inst := NewStrategyInstance(rec, r.deps(gw))
		r.byID[rec.ID] = inst
		r.byKey[key] = rec.ID

		snap := inst.Snapshot()
		snap.Status = domain.StatusRunning
		if err := r.store.SaveInstance(ctx, snap); err != nil {
			r.logger.Error("Failed to persist restored instance", zap.String("instance", rec.ID), zap.Error(err))
		}
		inst.Start()
		restored++

		msg := fmt.Sprintf("strategy restored for %s on %s", snap.Config.Symbol, snap.Config.Exchange)
		if snap.CurrentPosition != nil {
			msg += fmt.Sprintf(" with open %s position", snap.CurrentPosition.Side)
		}
		r.notify(domain.EventStrategyRestored, domain.SeverityInfo, snap, msg)
	}

	r.logger.Info("Strategies restored", zap.Int("count", restored), zap.Int("persisted", len(recs)))
	return restored, nil
}

// Shutdown stops every loop but keeps the persisted records for the next RestoreAll.
func (r *StrategyRegistry) Shutdown() {
	r.mu.Lock()
	insts := r.byID
	r.byID = make(map[string]*StrategyInstance)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, inst := range insts {
		wg.Add(1)
		go func(inst *StrategyInstance) {
			defer wg.Done()
			inst.Stop()
			r.releaseKey(inst.Config().Key(), inst.ID())
		}(inst)
	}
	wg.Wait()
	r.logger.Info("Strategy registry shut down")
}

func (r *StrategyRegistry) notify(t domain.EventType, sev domain.Severity, rec *domain.InstanceRecord, msg string) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(domain.Event{
		Type:       t,
		InstanceID: rec.ID,
		Symbol:     rec.Config.Symbol,
		Severity:   sev,
		Message:    msg,
		Time:       r.now(),
	})
}
