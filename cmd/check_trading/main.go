package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/crypto_trade_pinbar/internal/config"
	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"github.com/vitos/crypto_trade_pinbar/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_pinbar/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_pinbar/internal/usecase"
)

// Round-trips one protected entry per side on a testnet account, then flattens it.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	name := flag.String("exchange", "bybit", "exchange to trade on (use a testnet endpoint)")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to trade")
	amount := flag.Float64("amount", 20, "order notional in quote currency")
	leverage := flag.Int("leverage", 5, "leverage")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	exCfg, ok := cfg.Exchange(*name)
	if !ok {
		fmt.Printf("Exchange %q is not configured\n", *name)
		os.Exit(1)
	}
	log, err := logger.NewLogger("debug")
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	gw, err := exchange.NewGateway(exCfg.Name, exCfg.APIKey, exCfg.APISecret, exCfg.RESTEndpoint)
	if err != nil {
		fmt.Printf("Failed to build gateway: %v\n", err)
		os.Exit(1)
	}

	stratCfg := domain.StrategyConfig{
		Exchange:    exCfg.Name,
		Symbol:      *symbol,
		Leverage:    *leverage,
		OrderAmount: *amount,
	}.WithDefaults(cfg.Engine().Timeframes)

	fmt.Printf("Testing Trading on %s (%s)...\n", exCfg.Name, exCfg.RESTEndpoint)
	ctx := context.Background()
	executor := usecase.NewTradeExecutor(gw, log)

	for _, signal := range []domain.Signal{domain.SignalBuy, domain.SignalSell} {
		fmt.Printf("\n--- Testing %s ---\n", signal.Side())
		if err := roundTrip(ctx, gw, executor, stratCfg, signal, cfg.Engine()); err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
		time.Sleep(2 * time.Second)
	}
}

func roundTrip(ctx context.Context, gw domain.Gateway, executor *usecase.TradeExecutor, cfg domain.StrategyConfig, signal domain.Signal, engine usecase.EngineSettings) error {
	price, err := gw.FetchTicker(ctx, cfg.Symbol)
	if err != nil {
		return fmt.Errorf("failed to get price: %w", err)
	}
	rules := domain.InstrumentRules{QtyStep: engine.DefaultQtyStep, MinNotional: engine.MinNotional}
	if p, ok := gw.(domain.InstrumentInfoProvider); ok {
		if r, err := p.InstrumentRules(ctx, cfg.Symbol); err == nil {
			rules = r
		}
	}
	levels, err := usecase.ComputeRiskLevels(signal, price, nil, cfg.TakeProfitMultiple, cfg.StopLossMultiple)
	if err != nil {
		return err
	}
	if levels, err = usecase.RoundLevels(signal, levels, rules.TickSize); err != nil {
		return err
	}
	size, err := usecase.SizeOrder(cfg, price, rules)
	if err != nil {
		return err
	}

	fmt.Printf("Placing %s market order (qty %f, stop %f, tp %f)...\n", signal, size.Quantity, levels.Stop, levels.TakeProfit)
	pos, err := executor.Open(ctx, cfg, signal.Side(), levels, size)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Filled %f @ %f (order %s)\n", pos.Quantity, pos.EntryPrice, pos.EntryOrderID)

	if err := executor.Protect(ctx, pos); err != nil {
		fmt.Printf("⚠️ Protection incomplete: %v\n", err)
	} else {
		fmt.Println("✅ Stop-loss and take-profit placed")
	}

	// Retry loop for position check
	for i := 0; i < 5; i++ {
		time.Sleep(2 * time.Second)
		live, err := gw.FetchPositions(ctx, cfg.Symbol)
		if err != nil {
			fmt.Printf("⚠️ Failed to get position (attempt %d): %v\n", i+1, err)
			continue
		}
		if len(live) > 0 {
			fmt.Printf("✅ Position: Size=%f, Side=%s, Entry=%f\n", live[0].Quantity, live[0].Side, live[0].EntryPrice)
			break
		}
		fmt.Println("⏳ Waiting for position...")
	}

	fmt.Println("Closing Position...")
	if err := gw.CancelAllOrders(ctx, cfg.Symbol); err != nil {
		fmt.Printf("⚠️ Failed to cancel protective orders: %v\n", err)
	}
	if _, err := gw.PlaceMarketOrder(ctx, cfg.Symbol, pos.Side.CloseOrderSide(), pos.Quantity); err != nil {
		return fmt.Errorf("failed to close: %w", err)
	}
	fmt.Println("✅ Position Closed")
	return nil
}
