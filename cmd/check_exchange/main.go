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
	"github.com/vitos/crypto_trade_pinbar/internal/usecase"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	name := flag.String("exchange", "bybit", "exchange to check")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to evaluate")
	market := flag.String("market", "future", "market type (future|spot)")
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

	gw, err := exchange.NewGateway(exCfg.Name, exCfg.APIKey, exCfg.APISecret, exCfg.RESTEndpoint)
	if err != nil {
		fmt.Printf("Failed to build gateway: %v\n", err)
		os.Exit(1)
	}
	if scoped, ok := gw.(domain.MarketScoped); ok {
		gw = scoped.ForMarket(domain.MarketType(*market))
	}

	fmt.Printf("Checking %s (%s) at %s\n", exCfg.Name, *market, exCfg.RESTEndpoint)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 2. Public endpoints
	price, err := gw.FetchTicker(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get price: %v\n", err)
	} else {
		fmt.Printf("✅ Current Price (%s): %f\n", *symbol, price)
	}

	if p, ok := gw.(domain.InstrumentInfoProvider); ok {
		rules, err := p.InstrumentRules(ctx, *symbol)
		if err != nil {
			fmt.Printf("❌ Failed to get instrument rules: %v\n", err)
		} else {
			fmt.Printf("✅ Rules: qty step=%g, min notional=%g\n", rules.QtyStep, rules.MinNotional)
		}
	}

	// 3. Private endpoint
	positions, err := gw.FetchPositions(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get positions: %v\n", err)
	} else if len(positions) == 0 {
		fmt.Printf("✅ No open position for %s\n", *symbol)
	} else {
		for _, p := range positions {
			fmt.Printf("✅ Position: Side=%s, Size=%f, Entry=%f\n", p.Side, p.Quantity, p.EntryPrice)
		}
	}

	// 4. One-shot confluence evaluation, no orders
	stratCfg := domain.StrategyConfig{
		Exchange:   exCfg.Name,
		Symbol:     *symbol,
		MarketType: domain.MarketType(*market),
	}.WithDefaults(cfg.Engine().Timeframes)
	if err := stratCfg.Validate(); err != nil {
		fmt.Printf("❌ Invalid strategy config: %v\n", err)
		os.Exit(1)
	}

	ev, err := usecase.NewConfluenceEvaluator(gw, zap.NewNop()).Evaluate(ctx, stratCfg)
	if err != nil {
		fmt.Printf("❌ Evaluation failed: %v\n", err)
		os.Exit(1)
	}
	for _, v := range ev.Votes {
		if v.Err != nil {
			fmt.Printf("   %-4s error: %v\n", v.Timeframe, v.Err)
			continue
		}
		c := v.Candle
		fmt.Printf("   %-4s %s O=%.4f H=%.4f L=%.4f C=%.4f long=%t short=%t\n",
			v.Timeframe, time.UnixMilli(c.OpenTime).UTC().Format(time.RFC3339),
			c.Open, c.High, c.Low, c.Close, v.Long, v.Short)
	}
	fmt.Printf("Signal: %s (long=%d, short=%d, threshold=%d)\n",
		ev.Signal, ev.LongVotes, ev.ShortVotes, stratCfg.ConfluenceThreshold)

	if ev.Signal != domain.SignalNone && price > 0 {
		levels, err := usecase.ComputeRiskLevels(ev.Signal, price, ev.Anchor, stratCfg.TakeProfitMultiple, stratCfg.StopLossMultiple)
		if err != nil {
			fmt.Printf("❌ Risk levels rejected: %v\n", err)
		} else {
			fmt.Printf("   entry=%.4f stop=%.4f take-profit=%.4f\n", levels.Entry, levels.Stop, levels.TakeProfit)
		}
	}
}
