package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/crypto_trade_pinbar/internal/backtest"
	"github.com/vitos/crypto_trade_pinbar/internal/config"
	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"github.com/vitos/crypto_trade_pinbar/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_pinbar/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// Replays recent exchange history through the pinbar confluence strategy.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	name := flag.String("exchange", "bybit", "exchange to load history from")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to replay")
	limit := flag.Int("limit", 1000, "bars to load per timeframe")
	balance := flag.Float64("balance", 100000, "initial balance in quote currency")
	amount := flag.Float64("amount", 0, "order amount (0 uses the strategy default)")
	leverage := flag.Int("leverage", 2, "leverage")
	compound := flag.Bool("compound", false, "size every entry as the whole balance used as margin")
	ratio := flag.Float64("ratio", 0, "pinbar shadow/body ratio (0 uses the default)")
	threshold := flag.Int("threshold", 0, "confluence threshold (0 uses the default)")
	out := flag.String("out", "", "write the full JSON report to this file")
	level := flag.String("log-level", "info", "log level")
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
	log, err := logger.NewLogger(*level)
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

	engine := cfg.Engine()
	stratCfg := domain.StrategyConfig{
		Exchange:            exCfg.Name,
		Symbol:              *symbol,
		Leverage:            *leverage,
		OrderAmount:         *amount,
		PatternRatio:        *ratio,
		ConfluenceThreshold: *threshold,
	}.WithDefaults(engine.Timeframes)
	if err := stratCfg.Validate(); err != nil {
		fmt.Printf("Invalid strategy: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// 2. Load history
	timeframes := append([]string(nil), stratCfg.Timeframes...)
	if !contains(timeframes, engine.TrailingTimeframe) {
		timeframes = append(timeframes, engine.TrailingTimeframe)
	}
	series := make(map[string][]domain.Candle, len(timeframes))
	for _, tf := range timeframes {
		candles, err := gw.FetchCandles(ctx, *symbol, tf, *limit)
		if err != nil {
			log.Fatal("Failed to load history", zap.String("timeframe", tf), zap.Error(err))
		}
		log.Info("History loaded", zap.String("timeframe", tf), zap.Int("bars", len(candles)))
		series[tf] = candles
	}

	rules := domain.InstrumentRules{QtyStep: engine.DefaultQtyStep, MinNotional: engine.MinNotional}
	if p, ok := gw.(domain.InstrumentInfoProvider); ok {
		if r, err := p.InstrumentRules(ctx, *symbol); err == nil {
			rules = r
		} else {
			log.Warn("Using default instrument rules", zap.Error(err))
		}
	}

	// 3. Replay
	bt := backtest.NewEngine(backtest.Options{
		Config:            stratCfg,
		Rules:             rules,
		InitialBalance:    *balance,
		TrailingTimeframe: engine.TrailingTimeframe,
		Compound:          *compound,
	}, log)
	rep, err := bt.Run(ctx, series)
	if err != nil {
		log.Fatal("Backtest failed", zap.Error(err))
	}

	printReport(rep)

	if *out != "" {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			log.Fatal("Failed to encode report", zap.Error(err))
		}
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			log.Fatal("Failed to write report", zap.String("path", *out), zap.Error(err))
		}
		fmt.Printf("\nReport written to %s\n", *out)
	}
}

func printReport(rep *backtest.Report) {
	from := time.UnixMilli(rep.From).UTC().Format(time.RFC3339)
	to := time.UnixMilli(rep.To).UTC().Format(time.RFC3339)

	fmt.Printf("\nBacktest %s on %s, %d bars (%s .. %s)\n", rep.Symbol, rep.Exchange, rep.Bars, from, to)
	fmt.Println("--------------------------------------------------------------")
	fmt.Printf("%-18s %d\n", "Trades", rep.Stats.Trades)
	fmt.Printf("%-18s %d / %d\n", "Wins / Losses", rep.Stats.Wins, rep.Stats.Losses)
	fmt.Printf("%-18s %.1f%%\n", "Win rate", rep.Stats.WinRate*100)
	fmt.Printf("%-18s %d / %d / %d\n", "SL / TP / End", rep.Stats.StopLosses, rep.Stats.TakeProfits, rep.Stats.External)
	fmt.Printf("%-18s %d\n", "Trailed trades", rep.TrailedTrades)
	fmt.Printf("%-18s %.2f / %.2f\n", "Avg win / loss", rep.AvgWin, rep.AvgLoss)
	fmt.Printf("%-18s %.2f\n", "Profit factor", rep.ProfitFactor)
	fmt.Printf("%-18s %.2f%%\n", "Max drawdown", rep.MaxDrawdown*100)
	fmt.Printf("%-18s %.2f -> %.2f (%.2f%%)\n", "Balance", rep.InitialBalance, rep.FinalBalance, rep.TotalReturn*100)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
