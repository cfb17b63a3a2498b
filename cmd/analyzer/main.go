package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vitos/crypto_trade_pinbar/internal/config"
	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"github.com/vitos/crypto_trade_pinbar/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_pinbar/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var store domain.StateStore
	switch cfg.Storage.Driver {
	case "redis":
		rs := storage.NewRedisStore(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB, cfg.Storage.RedisKey)
		defer rs.Close()
		store = rs
	default:
		ss, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			fmt.Printf("Failed to init sqlite: %v\n", err)
			os.Exit(1)
		}
		defer ss.Close()
		store = ss
	}

	recs, err := store.ListInstances(context.Background())
	if err != nil {
		fmt.Printf("Failed to list instances: %v\n", err)
		os.Exit(1)
	}
	summaries := make([]domain.InstanceSummary, 0, len(recs))
	for _, r := range recs {
		summaries = append(summaries, r.Summary())
	}
	results := usecase.AnalyzeTrades(summaries)

	fmt.Printf("\nTrade history (total analyzed: %d symbols):\n", len(results))
	fmt.Printf("%-10s | %-14s | %-6s | %-4s | %-4s | %-4s | %-4s | %-8s | %s\n",
		"Exchange", "Symbol", "Trades", "Open", "SL", "TP", "Ext", "Win %", "Est. PnL")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, res := range results {
		fmt.Printf("%-10s | %-14s | %-6d | %-4d | %-4d | %-4d | %-4d | %-8.1f | %.4f\n",
			res.Exchange, res.Symbol, res.Trades, res.Open, res.StopLosses, res.TakeProfits, res.External,
			res.WinRate*100, res.EstimatedPnL)
	}
}
