package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/crypto_trade_pinbar/internal/infrastructure/storage"
)

func main() {
	dbPath := flag.String("db", "pinbar.db", "path to the sqlite state file")
	flag.Parse()

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	recs, err := store.ListInstances(ctx)
	if err != nil {
		fmt.Printf("Failed to list instances: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d persisted strategies:\n", len(recs))
	for _, r := range recs {
		fmt.Printf("- %s %s/%s/%s status=%s last candle=%s\n",
			r.ID, r.Config.Exchange, r.Config.Symbol, r.Config.MarketType, r.Status,
			time.UnixMilli(r.LastProcessedCandleTime).UTC().Format(time.RFC3339))
		if p := r.CurrentPosition; p != nil {
			fmt.Printf("  open %s qty=%f entry=%f stop=%f tp=%f trailing updates=%d\n",
				p.Side, p.Quantity, p.EntryPrice, p.StopPrice, p.TakeProfitPrice, len(p.TrailingHistory))
		}
		for _, t := range r.TradeHistory {
			fmt.Printf("  trade %s %s entry=%f qty=%f status=%s reason=%s\n",
				time.UnixMilli(t.SignalTime).UTC().Format(time.RFC3339), t.Side, t.EntryPrice, t.Quantity, t.Status, t.CloseReason)
		}
	}
}
