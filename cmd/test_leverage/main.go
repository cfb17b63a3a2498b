package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_trade_pinbar/internal/infrastructure/exchange"
)

func main() {
	symbol := flag.String("symbol", "BTCUSDT", "symbol")
	leverage := flag.Int("leverage", 5, "leverage to set")
	endpoint := flag.String("endpoint", exchange.BybitBaseURL, "REST endpoint")
	flag.Parse()

	// Load .env
	godotenv.Load()

	apiKey := os.Getenv("BYBIT_API_KEY")
	apiSecret := os.Getenv("BYBIT_API_SECRET")

	if apiKey == "" || apiSecret == "" {
		log.Fatal("Missing BYBIT_API_KEY or BYBIT_API_SECRET")
	}

	client := exchange.NewBybitAdapter(apiKey, apiSecret, *endpoint)
	ctx := context.Background()

	fmt.Printf("Setting leverage %dx on %s...\n", *leverage, *symbol)
	// Running it twice exercises the "leverage not modified" path.
	for i := 0; i < 2; i++ {
		if err := client.SetLeverage(ctx, *symbol, *leverage); err != nil {
			log.Fatalf("Error: %v", err)
		}
	}
	fmt.Println("Success!")
}
