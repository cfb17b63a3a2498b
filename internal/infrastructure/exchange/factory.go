package exchange

import (
	"fmt"
	"strings"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
)

// NewGateway builds the adapter for a named venue. An empty baseURL selects the venue's mainnet.
func NewGateway(name, apiKey, apiSecret, baseURL string) (domain.Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bybit":
		return NewBybitAdapter(apiKey, apiSecret, baseURL), nil
	case "binance":
		return NewBinanceFuturesAdapter(apiKey, apiSecret, baseURL), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownExchange, name)
	}
}
