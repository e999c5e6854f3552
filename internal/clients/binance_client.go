package clients

import (
	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient creates a Binance REST client. Empty credentials are fine
// for the public market data endpoints.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}
