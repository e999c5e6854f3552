package internal

import (
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/accrue/config"
	"github.com/vadiminshakov/accrue/internal/clients"
	"github.com/vadiminshakov/accrue/internal/services/fx"
	"github.com/vadiminshakov/accrue/internal/services/pricer"
)

// Environment variables holding exchange credentials.
const (
	EnvBinanceAPIKey         = "BINANCE_API_KEY"
	EnvBinanceAPISecret      = "BINANCE_API_SECRET"
	EnvBybitAPIKey           = "BYBIT_API_KEY"
	EnvBybitAPISecret        = "BYBIT_API_SECRET"
	EnvHyperliquidPrivateKey = "HYPERLIQUID_PRIVATE_KEY"
)

// NewPriceSource is the single point of dispatch to the platform price sources.
func NewPriceSource(conf config.Config) (pricer.Source, error) {
	switch conf.Platform {
	case config.PlatformBinance:
		client := clients.NewBinanceClient(os.Getenv(EnvBinanceAPIKey), os.Getenv(EnvBinanceAPISecret))
		return pricer.NewBinanceSource(client), nil
	case config.PlatformBybit:
		client := clients.NewBybitClient(os.Getenv(EnvBybitAPIKey), os.Getenv(EnvBybitAPISecret))
		return pricer.NewBybitSource(client), nil
	case config.PlatformHyperliquid:
		key := os.Getenv(EnvHyperliquidPrivateKey)
		if key == "" {
			return nil, errors.Errorf("%s must be set for platform %s", EnvHyperliquidPrivateKey, conf.Platform)
		}
		client, err := clients.NewHyperliquidClient(key, conf.HyperliquidURL)
		if err != nil {
			return nil, errors.Wrap(err, "create hyperliquid client")
		}
		return pricer.NewHyperliquidSource(client.Info()), nil
	case config.PlatformFile:
		source, err := pricer.NewFileSource(conf.PriceFixture)
		if err != nil {
			return nil, err
		}
		return source, nil
	default:
		return nil, errors.Errorf("unsupported platform: %s", conf.Platform)
	}
}

// NewRateSource builds the exchange rate source selected by conf.FX.Source.
func NewRateSource(conf config.Config, httpClient *http.Client) (fx.RateSource, error) {
	switch conf.FX.Source {
	case config.FXSourceHTTP:
		return fx.NewHTTPSource(httpClient, conf.FX.URL, conf.FX.Path), nil
	case config.FXSourceStatic:
		source, err := fx.NewStaticSource(conf.FX.Rates)
		if err != nil {
			return nil, errors.Wrap(err, "static fx rates")
		}
		return source, nil
	default:
		return nil, errors.Errorf("unsupported fx source: %s", conf.FX.Source)
	}
}

// NewRateStore returns the Redis store when an address is configured, the
// in-process store otherwise. The second value closes the Redis client.
func NewRateStore(conf config.Config) (fx.RateStore, func() error) {
	if conf.FX.RedisAddr == "" {
		return fx.NewMemoryStore(), func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{
		Addr:     conf.FX.RedisAddr,
		Password: conf.FX.RedisPassword,
		DB:       conf.FX.RedisDB,
	})
	return fx.NewRedisStore(client, conf.FX.Retention), client.Close
}
