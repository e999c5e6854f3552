// Package config loads the engine configuration from YAML.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
	"gopkg.in/yaml.v3"
)

// Platform selects the market data provider.
type Platform string

const (
	PlatformBinance     Platform = "binance"
	PlatformBybit       Platform = "bybit"
	PlatformHyperliquid Platform = "hyperliquid"
	PlatformFile        Platform = "file"
)

// Platforms lists every supported platform.
var Platforms = []Platform{PlatformBinance, PlatformBybit, PlatformHyperliquid, PlatformFile}

// FX rate source kinds.
const (
	FXSourceStatic = "static"
	FXSourceHTTP   = "http"
)

type Config struct {
	Platform     Platform
	Instruments  []string
	InitialCash  decimal.Decimal
	BaseCurrency string
	FeeRateBps   int
	LogLevel     string
	DataDir      string

	TickInterval         time.Duration
	PriceRefreshInterval time.Duration
	SeriesTTL            time.Duration
	FetchTimeout         time.Duration
	// QuoteTTL is how long a quote shown to the user stays valid.
	QuoteTTL time.Duration
	// MaxQuoteAge is the oldest price the web API quotes or trades on.
	MaxQuoteAge    time.Duration
	PriceRateLimit float64

	PriceFixture   string
	HyperliquidURL string

	Web WebConfig
	FX  FXConfig
}

type WebConfig struct {
	Listen       string
	TLSDomains   []string
	CertCacheDir string
	RateLimit    float64
	RateBurst    int
}

type FXConfig struct {
	Source          string
	TTL             time.Duration
	URL             string
	Path            string
	Rates           map[string]decimal.Decimal
	ExtraCurrencies []string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	Retention       time.Duration
}

// ConfigTmp is the YAML shape of Config. Money values are strings so no
// precision is lost in the float parser.
type ConfigTmp struct {
	Platform             string        `yaml:"platform"`
	Instruments          []string      `yaml:"instruments"`
	InitialCash          string        `yaml:"initial_cash"`
	BaseCurrency         string        `yaml:"base_currency,omitempty"`
	FeeRateBps           *int          `yaml:"fee_rate_bps,omitempty"`
	LogLevel             string        `yaml:"log_level,omitempty"`
	DataDir              string        `yaml:"data_dir,omitempty"`
	TickInterval         time.Duration `yaml:"tick_interval,omitempty"`
	PriceRefreshInterval time.Duration `yaml:"price_refresh_interval,omitempty"`
	SeriesTTL            time.Duration `yaml:"series_ttl,omitempty"`
	FetchTimeout         time.Duration `yaml:"fetch_timeout,omitempty"`
	QuoteTTL             time.Duration `yaml:"quote_ttl,omitempty"`
	MaxQuoteAge          time.Duration `yaml:"max_quote_age,omitempty"`
	PriceRateLimit       float64       `yaml:"price_rate_limit,omitempty"`
	PriceFixture         string        `yaml:"price_fixture,omitempty"`
	HyperliquidURL       string        `yaml:"hyperliquid_url,omitempty"`
	Web                  webTmp        `yaml:"web,omitempty"`
	FX                   fxTmp         `yaml:"fx,omitempty"`
}

type webTmp struct {
	Listen       string   `yaml:"listen,omitempty"`
	TLSDomains   []string `yaml:"tls_domains,omitempty"`
	CertCacheDir string   `yaml:"cert_cache_dir,omitempty"`
	RateLimit    float64  `yaml:"rate_limit,omitempty"`
	RateBurst    int      `yaml:"rate_burst,omitempty"`
}

type fxTmp struct {
	Source          string            `yaml:"source,omitempty"`
	TTL             time.Duration     `yaml:"ttl,omitempty"`
	URL             string            `yaml:"url,omitempty"`
	Path            string            `yaml:"path,omitempty"`
	Rates           map[string]string `yaml:"rates,omitempty"`
	ExtraCurrencies []string          `yaml:"extra_currencies,omitempty"`
	RedisAddr       string            `yaml:"redis_addr,omitempty"`
	RedisPassword   string            `yaml:"redis_password,omitempty"`
	RedisDB         int               `yaml:"redis_db,omitempty"`
	Retention       time.Duration     `yaml:"retention,omitempty"`
}

// Default returns the configuration used for every unset field.
func Default() Config {
	return Config{
		Platform:             PlatformBinance,
		InitialCash:          decimal.NewFromInt(10000),
		BaseCurrency:         "USD",
		LogLevel:             "info",
		DataDir:              "./wal",
		TickInterval:         time.Minute,
		PriceRefreshInterval: 30 * time.Second,
		SeriesTTL:            15 * time.Minute,
		FetchTimeout:         10 * time.Second,
		QuoteTTL:             15 * time.Second,
		MaxQuoteAge:          5 * time.Minute,
		PriceRateLimit:       5,
		HyperliquidURL:       "https://api.hyperliquid.xyz",
		Web: WebConfig{
			Listen:       ":8080",
			CertCacheDir: "./certs",
			RateLimit:    10,
			RateBurst:    20,
		},
		FX: FXConfig{
			Source:          FXSourceStatic,
			TTL:             10 * time.Minute,
			Rates:           map[string]decimal.Decimal{},
			ExtraCurrencies: []string{"USDT", "USDC"},
			Retention:       24 * time.Hour,
		},
	}
}

// Load reads and validates the YAML config at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	var raw ConfigTmp
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}

	c := Default()
	if raw.Platform != "" {
		c.Platform = Platform(strings.ToLower(raw.Platform))
	}
	for _, id := range raw.Instruments {
		if id = strings.ToUpper(strings.TrimSpace(id)); id != "" {
			c.Instruments = append(c.Instruments, id)
		}
	}
	if raw.InitialCash != "" {
		cash, err := decimal.NewFromString(raw.InitialCash)
		if err != nil {
			return Config{}, errors.Wrapf(err, "incorrect 'initial_cash' %q", raw.InitialCash)
		}
		c.InitialCash = cash
	}
	setString(&c.BaseCurrency, strings.ToUpper(raw.BaseCurrency))
	if raw.FeeRateBps != nil {
		c.FeeRateBps = *raw.FeeRateBps
	}
	setString(&c.LogLevel, strings.ToLower(raw.LogLevel))
	setString(&c.DataDir, raw.DataDir)
	setDuration(&c.TickInterval, raw.TickInterval)
	setDuration(&c.PriceRefreshInterval, raw.PriceRefreshInterval)
	setDuration(&c.SeriesTTL, raw.SeriesTTL)
	setDuration(&c.FetchTimeout, raw.FetchTimeout)
	setDuration(&c.QuoteTTL, raw.QuoteTTL)
	setDuration(&c.MaxQuoteAge, raw.MaxQuoteAge)
	if raw.PriceRateLimit > 0 {
		c.PriceRateLimit = raw.PriceRateLimit
	}
	setString(&c.PriceFixture, raw.PriceFixture)
	setString(&c.HyperliquidURL, raw.HyperliquidURL)

	setString(&c.Web.Listen, raw.Web.Listen)
	c.Web.TLSDomains = raw.Web.TLSDomains
	setString(&c.Web.CertCacheDir, raw.Web.CertCacheDir)
	if raw.Web.RateLimit > 0 {
		c.Web.RateLimit = raw.Web.RateLimit
	}
	if raw.Web.RateBurst > 0 {
		c.Web.RateBurst = raw.Web.RateBurst
	}

	setString(&c.FX.Source, strings.ToLower(raw.FX.Source))
	setDuration(&c.FX.TTL, raw.FX.TTL)
	setString(&c.FX.URL, raw.FX.URL)
	setString(&c.FX.Path, raw.FX.Path)
	for pair, v := range raw.FX.Rates {
		rate, err := decimal.NewFromString(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "incorrect fx rate %s=%q", pair, v)
		}
		c.FX.Rates[strings.ToUpper(pair)] = rate
	}
	if len(raw.FX.ExtraCurrencies) > 0 {
		c.FX.ExtraCurrencies = raw.FX.ExtraCurrencies
	}
	setString(&c.FX.RedisAddr, raw.FX.RedisAddr)
	setString(&c.FX.RedisPassword, raw.FX.RedisPassword)
	c.FX.RedisDB = raw.FX.RedisDB
	setDuration(&c.FX.Retention, raw.FX.Retention)

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks value ranges and cross-field requirements.
func (c Config) Validate() error {
	if !c.Platform.Valid() {
		return errors.Errorf("unknown platform %q, expected one of %v", c.Platform, Platforms)
	}
	if c.Platform != PlatformFile {
		for _, id := range c.Instruments {
			if _, err := domain.ParsePair(id); err != nil {
				return errors.Wrapf(err, "instrument for %s", c.Platform)
			}
		}
	}
	if c.Platform == PlatformFile && c.PriceFixture == "" {
		return errors.New("platform 'file' requires 'price_fixture'")
	}
	if c.InitialCash.IsNegative() {
		return errors.Errorf("'initial_cash' must not be negative, got %s", c.InitialCash)
	}
	if c.FeeRateBps < 0 || c.FeeRateBps > domain.MaxFeeRateBps {
		return errors.Errorf("'fee_rate_bps' must be within [0, %d], got %d", domain.MaxFeeRateBps, c.FeeRateBps)
	}
	for name, d := range map[string]time.Duration{
		"tick_interval":          c.TickInterval,
		"price_refresh_interval": c.PriceRefreshInterval,
		"fetch_timeout":          c.FetchTimeout,
		"quote_ttl":              c.QuoteTTL,
		"fx.ttl":                 c.FX.TTL,
	} {
		if d <= 0 {
			return errors.Errorf("'%s' must be positive, got %s", name, d)
		}
	}
	switch c.FX.Source {
	case FXSourceStatic:
	case FXSourceHTTP:
		if c.FX.URL == "" || c.FX.Path == "" {
			return errors.New("fx source 'http' requires 'fx.url' and 'fx.path'")
		}
	default:
		return errors.Errorf("unknown fx source %q", c.FX.Source)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

// Valid reports whether p is supported.
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// Marshal renders c as YAML that Parse accepts.
func Marshal(c Config) ([]byte, error) {
	fee := c.FeeRateBps
	raw := ConfigTmp{
		Platform:             string(c.Platform),
		Instruments:          c.Instruments,
		InitialCash:          c.InitialCash.String(),
		BaseCurrency:         c.BaseCurrency,
		FeeRateBps:           &fee,
		LogLevel:             c.LogLevel,
		DataDir:              c.DataDir,
		TickInterval:         c.TickInterval,
		PriceRefreshInterval: c.PriceRefreshInterval,
		SeriesTTL:            c.SeriesTTL,
		FetchTimeout:         c.FetchTimeout,
		QuoteTTL:             c.QuoteTTL,
		MaxQuoteAge:          c.MaxQuoteAge,
		PriceRateLimit:       c.PriceRateLimit,
		PriceFixture:         c.PriceFixture,
		HyperliquidURL:       c.HyperliquidURL,
		Web: webTmp{
			Listen:       c.Web.Listen,
			TLSDomains:   c.Web.TLSDomains,
			CertCacheDir: c.Web.CertCacheDir,
			RateLimit:    c.Web.RateLimit,
			RateBurst:    c.Web.RateBurst,
		},
		FX: fxTmp{
			Source:          c.FX.Source,
			TTL:             c.FX.TTL,
			URL:             c.FX.URL,
			Path:            c.FX.Path,
			ExtraCurrencies: c.FX.ExtraCurrencies,
			RedisAddr:       c.FX.RedisAddr,
			RedisPassword:   c.FX.RedisPassword,
			RedisDB:         c.FX.RedisDB,
			Retention:       c.FX.Retention,
		},
	}
	if len(c.FX.Rates) > 0 {
		raw.FX.Rates = make(map[string]string, len(c.FX.Rates))
		for pair, rate := range c.FX.Rates {
			raw.FX.Rates[pair] = rate.String()
		}
	}

	out, err := yaml.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "encode config")
	}
	return out, nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
