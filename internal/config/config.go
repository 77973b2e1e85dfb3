package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Transports accepted in TICK_TRANSPORT.
const (
	TransportStomp = "stomp"
	TransportKafka = "kafka"
)

// Config holds the price dashboard service configuration.
type Config struct {
	// Server
	HTTPPort  int `env:"HTTP_PORT" envDefault:"8080"`
	TimeoutMS int `env:"TIMEOUT_MS" envDefault:"2000"`

	// Tick channel
	TickTransport string   `env:"TICK_TRANSPORT" envDefault:"stomp"`
	StompURL      string   `env:"STOMP_URL" envDefault:"ws://localhost:8081/ws/websocket"`
	StompHost     string   `env:"STOMP_HOST" envDefault:"/"`
	TickTopic     string   `env:"TICK_TOPIC" envDefault:"/topic/prices"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaGroupID  string   `env:"KAFKA_GROUP_ID" envDefault:"pricedash"`

	// Symbols
	QuoteCurrency string   `env:"QUOTE_CURRENCY" envDefault:"USDT"`
	Symbols       []string `env:"SYMBOLS" envSeparator:"," envDefault:"BTCUSDT,ETHUSDT,BNBUSDT,SOLUSDT"`

	// Collaborators
	CoinGeckoURL    string   `env:"COINGECKO_URL" envDefault:"https://api.coingecko.com"`
	CoinGeckoAPIKey string   `env:"COINGECKO_API_KEY"`
	FXCurrencies    []string `env:"FX_CURRENCIES" envSeparator:"," envDefault:"EUR"`
	FXPollSec       int      `env:"FX_POLL_SEC" envDefault:"60"`
	WalletAPIURL    string   `env:"WALLET_API_URL" envDefault:"http://localhost:8081/api"`

	// Redis mirror (disabled when REDIS_URL is empty)
	RedisURL      string `env:"REDIS_URL"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	CacheTTLSec   int    `env:"CACHE_TTL_SEC" envDefault:"300"`

	// Computed durations (not from env)
	CacheTTL     time.Duration `env:"-"`
	FXPollPeriod time.Duration `env:"-"`

	// Observability
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	PrometheusPort int    `env:"PROMETHEUS_PORT" envDefault:"9091"`
}

// Timeout returns the request timeout as a time.Duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// MirrorEnabled reports whether the Redis mirror is configured.
func (c *Config) MirrorEnabled() bool {
	return c.RedisURL != ""
}

// LoadFromEnv loads configuration from environment variables. Variables from a .env file
// in the working directory are applied first without overriding the real environment.
func LoadFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	opts := env.Options{
		Prefix: "",
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	cfg.TickTransport = strings.ToLower(strings.TrimSpace(cfg.TickTransport))
	cfg.QuoteCurrency = strings.ToUpper(strings.TrimSpace(cfg.QuoteCurrency))
	cfg.Symbols = cleanList(cfg.Symbols, strings.ToUpper)
	cfg.FXCurrencies = cleanList(cfg.FXCurrencies, strings.ToUpper)
	cfg.KafkaBrokers = cleanList(cfg.KafkaBrokers, nil)

	// Convert seconds to time.Duration
	cfg.CacheTTL = time.Duration(cfg.CacheTTLSec) * time.Second
	cfg.FXPollPeriod = time.Duration(cfg.FXPollSec) * time.Second

	return cfg, nil
}

// cleanList trims every entry, drops empty ones and applies transform when set.
func cleanList(in []string, transform func(string) string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if transform != nil {
			s = transform(s)
		}
		out = append(out, s)
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.PrometheusPort < 1 || c.PrometheusPort > 65535 {
		return fmt.Errorf("invalid Prometheus port: %d", c.PrometheusPort)
	}

	if c.TimeoutMS < 1 {
		return fmt.Errorf("timeout must be at least 1ms, got %dms", c.TimeoutMS)
	}

	switch c.TickTransport {
	case TransportStomp:
		u, err := url.Parse(c.StompURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("STOMP URL must be a ws:// or wss:// URL, got %q", c.StompURL)
		}
	case TransportKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("at least one Kafka broker must be configured")
		}
		if c.KafkaGroupID == "" {
			return fmt.Errorf("Kafka consumer group must be set")
		}
	default:
		return fmt.Errorf("invalid tick transport: %s", c.TickTransport)
	}

	if c.TickTopic == "" {
		return fmt.Errorf("tick topic must be set")
	}

	if c.QuoteCurrency == "" {
		return fmt.Errorf("quote currency must be set")
	}

	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol must be configured")
	}

	for _, symbol := range c.Symbols {
		if !strings.HasSuffix(symbol, c.QuoteCurrency) || symbol == c.QuoteCurrency {
			return fmt.Errorf("symbol %s must end with %s", symbol, c.QuoteCurrency)
		}
	}

	if c.FXPollPeriod < time.Second {
		return fmt.Errorf("FX poll interval must be at least 1 second")
	}

	if c.MirrorEnabled() && c.CacheTTL < time.Second {
		return fmt.Errorf("cache TTL must be at least 1 second")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}
