package config_test

import (
	"strings"
	"testing"
	"time"

	"pricedash/internal/config"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.HTTPPort != 8080 || cfg.Timeout() != 2*time.Second {
		t.Errorf("server defaults = %d, %v", cfg.HTTPPort, cfg.Timeout())
	}
	if cfg.TickTransport != config.TransportStomp || cfg.TickTopic != "/topic/prices" {
		t.Errorf("channel defaults = %s, %s", cfg.TickTransport, cfg.TickTopic)
	}
	if len(cfg.Symbols) != 4 || cfg.Symbols[0] != "BTCUSDT" {
		t.Errorf("Symbols = %v", cfg.Symbols)
	}
	if cfg.MirrorEnabled() {
		t.Error("mirror enabled without REDIS_URL")
	}
	if cfg.FXPollPeriod != time.Minute || cfg.CacheTTL != 5*time.Minute {
		t.Errorf("durations = %v, %v", cfg.FXPollPeriod, cfg.CacheTTL)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("TICK_TRANSPORT", " Kafka ")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("SYMBOLS", " btcusdt , ethusdt,")
	t.Setenv("FX_CURRENCIES", "eur,gbp")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("CACHE_TTL_SEC", "60")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.TickTransport != config.TransportKafka {
		t.Errorf("TickTransport = %q", cfg.TickTransport)
	}
	if strings.Join(cfg.KafkaBrokers, ",") != "k1:9092,k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if strings.Join(cfg.Symbols, ",") != "BTCUSDT,ETHUSDT" {
		t.Errorf("Symbols = %v", cfg.Symbols)
	}
	if strings.Join(cfg.FXCurrencies, ",") != "EUR,GBP" {
		t.Errorf("FXCurrencies = %v", cfg.FXCurrencies)
	}
	if !cfg.MirrorEnabled() || cfg.CacheTTL != time.Minute {
		t.Errorf("mirror = %v, ttl = %v", cfg.MirrorEnabled(), cfg.CacheTTL)
	}
}

func TestLoadFromEnv_ParseError(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-number")
	if _, err := config.LoadFromEnv(); err == nil {
		t.Error("LoadFromEnv() accepted a non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad port", map[string]string{"HTTP_PORT": "70000"}, "invalid HTTP port"},
		{"bad timeout", map[string]string{"TIMEOUT_MS": "0"}, "timeout"},
		{"bad transport", map[string]string{"TICK_TRANSPORT": "mqtt"}, "invalid tick transport"},
		{"http stomp url", map[string]string{"STOMP_URL": "http://localhost/ws"}, "ws://"},
		{"no kafka brokers", map[string]string{"TICK_TRANSPORT": "kafka", "KAFKA_BROKERS": " , "}, "Kafka broker"},
		{"symbol without quote", map[string]string{"SYMBOLS": "BTCEUR"}, "must end with USDT"},
		{"quote as symbol", map[string]string{"SYMBOLS": "USDT"}, "must end with USDT"},
		{"other quote", map[string]string{"QUOTE_CURRENCY": "usdc", "SYMBOLS": "BTCUSDT"}, "must end with USDC"},
		{"no symbols", map[string]string{"SYMBOLS": " "}, "at least one symbol"},
		{"short fx poll", map[string]string{"FX_POLL_SEC": "0"}, "FX poll"},
		{"short cache ttl", map[string]string{"REDIS_URL": "redis://x:6379", "CACHE_TTL_SEC": "0"}, "cache TTL"},
		{"bad log level", map[string]string{"LOG_LEVEL": "verbose"}, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				t.Fatalf("LoadFromEnv() error = %v", err)
			}
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
