package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"pricedash/internal/feed"
	"pricedash/internal/instrumentation"
	"pricedash/internal/models"
)

// Mirror copies the price snapshot into Redis so that other processes can read the latest
// ticks and a restarted service can warm its snapshot.
//
// Each tick is stored under price:{symbol} with a TTL and announced on prices.{symbol}.
type Mirror struct {
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	written map[string]string // last JSON written per symbol, owned by Run
}

// New connects to Redis and verifies the connection.
func New(redisURL string, redisPassword string, ttl time.Duration, logger *slog.Logger, metrics *instrumentation.Metrics) (*Mirror, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if redisPassword != "" {
		opt.Password = redisPassword
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Mirror{
		client:  client,
		ttl:     ttl,
		logger:  logger.With("component", "redis_mirror"),
		metrics: metrics,
		written: make(map[string]string),
	}, nil
}

// Key returns the cache key of a symbol's tick.
func Key(symbol string) string {
	return "price:" + symbol
}

// Channel returns the pub/sub channel announcing a symbol's ticks.
func Channel(symbol string) string {
	return "prices." + symbol
}

// Run mirrors every snapshot received on sub until ctx is done or sub ends.
// Only ticks that differ from what was last written are sent.
func (m *Mirror) Run(ctx context.Context, sub *feed.Subscription[[]models.PriceTick]) error {
	defer sub.Unsubscribe()

	m.logger.Info("redis_mirror_started", "ttl_sec", m.ttl.Seconds())

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("redis_mirror_stopping")
			return ctx.Err()
		case ticks, ok := <-sub.C():
			if !ok {
				m.logger.Info("redis_mirror_feed_closed")
				return nil
			}
			if err := m.mirror(ctx, ticks); err != nil {
				m.metrics.RecordError("redis_mirror", "write_failed")
				m.logger.Error("redis_mirror_write_failed", "error", err)
			}
		}
	}
}

func (m *Mirror) mirror(ctx context.Context, ticks []models.PriceTick) error {
	changed := make(map[string]string)
	for _, t := range ticks {
		payload, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		if m.written[t.Symbol] == string(payload) {
			continue
		}
		changed[t.Symbol] = string(payload)
	}
	if len(changed) == 0 {
		return nil
	}

	if err := m.write(ctx, changed); err != nil {
		return err
	}
	for symbol, payload := range changed {
		m.written[symbol] = payload
	}
	return nil
}

// Publish writes ticks to Redis unconditionally.
func (m *Mirror) Publish(ctx context.Context, ticks []models.PriceTick) error {
	payloads := make(map[string]string, len(ticks))
	for _, t := range ticks {
		payload, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		payloads[t.Symbol] = string(payload)
	}
	return m.write(ctx, payloads)
}

// write sends SET with expiration and PUBLISH for every symbol in one pipeline.
func (m *Mirror) write(ctx context.Context, payloads map[string]string) error {
	startTime := time.Now()

	pipe := m.client.Pipeline()
	for symbol, payload := range payloads {
		pipe.Set(ctx, Key(symbol), payload, m.ttl)
		pipe.Publish(ctx, Channel(symbol), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	m.logger.Debug("prices_mirrored",
		"symbols", len(payloads),
		"latency_ms", time.Since(startTime).Milliseconds(),
	)
	return nil
}

// Load reads the cached ticks of symbols. Missing, expired or undecodable entries are
// skipped; the result keeps the order of symbols.
func (m *Mirror) Load(ctx context.Context, symbols []string) ([]models.PriceTick, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = Key(s)
	}

	values, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis MGET failed: %w", err)
	}

	ticks := make([]models.PriceTick, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			m.logger.Debug("symbol_not_in_cache", "symbol", symbols[i], "cache_key", keys[i])
			continue
		}
		tick, err := models.ParseTick([]byte(s))
		if err != nil {
			m.logger.Warn("cached_tick_invalid", "symbol", symbols[i], "error", err)
			continue
		}
		ticks = append(ticks, tick)
	}

	m.logger.Info("prices_loaded", "requested", len(symbols), "found", len(ticks))
	return ticks, nil
}

// Close closes the Redis connection.
func (m *Mirror) Close() error {
	return m.client.Close()
}
