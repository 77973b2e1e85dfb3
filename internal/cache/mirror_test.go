package cache_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"pricedash/internal/cache"
	"pricedash/internal/feed"
	"pricedash/internal/models"
)

func newMirror(t *testing.T) (*cache.Mirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	m, err := cache.New("redis://"+mr.Addr(), "", 5*time.Minute, logger, nil)
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, mr
}

func tick(symbol string, price int64) models.PriceTick {
	return models.PriceTick{
		Symbol:             symbol,
		LastPrice:          decimal.NewNullDecimal(decimal.NewFromInt(price)),
		PriceChangePercent: decimal.NewNullDecimal(decimal.RequireFromString("-1.25")),
		EventTime:          1700000000000,
	}
}

func TestMirror_PublishAndLoad(t *testing.T) {
	m, mr := newMirror(t)
	ctx := context.Background()

	if err := m.Publish(ctx, []models.PriceTick{tick("BTCUSDT", 60000), tick("ETHUSDT", 3000)}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if ttl := mr.TTL(cache.Key("BTCUSDT")); ttl != 5*time.Minute {
		t.Errorf("TTL = %v, want 5m", ttl)
	}

	mr.Set(cache.Key("BADUSDT"), "{not json")

	ticks, err := m.Load(ctx, []string{"ETHUSDT", "SOLUSDT", "BADUSDT", "BTCUSDT"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("Load() returned %d ticks, want 2", len(ticks))
	}
	if ticks[0].Symbol != "ETHUSDT" || ticks[1].Symbol != "BTCUSDT" {
		t.Errorf("Load() order = %s,%s want ETHUSDT,BTCUSDT", ticks[0].Symbol, ticks[1].Symbol)
	}
	if !ticks[1].LastPrice.Decimal.Equal(decimal.NewFromInt(60000)) {
		t.Errorf("BTCUSDT price = %v, want 60000", ticks[1].LastPrice)
	}
	if !ticks[1].PriceChangePercent.Decimal.Equal(decimal.RequireFromString("-1.25")) {
		t.Errorf("BTCUSDT change = %v, want -1.25", ticks[1].PriceChangePercent)
	}
	if ticks[1].EventTime != 1700000000000 {
		t.Errorf("EventTime = %d", ticks[1].EventTime)
	}
}

func TestMirror_LoadNothing(t *testing.T) {
	m, _ := newMirror(t)

	ticks, err := m.Load(context.Background(), nil)
	if err != nil || len(ticks) != 0 {
		t.Errorf("Load(nil) = %v, %v; want empty", ticks, err)
	}
}

func TestMirror_RunWritesAndAnnouncesChangedTicks(t *testing.T) {
	m, mr := newMirror(t)

	listener := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer listener.Close()
	pubsub := listener.Subscribe(context.Background(), cache.Channel("BTCUSDT"))
	defer pubsub.Close()
	if _, err := pubsub.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe error = %v", err)
	}
	messages := pubsub.Channel()

	prices := feed.New([]models.PriceTick{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, prices.Subscribe()) }()

	prices.Publish([]models.PriceTick{tick("BTCUSDT", 60000)})

	select {
	case msg := <-messages:
		got, err := models.ParseTick([]byte(msg.Payload))
		if err != nil {
			t.Fatalf("announced payload invalid: %v", err)
		}
		if !got.LastPrice.Decimal.Equal(decimal.NewFromInt(60000)) {
			t.Errorf("announced price = %v, want 60000", got.LastPrice)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no announcement on prices.BTCUSDT")
	}

	if !mr.Exists(cache.Key("BTCUSDT")) {
		t.Error("price:BTCUSDT not written")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestMirror_RunStopsWhenFeedCloses(t *testing.T) {
	m, _ := newMirror(t)

	prices := feed.New([]models.PriceTick{}, 1)
	sub := prices.Subscribe()
	prices.Close()

	if err := m.Run(context.Background(), sub); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}

func TestNew_InvalidURL(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if _, err := cache.New("not-a-url", "", time.Minute, logger, nil); err == nil {
		t.Error("cache.New() with invalid URL succeeded")
	}
}
