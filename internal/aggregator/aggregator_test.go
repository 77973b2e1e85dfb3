package aggregator_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"pricedash/internal/aggregator"
	"pricedash/internal/channel"
	"pricedash/internal/feed"
	"pricedash/internal/instrumentation"
	"pricedash/internal/models"
)

// fakeChannel emits whatever the test pushes into events.
type fakeChannel struct {
	mu           sync.Mutex
	events       chan channel.Event
	topics       []string
	subscribeErr error
	connects     int
	closes       int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan channel.Event, 64)}
}

func (f *fakeChannel) Connect(ctx context.Context) <-chan channel.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.events
}

func (f *fakeChannel) Subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return f.subscribeErr
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if f.closes == 1 {
		close(f.events)
	}
	return nil
}

func (f *fakeChannel) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.topics...)
}

func newAggregator(t *testing.T) (*aggregator.Aggregator, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	a := aggregator.New(ch, "/topic/prices", logger, nil)
	t.Cleanup(func() { a.Close() })
	return a, ch
}

func tickMsg(symbol, price string, eventTime int64) channel.Event {
	return channel.Event{
		Kind: channel.Message,
		Body: fmt.Sprintf(`{"symbol":%q,"lastPrice":%q,"priceChangePercent":"1.5","eventTime":%d}`, symbol, price, eventTime),
	}
}

func receive[T any](t *testing.T, sub *feed.Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed value")
	}
	var zero T
	return zero
}

func assertPrice(t *testing.T, a *aggregator.Aggregator, symbol, want string) {
	t.Helper()
	tick, ok := a.Price(symbol)
	if !ok {
		t.Fatalf("Price(%s) not found", symbol)
	}
	if !tick.LastPrice.Valid || !tick.LastPrice.Decimal.Equal(decimal.RequireFromString(want)) {
		t.Errorf("Price(%s).LastPrice = %v, want %s", symbol, tick.LastPrice, want)
	}
}

func TestAggregator_LastWriteWinsPerSymbol(t *testing.T) {
	a, _ := newAggregator(t)
	a.Handle(channel.Event{Kind: channel.Opened})

	a.Handle(tickMsg("BTCUSDT", "60000", 1000))
	a.Handle(tickMsg("ETHUSDT", "3000", 1001))
	a.Handle(tickMsg("BTCUSDT", "60100", 1002))
	a.Handle(tickMsg("SOLUSDT", "150", 1003))
	a.Handle(tickMsg("BTCUSDT", "60200", 1004))

	assertPrice(t, a, "BTCUSDT", "60200")
	assertPrice(t, a, "ETHUSDT", "3000")

	prices := a.Prices()
	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	if len(prices) != len(want) {
		t.Fatalf("Prices() has %d ticks, want %d", len(prices), len(want))
	}
	for i, symbol := range want {
		if prices[i].Symbol != symbol {
			t.Errorf("Prices()[%d] = %s, want %s", i, prices[i].Symbol, symbol)
		}
	}
	if a.Len() != 3 {
		t.Errorf("Len() = %d, want 3", a.Len())
	}
}

// Arrival order decides, not eventTime: an older tick arriving later replaces a newer one.
func TestAggregator_LaterArrivalWinsOverNewerEventTime(t *testing.T) {
	a, _ := newAggregator(t)
	a.Handle(channel.Event{Kind: channel.Opened})

	a.Handle(tickMsg("BTCUSDT", "61000", 2000))
	a.Handle(tickMsg("BTCUSDT", "59000", 1000))

	tick, _ := a.Price("BTCUSDT")
	if tick.EventTime != 1000 {
		t.Errorf("EventTime = %d, want 1000 (last arrival)", tick.EventTime)
	}
	assertPrice(t, a, "BTCUSDT", "59000")
}

func TestAggregator_ReplaysSnapshotToLateSubscriber(t *testing.T) {
	a, _ := newAggregator(t)
	a.Handle(channel.Event{Kind: channel.Opened})

	for i, symbol := range []string{"BTCUSDT", "ETHUSDT", "BNBUSDT"} {
		a.Handle(tickMsg(symbol, "1", int64(i)))
	}

	sub := a.WatchPrices()
	defer sub.Unsubscribe()

	snapshot := receive(t, sub)
	if len(snapshot) != 3 {
		t.Fatalf("replayed snapshot has %d ticks, want 3", len(snapshot))
	}

	a.Handle(tickMsg("SOLUSDT", "150", 10))
	if next := receive(t, sub); len(next) != 4 {
		t.Errorf("next snapshot has %d ticks, want 4", len(next))
	}
	if len(snapshot) != 3 {
		t.Error("published snapshot was mutated")
	}
}

func TestAggregator_MalformedPayloadsLeaveSnapshotUnchanged(t *testing.T) {
	a, _ := newAggregator(t)
	a.Handle(channel.Event{Kind: channel.Opened})
	a.Handle(tickMsg("BTCUSDT", "60000", 1))

	bodies := []string{
		``,
		`not json`,
		`[1,2,3]`,
		`{"lastPrice":"1"}`,
		`{"symbol":"","lastPrice":"1"}`,
		`{"symbol":"   "}`,
		`{"symbol":"BTCUSDT","lastPrice":"abc"}`,
		`{"symbol":"BTCUSDT","lastPrice":true}`,
	}
	for _, body := range bodies {
		a.Handle(channel.Event{Kind: channel.Message, Body: body})
	}

	if a.Len() != 1 {
		t.Errorf("Len() = %d, want 1", a.Len())
	}
	assertPrice(t, a, "BTCUSDT", "60000")
}

func TestAggregator_DiscardsMessagesWhileNotConnected(t *testing.T) {
	a, _ := newAggregator(t)

	a.Handle(tickMsg("BTCUSDT", "60000", 1))
	if a.Len() != 0 {
		t.Fatalf("Len() = %d before connect, want 0", a.Len())
	}

	a.Handle(channel.Event{Kind: channel.Opened})
	a.Handle(channel.Event{Kind: channel.Closed})
	a.Handle(tickMsg("ETHUSDT", "3000", 2))
	if a.Len() != 0 {
		t.Errorf("Len() = %d after disconnect, want 0", a.Len())
	}
}

func TestAggregator_StatusSequenceAcrossReconnect(t *testing.T) {
	a, ch := newAggregator(t)

	statuses := a.WatchStatus()
	defer statuses.Unsubscribe()

	a.Handle(channel.Event{Kind: channel.Opened})
	a.Handle(tickMsg("BTCUSDT", "60000", 1))
	a.Handle(tickMsg("ETHUSDT", "3000", 2))
	a.Handle(channel.Event{Kind: channel.Closed, Err: errors.New("connection reset")})
	a.Handle(channel.Event{Kind: channel.Retrying})
	a.Handle(channel.Event{Kind: channel.Opened})

	want := []models.ConnectionStatus{
		models.StatusConnecting,
		models.StatusConnected,
		models.StatusDisconnected,
		models.StatusConnecting,
		models.StatusConnected,
	}
	for i, w := range want {
		if got := receive(t, statuses); got != w {
			t.Fatalf("status[%d] = %s, want %s", i, got, w)
		}
	}

	if a.Len() != 2 {
		t.Errorf("Len() after reconnect = %d, want 2", a.Len())
	}
	assertPrice(t, a, "BTCUSDT", "60000")

	topics := ch.subscriptions()
	if len(topics) != 2 || topics[0] != "/topic/prices" || topics[1] != "/topic/prices" {
		t.Errorf("subscriptions = %v, want the topic once per session", topics)
	}
}

func TestAggregator_StatusTransitions(t *testing.T) {
	tests := []struct {
		name   string
		events []channel.EventKind
		want   models.ConnectionStatus
	}{
		{"initial", nil, models.StatusConnecting},
		{"opened", []channel.EventKind{channel.Opened}, models.StatusConnected},
		{"failed", []channel.EventKind{channel.Opened, channel.Failed}, models.StatusError},
		{"failed then closed", []channel.EventKind{channel.Opened, channel.Failed, channel.Closed}, models.StatusDisconnected},
		{"closed then retrying", []channel.EventKind{channel.Closed, channel.Retrying}, models.StatusConnecting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newAggregator(t)
			for _, kind := range tt.events {
				a.Handle(channel.Event{Kind: kind})
			}
			if got := a.Status(); got != tt.want {
				t.Errorf("Status() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAggregator_TransportErrorsKeepSnapshot(t *testing.T) {
	a, _ := newAggregator(t)
	a.Handle(channel.Event{Kind: channel.Opened})
	a.Handle(tickMsg("BTCUSDT", "60000", 1))

	a.Handle(channel.Event{Kind: channel.Failed, Err: errors.New("broker error")})
	a.Handle(channel.Event{Kind: channel.Closed})

	if a.Len() != 1 {
		t.Errorf("Len() = %d, want 1", a.Len())
	}
}

func TestAggregator_SubscribeErrorDoesNotBreakStore(t *testing.T) {
	a, ch := newAggregator(t)
	ch.subscribeErr = channel.ErrNotConnected

	a.Handle(channel.Event{Kind: channel.Opened})
	if a.Status() != models.StatusConnected {
		t.Errorf("Status() = %s, want connected", a.Status())
	}
}

func TestAggregator_SetInitialPrices(t *testing.T) {
	a, _ := newAggregator(t)

	a.SetInitialPrices(nil)
	if a.Len() != 0 {
		t.Fatalf("Len() after empty seed = %d, want 0", a.Len())
	}

	a.SetInitialPrices([]models.PriceTick{
		{Symbol: "BTCUSDT", LastPrice: decimal.NewNullDecimal(decimal.NewFromInt(59000))},
		{Symbol: ""},
		{Symbol: "ETHUSDT", LastPrice: decimal.NewNullDecimal(decimal.NewFromInt(2900))},
	})
	if a.Len() != 2 {
		t.Fatalf("Len() after seed = %d, want 2", a.Len())
	}

	a.Handle(channel.Event{Kind: channel.Opened})
	a.Handle(tickMsg("BTCUSDT", "60000", 1))
	assertPrice(t, a, "BTCUSDT", "60000")

	a.SetInitialPrices([]models.PriceTick{
		{Symbol: "ETHUSDT", LastPrice: decimal.NewNullDecimal(decimal.NewFromInt(3100))},
	})
	assertPrice(t, a, "ETHUSDT", "3100")
}

func TestAggregator_WatchSymbol(t *testing.T) {
	a, _ := newAggregator(t)
	a.Handle(channel.Event{Kind: channel.Opened})

	sub := a.WatchSymbol("BTCUSDT")
	defer sub.Unsubscribe()

	if view := receive(t, sub); view.Found || view.Tick != nil {
		t.Fatalf("initial view = %+v, want not found", view)
	}

	a.Handle(tickMsg("BTCUSDT", "60000", 1))
	view := receive(t, sub)
	if !view.Found || view.Tick == nil || !view.Tick.LastPrice.Decimal.Equal(decimal.NewFromInt(60000)) {
		t.Fatalf("view = %+v, want BTCUSDT at 60000", view)
	}

	a.Handle(tickMsg("ETHUSDT", "3000", 2))
	if view := receive(t, sub); !view.Found || view.Symbol != "BTCUSDT" {
		t.Errorf("view after other symbol = %+v, want BTCUSDT still found", view)
	}
}

func TestAggregator_StartAndClose(t *testing.T) {
	ch := newFakeChannel()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	metrics := instrumentation.NewMetrics(reg)
	a := aggregator.New(ch, "/topic/prices", logger, metrics)

	prices := a.WatchPrices()
	statuses := a.WatchStatus()

	a.Start(context.Background())
	a.Start(context.Background())

	ch.events <- channel.Event{Kind: channel.Opened}
	ch.events <- tickMsg("BTCUSDT", "60000", time.Now().UnixMilli())
	ch.events <- channel.Event{Kind: channel.Message, Body: `{"symbol":""}`}

	deadline := time.Now().Add(2 * time.Second)
	for a.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if ch.closes != 1 {
		t.Errorf("channel closed %d times, want 1", ch.closes)
	}

	for range prices.C() {
	}
	for range statuses.C() {
	}

	assertPrice(t, a, "BTCUSDT", "60000")
	if got := testutil.ToFloat64(metrics.TicksIngested); got != 1 {
		t.Errorf("ticks ingested = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.TicksDiscarded.WithLabelValues("missing_symbol")); got != 1 {
		t.Errorf("missing_symbol discards = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ConnectionStatus.WithLabelValues("connected")); got != 1 {
		t.Errorf("connected gauge = %v, want 1", got)
	}
}

func TestAggregator_CloseWithoutStart(t *testing.T) {
	a, ch := newAggregator(t)
	sub := a.WatchPrices()

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for range sub.C() {
	}
	if ch.closes != 1 {
		t.Errorf("channel closed %d times, want 1", ch.closes)
	}
}

func TestAggregator_StartAfterCloseDoesNotConnect(t *testing.T) {
	a, ch := newAggregator(t)

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	a.Start(context.Background())

	ch.mu.Lock()
	connects := ch.connects
	ch.mu.Unlock()
	if connects != 0 {
		t.Errorf("channel connected %d times after Close, want 0", connects)
	}
	if got := a.Status(); got != models.StatusConnecting {
		t.Errorf("Status() = %q, want connecting", got)
	}
}

func TestAggregator_HugeExponentIsDiscarded(t *testing.T) {
	ch := newFakeChannel()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	metrics := instrumentation.NewMetrics(prometheus.NewRegistry())
	a := aggregator.New(ch, "/topic/prices", logger, metrics)
	t.Cleanup(func() { a.Close() })

	a.Handle(channel.Event{Kind: channel.Opened})
	a.Handle(tickMsg("BTCUSDT", "60000", 1))
	a.Handle(tickMsg("BTCUSDT", "1e50000000", 2))
	a.Handle(tickMsg("ETHUSDT", "1e-50000000", 3))

	if a.Len() != 1 {
		t.Errorf("Len() = %d, want 1", a.Len())
	}
	assertPrice(t, a, "BTCUSDT", "60000")
	if got := testutil.ToFloat64(metrics.TicksDiscarded.WithLabelValues("parse")); got != 2 {
		t.Errorf("parse discards = %v, want 2", got)
	}
}

func TestLookup(t *testing.T) {
	ticks := []models.PriceTick{{Symbol: "BTCUSDT"}, {Symbol: "ETHUSDT"}}

	if v := aggregator.Lookup(ticks, "ETHUSDT"); !v.Found || v.Tick.Symbol != "ETHUSDT" {
		t.Errorf("Lookup(ETHUSDT) = %+v", v)
	}
	if v := aggregator.Lookup(ticks, "DOGEUSDT"); v.Found {
		t.Errorf("Lookup(DOGEUSDT) = %+v, want not found", v)
	}
}
