// Package aggregator owns the latest-price snapshot. It applies ticks from a tick channel
// with last-write-wins per symbol, tracks the channel's connection status, and fans both
// out to subscribers.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"pricedash/internal/channel"
	"pricedash/internal/feed"
	"pricedash/internal/instrumentation"
	"pricedash/internal/models"
)

// statusDepth buffers enough transitions that a subscriber keeping up sees every one.
const statusDepth = 16

// SymbolView is the per-symbol projection of the snapshot. Tick is nil when Found is false.
type SymbolView struct {
	Symbol string            `json:"symbol"`
	Tick   *models.PriceTick `json:"tick"`
	Found  bool              `json:"found"`
}

// Aggregator maintains the price snapshot and the connection status.
//
// Ticks are applied in arrival order. eventTime is never compared: a tick that arrives
// later replaces the stored one even when its eventTime is older.
type Aggregator struct {
	ch      channel.Channel
	topic   string
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	mu     sync.RWMutex
	ticks  map[string]models.PriceTick
	order  []string // symbols in order of first sight
	status models.ConnectionStatus
	closed bool

	prices   *feed.Feed[[]models.PriceTick]
	statuses *feed.Feed[models.ConnectionStatus]

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates an aggregator reading ticks for topic from ch. The status starts at
// connecting; nothing is dialled until Start.
func New(ch channel.Channel, topic string, logger *slog.Logger, metrics *instrumentation.Metrics) *Aggregator {
	a := &Aggregator{
		ch:       ch,
		topic:    topic,
		logger:   logger.With("component", "aggregator"),
		metrics:  metrics,
		ticks:    make(map[string]models.PriceTick),
		status:   models.StatusConnecting,
		prices:   feed.New([]models.PriceTick{}, 1),
		statuses: feed.New(models.StatusConnecting, statusDepth),
	}
	metrics.RecordStatus(models.StatusConnecting)
	return a
}

// Start connects the channel and applies its events until Close or ctx cancellation.
// Calls after the first, and calls after Close, are no-ops.
func (a *Aggregator) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		if a.closed {
			a.logger.Warn("aggregator_start_after_close")
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		a.cancel = cancel
		a.done = done

		events := a.ch.Connect(ctx)
		a.logger.Info("aggregator_started", "topic", a.topic)

		go func() {
			defer close(done)
			for ev := range events {
				a.Handle(ev)
			}
		}()
	})
}

// Handle applies one channel event. It is the only path by which the status changes and
// by which pushed ticks enter the snapshot.
func (a *Aggregator) Handle(ev channel.Event) {
	switch ev.Kind {
	case channel.Opened:
		a.setStatus(models.StatusConnected, nil)
		if err := a.ch.Subscribe(a.topic); err != nil {
			a.logger.Error("subscribe_failed", "topic", a.topic, "error", err)
			a.metrics.RecordError("aggregator", "subscribe_failed")
		}
	case channel.Failed:
		a.setStatus(models.StatusError, ev.Err)
	case channel.Closed:
		a.setStatus(models.StatusDisconnected, ev.Err)
	case channel.Retrying:
		a.metrics.RecordReconnect()
		a.setStatus(models.StatusConnecting, nil)
	case channel.Message:
		a.ingest(ev.Body)
	default:
		a.logger.Warn("unknown_channel_event", "kind", ev.Kind.String())
	}
}

func (a *Aggregator) setStatus(next models.ConnectionStatus, cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.status
	if prev == next {
		return
	}
	a.status = next
	a.statuses.Publish(next)
	a.metrics.RecordStatus(next)

	attrs := []any{"from", prev, "to", next}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	switch next {
	case models.StatusError, models.StatusDisconnected:
		a.logger.Warn("connection_status_transition", attrs...)
	default:
		a.logger.Info("connection_status_transition", attrs...)
	}
}

// ingest applies one raw tick message. Malformed payloads and messages that arrive while
// not connected leave the snapshot untouched.
func (a *Aggregator) ingest(body string) {
	a.mu.Lock()
	if a.status != models.StatusConnected {
		a.mu.Unlock()
		a.discard("not_connected", nil)
		return
	}

	tick, err := models.ParseTick([]byte(body))
	if err != nil {
		a.mu.Unlock()
		reason := "parse"
		if errors.Is(err, models.ErrMissingSymbol) {
			reason = "missing_symbol"
		}
		a.discard(reason, err)
		return
	}

	a.upsertLocked(tick)
	a.prices.Publish(a.snapshotLocked())
	size := len(a.order)
	a.mu.Unlock()

	var lagMs float64 = -1
	if tick.EventTime > 0 {
		lagMs = float64(time.Now().UnixMilli() - tick.EventTime)
	}
	a.metrics.RecordTickIngested(lagMs)
	a.metrics.RecordSnapshotSize(size)
}

func (a *Aggregator) discard(reason string, err error) {
	a.metrics.RecordTickDiscarded(reason)
	if err != nil {
		a.logger.Debug("tick_discarded", "reason", reason, "error", err)
		return
	}
	a.logger.Debug("tick_discarded", "reason", reason)
}

// SetInitialPrices merges ticks into the snapshot with the same last-write-wins rule as
// pushed ticks and publishes the result once. Ticks without a symbol are skipped; an empty
// batch changes nothing.
func (a *Aggregator) SetInitialPrices(ticks []models.PriceTick) {
	if len(ticks) == 0 {
		return
	}

	a.mu.Lock()
	merged := 0
	for _, t := range ticks {
		if t.Symbol == "" {
			continue
		}
		a.upsertLocked(t)
		merged++
	}
	if merged > 0 {
		a.prices.Publish(a.snapshotLocked())
	}
	size := len(a.order)
	a.mu.Unlock()

	if merged == 0 {
		return
	}
	a.metrics.RecordSeeded(merged)
	a.metrics.RecordSnapshotSize(size)
	a.logger.Info("prices_seeded", "ticks", merged, "symbols", size)
}

func (a *Aggregator) upsertLocked(t models.PriceTick) {
	if _, ok := a.ticks[t.Symbol]; !ok {
		a.order = append(a.order, t.Symbol)
	}
	a.ticks[t.Symbol] = t
}

// snapshotLocked copies the snapshot into a fresh slice that is never mutated afterwards.
func (a *Aggregator) snapshotLocked() []models.PriceTick {
	out := make([]models.PriceTick, len(a.order))
	for i, symbol := range a.order {
		out[i] = a.ticks[symbol]
	}
	return out
}

// Prices returns every latest tick, ordered by the first time each symbol was seen.
func (a *Aggregator) Prices() []models.PriceTick {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

// Price returns the latest tick for symbol.
func (a *Aggregator) Price(symbol string) (models.PriceTick, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.ticks[symbol]
	return t, ok
}

// Status returns the current connection status.
func (a *Aggregator) Status() models.ConnectionStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Len returns the number of symbols in the snapshot.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}

// WatchPrices subscribes to snapshot changes. The current snapshot is delivered first; a
// slow reader only ever misses intermediate snapshots, never the latest.
func (a *Aggregator) WatchPrices() *feed.Subscription[[]models.PriceTick] {
	return a.prices.Subscribe()
}

// WatchStatus subscribes to status transitions, starting with the current status.
func (a *Aggregator) WatchStatus() *feed.Subscription[models.ConnectionStatus] {
	return a.statuses.Subscribe()
}

// WatchSymbol subscribes to the live view of one symbol.
func (a *Aggregator) WatchSymbol(symbol string) *feed.Subscription[SymbolView] {
	return feed.Derive(a.prices.Subscribe(), func(ticks []models.PriceTick) SymbolView {
		return Lookup(ticks, symbol)
	})
}

// Lookup finds symbol in a snapshot list.
func Lookup(ticks []models.PriceTick, symbol string) SymbolView {
	for i := range ticks {
		if ticks[i].Symbol == symbol {
			t := ticks[i]
			return SymbolView{Symbol: symbol, Tick: &t, Found: true}
		}
	}
	return SymbolView{Symbol: symbol}
}

// Close stops the channel, waits for pending events to drain and ends every subscription.
// It is safe to call more than once.
func (a *Aggregator) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		cancel, done := a.cancel, a.done
		a.mu.Unlock()

		err = a.ch.Close()
		if cancel != nil {
			cancel()
			<-done
		}

		a.prices.Close()
		a.statuses.Close()
		a.logger.Info("aggregator_closed", "symbols", a.Len())
	})
	return err
}
