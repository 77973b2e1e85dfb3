package valuation

import (
	"time"

	"github.com/shopspring/decimal"

	"pricedash/internal/instrumentation"
	"pricedash/internal/models"
)

// PriceSource provides the current price snapshot.
type PriceSource interface {
	Prices() []models.PriceTick
}

// RateSource provides the exchange rate of a fiat display currency.
type RateSource interface {
	Rate(fiat string) decimal.NullDecimal
}

// Valuator values positions against whatever the price source holds at call time.
type Valuator struct {
	prices  PriceSource
	rates   RateSource
	opts    []Option
	metrics *instrumentation.Metrics
}

// NewValuator creates a Valuator. rates may be nil, leaving fiat display totals unknown.
func NewValuator(prices PriceSource, rates RateSource, metrics *instrumentation.Metrics, opts ...Option) *Valuator {
	return &Valuator{prices: prices, rates: rates, opts: opts, metrics: metrics}
}

// Valuate values positions and expresses the total in currency.
func (v *Valuator) Valuate(positions []models.WalletPosition, currency string) Valuation {
	start := time.Now()

	e := New(NewSnapshot(v.prices.Prices()), positions, v.opts...)

	var rate decimal.NullDecimal
	if v.rates != nil && e.IsFiat(currency) {
		rate = v.rates.Rate(normalize(currency))
	}
	result := e.Valuate(currency, rate)

	v.metrics.RecordValuationLatency(float64(time.Since(start).Microseconds()) / 1000)
	return result
}
