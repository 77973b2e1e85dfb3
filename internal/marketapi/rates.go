package marketapi

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RateSource fetches the value of one quote unit in a fiat currency.
type RateSource interface {
	QuoteRate(ctx context.Context, fiat string) (decimal.Decimal, error)
}

// RatePoller keeps the last good exchange rate of every configured fiat currency.
type RatePoller struct {
	source   RateSource
	fiat     []string
	interval time.Duration
	logger   *slog.Logger

	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

// NewRatePoller creates a poller for the fiat currencies.
func NewRatePoller(source RateSource, fiat []string, interval time.Duration, logger *slog.Logger) *RatePoller {
	codes := make([]string, 0, len(fiat))
	for _, f := range fiat {
		if f = strings.ToUpper(strings.TrimSpace(f)); f != "" {
			codes = append(codes, f)
		}
	}
	return &RatePoller{
		source:   source,
		fiat:     codes,
		interval: interval,
		logger:   logger.With("component", "rate_poller"),
		rates:    make(map[string]decimal.Decimal),
	}
}

// Run fetches every rate immediately and then on each interval until ctx is done.
func (p *RatePoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Refresh(ctx)
		}
	}
}

// Refresh fetches every rate once. A failed fetch keeps the previous rate.
func (p *RatePoller) Refresh(ctx context.Context) {
	for _, fiat := range p.fiat {
		rate, err := p.source.QuoteRate(ctx, fiat)
		if err != nil {
			p.logger.Warn("rate_refresh_failed", "currency", fiat, "error", err)
			continue
		}

		p.mu.Lock()
		p.rates[fiat] = rate
		p.mu.Unlock()

		p.logger.Debug("rate_refreshed", "currency", fiat, "rate", rate.String())
	}
}

// Rate returns the last good rate for fiat, unknown until one has been fetched.
func (p *RatePoller) Rate(fiat string) decimal.NullDecimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rate, ok := p.rates[strings.ToUpper(fiat)]
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(rate)
}

// Currencies returns the polled fiat codes.
func (p *RatePoller) Currencies() []string {
	return append([]string(nil), p.fiat...)
}
