// Package valuation derives wallet metrics from a price snapshot. Every method is a pure
// function of the snapshot, the positions and its arguments; an unknown input yields an
// unknown (invalid) result instead of a zero.
package valuation

import (
	"strings"

	"github.com/shopspring/decimal"

	"pricedash/internal/models"
)

// DefaultQuote is the reference currency positions are valued in.
const DefaultQuote = "USDT"

var hundred = decimal.NewFromInt(100)

// Snapshot indexes ticks by symbol.
type Snapshot map[string]models.PriceTick

// NewSnapshot builds a Snapshot from a tick list. Later ticks replace earlier ones.
func NewSnapshot(ticks []models.PriceTick) Snapshot {
	s := make(Snapshot, len(ticks))
	for _, t := range ticks {
		s[t.Symbol] = t
	}
	return s
}

// Performer is the position with the highest or lowest 24h change.
type Performer struct {
	Symbol  string          `json:"symbol"`
	Percent decimal.Decimal `json:"percent"`
}

// Engine values one set of positions against one snapshot.
type Engine struct {
	snapshot  Snapshot
	positions []models.WalletPosition
	quote     string
	fiat      map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithQuote sets the quote currency (default USDT).
func WithQuote(code string) Option {
	return func(e *Engine) {
		if code = normalize(code); code != "" {
			e.quote = code
		}
	}
}

// WithFiat declares the fiat display currencies that need an external exchange rate.
func WithFiat(codes ...string) Option {
	return func(e *Engine) {
		for _, c := range codes {
			if c = normalize(c); c != "" {
				e.fiat[c] = true
			}
		}
	}
}

// New creates an engine over snapshot and positions.
func New(snapshot Snapshot, positions []models.WalletPosition, opts ...Option) *Engine {
	e := &Engine{
		snapshot:  snapshot,
		positions: positions,
		quote:     DefaultQuote,
		fiat:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Quote returns the quote currency.
func (e *Engine) Quote() string {
	return e.quote
}

// IsFiat reports whether code is a configured fiat display currency.
func (e *Engine) IsFiat(code string) bool {
	return e.fiat[normalize(code)]
}

func (e *Engine) isQuote(p models.WalletPosition) bool {
	return normalize(p.Symbol) == e.quote
}

func (e *Engine) tick(asset string) (models.PriceTick, bool) {
	t, ok := e.snapshot[normalize(asset)+e.quote]
	return t, ok
}

// PositionPrice is the quote price of one unit of the position's asset: 1 for the quote
// currency itself, otherwise the last price of <asset><quote>.
func (e *Engine) PositionPrice(p models.WalletPosition) decimal.NullDecimal {
	if e.isQuote(p) {
		return decimal.NewNullDecimal(decimal.NewFromInt(1))
	}
	t, ok := e.tick(p.Symbol)
	if !ok {
		return decimal.NullDecimal{}
	}
	return t.LastPrice
}

// PositionValue is amount times price, in the quote currency.
func (e *Engine) PositionValue(p models.WalletPosition) decimal.NullDecimal {
	if e.isQuote(p) {
		return decimal.NewNullDecimal(p.Amount)
	}
	price := e.PositionPrice(p)
	if !price.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(p.Amount.Mul(price.Decimal))
}

// PortfolioTotal sums every position value. It is unknown when there are no positions or
// when any single position value is unknown; partial sums are never returned.
func (e *Engine) PortfolioTotal() decimal.NullDecimal {
	if len(e.positions) == 0 {
		return decimal.NullDecimal{}
	}
	sum := decimal.Zero
	for _, p := range e.positions {
		v := e.PositionValue(p)
		if !v.Valid {
			return decimal.NullDecimal{}
		}
		sum = sum.Add(v.Decimal)
	}
	return decimal.NewNullDecimal(sum)
}

// AllocationShare is the position's fraction of the portfolio total, in [0,1] for
// non-negative holdings.
func (e *Engine) AllocationShare(p models.WalletPosition) decimal.NullDecimal {
	return share(e.PositionValue(p), e.PortfolioTotal())
}

func share(value, total decimal.NullDecimal) decimal.NullDecimal {
	if !value.Valid || !total.Valid || total.Decimal.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(value.Decimal.Div(total.Decimal))
}

// PriceChangePercent is the 24h change of the position's asset. The quote currency does
// not move against itself, so its change is 0.
func (e *Engine) PriceChangePercent(p models.WalletPosition) decimal.NullDecimal {
	if e.isQuote(p) {
		return decimal.NewNullDecimal(decimal.Zero)
	}
	t, ok := e.tick(p.Symbol)
	if !ok {
		return decimal.NullDecimal{}
	}
	return t.PriceChangePercent
}

// Blended24hChange is the value-weighted 24h change of the portfolio, as an absolute quote
// amount and as a percentage of the total. Positions with an unknown change are skipped.
// Both results are unknown when the total is unknown or zero.
func (e *Engine) Blended24hChange() (absolute, percent decimal.NullDecimal) {
	total := e.PortfolioTotal()
	if !total.Valid || total.Decimal.IsZero() {
		return decimal.NullDecimal{}, decimal.NullDecimal{}
	}

	weighted := decimal.Zero
	for _, p := range e.positions {
		pct := e.PriceChangePercent(p)
		if !pct.Valid {
			continue
		}
		v := e.PositionValue(p)
		weighted = weighted.Add(v.Decimal.Mul(pct.Decimal).Div(hundred))
	}

	return decimal.NewNullDecimal(weighted),
		decimal.NewNullDecimal(weighted.Div(total.Decimal).Mul(hundred))
}

// BestPerformer returns the non-quote position with the highest known 24h change, or nil.
// Ties go to the first position in order.
func (e *Engine) BestPerformer() *Performer {
	return e.pick(func(candidate, current decimal.Decimal) bool {
		return candidate.GreaterThan(current)
	})
}

// WorstPerformer returns the non-quote position with the lowest known 24h change, or nil.
// Ties go to the first position in order.
func (e *Engine) WorstPerformer() *Performer {
	return e.pick(func(candidate, current decimal.Decimal) bool {
		return candidate.LessThan(current)
	})
}

func (e *Engine) pick(better func(candidate, current decimal.Decimal) bool) *Performer {
	var chosen *Performer
	for _, p := range e.positions {
		if e.isQuote(p) {
			continue
		}
		pct := e.PriceChangePercent(p)
		if !pct.Valid {
			continue
		}
		if chosen == nil || better(pct.Decimal, chosen.Percent) {
			chosen = &Performer{Symbol: p.Symbol, Percent: pct.Decimal}
		}
	}
	return chosen
}

// DisplayTotal expresses the portfolio total in currency.
//
//   - the quote currency, USD or an empty currency: the total unchanged
//   - a configured fiat currency: total times fxRate (fiat units per quote unit), unknown
//     until a positive rate is supplied
//   - anything else is treated as an asset: total divided by that asset's last price,
//     unknown when the price is missing or zero
func (e *Engine) DisplayTotal(currency string, fxRate decimal.NullDecimal) decimal.NullDecimal {
	total := e.PortfolioTotal()
	if !total.Valid {
		return decimal.NullDecimal{}
	}

	switch code := normalize(currency); {
	case e.quoteEquivalent(code):
		return total
	case e.fiat[code]:
		if !fxRate.Valid || !fxRate.Decimal.IsPositive() {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(total.Decimal.Mul(fxRate.Decimal))
	default:
		t, ok := e.tick(code)
		if !ok || !t.LastPrice.Valid || t.LastPrice.Decimal.IsZero() {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(total.Decimal.Div(t.LastPrice.Decimal))
	}
}

func (e *Engine) quoteEquivalent(code string) bool {
	return code == "" || code == e.quote || code == "USD"
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
