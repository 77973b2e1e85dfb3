package valuation

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Valuation is the full derived view of a wallet at one point in time.
type Valuation struct {
	Quote            string              `json:"quote"`
	Positions        []PositionValuation `json:"positions"`
	Total            decimal.NullDecimal `json:"total"`
	Change24h        decimal.NullDecimal `json:"change24h"`
	Change24hPercent decimal.NullDecimal `json:"change24hPercent"`
	Best             *Performer          `json:"best"`
	Worst            *Performer          `json:"worst"`
	Display          *Display            `json:"display"`
}

// PositionValuation is one wallet row.
type PositionValuation struct {
	Symbol           string              `json:"symbol"`
	Amount           decimal.Decimal     `json:"amount"`
	Price            decimal.NullDecimal `json:"price"`
	Value            decimal.NullDecimal `json:"value"`
	Allocation       decimal.NullDecimal `json:"allocation"`
	Change24hPercent decimal.NullDecimal `json:"change24hPercent"`
}

// Display is the total in a display currency.
type Display struct {
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Formatted string          `json:"formatted"`
}

// Valuate assembles every metric for the display currency. fxRate is only consulted for
// fiat currencies. Display is nil while the display total is unknown.
func (e *Engine) Valuate(currency string, fxRate decimal.NullDecimal) Valuation {
	total := e.PortfolioTotal()
	abs, pct := e.Blended24hChange()

	rows := make([]PositionValuation, len(e.positions))
	for i, p := range e.positions {
		value := e.PositionValue(p)
		rows[i] = PositionValuation{
			Symbol:           p.Symbol,
			Amount:           p.Amount,
			Price:            e.PositionPrice(p),
			Value:            value,
			Allocation:       share(value, total),
			Change24hPercent: e.PriceChangePercent(p),
		}
	}

	v := Valuation{
		Quote:            e.quote,
		Positions:        rows,
		Total:            total,
		Change24h:        abs,
		Change24hPercent: pct,
		Best:             e.BestPerformer(),
		Worst:            e.WorstPerformer(),
	}

	if amount := e.DisplayTotal(currency, fxRate); amount.Valid {
		code := normalize(currency)
		if code == "" {
			code = e.quote
		}
		v.Display = &Display{
			Currency:  code,
			Amount:    amount.Decimal,
			Formatted: e.format(amount.Decimal, code),
		}
	}
	return v
}

func (e *Engine) format(amount decimal.Decimal, code string) string {
	if code == "USD" || e.fiat[code] {
		if cur := money.GetCurrency(code); cur != nil {
			minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
			return money.New(minor, code).Display()
		}
	}
	return FormatAmount(amount) + " " + code
}

// FormatAmount renders an asset amount with precision that shrinks as the magnitude grows.
func FormatAmount(d decimal.Decimal) string {
	abs := d.Abs()
	switch {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		return d.StringFixed(2)
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return d.StringFixed(4)
	default:
		return d.StringFixed(8)
	}
}
