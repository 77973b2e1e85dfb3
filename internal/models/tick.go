package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrMissingSymbol is returned for tick payloads without a symbol.
	ErrMissingSymbol = errors.New("tick has no symbol")

	// ErrNotNumeric is returned when a numeric field holds something that is not a number.
	ErrNotNumeric = errors.New("value is not numeric")
)

// maxExponent bounds the decimal exponent of coerced values. Larger magnitudes would
// expand to megabytes when rendered.
const maxExponent = 64

// PriceTick is one 24h ticker update for a single symbol.
//
// Decimal fields are unknown (Valid == false) when the source omitted them or sent null.
type PriceTick struct {
	Symbol             string              `json:"symbol"`
	LastPrice          decimal.NullDecimal `json:"lastPrice"`
	PriceChangePercent decimal.NullDecimal `json:"priceChangePercent"`
	High24h            decimal.NullDecimal `json:"high24h"`
	Low24h             decimal.NullDecimal `json:"low24h"`
	Volume24h          decimal.NullDecimal `json:"volume24h"`
	EventTime          int64               `json:"eventTime"` // epoch millis, source assigned
}

// wireTick mirrors the inbound JSON shape before coercion.
type wireTick struct {
	Symbol             string          `json:"symbol"`
	LastPrice          json.RawMessage `json:"lastPrice"`
	PriceChangePercent json.RawMessage `json:"priceChangePercent"`
	High24h            json.RawMessage `json:"high24h"`
	Low24h             json.RawMessage `json:"low24h"`
	Volume24h          json.RawMessage `json:"volume24h"`
	EventTime          json.RawMessage `json:"eventTime"`
}

// ParseTick decodes a raw topic payload into a PriceTick.
// Unknown fields are ignored; an empty symbol is ErrMissingSymbol.
func ParseTick(raw []byte) (PriceTick, error) {
	var tick PriceTick
	if err := json.Unmarshal(raw, &tick); err != nil {
		return PriceTick{}, err
	}
	if tick.Symbol == "" {
		return PriceTick{}, ErrMissingSymbol
	}
	return tick, nil
}

// UnmarshalJSON coerces numeric fields that may arrive as JSON numbers or numeric strings.
func (t *PriceTick) UnmarshalJSON(data []byte) error {
	var w wireTick
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode tick: %w", err)
	}

	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *decimal.NullDecimal
	}{
		{"lastPrice", w.LastPrice, &t.LastPrice},
		{"priceChangePercent", w.PriceChangePercent, &t.PriceChangePercent},
		{"high24h", w.High24h, &t.High24h},
		{"low24h", w.Low24h, &t.Low24h},
		{"volume24h", w.Volume24h, &t.Volume24h},
	}
	for _, f := range fields {
		v, err := CoerceDecimal(f.raw)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.name, err)
		}
		*f.dst = v
	}

	eventTime, err := coerceMillis(w.EventTime)
	if err != nil {
		return fmt.Errorf("field eventTime: %w", err)
	}

	t.Symbol = strings.TrimSpace(w.Symbol)
	t.EventTime = eventTime
	return nil
}

// CoerceDecimal turns a JSON number or numeric string into a decimal.
// Absent values, null and blank strings are unknown; anything else that is not a number
// wraps ErrNotNumeric.
func CoerceDecimal(raw json.RawMessage) (decimal.NullDecimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.NullDecimal{}, nil
	}

	text := string(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("%w: %s", ErrNotNumeric, text)
		}
		text = strings.TrimSpace(s)
		if text == "" {
			return decimal.NullDecimal{}, nil
		}
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: %q", ErrNotNumeric, text)
	}
	if exp := d.Exponent(); exp > maxExponent || exp < -maxExponent {
		return decimal.NullDecimal{}, fmt.Errorf("%w: exponent %d out of range", ErrNotNumeric, exp)
	}
	return decimal.NewNullDecimal(d), nil
}

func coerceMillis(raw json.RawMessage) (int64, error) {
	v, err := CoerceDecimal(raw)
	if err != nil || !v.Valid {
		return 0, err
	}
	if !v.Decimal.IsInteger() {
		return 0, fmt.Errorf("%w: %s is not an integer", ErrNotNumeric, v.Decimal.String())
	}
	ms, err := strconv.ParseInt(v.Decimal.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotNumeric, err)
	}
	return ms, nil
}
