package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"pricedash/internal/models"
	"pricedash/internal/valuation"
)

// PriceReader is the read side of the price snapshot store.
type PriceReader interface {
	Price(symbol string) (models.PriceTick, bool)
	Status() models.ConnectionStatus
}

// Valuator values wallet positions against the live snapshot.
type Valuator interface {
	Valuate(positions []models.WalletPosition, currency string) valuation.Valuation
}

// ToolExecutor runs tools against the live snapshot.
type ToolExecutor struct {
	prices   PriceReader
	valuator Valuator
}

// NewToolExecutor creates a tool executor.
func NewToolExecutor(prices PriceReader, valuator Valuator) *ToolExecutor {
	return &ToolExecutor{
		prices:   prices,
		valuator: valuator,
	}
}

// PriceResult is the get_price payload.
type PriceResult struct {
	Tick   models.PriceTick        `json:"tick"`
	Status models.ConnectionStatus `json:"status"`
}

// ExecuteGetPrice returns the latest tick of symbol together with the connection status,
// so a caller can tell live data from stale data.
func (te *ToolExecutor) ExecuteGetPrice(ctx context.Context, symbol string) (*CallToolResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tick, ok := te.prices.Price(symbol)
	if !ok {
		return nil, &RPCError{
			Code:    SymbolNotFound,
			Message: fmt.Sprintf("Symbol '%s' not found in price snapshot", symbol),
			Data:    symbol,
		}
	}

	return textResult(PriceResult{Tick: tick, Status: te.prices.Status()})
}

// ExecuteGetPortfolioValuation values positions. An unknown total is a valid answer
// (fields are null) rather than an error.
func (te *ToolExecutor) ExecuteGetPortfolioValuation(ctx context.Context, positions []models.WalletPosition, currency string) (*CallToolResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return textResult(te.valuator.Valuate(positions, currency))
}

func textResult(v any) (*CallToolResult, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, &RPCError{
			Code:    InternalError,
			Message: "Failed to serialize result",
			Data:    err.Error(),
		}
	}

	return &CallToolResult{
		Content: []TextContent{
			{
				Type: "text",
				Text: string(payload),
			},
		},
	}, nil
}
