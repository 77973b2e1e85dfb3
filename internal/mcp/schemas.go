package mcp

import "regexp"

// Tool names
const (
	ToolGetPrice              = "get_price"
	ToolGetPortfolioValuation = "get_portfolio_valuation"
)

// symbolPattern matches trading symbols quoted in quote, e.g. BTCUSDT or 1000SHIBUSDT.
func symbolPattern(quote string) string {
	return "^[A-Z0-9]+" + regexp.QuoteMeta(quote) + "$"
}

// GetPriceToolSchema returns the JSON Schema of get_price arguments.
func GetPriceToolSchema(quote string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"symbol": map[string]any{
				"type":        "string",
				"description": "Trading symbol (e.g., BTC" + quote + ", 1000SHIB" + quote + ")",
				"pattern":     symbolPattern(quote),
			},
		},
		"required": []string{"symbol"},
	}
}

// PositionsSchema returns the JSON Schema of a wallet position list. Amounts may be JSON
// numbers or decimal strings.
func PositionsSchema() map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"symbol": map[string]any{
					"type":      "string",
					"minLength": 1,
					"pattern":   "^[A-Za-z0-9]+$",
				},
				"amount": map[string]any{
					"type":    []string{"string", "number"},
					"pattern": `^[0-9]+(\.[0-9]+)?$`,
					"minimum": 0,
				},
			},
			"required": []string{"symbol", "amount"},
		},
	}
}

// ValuationRequestSchema returns the JSON Schema of a valuation request body, shared by
// get_portfolio_valuation and POST /api/valuation.
func ValuationRequestSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"positions": PositionsSchema(),
			"currency": map[string]any{
				"type":        "string",
				"description": "Display currency: the quote currency, USD, a fiat code such as EUR, or an asset such as BTC",
				"pattern":     "^[A-Za-z]{0,10}$",
			},
		},
		"required": []string{"positions"},
	}
}

// Tools returns every tool definition for quote.
func Tools(quote string) []Tool {
	return []Tool{
		{
			Name:        ToolGetPrice,
			Description: "Latest 24h ticker (last price, change, high, low, volume) of a tracked symbol from the live price snapshot",
			InputSchema: GetPriceToolSchema(quote),
		},
		{
			Name:        ToolGetPortfolioValuation,
			Description: "Value a list of wallet positions against the live price snapshot: per-position value and allocation, total, blended 24h change, best and worst performer, total in a display currency",
			InputSchema: ValuationRequestSchema(),
		},
	}
}
