package models

import (
	"fmt"
	"strings"
)

// ValidatePositions validates wallet positions before they are valued.
func ValidatePositions(positions []WalletPosition) error {
	seen := make(map[string]bool, len(positions))
	for i, p := range positions {
		symbol := strings.TrimSpace(p.Symbol)
		if symbol == "" {
			return fmt.Errorf("position %d: symbol is required", i)
		}

		if p.Amount.IsNegative() {
			return fmt.Errorf("position %s: amount must be non-negative, got %s", symbol, p.Amount)
		}

		if seen[symbol] {
			return fmt.Errorf("position %s: duplicate symbol", symbol)
		}
		seen[symbol] = true
	}

	return nil
}

// ValidateStatus reports whether s is a known connection status.
func ValidateStatus(s ConnectionStatus) error {
	for _, known := range AllStatuses {
		if s == known {
			return nil
		}
	}
	return fmt.Errorf("invalid connection status: %s", s)
}
