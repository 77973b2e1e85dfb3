package marketapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pricedash/internal/models"
)

// ErrUnauthorized is returned when the wallet service rejects the caller's credentials.
var ErrUnauthorized = errors.New("marketapi: unauthorized")

// Wallet reads positions from the wallet service.
type Wallet struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWallet creates a wallet client for the API rooted at baseURL.
func NewWallet(baseURL string, timeout time.Duration, logger *slog.Logger) *Wallet {
	return &Wallet{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "wallet_client"),
	}
}

// Positions returns the wallet of the user identified by authorization, which is passed
// through as the Authorization header.
func (w *Wallet) Positions(ctx context.Context, authorization string) ([]models.WalletPosition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/wallet", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wallet request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("wallet service returned %d", resp.StatusCode)
	}

	var summary models.WalletSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("decode wallet: %w", err)
	}
	if err := models.ValidatePositions(summary.Positions); err != nil {
		return nil, fmt.Errorf("wallet positions: %w", err)
	}

	w.logger.Debug("wallet_loaded", "positions", len(summary.Positions))
	return summary.Positions, nil
}
