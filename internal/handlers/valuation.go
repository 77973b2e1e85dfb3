package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"pricedash/internal/marketapi"
	"pricedash/internal/mcp"
	"pricedash/internal/models"
)

// maxBodyBytes caps valuation request bodies.
const maxBodyBytes = 1 << 20

// WalletSource fetches the caller's wallet positions.
type WalletSource interface {
	Positions(ctx context.Context, authorization string) ([]models.WalletPosition, error)
}

// ValuationHandler values wallets against the live snapshot.
type ValuationHandler struct {
	valuator  mcp.Valuator
	wallet    WalletSource
	validator *mcp.SchemaValidator
	logger    *slog.Logger
}

// NewValuationHandler creates a valuation handler. wallet may be nil, which disables
// GET /api/wallet/valuation.
func NewValuationHandler(valuator mcp.Valuator, wallet WalletSource, logger *slog.Logger) (*ValuationHandler, error) {
	validator, err := mcp.NewSchemaValidator(mcp.ValuationRequestSchema())
	if err != nil {
		return nil, err
	}
	return &ValuationHandler{
		valuator:  valuator,
		wallet:    wallet,
		validator: validator,
		logger:    logger.With("handler", "valuation"),
	}, nil
}

// Valuate handles POST /api/valuation.
func (h *ValuationHandler) Valuate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Failed to read request body")
		return
	}

	if err := h.validator.ValidateJSON(body); err != nil {
		var ve *mcp.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, "validation_failed", ve.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	var req mcp.ValuationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := models.ValidatePositions(req.Positions); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	h.respond(w, r, req.Positions, req.Currency)
}

// WalletValuation handles GET /api/wallet/valuation?currency=. The Authorization header
// is forwarded to the wallet service unchanged.
func (h *ValuationHandler) WalletValuation(w http.ResponseWriter, r *http.Request) {
	if h.wallet == nil {
		writeError(w, http.StatusServiceUnavailable, "wallet_unavailable", "Wallet service is not configured")
		return
	}

	positions, err := h.wallet.Positions(r.Context(), r.Header.Get("Authorization"))
	switch {
	case errors.Is(err, marketapi.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", "Wallet service rejected the credentials")
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "Wallet service did not answer in time")
		return
	case err != nil:
		h.logger.Error("wallet_fetch_failed", "error", err, "correlation_id", GetCorrelationID(r.Context()))
		writeError(w, http.StatusBadGateway, "wallet_unavailable", "Failed to fetch wallet positions")
		return
	}

	h.respond(w, r, positions, r.URL.Query().Get("currency"))
}

func (h *ValuationHandler) respond(w http.ResponseWriter, r *http.Request, positions []models.WalletPosition, currency string) {
	v := h.valuator.Valuate(positions, currency)

	h.logger.Debug("valuation_served",
		"positions", len(positions),
		"currency", currency,
		"total_known", v.Total.Valid,
		"correlation_id", GetCorrelationID(r.Context()),
	)
	writeJSON(w, http.StatusOK, v)
}
