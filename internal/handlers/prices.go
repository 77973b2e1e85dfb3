package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pricedash/internal/aggregator"
	"pricedash/internal/feed"
	"pricedash/internal/mcp"
	"pricedash/internal/models"
)

// keepAlive is the SSE comment interval on idle streams.
const keepAlive = 15 * time.Second

// Store is the price snapshot store as seen by HTTP handlers.
type Store interface {
	Prices() []models.PriceTick
	Price(symbol string) (models.PriceTick, bool)
	Status() models.ConnectionStatus
	Len() int
	WatchPrices() *feed.Subscription[[]models.PriceTick]
	WatchSymbol(symbol string) *feed.Subscription[aggregator.SymbolView]
	WatchStatus() *feed.Subscription[models.ConnectionStatus]
}

// PricesHandler serves the snapshot over REST and Server-Sent Events.
type PricesHandler struct {
	store  Store
	logger *slog.Logger
}

// NewPricesHandler creates a prices handler.
func NewPricesHandler(store Store, logger *slog.Logger) *PricesHandler {
	return &PricesHandler{
		store:  store,
		logger: logger.With("handler", "prices"),
	}
}

// PricesResponse is the body of GET /api/prices.
type PricesResponse struct {
	Status models.ConnectionStatus `json:"status"`
	Prices []models.PriceTick      `json:"prices"`
}

// List handles GET /api/prices.
func (h *PricesHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PricesResponse{
		Status: h.store.Status(),
		Prices: h.store.Prices(),
	})
}

// Get handles GET /api/prices/{symbol}.
func (h *PricesHandler) Get(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)

	tick, ok := h.store.Price(symbol)
	if !ok {
		h.logger.Debug("symbol_not_found", "symbol", symbol, "correlation_id", GetCorrelationID(r.Context()))
		writeError(w, http.StatusNotFound, "symbol_not_found", "Symbol '"+symbol+"' is not in the price snapshot")
		return
	}
	writeJSON(w, http.StatusOK, tick)
}

// Status handles GET /api/status.
func (h *PricesHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": h.store.Status()})
}

// StreamPrices handles GET /api/prices/stream. The current snapshot is sent first.
func (h *PricesHandler) StreamPrices(w http.ResponseWriter, r *http.Request) {
	stream(r.Context(), w, h.logger, "prices", h.store.WatchPrices())
}

// StreamSymbol handles GET /api/prices/{symbol}/stream. Events carry found=false until
// the symbol has a tick.
func (h *PricesHandler) StreamSymbol(w http.ResponseWriter, r *http.Request) {
	stream(r.Context(), w, h.logger, "price", h.store.WatchSymbol(symbolParam(r)))
}

// StreamStatus handles GET /api/status/stream.
func (h *PricesHandler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	stream(r.Context(), w, h.logger, "status", h.store.WatchStatus())
}

// stream relays sub as named SSE events until the client leaves or the feed closes.
func stream[T any](ctx context.Context, w http.ResponseWriter, logger *slog.Logger, event string, sub *feed.Subscription[T]) {
	defer sub.Unsubscribe()

	sse, err := mcp.NewSSEWriter(w)
	if err != nil {
		logger.Error("sse_init_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "sse_unavailable", "SSE initialization failed")
		return
	}

	correlationID := GetCorrelationID(ctx)
	logger.Info("stream_opened", "event", event, "correlation_id", correlationID)
	defer logger.Info("stream_closed", "event", event, "correlation_id", correlationID)

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-sub.C():
			if !ok {
				return
			}
			if err := sse.SendNamed(event, v); err != nil {
				logger.Debug("stream_write_failed", "event", event, "error", err)
				return
			}
		case <-ticker.C:
			if err := sse.SendComment("keep-alive"); err != nil {
				return
			}
		}
	}
}

func symbolParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
