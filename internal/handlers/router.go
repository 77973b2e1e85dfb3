package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Store     Store
	Valuation *ValuationHandler
	MCP       *MCPInvokeHandler
	Timeout   time.Duration
	Logger    *slog.Logger
}

// NewRouter builds the chi router. Request/response routes run under TimeoutMiddleware;
// SSE and WebSocket routes stay open until the client leaves.
func NewRouter(cfg RouterConfig) http.Handler {
	prices := NewPricesHandler(cfg.Store, cfg.Logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", HealthCheckHandler(cfg.Store))

	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(cfg.Timeout, cfg.Logger))

		r.Get("/api/prices", prices.List)
		r.Get("/api/prices/{symbol}", prices.Get)
		r.Get("/api/status", prices.Status)

		if cfg.Valuation != nil {
			r.Post("/api/valuation", cfg.Valuation.Valuate)
			r.Get("/api/wallet/valuation", cfg.Valuation.WalletValuation)
		}
		if cfg.MCP != nil {
			r.Post("/mcp/sse", cfg.MCP.ServeHTTP)
		}
	})

	r.Get("/api/prices/stream", prices.StreamPrices)
	r.Get("/api/prices/{symbol}/stream", prices.StreamSymbol)
	r.Get("/api/status/stream", prices.StreamStatus)
	r.Get("/ws", NewWSHandler(cfg.Store, cfg.Logger).ServeHTTP)

	return r
}
