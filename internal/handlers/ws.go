package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"pricedash/internal/models"
)

const (
	wsWriteWait      = 5 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 50 * time.Second
	wsMaxMessageSize = 4 * 1024
)

// WSMessage is one push to a WebSocket client.
type WSMessage struct {
	Type   string                  `json:"type"` // "prices" or "status"
	Status models.ConnectionStatus `json:"status,omitempty"`
	Prices []models.PriceTick      `json:"prices,omitempty"`
}

// WSHandler pushes snapshot and status changes to WebSocket clients. An optional
// ?symbols=BTCUSDT,ETHUSDT query narrows the pushed snapshot.
type WSHandler struct {
	store  Store
	logger *slog.Logger
}

// NewWSHandler creates a WebSocket push handler.
func NewWSHandler(store Store, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		store:  store,
		logger: logger.With("handler", "ws"),
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := symbolFilter(r.URL.Query().Get("symbols"))

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("ws_upgrade_failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	client := conn.RemoteAddr().String()
	h.logger.Info("ws_client_connected", "client", client, "symbols", len(filter))

	ctx, cancel := context.WithCancel(context.Background())
	pongs := make(chan []byte, 1)
	go h.readPump(conn, pongs, cancel)
	h.writePump(ctx, conn, pongs, filter)

	h.logger.Info("ws_client_disconnected", "client", client)
}

// readPump consumes client frames until the client closes or stops answering pings.
// Ping payloads are handed to the write pump, which owns every write on conn.
func (h *WSHandler) readPump(conn net.Conn, pongs chan<- []byte, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	for {
		header, err := ws.ReadHeader(conn)
		if err != nil {
			return
		}
		if header.Length > wsMaxMessageSize {
			h.logger.Warn("ws_message_too_big", "size", header.Length)
			return
		}

		if header.OpCode != ws.OpPing {
			if _, err := io.CopyN(io.Discard, conn, header.Length); err != nil {
				return
			}
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPong:
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
		case ws.OpPing:
			payload := make([]byte, header.Length)
			if _, err := io.ReadFull(conn, payload); err != nil {
				return
			}
			if header.Masked {
				ws.Cipher(payload, header.Mask, 0)
			}
			conn.SetReadDeadline(time.Now().Add(wsPongWait))

			select {
			case pongs <- payload:
			default: // a pong is already pending
			}
		}
	}
}

func (h *WSHandler) writePump(ctx context.Context, conn net.Conn, pongs <-chan []byte, filter map[string]bool) {
	prices := h.store.WatchPrices()
	defer prices.Unsubscribe()
	status := h.store.WatchStatus()
	defer status.Unsubscribe()

	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		var msg WSMessage
		select {
		case <-ctx.Done():
			return

		case ticks, ok := <-prices.C():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.Write(ws.CompiledClose)
				return
			}
			msg = WSMessage{Type: "prices", Prices: filterTicks(ticks, filter)}

		case st, ok := <-status.C():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.Write(ws.CompiledClose)
				return
			}
			msg = WSMessage{Type: "status", Status: st}

		case payload := <-pongs:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := wsutil.WriteServerMessage(conn, ws.OpPong, payload); err != nil {
				return
			}
			continue

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
			continue
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			h.logger.Error("ws_encode_failed", "error", err)
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := wsutil.WriteServerText(conn, payload); err != nil {
			h.logger.Debug("ws_write_failed", "error", err)
			return
		}
	}
}

func symbolFilter(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	filter := make(map[string]bool)
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			filter[s] = true
		}
	}
	return filter
}

func filterTicks(ticks []models.PriceTick, filter map[string]bool) []models.PriceTick {
	if len(filter) == 0 {
		return ticks
	}
	out := make([]models.PriceTick, 0, len(filter))
	for _, t := range ticks {
		if filter[t.Symbol] {
			out = append(out, t)
		}
	}
	return out
}
