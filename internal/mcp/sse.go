package mcp

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEWriter writes Server-Sent Events. It flushes through middleware wrappers by way of
// http.ResponseController, so the wrapped writer must implement Unwrap.
type SSEWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewSSEWriter sets the event-stream headers on w.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	return &SSEWriter{w: w, rc: http.NewResponseController(w)}, nil
}

// SendEvent sends data as an unnamed event.
func (s *SSEWriter) SendEvent(data any) error {
	return s.SendNamed("", data)
}

// SendNamed sends data as an event of type event; an empty event omits the event field.
func (s *SSEWriter) SendNamed(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}

	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return fmt.Errorf("failed to write SSE event: %w", err)
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", jsonData); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}

	return s.flush()
}

// SendComment sends a comment line, used as a keep-alive.
func (s *SSEWriter) SendComment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("failed to write SSE comment: %w", err)
	}
	return s.flush()
}

func (s *SSEWriter) flush() error {
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush SSE event: %w", err)
	}
	return nil
}

// SendError sends a JSON-RPC error as an SSE event.
func (s *SSEWriter) SendError(id any, code int, message string, data any) error {
	return s.SendEvent(NewJSONRPCError(id, code, message, data))
}

// SendResult sends a JSON-RPC success result as an SSE event.
func (s *SSEWriter) SendResult(id any, result any) error {
	return s.SendEvent(NewJSONRPCResult(id, result))
}
