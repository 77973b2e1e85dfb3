package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"pricedash/internal/mcp"
)

// MCPInvokeHandler answers MCP JSON-RPC requests over SSE.
type MCPInvokeHandler struct {
	invoker *mcp.ToolInvoker
	timeout time.Duration
	logger  *slog.Logger
}

// NewMCPInvokeHandler creates the MCP handler. timeout bounds each tool call.
func NewMCPInvokeHandler(invoker *mcp.ToolInvoker, timeout time.Duration, logger *slog.Logger) *MCPInvokeHandler {
	return &MCPInvokeHandler{
		invoker: invoker,
		timeout: timeout,
		logger:  logger.With("handler", "mcp"),
	}
}

// ServeHTTP handles POST /mcp/sse: tools/list (list_tools) and tools/call (call_tool).
func (h *MCPInvokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST requests are supported")
		return
	}

	correlationID := GetCorrelationID(r.Context())

	sseWriter, err := mcp.NewSSEWriter(w)
	if err != nil {
		h.logger.Error("sse_init_failed", "error", err, "correlation_id", correlationID)
		writeError(w, http.StatusInternalServerError, "sse_unavailable", "SSE initialization failed")
		return
	}

	req, err := mcp.ParseJSONRPCRequest(r.Body)
	if err != nil {
		rpcErr := mcp.FormatMCPError(err)
		sseWriter.SendError(nil, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}

	switch req.Method {
	case mcp.MethodToolsList, mcp.MethodListTools:
		sseWriter.SendResult(req.ID, mcp.ListToolsResult{Tools: h.invoker.Tools()})
		return
	case mcp.MethodToolsCall, mcp.MethodCallTool:
	default:
		sseWriter.SendError(req.ID, mcp.MethodNotFound, "Unknown method", req.Method)
		return
	}

	toolParams, err := mcp.ParseCallToolParams(req.Params)
	if err != nil {
		rpcErr := mcp.FormatMCPError(err)
		sseWriter.SendError(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}

	mcp.LogMCPRequest(r.Context(), h.logger, toolParams.Name, correlationID)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.invoker.InvokeTool(ctx, toolParams.Name, toolParams.Arguments)
	if err != nil {
		rpcErr := mcp.FormatMCPError(err)
		if errors.Is(err, context.DeadlineExceeded) {
			rpcErr.Data = map[string]any{
				"timeout_ms": h.timeout.Milliseconds(),
				"elapsed_ms": time.Since(start).Milliseconds(),
			}
		}
		mcp.LogMCPError(ctx, h.logger, toolParams.Name, correlationID, rpcErr.Code, rpcErr.Message)
		sseWriter.SendError(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}

	mcp.LogMCPSuccess(ctx, h.logger, toolParams.Name, correlationID, time.Since(start).Milliseconds())
	sseWriter.SendResult(req.ID, result)
}
