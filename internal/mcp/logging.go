package mcp

import (
	"context"
	"log/slog"
)

// LogMCPRequest logs an incoming tool call.
func LogMCPRequest(ctx context.Context, logger *slog.Logger, tool string, correlationID string) {
	logger.InfoContext(ctx, "mcp_request",
		"tool_name", tool,
		"correlation_id", correlationID,
	)
}

// LogMCPSuccess logs a completed tool call.
func LogMCPSuccess(ctx context.Context, logger *slog.Logger, tool string, correlationID string, latencyMS int64) {
	logger.InfoContext(ctx, "mcp_success",
		"tool_name", tool,
		"correlation_id", correlationID,
		"latency_ms", latencyMS,
	)
}

// LogMCPError logs a failed tool call.
func LogMCPError(ctx context.Context, logger *slog.Logger, tool string, correlationID string, errorCode int, errorMsg string) {
	logger.WarnContext(ctx, "mcp_error",
		"tool_name", tool,
		"correlation_id", correlationID,
		"error_code", errorCode,
		"error_message", errorMsg,
	)
}
