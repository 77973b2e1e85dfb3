package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// FormatMCPError maps any error to a JSON-RPC error.
func FormatMCPError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ErrorFromValidation(ve)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &RPCError{Code: TimeoutExceeded, Message: "Request timeout"}
	}

	return &RPCError{
		Code:    InternalError,
		Message: fmt.Sprintf("Internal error: %s", err.Error()),
	}
}

// HTTPStatusFromError maps JSON-RPC error codes to HTTP status codes.
func HTTPStatusFromError(rpcErr *RPCError) int {
	if rpcErr == nil {
		return http.StatusOK
	}

	switch rpcErr.Code {
	case ParseError, InvalidRequest, InvalidParams, ValidationFailed:
		return http.StatusBadRequest
	case MethodNotFound, SymbolNotFound:
		return http.StatusNotFound
	case DataUnavailable:
		return http.StatusServiceUnavailable
	case TimeoutExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
